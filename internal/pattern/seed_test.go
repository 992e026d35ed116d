package pattern

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Seed rules", func() {
	Describe("DefaultSeed", func() {
		It("should compile every golden rule", func() {
			rules, err := DefaultSeed()
			Expect(err).NotTo(HaveOccurred())
			Expect(rules).NotTo(BeEmpty())

			names := map[string]bool{}
			for _, r := range rules {
				_, err := compileRule(r)
				Expect(err).NotTo(HaveOccurred(), r.Name)
				Expect(names[r.Name]).To(BeFalse(), "duplicate seed name "+r.Name)
				names[r.Name] = true
				Expect(r.CreatedBy).To(Equal(SeedCreator))
			}
		})

		It("should cover every category", func() {
			rules, err := DefaultSeed()
			Expect(err).NotTo(HaveOccurred())

			seen := map[Category]bool{}
			for _, r := range rules {
				seen[r.Category] = true
			}
			for _, c := range Categories {
				Expect(seen[c]).To(BeTrue(), string(c))
			}
		})
	})

	Describe("golden rule behaviour", func() {
		var snap *Snapshot

		BeforeEach(func() {
			rules, err := DefaultSeed()
			Expect(err).NotTo(HaveOccurred())
			snap, err = NewSnapshot(rules)
			Expect(err).NotTo(HaveOccurred())
		})

		first := func(c Category, line string) (string, bool) {
			for _, r := range snap.RulesFor(c) {
				if v, ok := r.Match(line); ok {
					return v, true
				}
			}
			return "", false
		}

		DescribeTable("matching",
			func(c Category, line, want string) {
				v, ok := first(c, line)
				Expect(ok).To(BeTrue())
				Expect(v).To(Equal(want))
			},
			Entry("labelled invoice number", InvoiceNumber, "Invoice Number: INV-2024-001", "INV-2024-001"),
			Entry("invoice no.", InvoiceNumber, "Invoice No. 88412", "88412"),
			Entry("total due", Amount, "Total Due $93.50", "93.50"),
			Entry("grand total with code", Amount, "Grand Total: USD 1,250.00", "1,250.00"),
			Entry("subtotal", SubtotalAmount, "Subtotal: $85.00", "85.00"),
			Entry("tax with rate", TaxAmount, "Tax (10%): $8.50", "8.50"),
			Entry("iso invoice date", InvoiceDate, "Invoice Date: 2025-01-15", "2025-01-15"),
			Entry("due date in words", DueDate, "Due Date: February 14, 2025", "February 14, 2025"),
			Entry("email", Email, "billing@acme-supplies.com", "billing@acme-supplies.com"),
			Entry("currency code", Currency, "Amounts in EUR", "EUR"),
			Entry("payment terms", PaymentTerms, "Terms: Net 30", "Net 30"),
		)

		It("should not read a tax line as the invoice total", func() {
			_, ok := first(Amount, "Total Tax 8.50")
			Expect(ok).To(BeFalse())
		})

		It("should not read a due date line as the invoice date", func() {
			_, ok := first(InvoiceDate, "Due Date: 2025-02-14")
			Expect(ok).To(BeFalse())
		})
	})

	Describe("LoadSeedFile", func() {
		var path string

		BeforeEach(func() {
			path = filepath.Join(GinkgoT().TempDir(), "seed.yaml")
		})

		It("should load rules from disk", func() {
			Expect(os.WriteFile(path, []byte(`
- name: po-number
  category: invoicenumber
  pattern: 'PO\s*#?\s*([0-9]+)'
  capture_group: 1
  confidence_weight: 0.6
  active: true
`), 0600)).To(Succeed())

			rules, err := LoadSeedFile(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(rules).To(HaveLen(1))
			Expect(rules[0].Name).To(Equal("po-number"))
			Expect(rules[0].CreatedBy).To(Equal(SeedCreator))
		})

		It("should reject unknown categories", func() {
			Expect(os.WriteFile(path, []byte("- name: x\n  category: Nope\n  pattern: a\n"), 0600)).To(Succeed())

			_, err := LoadSeedFile(path)
			Expect(err).To(MatchError(ContainSubstring("unknown category")))
		})

		It("should fail on a missing file", func() {
			_, err := LoadSeedFile(filepath.Join(GinkgoT().TempDir(), "nope.yaml"))
			Expect(err).To(HaveOccurred())
		})
	})
})
