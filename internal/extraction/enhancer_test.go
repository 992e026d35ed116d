package extraction

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/invoice-extractor/internal/pattern"
)

var _ = Describe("Enhancer", func() {
	var (
		engine   *Engine
		enhancer *Enhancer
		snap     *pattern.Snapshot
		text     string
		msg      MessageContext
		raw      *InvoiceData
		data     *InvoiceData
		err      error
	)

	BeforeEach(func() {
		engine = NewEngine(WithTimeSource(fixedTime{testNow}))
		enhancer = NewEnhancer(engine)
		snap = goldenSnapshot()
		msg = MessageContext{}
	})

	JustBeforeEach(func() {
		var extractErr error
		raw, extractErr = engine.Extract(context.Background(), snap, text)
		Expect(extractErr).NotTo(HaveOccurred())
		data, err = enhancer.Enhance(context.Background(), snap, raw, msg)
	})

	When("the vendor is missing", func() {
		BeforeEach(func() {
			text = "Total Due $93.50"
			msg.SenderEmail = "Accounts <billing@mail.acme-supplies.co.uk>"
		})

		It("should derive it from the sender domain", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(*data.VendorName).To(Equal("Acme Supplies"))

			e, ok := data.Best(FieldVendorName)
			Expect(ok).To(BeTrue())
			Expect(e.Confidence).To(Equal(EnhancedVendorConfidence))
			Expect(e.Method).To(Equal(MethodEmailEnhancement))
		})

		It("should not touch the input", func() {
			Expect(raw.VendorName).To(BeNil())
			_, ok := raw.Best(FieldVendorName)
			Expect(ok).To(BeFalse())
		})
	})

	When("the sender uses a public provider", func() {
		BeforeEach(func() {
			text = "Total Due $93.50"
			msg.SenderEmail = "someone@gmail.com"
		})

		It("should leave the vendor absent", func() {
			Expect(data.VendorName).To(BeNil())
		})
	})

	When("the vendor was extracted with high confidence", func() {
		BeforeEach(func() {
			text = "From: Initech LLC"
			msg.SenderEmail = "ap@globex.com"
		})

		It("should keep the extracted vendor", func() {
			Expect(*data.VendorName).To(Equal("Initech LLC"))
			Expect(data.Extractions).To(HaveLen(len(raw.Extractions)))
		})
	})

	When("the vendor was extracted with low confidence", func() {
		BeforeEach(func() {
			snap = snapshotOf(pattern.Rule{ID: "v", Name: "v", Category: pattern.Vendor, Pattern: `^([A-Z ]+)$`, CaptureGroup: 1, ConfidenceWeight: 0.55, Active: true})
			text = "Initech Systems"
		})

		When("the sender domain names someone else", func() {
			BeforeEach(func() {
				msg.SenderEmail = "ap@globex.com"
			})

			It("should keep the extracted vendor and its confidence", func() {
				Expect(*raw.VendorName).To(Equal("Initech Systems"))
				Expect(*data.VendorName).To(Equal("Initech Systems"))
				Expect(data.Extractions).To(Equal(raw.Extractions))
				Expect(data.Confidence(FieldVendorName)).To(Equal(raw.Confidence(FieldVendorName)))
			})
		})

		When("the sender domain agrees", func() {
			BeforeEach(func() {
				msg.SenderEmail = "billing@initech.com"
			})

			It("should add corroborating provenance for the stored value", func() {
				Expect(*data.VendorName).To(Equal("Initech Systems"))

				best, ok := data.Best(FieldVendorName)
				Expect(ok).To(BeTrue())
				Expect(best.Value).To(Equal(*data.VendorName))
				Expect(best.Confidence).To(Equal(EnhancedVendorConfidence))
				Expect(best.Method).To(Equal(MethodEmailEnhancement))

				var methods []Method
				for _, e := range data.Extractions {
					if e.Field == FieldVendorName {
						methods = append(methods, e.Method)
					}
				}
				Expect(methods).To(Equal([]Method{MethodPatternMatch, MethodEmailEnhancement}))
			})
		})
	})

	When("the invoice number is only in the subject", func() {
		BeforeEach(func() {
			text = "Total Due $93.50"
			msg.EmailSubject = "Your invoice INV-4821 from Globex"
		})

		It("should read it with fixed confidence", func() {
			Expect(*data.InvoiceNumber).To(Equal("INV-4821"))
			e, _ := data.Best(FieldInvoiceNumber)
			Expect(e.Confidence).To(Equal(EnhancedInvoiceNumberConfidence))
			Expect(e.Method).To(Equal(MethodEmailEnhancement))
			Expect(e.SourceText).To(Equal("Your invoice INV-4821 from Globex"))
		})
	})

	When("the invoice number is in the body", func() {
		BeforeEach(func() {
			text = "Invoice Number: INV-1000\nTotal Due $93.50"
			msg.EmailSubject = "Invoice INV-2000"
		})

		It("should not consult the subject", func() {
			Expect(*data.InvoiceNumber).To(Equal("INV-1000"))
		})
	})

	Describe("currency", func() {
		When("no currency was found", func() {
			BeforeEach(func() {
				text = "Invoice Number: INV-1000"
			})

			It("should assume the default without provenance", func() {
				Expect(*data.Currency).To(Equal("USD"))
				_, ok := data.Best(FieldCurrency)
				Expect(ok).To(BeFalse())
			})
		})

		When("the default is disabled", func() {
			BeforeEach(func() {
				enhancer.DefaultCurrency = ""
				text = "Invoice Number: INV-1000"
			})

			It("should leave the currency absent", func() {
				Expect(data.Currency).To(BeNil())
			})
		})

		When("a currency was extracted", func() {
			BeforeEach(func() {
				text = "Total: £12.00"
			})

			It("should keep it", func() {
				Expect(*data.Currency).To(Equal("GBP"))
			})
		})
	})
})

var _ = Describe("VendorFromEmail", func() {
	DescribeTable("derivation",
		func(sender, want string, ok bool) {
			got, gotOK := VendorFromEmail(sender)
			Expect(gotOK).To(Equal(ok))
			Expect(got).To(Equal(want))
		},
		Entry("simple domain", "billing@globex.com", "Globex", true),
		Entry("subdomain and multi-label suffix", "ap@invoices.acme-supplies.co.uk", "Acme Supplies", true),
		Entry("display name", "Globex Billing <billing@globex.com>", "Globex", true),
		Entry("public provider", "me@outlook.com", "", false),
		Entry("not an address", "globex", "", false),
		Entry("empty", "", "", false),
	)
})
