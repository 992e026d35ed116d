package pattern

import (
	"errors"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("compileRule", func() {
	var (
		rule     Rule
		compiled *CompiledRule
		err      error
	)

	BeforeEach(func() {
		rule = Rule{
			Name:             "invoice-number",
			Category:         InvoiceNumber,
			Pattern:          `invoice\s+number\s+([A-Z0-9-]{3,})`,
			CaptureGroup:     1,
			ConfidenceWeight: 0.9,
			Active:           true,
		}
	})

	JustBeforeEach(func() {
		compiled, err = compileRule(rule)
	})

	When("the rule is well formed", func() {
		It("should compile case-insensitively by default", func() {
			Expect(err).NotTo(HaveOccurred())
			value, ok := compiled.Match("Invoice Number INV-3337")
			Expect(ok).To(BeTrue())
			Expect(value).To(Equal("INV-3337"))
		})
	})

	When("the rule is case sensitive", func() {
		BeforeEach(func() {
			rule.CaseSensitive = true
		})

		It("should not match different casing", func() {
			Expect(err).NotTo(HaveOccurred())
			_, ok := compiled.Match("Invoice Number INV-3337")
			Expect(ok).To(BeFalse())
		})
	})

	When("the pattern does not compile", func() {
		BeforeEach(func() {
			rule.Pattern = `invoice (number`
		})

		It("should return an InvalidPatternError", func() {
			var ipe *InvalidPatternError
			Expect(errors.As(err, &ipe)).To(BeTrue())
			Expect(ipe.Rule).To(Equal("invoice-number"))
			Expect(errors.Is(err, ErrInvalidPattern)).To(BeTrue())
		})
	})

	When("the capture group exceeds the pattern's groups", func() {
		BeforeEach(func() {
			rule.CaptureGroup = 2
		})

		It("should reject the rule", func() {
			Expect(errors.Is(err, ErrInvalidPattern)).To(BeTrue())
			Expect(err.Error()).To(ContainSubstring("capture group 2 out of range"))
		})
	})

	When("repetition is nested too deeply", func() {
		BeforeEach(func() {
			rule.Pattern = `(((a+)+)+)`
		})

		It("should reject the rule", func() {
			Expect(errors.Is(err, ErrInvalidPattern)).To(BeTrue())
			Expect(err.Error()).To(ContainSubstring("repetition nested"))
		})
	})

	When("the pattern is too long", func() {
		BeforeEach(func() {
			rule.Pattern = "(" + strings.Repeat("a", maxPatternLength) + ")"
		})

		It("should reject the rule", func() {
			Expect(errors.Is(err, ErrInvalidPattern)).To(BeTrue())
		})
	})

	When("the compiled program is too large", func() {
		BeforeEach(func() {
			rule.Pattern = `([a-z]{1,1000}[0-9]{1,1000}[a-z]{1,1000})`
		})

		It("should reject the rule", func() {
			Expect(errors.Is(err, ErrInvalidPattern)).To(BeTrue())
			Expect(err.Error()).To(ContainSubstring("instructions"))
		})
	})

	When("a validation pattern is set", func() {
		BeforeEach(func() {
			rule.ValidationPattern = `^INV-`
		})

		It("should drop captured values that fail it", func() {
			Expect(err).NotTo(HaveOccurred())
			_, ok := compiled.Match("Invoice Number ABC-123")
			Expect(ok).To(BeFalse())

			value, ok := compiled.Match("Invoice Number INV-123")
			Expect(ok).To(BeTrue())
			Expect(value).To(Equal("INV-123"))
		})
	})

	When("the validation pattern does not compile", func() {
		BeforeEach(func() {
			rule.ValidationPattern = `[`
		})

		It("should reject the rule", func() {
			Expect(errors.Is(err, ErrInvalidPattern)).To(BeTrue())
			Expect(err.Error()).To(ContainSubstring("validation pattern rejected"))
		})
	})
})
