package pattern

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Test", func() {
	It("should return the first capture group as the value", func() {
		result := Test(`total\s+due\s+\$?([0-9.]+)`, "i", "TOTAL DUE $93.50")
		Expect(result.Matched).To(BeTrue())
		Expect(result.Value).To(Equal("93.50"))
		Expect(result.Groups).To(Equal([]string{"93.50"}))
		Expect(result.Diagnostic).To(BeEmpty())
	})

	It("should return the whole match without groups", func() {
		result := Test(`INV-[0-9]+`, "", "ref INV-42 attached")
		Expect(result.Matched).To(BeTrue())
		Expect(result.Value).To(Equal("INV-42"))
		Expect(result.Groups).To(BeEmpty())
	})

	It("should honour case sensitivity without flags", func() {
		result := Test(`inv-[0-9]+`, "", "INV-42")
		Expect(result.Matched).To(BeFalse())
		Expect(result.Diagnostic).To(Equal("no match"))
	})

	It("should report compile problems as a diagnostic", func() {
		result := Test(`([0-9]+`, "", "123")
		Expect(result.Matched).To(BeFalse())
		Expect(result.Diagnostic).To(ContainSubstring("missing closing )"))
	})

	It("should reject unknown flags", func() {
		result := Test(`a`, "x", "a")
		Expect(result.Matched).To(BeFalse())
		Expect(result.Diagnostic).To(ContainSubstring("unsupported flag"))
	})

	It("should apply the safety limits", func() {
		result := Test(`((a*)*)*`, "", "aaa")
		Expect(result.Matched).To(BeFalse())
		Expect(result.Diagnostic).To(ContainSubstring("repetition nested"))
	})
})
