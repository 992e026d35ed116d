package invoice

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/zombor/invoice-extractor/internal/confidence"
	"github.com/zombor/invoice-extractor/internal/extraction"
	"github.com/zombor/invoice-extractor/internal/pattern"
	"github.com/zombor/invoice-extractor/internal/validation"
)

var _ = Describe("Classify", func() {
	DescribeTable("grades completeness",
		func(fields int, conf float64, expected Status) {
			Expect(Classify(fields, conf)).To(Equal(expected))
		},
		Entry("nothing extracted", 0, 0.95, StatusNoData),
		Entry("six fields at 0.8", 6, 0.8, StatusComplete),
		Entry("nine fields at 0.95", 9, 0.95, StatusComplete),
		Entry("six fields at 0.79", 6, 0.79, StatusPartial),
		Entry("three fields at 0.6", 3, 0.6, StatusPartial),
		Entry("five fields at 0.9", 5, 0.9, StatusPartial),
		Entry("two fields at 0.95", 2, 0.95, StatusLow),
		Entry("eight fields at 0.59", 8, 0.59, StatusLow),
	)
})

var _ = Describe("Recommend", func() {
	valid := validation.Result{IsValid: true}
	invalid := validation.Result{IsValid: false, Errors: []validation.Error{{Severity: validation.SeverityError}}}
	warned := validation.Result{IsValid: true, Warnings: []validation.Warning{{WarningType: validation.OldDate}}}

	DescribeTable("picks downstream handling",
		func(conf float64, v validation.Result, expected Recommendation) {
			Expect(Recommend(conf, v)).To(Equal(expected))
		},
		Entry("high and valid", 0.9, valid, AutoApprove),
		Entry("high with warnings only", 0.95, warned, AutoApprove),
		Entry("high but invalid", 0.95, invalid, ManualReview),
		Entry("medium and valid", 0.7, valid, ReviewRecommended),
		Entry("medium but invalid", 0.75, invalid, ManualReview),
		Entry("low", 0.5, valid, ManualReview),
		Entry("very low", 0.49, valid, ManualProcessing),
		Entry("zero", 0.0, invalid, ManualProcessing),
	)
})

var _ = Describe("Service", func() {
	var (
		service   *Service
		rules     *mockRules
		extractor *extraction.Engine
		deps      Deps
		req       Request
		result    *Result
		err       error
	)

	BeforeEach(func() {
		rules = &mockRules{snap: goldenSnapshot()}
		extractor = extraction.NewEngine(extraction.WithTimeSource(fixedTime{testNow}))
		deps = Deps{
			Rules:       rules,
			Extractor:   extractor,
			Enhancer:    extraction.NewEnhancer(extractor),
			Validator:   validation.NewValidatorWithClock(fixedTime{testNow}),
			Scorer:      confidence.NewCalculator(),
			IDGenerator: &sequentialIDs{},
			TimeSource:  fixedTime{testNow},
		}
		req = Request{RawText: sampleInvoice}
	})

	JustBeforeEach(func() {
		service = NewServiceWithDeps(deps)
		result, err = service.Extract(context.Background(), req)
	})

	When("the document is a complete invoice", func() {
		It("should classify the run", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(result.ID).To(Equal("run-1"))
			Expect(result.State).To(Equal(StateClassified))
			Expect(result.Status).To(Equal(StatusComplete))
			Expect(result.Recommendation).To(BeElementOf(AutoApprove, ReviewRecommended))
			Expect(result.Error).To(BeEmpty())
		})

		It("should carry every stage's output", func() {
			Expect(result.Data).NotTo(BeNil())
			Expect(*result.Data.InvoiceNumber).To(Equal("INV-2025-001"))
			Expect(result.Data.TotalAmount.Equal(decimal.RequireFromString("93.50"))).To(BeTrue())
			Expect(result.Validation).NotTo(BeNil())
			Expect(result.Validation.IsValid).To(BeTrue())
			Expect(result.Breakdown).NotTo(BeNil())
			Expect(result.OverallConfidence).To(Equal(result.Breakdown.Overall))
		})

		It("should stamp the run", func() {
			Expect(result.StartedAt).To(Equal(testNow))
			Expect(result.CompletedAt).To(Equal(testNow))
			Expect(result.ProcessingMillis).To(BeZero())
			Expect(result.RegistryVersion).To(Equal(rules.snap.Version))
		})

		It("should record one usage event per rule-backed field", func() {
			Expect(rules.events).NotTo(BeEmpty())
			for _, e := range rules.events {
				Expect(e.RuleID).NotTo(BeEmpty())
				Expect(e.RunID).To(Equal("run-1"))
				Expect(e.At).To(Equal(testNow))
			}
		})

		It("should be deterministic for the same input and snapshot", func() {
			again, err := service.Extract(context.Background(), req)
			Expect(err).NotTo(HaveOccurred())
			Expect(again.ID).To(Equal("run-2"))
			Expect(again.Status).To(Equal(result.Status))
			Expect(again.Recommendation).To(Equal(result.Recommendation))
			Expect(again.OverallConfidence).To(Equal(result.OverallConfidence))
			Expect(again.Data.Extractions).To(Equal(result.Data.Extractions))
		})
	})

	When("the sender's domain names the vendor", func() {
		BeforeEach(func() {
			req = Request{
				RawText:      "Amount Due: $40.00\nInvoice Date: 2025-02-20",
				EmailSubject: "Invoice INV-88231 attached",
				SenderEmail:  "ap@initech.com",
			}
		})

		It("should fill vendor and invoice number from the message", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(*result.Data.VendorName).To(Equal("Initech"))
			Expect(*result.Data.InvoiceNumber).To(Equal("INV-88231"))
			best, ok := result.Data.Best(extraction.FieldVendorName)
			Expect(ok).To(BeTrue())
			Expect(best.Method).To(Equal(extraction.MethodEmailEnhancement))
		})
	})

	When("the text is blank", func() {
		BeforeEach(func() {
			req = Request{RawText: "  \n\t "}
		})

		It("should reject it before a run starts", func() {
			Expect(errors.Is(err, ErrEmptyDocument)).To(BeTrue())
			Expect(result).To(BeNil())
		})
	})

	When("nothing in the text matches", func() {
		BeforeEach(func() {
			req = Request{RawText: "lorem ipsum dolor sit amet"}
		})

		It("should report no data", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Status).To(Equal(StatusNoData))
			Expect(result.Recommendation).To(Equal(ManualProcessing))
			Expect(rules.events).To(BeEmpty())
		})
	})

	When("no required field is present", func() {
		BeforeEach(func() {
			email := "billing@acmesupplies.com"
			phone := "555-123-4567"
			deps.Extractor = &mockExtractor{data: &extraction.InvoiceData{
				VendorEmail: &email,
				VendorPhone: &phone,
				Extractions: []extraction.FieldExtraction{
					{Field: extraction.FieldVendorEmail, Value: email, Confidence: 1, Method: extraction.MethodPatternMatch, RuleID: "vendor-email"},
					{Field: extraction.FieldVendorPhone, Value: phone, Confidence: 1, Method: extraction.MethodPatternMatch, RuleID: "vendor-phone"},
				},
			}}
			deps.Enhancer = &passthroughEnhancer{}
		})

		It("should never auto-approve", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Validation.IsValid).To(BeFalse())
			Expect(result.Recommendation).NotTo(Equal(AutoApprove))
		})
	})

	When("the registry is unavailable", func() {
		BeforeEach(func() {
			rules.snapshotErr = pattern.ErrRegistryUnavailable
		})

		It("should fail the run", func() {
			Expect(errors.Is(err, pattern.ErrRegistryUnavailable)).To(BeTrue())
			Expect(result.State).To(Equal(StateFailed))
			Expect(result.Status).To(Equal(StatusFailed))
			Expect(result.Recommendation).To(Equal(ManualProcessing))
			Expect(result.OverallConfidence).To(BeZero())
			Expect(result.Error).To(ContainSubstring("registry"))
		})
	})

	When("a stage panics", func() {
		BeforeEach(func() {
			deps.Extractor = &mockExtractor{panic: "index out of range"}
		})

		It("should recover into a failed envelope", func() {
			Expect(errors.Is(err, ErrPipelinePanic)).To(BeTrue())
			Expect(result.State).To(Equal(StateFailed))
			Expect(result.Recommendation).To(Equal(ManualProcessing))
			Expect(result.Error).To(ContainSubstring("index out of range"))
		})
	})

	When("the run exceeds its timeout", func() {
		BeforeEach(func() {
			deps.Extractor = &mockExtractor{block: true}
			deps.Timeout = 10 * time.Millisecond
		})

		It("should fail with a timeout", func() {
			Expect(errors.Is(err, extraction.ErrExtractionTimeout)).To(BeTrue())
			Expect(result.State).To(Equal(StateFailed))
			Expect(failureReason(err)).To(Equal("timeout"))
		})
	})

	When("a custom enhancer is supplied", func() {
		var enhancer *passthroughEnhancer

		BeforeEach(func() {
			enhancer = &passthroughEnhancer{}
			deps.Enhancer = enhancer
		})

		It("should run it once per document", func() {
			Expect(enhancer.calls).To(Equal(1))
		})
	})

	When("usage cannot be recorded", func() {
		BeforeEach(func() {
			rules.usageErr = errUsageDown
		})

		It("should still succeed", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(result.State).To(Equal(StateClassified))
		})
	})
})

var _ = Describe("failureReason", func() {
	DescribeTable("maps errors to metric labels",
		func(err error, expected string) {
			Expect(failureReason(err)).To(Equal(expected))
		},
		Entry("registry", errors.Join(errors.New("loading rules"), pattern.ErrRegistryUnavailable), "registry_unavailable"),
		Entry("field timeout", extraction.ErrExtractionTimeout, "timeout"),
		Entry("context deadline", context.DeadlineExceeded, "timeout"),
		Entry("panic", ErrPipelinePanic, "internal"),
	)
})
