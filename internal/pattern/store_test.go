package pattern

import (
	"errors"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("BoltDB", func() {
	var (
		db  *BoltDB
		now time.Time
	)

	BeforeEach(func() {
		var err error
		db, err = NewBoltDB(filepath.Join(GinkgoT().TempDir(), "rules.db"))
		Expect(err).NotTo(HaveOccurred())
		now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	})

	AfterEach(func() {
		if db != nil {
			db.Close()
		}
	})

	Describe("SaveRule", func() {
		var rule *Rule

		BeforeEach(func() {
			rule = &Rule{
				ID:               "r1",
				Name:             "total-due",
				Category:         Amount,
				Pattern:          `total\s+due\s*([0-9.]+)`,
				Priority:         10,
				ConfidenceWeight: 0.9,
				CaptureGroup:     1,
				Active:           true,
				CreatedAt:        now,
				UpdatedAt:        now,
			}
		})

		It("should round trip the rule", func() {
			Expect(db.SaveRule(rule)).To(Succeed())

			saved, err := db.GetRule("r1")
			Expect(err).NotTo(HaveOccurred())
			Expect(saved.Name).To(Equal("total-due"))
			Expect(saved.Category).To(Equal(Amount))
			Expect(saved.CaptureGroup).To(Equal(1))
			Expect(saved.CreatedAt.Equal(now)).To(BeTrue())
		})

		It("should replace an existing rule with the same ID", func() {
			Expect(db.SaveRule(rule)).To(Succeed())
			rule.Priority = 99
			Expect(db.SaveRule(rule)).To(Succeed())

			rules, err := db.ListRules()
			Expect(err).NotTo(HaveOccurred())
			Expect(rules).To(HaveLen(1))
			Expect(rules[0].Priority).To(Equal(99))
		})
	})

	Describe("GetRule", func() {
		When("the rule does not exist", func() {
			It("should return ErrRuleNotFound", func() {
				_, err := db.GetRule("missing")
				Expect(errors.Is(err, ErrRuleNotFound)).To(BeTrue())
			})
		})
	})

	Describe("DeleteRule", func() {
		It("should remove the rule", func() {
			Expect(db.SaveRule(&Rule{ID: "r1", Name: "a"})).To(Succeed())
			Expect(db.DeleteRule("r1")).To(Succeed())

			_, err := db.GetRule("r1")
			Expect(errors.Is(err, ErrRuleNotFound)).To(BeTrue())
		})

		It("should return ErrRuleNotFound for an unknown ID", func() {
			Expect(errors.Is(db.DeleteRule("missing"), ErrRuleNotFound)).To(BeTrue())
		})
	})

	Describe("usage log", func() {
		It("should start empty", func() {
			counts, err := db.UsageCounts()
			Expect(err).NotTo(HaveOccurred())
			Expect(counts).To(BeEmpty())
		})

		It("should aggregate appended events per rule", func() {
			Expect(db.AppendUsage([]UsageEvent{
				{RuleID: "r1", Field: "total_amount", RunID: "run-1", At: now},
				{RuleID: "r2", Field: "invoice_number", RunID: "run-1", At: now},
			})).To(Succeed())
			Expect(db.AppendUsage([]UsageEvent{
				{RuleID: "r1", Field: "total_amount", RunID: "run-2", At: now},
			})).To(Succeed())

			counts, err := db.UsageCounts()
			Expect(err).NotTo(HaveOccurred())
			Expect(counts).To(Equal(map[string]int{"r1": 2, "r2": 1}))
		})

		It("should accept an empty batch", func() {
			Expect(db.AppendUsage(nil)).To(Succeed())
		})
	})
})
