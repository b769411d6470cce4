package recon

import (
	"fmt"
	"math"
)

// WeightSumTolerance is how far the three criterion weights may drift
// from 1.0 before the rule is rejected.
const WeightSumTolerance = 0.001

// MatchingRule is the per-company configuration snapshot read at the
// start of every reconciliation run. One consistent snapshot is used
// for the whole run.
type MatchingRule struct {
	ID        string `json:"id"`
	CompanyID string `json:"company_id"`

	AmountWeight float64 `json:"amount_weight"`
	DateWeight   float64 `json:"date_weight"`
	VendorWeight float64 `json:"vendor_weight"`

	AmountTolerancePct float64 `json:"amount_tolerance_pct"` // e.g. 0.02 = 2%
	DateToleranceDays  int     `json:"date_tolerance_days"`
	VendorThreshold    float64 `json:"vendor_threshold"`

	AutoApproval float64 `json:"auto_approval"`
	ManualReview float64 `json:"manual_review"`
	MinimumMatch float64 `json:"minimum_match"`
}

// DefaultMatchingRule returns the documented default rule set. It is
// used for seeding new companies, never as a silent fallback at run
// time.
func DefaultMatchingRule(companyID string) MatchingRule {
	return MatchingRule{
		CompanyID:          companyID,
		AmountWeight:       0.4,
		DateWeight:         0.3,
		VendorWeight:       0.3,
		AmountTolerancePct: 0.02,
		DateToleranceDays:  3,
		VendorThreshold:    0.7,
		AutoApproval:       0.9,
		ManualReview:       0.7,
		MinimumMatch:       0.4,
	}
}

// Validate checks weights and threshold ordering. Any violation is a
// ConfigurationError and aborts the run that loaded the rule.
func (r MatchingRule) Validate() error {
	sum := r.AmountWeight + r.DateWeight + r.VendorWeight
	if math.Abs(sum-1.0) > WeightSumTolerance {
		return &ConfigurationError{
			Reason: fmt.Sprintf("criterion weights sum to %.4f, want 1.0", sum),
		}
	}
	if r.AmountWeight < 0 || r.DateWeight < 0 || r.VendorWeight < 0 {
		return &ConfigurationError{Reason: "criterion weights must be non-negative"}
	}
	if r.AmountTolerancePct <= 0 {
		return &ConfigurationError{Reason: "amount tolerance must be positive"}
	}
	if r.DateToleranceDays <= 0 {
		return &ConfigurationError{Reason: "date tolerance must be positive"}
	}
	if r.VendorThreshold < 0 || r.VendorThreshold > 1 {
		return &ConfigurationError{Reason: "vendor threshold must be within [0,1]"}
	}
	for _, t := range []struct {
		name  string
		value float64
	}{
		{"minimum_match", r.MinimumMatch},
		{"manual_review", r.ManualReview},
		{"auto_approval", r.AutoApproval},
	} {
		if t.value < 0 || t.value > 1 {
			return &ConfigurationError{Reason: t.name + " must be within [0,1]"}
		}
	}
	if r.MinimumMatch > r.ManualReview || r.ManualReview > r.AutoApproval {
		return &ConfigurationError{
			Reason: "thresholds must satisfy minimum_match <= manual_review <= auto_approval",
		}
	}
	return nil
}
