package recon

import "math"

// FeatureVector is the anonymized snapshot of a match decision kept
// for learning. It carries only the numeric criterion scores and
// coarse metadata; raw vendor text and account identifiers must never
// appear here.
type FeatureVector struct {
	AmountScore  float64 `json:"amount_score"`
	DateScore    float64 `json:"date_score"`
	VendorScore  float64 `json:"vendor_score"`
	AmountBucket int     `json:"amount_bucket"` // order of magnitude of the transaction amount
	DayOfWeek    int     `json:"day_of_week"`   // 0 = Sunday
}

// BuildFeatures derives the feature vector for a scored proposal.
func BuildFeatures(tx Transaction, p MatchProposal) FeatureVector {
	return FeatureVector{
		AmountScore:  p.AmountScore,
		DateScore:    p.DateScore,
		VendorScore:  p.VendorScore,
		AmountBucket: amountBucket(tx.Amount),
		DayOfWeek:    int(tx.PostedAt.Weekday()),
	}
}

// amountBucket buckets an amount by decimal order of magnitude:
// 0 for < 10, 1 for < 100, 2 for < 1000 and so on.
func amountBucket(amount float64) int {
	a := math.Abs(amount)
	if a < 10 {
		return 0
	}
	return int(math.Floor(math.Log10(a)))
}
