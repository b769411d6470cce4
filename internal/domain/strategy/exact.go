package strategy

import (
	"context"
	"math"

	"github.com/expenseflow/reconcile/internal/domain/recon"
	"github.com/expenseflow/reconcile/internal/domain/score"
)

const (
	// exactAmountTolerance is the relative amount difference still
	// treated as equal, per the documented 0.1% tolerance.
	exactAmountTolerance = 0.001

	// exactVendorThreshold is the vendor similarity an exact match
	// requires on top of equal amount and date.
	exactVendorThreshold = 0.95
)

// Exact proposes a match only when amount, calendar date, and vendor
// all line up. Its proposals carry a fixed aggregate score of 1.0.
type Exact struct{}

// NewExact creates the exact strategy.
func NewExact() *Exact { return &Exact{} }

func (e *Exact) Name() string { return "exact" }

// Propose returns proposals for candidates that equal the transaction
// on all three criteria.
func (e *Exact) Propose(_ context.Context, tx recon.Transaction, candidates []recon.ExpenseCandidate, rule recon.MatchingRule) ([]recon.MatchProposal, error) {
	var proposals []recon.MatchProposal

	txAmount := math.Abs(tx.Amount)
	for _, cand := range candidates {
		if cand.Currency != tx.Currency {
			continue
		}
		if !amountsEqual(txAmount, math.Abs(cand.Amount)) {
			continue
		}
		if !score.SameDay(tx.PostedAt, cand.ExpenseDate) {
			continue
		}
		vendorScore := score.Vendor(tx.Description, cand.Vendor)
		if vendorScore < exactVendorThreshold {
			continue
		}

		proposals = append(proposals, recon.MatchProposal{
			TransactionID:  tx.ID,
			ExpenseID:      cand.ID,
			ExpenseDate:    cand.ExpenseDate,
			MatchType:      recon.MatchTypeExact,
			AmountScore:    1.0,
			DateScore:      1.0,
			VendorScore:    vendorScore,
			AggregateScore: 1.0,
		})
	}

	sortProposals(tx, proposals)
	return proposals, nil
}

// amountsEqual treats amounts within 0.1% relative difference as
// equal.
func amountsEqual(a, b float64) bool {
	diff := math.Abs(a - b)
	if diff == 0 {
		return true
	}
	denom := math.Max(a, math.Max(b, 0.01))
	return diff/denom <= exactAmountTolerance
}
