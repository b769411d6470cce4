package strategy

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/expenseflow/reconcile/internal/domain/recon"
	"github.com/expenseflow/reconcile/internal/domain/score"
)

const (
	// minRecurrences is how many prior sightings of a signature are
	// needed before it counts as a recurring transaction.
	minRecurrences = 3

	// cadenceSlack is the relative tolerance around the weekly and
	// monthly period lengths.
	cadenceSlack = 0.20
)

// recurring cadences, in days.
var cadences = []float64{7, 30}

// HistorySource supplies the transaction history and the confirmed
// descriptor-to-vendor mappings the pattern strategy learns from.
type HistorySource interface {
	// TransactionHistory returns the company's prior transactions,
	// excluding the one being matched.
	TransactionHistory(ctx context.Context, companyID string, before time.Time) ([]recon.Transaction, error)

	// ConfirmedVendors maps normalized transaction descriptors to the
	// vendor name of an approved match for that descriptor.
	ConfirmedVendors(ctx context.Context, companyID string) (map[string]string, error)
}

// Pattern detects recurring-transaction signatures (same normalized
// descriptor, similar amount, roughly periodic cadence) and reuses the
// confirmed vendor mapping for that signature as a stronger vendor
// score input to the fuzzy computation. Threshold checks still apply.
type Pattern struct {
	history HistorySource
}

// NewPattern creates the pattern strategy.
func NewPattern(history HistorySource) *Pattern {
	return &Pattern{history: history}
}

func (p *Pattern) Name() string { return "pattern" }

// Propose returns fuzzy-style proposals with the vendor score boosted
// from the confirmed mapping, but only when the transaction fits a
// recurring signature with a previously confirmed vendor.
func (p *Pattern) Propose(ctx context.Context, tx recon.Transaction, candidates []recon.ExpenseCandidate, rule recon.MatchingRule) ([]recon.MatchProposal, error) {
	signature := score.NormalizeVendor(tx.Description)
	if signature == "" {
		return nil, nil
	}

	history, err := p.history.TransactionHistory(ctx, tx.CompanyID, tx.PostedAt)
	if err != nil {
		return nil, err
	}
	if !isRecurring(tx, signature, history, rule) {
		return nil, nil
	}

	confirmed, err := p.history.ConfirmedVendors(ctx, tx.CompanyID)
	if err != nil {
		return nil, err
	}
	confirmedVendor, ok := confirmed[signature]
	if !ok {
		return nil, nil
	}

	var proposals []recon.MatchProposal
	for _, cand := range inDateWindow(tx, candidates, rule) {
		scores, err := scorePair(tx, cand, rule)
		if err != nil {
			continue
		}

		// The confirmed vendor name is cleaner than the raw bank
		// descriptor, so let it raise (never lower) the vendor score.
		boosted := score.Vendor(confirmedVendor, cand.Vendor)
		if boosted >= rule.VendorThreshold && boosted > scores.vendor {
			scores.vendor = boosted
		}

		aggregate := weighted(scores, rule)
		if aggregate < rule.MinimumMatch {
			continue
		}
		proposals = append(proposals, recon.MatchProposal{
			TransactionID:  tx.ID,
			ExpenseID:      cand.ID,
			ExpenseDate:    cand.ExpenseDate,
			MatchType:      recon.MatchTypePattern,
			AmountScore:    scores.amount,
			DateScore:      scores.date,
			VendorScore:    scores.vendor,
			AggregateScore: aggregate,
		})
	}

	sortProposals(tx, proposals)
	return proposals, nil
}

// isRecurring checks whether the transaction's signature shows up in
// history with a similar amount on a roughly weekly or monthly
// cadence.
func isRecurring(tx recon.Transaction, signature string, history []recon.Transaction, rule recon.MatchingRule) bool {
	var dates []time.Time
	txAmount := math.Abs(tx.Amount)

	for _, h := range history {
		if score.NormalizeVendor(h.Description) != signature {
			continue
		}
		if !similarAmount(txAmount, math.Abs(h.Amount), rule.AmountTolerancePct) {
			continue
		}
		dates = append(dates, h.PostedAt)
	}
	if len(dates) < minRecurrences {
		return false
	}

	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	// Every gap between consecutive sightings must sit near the same
	// cadence for the signature to count as periodic.
	for _, cadence := range cadences {
		if gapsFitCadence(dates, cadence) {
			return true
		}
	}
	return false
}

func gapsFitCadence(dates []time.Time, cadence float64) bool {
	for i := 1; i < len(dates); i++ {
		gap := score.DaysBetween(dates[i-1], dates[i])
		if math.Abs(gap-cadence) > cadence*cadenceSlack {
			return false
		}
	}
	return true
}

func similarAmount(a, b, tolerancePct float64) bool {
	diff := math.Abs(a - b)
	if diff == 0 {
		return true
	}
	denom := math.Max(a, math.Max(b, 0.01))
	return diff/denom <= tolerancePct
}
