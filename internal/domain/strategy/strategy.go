// Package strategy implements the four matching strategies the
// resolver runs in priority order: exact, fuzzy, pattern, and ml.
//
// Each strategy consumes one transaction plus a candidate pool of
// expenses and produces zero or more scored proposals, sorted best
// first with a deterministic tie-break so the same input always
// yields the same ordering.
package strategy

import (
	"context"
	"math"
	"sort"

	"github.com/expenseflow/reconcile/internal/domain/recon"
	"github.com/expenseflow/reconcile/internal/domain/score"
)

// Strategy produces scored match proposals for one transaction.
type Strategy interface {
	// Name identifies the strategy in persisted matches and logs.
	Name() string

	// Propose scores the candidate pool and returns proposals sorted
	// best first. An empty slice means the strategy has nothing to
	// offer and the resolver moves on to the next one.
	Propose(ctx context.Context, tx recon.Transaction, candidates []recon.ExpenseCandidate, rule recon.MatchingRule) ([]recon.MatchProposal, error)
}

// criterionScores holds the three raw sub-scores for one pairing.
type criterionScores struct {
	amount float64
	date   float64
	vendor float64
}

// scorePair computes the three criterion scores for a
// transaction-expense pairing. Amounts are compared by magnitude; the
// bank feed reports debits as negative. An error means the candidate
// is malformed and should be skipped, not that the pairing is weak.
func scorePair(tx recon.Transaction, cand recon.ExpenseCandidate, rule recon.MatchingRule) (criterionScores, error) {
	amountScore, err := score.Amount(math.Abs(tx.Amount), math.Abs(cand.Amount), rule.AmountTolerancePct)
	if err != nil {
		return criterionScores{}, err
	}
	return criterionScores{
		amount: amountScore,
		date:   score.Date(tx.PostedAt, cand.ExpenseDate, rule.DateToleranceDays),
		vendor: score.Vendor(tx.Description, cand.Vendor),
	}, nil
}

// weighted folds the three criterion scores into the aggregate using
// the rule's weights.
func weighted(s criterionScores, rule recon.MatchingRule) float64 {
	return rule.AmountWeight*s.amount + rule.DateWeight*s.date + rule.VendorWeight*s.vendor
}

// inDateWindow filters the pool down to candidates whose expense date
// falls within the rule's date tolerance of the transaction, and whose
// currency matches. Mixed-currency pairings are never comparable.
func inDateWindow(tx recon.Transaction, candidates []recon.ExpenseCandidate, rule recon.MatchingRule) []recon.ExpenseCandidate {
	var out []recon.ExpenseCandidate
	for _, cand := range candidates {
		if cand.Currency != tx.Currency {
			continue
		}
		if score.DaysBetween(tx.PostedAt, cand.ExpenseDate) > float64(rule.DateToleranceDays) {
			continue
		}
		out = append(out, cand)
	}
	return out
}

// sortProposals orders proposals for deterministic selection: highest
// aggregate first, then closer expense date, then lexicographically
// smaller expense id.
func sortProposals(tx recon.Transaction, proposals []recon.MatchProposal) {
	sort.SliceStable(proposals, func(i, j int) bool {
		a, b := proposals[i], proposals[j]
		if a.AggregateScore != b.AggregateScore {
			return a.AggregateScore > b.AggregateScore
		}
		da := score.DaysBetween(tx.PostedAt, a.ExpenseDate)
		db := score.DaysBetween(tx.PostedAt, b.ExpenseDate)
		if da != db {
			return da < db
		}
		return a.ExpenseID < b.ExpenseID
	})
}
