package strategy

import (
	"context"

	"github.com/sourcegraph/conc/pool"

	"github.com/expenseflow/reconcile/internal/domain/recon"
)

// Fuzzy scores every candidate inside the configured date window with
// the weighted sum of the three criterion scores, discards candidates
// below the rule's minimum match threshold, and returns the rest
// sorted best first.
type Fuzzy struct {
	maxWorkers int
}

// NewFuzzy creates the fuzzy strategy. maxWorkers caps the concurrent
// candidate scorers for one transaction; <=0 means a small default.
func NewFuzzy(maxWorkers int) *Fuzzy {
	if maxWorkers <= 0 {
		maxWorkers = 8
	}
	return &Fuzzy{maxWorkers: maxWorkers}
}

func (f *Fuzzy) Name() string { return "fuzzy" }

// Propose scores candidates concurrently. Results land in an indexed
// slice so the merge is deterministic regardless of goroutine
// scheduling; ordering is decided only by the final sort.
func (f *Fuzzy) Propose(ctx context.Context, tx recon.Transaction, candidates []recon.ExpenseCandidate, rule recon.MatchingRule) ([]recon.MatchProposal, error) {
	window := inDateWindow(tx, candidates, rule)
	if len(window) == 0 {
		return nil, nil
	}

	results := make([]*recon.MatchProposal, len(window))

	p := pool.New().WithContext(ctx).WithMaxGoroutines(f.maxWorkers)
	for i, cand := range window {
		p.Go(func(ctx context.Context) error {
			scores, err := scorePair(tx, cand, rule)
			if err != nil {
				// Malformed candidate: skip it, never abort the pool.
				return nil
			}
			aggregate := weighted(scores, rule)
			if aggregate < rule.MinimumMatch {
				return nil
			}
			results[i] = &recon.MatchProposal{
				TransactionID:  tx.ID,
				ExpenseID:      cand.ID,
				ExpenseDate:    cand.ExpenseDate,
				MatchType:      recon.MatchTypeFuzzy,
				AmountScore:    scores.amount,
				DateScore:      scores.date,
				VendorScore:    scores.vendor,
				AggregateScore: aggregate,
			}
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}

	var proposals []recon.MatchProposal
	for _, r := range results {
		if r != nil {
			proposals = append(proposals, *r)
		}
	}

	sortProposals(tx, proposals)
	return proposals, nil
}
