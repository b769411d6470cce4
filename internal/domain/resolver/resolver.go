// Package resolver runs the matching strategies in priority order for
// one transaction and turns the winning proposal into a persisted
// match with the right review status.
package resolver

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/expenseflow/reconcile/internal/domain/recon"
	"github.com/expenseflow/reconcile/internal/domain/strategy"
)

// Resolver resolves one transaction at a time against a shared
// candidate pool. Strategies are never merged: the first one
// producing a usable proposal wins.
type Resolver struct {
	strategies []strategy.Strategy
	logger     *slog.Logger
}

// New creates a resolver. Strategies must already be in priority
// order (exact, fuzzy, pattern, ml).
func New(strategies []strategy.Strategy, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{strategies: strategies, logger: logger}
}

// Resolve finds the best match for a transaction, or nil when nothing
// reaches the minimum threshold. On success the winning expense is
// claimed in the set so later transactions in the batch cannot take
// it.
//
// An invalid rule aborts the whole run with ConfigurationError. A
// malformed transaction returns InvalidInputError so the caller can
// record it and continue the batch.
func (r *Resolver) Resolve(ctx context.Context, tx recon.Transaction, pool []recon.ExpenseCandidate, rule recon.MatchingRule, claimed recon.ClaimedSet) (*recon.TransactionMatch, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	if err := validateTransaction(tx); err != nil {
		return nil, err
	}

	available := availableCandidates(pool, claimed)
	if len(available) == 0 {
		return nil, nil
	}

	for _, strat := range r.strategies {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		proposals, err := strat.Propose(ctx, tx, available, rule)
		if err != nil {
			return nil, err
		}

		proposal, ok := firstUsable(proposals, rule.MinimumMatch)
		if !ok {
			continue
		}

		match := r.buildMatch(tx, proposal, strat.Name(), rule)
		claimed.Claim(proposal.ExpenseID)

		r.logger.Debug("transaction resolved",
			"transaction_id", tx.ID,
			"expense_id", proposal.ExpenseID,
			"strategy", strat.Name(),
			"aggregate_score", proposal.AggregateScore,
			"status", match.Status,
		)
		return match, nil
	}

	return nil, nil
}

// buildMatch applies the threshold banding and constructs the
// persisted match record.
func (r *Resolver) buildMatch(tx recon.Transaction, p recon.MatchProposal, strategyName string, rule recon.MatchingRule) *recon.TransactionMatch {
	status := recon.StatusPending
	priority := recon.PriorityNormal
	switch {
	case p.AggregateScore >= rule.AutoApproval:
		status = recon.StatusAutoApproved
	case p.AggregateScore >= rule.ManualReview:
		// normal-priority review queue
	default:
		priority = recon.PriorityLow
	}

	return &recon.TransactionMatch{
		ID:             uuid.NewString(),
		CompanyID:      tx.CompanyID,
		TransactionID:  tx.ID,
		Links:          []recon.ExpenseLink{{ExpenseID: p.ExpenseID}},
		MatchType:      p.MatchType,
		Strategy:       strategyName,
		AmountScore:    p.AmountScore,
		DateScore:      p.DateScore,
		VendorScore:    p.VendorScore,
		AggregateScore: p.AggregateScore,
		Status:         status,
		ReviewPriority: priority,
		Features:       recon.BuildFeatures(tx, p),
		CreatedAt:      time.Now().UTC(),
	}
}

// firstUsable returns the best proposal at or above the minimum
// threshold. Strategies sort their output, so the first qualifying
// entry is the winner.
func firstUsable(proposals []recon.MatchProposal, minimum float64) (recon.MatchProposal, bool) {
	for _, p := range proposals {
		if p.AggregateScore >= minimum {
			return p, true
		}
	}
	return recon.MatchProposal{}, false
}

// availableCandidates drops expenses already claimed in this run or
// flagged matched by an earlier run.
func availableCandidates(pool []recon.ExpenseCandidate, claimed recon.ClaimedSet) []recon.ExpenseCandidate {
	var out []recon.ExpenseCandidate
	for _, cand := range pool {
		if cand.Matched || claimed.Claimed(cand.ID) {
			continue
		}
		out = append(out, cand)
	}
	return out
}

func validateTransaction(tx recon.Transaction) error {
	if tx.ID == "" {
		return &recon.InvalidInputError{Field: "transaction.id", Reason: "missing"}
	}
	if math.IsNaN(tx.Amount) || math.IsInf(tx.Amount, 0) {
		return &recon.InvalidInputError{Field: "transaction.amount", Reason: "not a finite number"}
	}
	if tx.PostedAt.IsZero() {
		return &recon.InvalidInputError{Field: "transaction.posted_at", Reason: "missing"}
	}
	return nil
}
