// Package review implements the match lifecycle state machine:
// pending matches are approved or rejected by a reviewer, auto-
// approved matches can be reversed, and a transaction can be split
// across several expenses.
//
// Every transition feeds the learner, so reviewer decisions become
// training data for the ml-assisted strategy.
package review

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/expenseflow/reconcile/internal/domain/recon"
)

// MatchStore is the persistence boundary for match rows.
type MatchStore interface {
	GetMatch(ctx context.Context, id string) (*recon.TransactionMatch, error)
	UpdateMatch(ctx context.Context, match *recon.TransactionMatch) error

	// ActiveMatchesForTransaction returns the non-rejected matches
	// linked to a transaction.
	ActiveMatchesForTransaction(ctx context.Context, transactionID string) ([]recon.TransactionMatch, error)

	// CreateMatches persists a group of matches all-or-nothing; used
	// for split groups so no partial state survives a failed split.
	CreateMatches(ctx context.Context, matches []*recon.TransactionMatch) error
}

// ExpenseFlags toggles the persisted consumption marker on expenses.
type ExpenseFlags interface {
	SetExpenseMatched(ctx context.Context, expenseID string, matched bool) error
}

// TransactionSource looks up the transaction a split applies to.
type TransactionSource interface {
	GetTransaction(ctx context.Context, id string) (*recon.Transaction, error)
}

// FeedbackRecorder appends one labeled example per review decision.
// Satisfied by learning.Learner.
type FeedbackRecorder interface {
	Record(ctx context.Context, features recon.FeatureVector, label bool, userConfidence float64) (recon.FeedbackRecord, error)
}

// Workflow applies review transitions under a per-match lock so
// concurrent decisions on the same match serialize; the loser of the
// race observes the already-applied terminal state.
type Workflow struct {
	matches      MatchStore
	expenses     ExpenseFlags
	transactions TransactionSource
	feedback     FeedbackRecorder
	splitEpsilon float64
	logger       *slog.Logger

	locks     map[string]*sync.Mutex
	locksMu   sync.Mutex
	now func() time.Time
}

// NewWorkflow creates a review workflow. splitEpsilon is the absolute
// tolerance for the split-sum invariant; <=0 falls back to one cent.
func NewWorkflow(matches MatchStore, expenses ExpenseFlags, transactions TransactionSource, feedback FeedbackRecorder, splitEpsilon float64, logger *slog.Logger) *Workflow {
	if splitEpsilon <= 0 {
		splitEpsilon = 0.01
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Workflow{
		matches:      matches,
		expenses:     expenses,
		transactions: transactions,
		feedback:     feedback,
		splitEpsilon: splitEpsilon,
		logger:       logger,
		locks:        make(map[string]*sync.Mutex),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Approve confirms a pending or auto-approved match. Calling it on an
// already-terminal match is a no-op returning the current state, so
// retries are safe and never produce duplicate feedback rows.
func (w *Workflow) Approve(ctx context.Context, matchID, reviewerID string, userConfidence float64) (*recon.TransactionMatch, error) {
	unlock := w.lock(matchID)
	defer unlock()

	match, err := w.matches.GetMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if match.Status.Terminal() {
		return match, nil
	}

	now := w.now()
	match.Status = recon.StatusApproved
	match.ReviewedBy = reviewerID
	match.ReviewedAt = &now
	if err := w.matches.UpdateMatch(ctx, match); err != nil {
		return nil, fmt.Errorf("update match %s: %w", matchID, err)
	}

	if _, err := w.feedback.Record(ctx, match.Features, true, userConfidence); err != nil {
		return nil, fmt.Errorf("record approval feedback: %w", err)
	}

	w.logger.Info("match approved", "match_id", matchID, "reviewer", reviewerID)
	return match, nil
}

// Reject discards a pending or auto-approved match (the latter is the
// reversal path). The linked expenses become eligible for re-matching
// and a no-match feedback row is written. Idempotent like Approve.
func (w *Workflow) Reject(ctx context.Context, matchID, reviewerID, reason string, userConfidence float64) (*recon.TransactionMatch, error) {
	unlock := w.lock(matchID)
	defer unlock()

	match, err := w.matches.GetMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if match.Status.Terminal() {
		return match, nil
	}

	now := w.now()
	match.Status = recon.StatusRejected
	match.ReviewedBy = reviewerID
	match.ReviewedAt = &now
	if err := w.matches.UpdateMatch(ctx, match); err != nil {
		return nil, fmt.Errorf("update match %s: %w", matchID, err)
	}

	for _, link := range match.Links {
		if err := w.expenses.SetExpenseMatched(ctx, link.ExpenseID, false); err != nil {
			return nil, fmt.Errorf("release expense %s: %w", link.ExpenseID, err)
		}
	}

	if _, err := w.feedback.Record(ctx, match.Features, false, userConfidence); err != nil {
		return nil, fmt.Errorf("record rejection feedback: %w", err)
	}

	w.logger.Info("match rejected",
		"match_id", matchID, "reviewer", reviewerID, "reason", reason)
	return match, nil
}

// Split explains one transaction with several expenses, each carrying
// a partial amount. The partial amounts must sum to the transaction
// amount within epsilon or nothing is written. Any existing active
// match must be rejected first.
func (w *Workflow) Split(ctx context.Context, transactionID string, expenseIDs []string, splitAmounts []float64, reviewerID string) ([]*recon.TransactionMatch, error) {
	unlock := w.lock("tx:" + transactionID)
	defer unlock()

	tx, err := w.transactions.GetTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	if len(expenseIDs) == 0 || len(expenseIDs) != len(splitAmounts) {
		return nil, &recon.SplitAmountMismatchError{
			TransactionID: transactionID,
			Expected:      math.Abs(tx.Amount),
		}
	}

	var sum float64
	for _, amount := range splitAmounts {
		if amount <= 0 {
			return nil, &recon.InvalidInputError{
				Field: "split_amounts", Reason: "amounts must be positive",
			}
		}
		sum += amount
	}
	if math.Abs(sum-math.Abs(tx.Amount)) > w.splitEpsilon {
		return nil, &recon.SplitAmountMismatchError{
			TransactionID: transactionID,
			Expected:      math.Abs(tx.Amount),
			Got:           sum,
		}
	}

	active, err := w.matches.ActiveMatchesForTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if len(active) > 0 {
		return nil, &recon.InvalidInputError{
			Field:  "transaction",
			Reason: "an active match exists; reject it before splitting",
		}
	}

	now := w.now()
	groupID := uuid.NewString()
	matches := make([]*recon.TransactionMatch, len(expenseIDs))
	for i, expenseID := range expenseIDs {
		matches[i] = &recon.TransactionMatch{
			ID:            uuid.NewString(),
			CompanyID:     tx.CompanyID,
			TransactionID: transactionID,
			Links: []recon.ExpenseLink{
				{ExpenseID: expenseID, SplitAmount: splitAmounts[i]},
			},
			MatchType: recon.MatchTypeManual,
			Strategy:  "manual-split",
			// Human-constructed: full confidence, no criterion scores.
			AggregateScore: 1.0,
			Status:         recon.StatusApproved,
			ReviewPriority: recon.PriorityNormal,
			ReviewedBy:     reviewerID,
			ReviewedAt:     &now,
			IsPartialMatch: true,
			SplitGroupID:   groupID,
			CreatedAt:      now,
		}
	}

	if err := w.matches.CreateMatches(ctx, matches); err != nil {
		return nil, fmt.Errorf("persist split group: %w", err)
	}
	for _, expenseID := range expenseIDs {
		if err := w.expenses.SetExpenseMatched(ctx, expenseID, true); err != nil {
			return nil, fmt.Errorf("claim expense %s: %w", expenseID, err)
		}
	}

	w.logger.Info("transaction split",
		"transaction_id", transactionID,
		"split_group_id", groupID,
		"parts", len(matches),
	)
	return matches, nil
}

// lock returns an unlock func for the per-key mutex, creating it on
// first use.
func (w *Workflow) lock(key string) func() {
	w.locksMu.Lock()
	mu, ok := w.locks[key]
	if !ok {
		mu = &sync.Mutex{}
		w.locks[key] = mu
	}
	w.locksMu.Unlock()

	mu.Lock()
	return mu.Unlock
}
