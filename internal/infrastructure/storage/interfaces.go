package storage

import (
	"context"
	"errors"
	"time"

	"github.com/expenseflow/reconcile/internal/domain/recon"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("storage: not found")

// Repository defines the complete storage interface.
// This interface allows swapping implementations (SQLite, PostgreSQL, etc.)
// and makes testing with mocks straightforward.
type Repository interface {
	RuleRepository
	TransactionRepository
	ExpenseRepository
	MatchRepository
	FeedbackRepository
	Close() error
}

// RuleRepository stores per-company matching configuration.
type RuleRepository interface {
	// SaveRule inserts or replaces the company's rule snapshot
	SaveRule(ctx context.Context, rule *recon.MatchingRule) error

	// GetRuleForCompany returns ErrNotFound when the company has no
	// configured rule; callers must not fall back to defaults silently
	GetRuleForCompany(ctx context.Context, companyID string) (*recon.MatchingRule, error)
}

// TransactionRepository stores the bank statement feed.
type TransactionRepository interface {
	// SaveTransactions upserts a batch of statement entries
	SaveTransactions(ctx context.Context, txs []recon.Transaction) error

	// GetTransaction retrieves one transaction by external id
	GetTransaction(ctx context.Context, id string) (*recon.Transaction, error)

	// ListTransactions returns transactions posted inside [start, end]
	ListTransactions(ctx context.Context, companyID string, start, end time.Time) ([]recon.Transaction, error)

	// CountTransactions counts transactions posted inside [start, end]
	CountTransactions(ctx context.Context, companyID string, start, end time.Time) (int, error)

	// TransactionHistory returns all transactions posted strictly
	// before the given time, oldest first
	TransactionHistory(ctx context.Context, companyID string, before time.Time) ([]recon.Transaction, error)
}

// ExpenseRepository stores expense candidates and their matched flag.
type ExpenseRepository interface {
	// SaveExpenses upserts a batch of expense candidates
	SaveExpenses(ctx context.Context, expenses []recon.ExpenseCandidate) error

	// ListExpenses returns expenses dated inside [start, end]
	ListExpenses(ctx context.Context, companyID string, start, end time.Time) ([]recon.ExpenseCandidate, error)

	// SetExpenseMatched flips the persisted consumption marker
	SetExpenseMatched(ctx context.Context, expenseID string, matched bool) error

	// CountExpenses counts expenses dated inside [start, end]
	CountExpenses(ctx context.Context, companyID string, start, end time.Time) (int, error)
}

// MatchRepository stores reconciliation outcomes.
type MatchRepository interface {
	// CreateMatches inserts all rows in one transaction; either every
	// row lands or none do
	CreateMatches(ctx context.Context, matches []*recon.TransactionMatch) error

	// UpdateMatch replaces a match row by id
	UpdateMatch(ctx context.Context, match *recon.TransactionMatch) error

	// GetMatch retrieves one match by id, ErrNotFound when absent
	GetMatch(ctx context.Context, id string) (*recon.TransactionMatch, error)

	// ActiveMatchesForTransaction returns the non-rejected matches
	// currently claiming the transaction
	ActiveMatchesForTransaction(ctx context.Context, transactionID string) ([]recon.TransactionMatch, error)

	// ListMatches returns matches matching the given filters with pagination
	ListMatches(ctx context.Context, filters MatchFilters) (*MatchListResult, error)

	// MatchesInPeriod returns every match whose transaction posted
	// inside [start, end]
	MatchesInPeriod(ctx context.Context, companyID string, start, end time.Time) ([]recon.TransactionMatch, error)

	// ConfirmedVendors maps normalized bank descriptors to the vendor
	// name confirmed by an approved match for that descriptor
	ConfirmedVendors(ctx context.Context, companyID string) (map[string]string, error)
}

// MatchFilters defines filters for listing matches
type MatchFilters struct {
	CompanyID string      // Required
	Status    string      // Filter by status (empty = all)
	Start     time.Time   // Period start (zero = open)
	End       time.Time   // Period end (zero = open)
	Limit     int         // Max results (0 = default 50)
	Offset    int         // Pagination offset
}

// MatchListResult contains paginated match results
type MatchListResult struct {
	Matches    []recon.TransactionMatch `json:"matches"`
	TotalCount int                      `json:"total_count"`
	Limit      int                      `json:"limit"`
	Offset     int                      `json:"offset"`
}

// FeedbackRepository is the append-only labeled-example log the
// learner trains on.
type FeedbackRepository interface {
	// AppendFeedback inserts one labeled example
	AppendFeedback(ctx context.Context, record recon.FeedbackRecord) error

	// LoadFeedbackCorpus returns the full corpus, oldest first
	LoadFeedbackCorpus(ctx context.Context) ([]recon.FeedbackRecord, error)
}
