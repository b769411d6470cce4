// Package recon defines the core data model shared by the matching
// strategies, resolver, review workflow, and reporter.
//
// Transactions come from the bank statement feed and are read-only.
// Expense candidates come from the expense service; the engine only
// reads them and claims consumption. Everything the engine itself
// produces (matches, feedback records, reports) is defined here.
package recon

import "time"

// Transaction is a bank-ledger entry to be explained by one or more
// expenses. Immutable from the engine's point of view.
type Transaction struct {
	ID          string    `json:"id"` // external transaction id
	CompanyID   string    `json:"company_id"`
	Amount      float64   `json:"amount"` // signed, positive = money out
	Currency    string    `json:"currency"`
	PostedAt    time.Time `json:"posted_at"`
	Description string    `json:"description"` // raw bank descriptor
}

// ExpenseCandidate is an expense record eligible to explain a
// transaction. The Matched flag is the persisted consumption marker;
// within a single run the transient ClaimedSet is authoritative.
type ExpenseCandidate struct {
	ID          string    `json:"id"`
	CompanyID   string    `json:"company_id"`
	Amount      float64   `json:"amount"`
	Currency    string    `json:"currency"`
	ExpenseDate time.Time `json:"expense_date"`
	Vendor      string    `json:"vendor"` // free-text merchant name
	Matched     bool      `json:"matched"`
}

// MatchType identifies which kind of strategy produced a match.
type MatchType string

const (
	MatchTypeExact   MatchType = "exact"
	MatchTypeFuzzy   MatchType = "fuzzy"
	MatchTypePattern MatchType = "pattern"
	MatchTypeML      MatchType = "ml"
	// MatchTypeManual marks matches constructed directly by a reviewer,
	// e.g. split matches. No strategy scores exist for these.
	MatchTypeManual MatchType = "manual"
)

// MatchStatus is the lifecycle state of a TransactionMatch.
type MatchStatus string

const (
	StatusPending      MatchStatus = "PENDING"
	StatusApproved     MatchStatus = "APPROVED"
	StatusRejected     MatchStatus = "REJECTED"
	StatusAutoApproved MatchStatus = "AUTO_APPROVED"
)

// Terminal reports whether no further review transition applies.
// AUTO_APPROVED is terminal for the resolver but can still be reversed
// by a human reject.
func (s MatchStatus) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// Active reports whether the match currently claims its expenses.
func (s MatchStatus) Active() bool {
	return s != StatusRejected
}

// ReviewPriority orders the manual review queue. Matches scoring below
// the manualReview threshold (but at or above minimumMatch) are queued
// at low priority.
type ReviewPriority string

const (
	PriorityNormal ReviewPriority = "normal"
	PriorityLow    ReviewPriority = "low"
)

// MatchProposal is the ephemeral output of a single strategy for one
// transaction-expense pairing. It is consumed immediately by the
// resolver and never persisted.
type MatchProposal struct {
	TransactionID  string
	ExpenseID      string
	ExpenseDate    time.Time
	MatchType      MatchType
	AmountScore    float64
	DateScore      float64
	VendorScore    float64
	AggregateScore float64
}

// ExpenseLink ties a match to one expense, with a partial amount when
// the match is part of a split group.
type ExpenseLink struct {
	ExpenseID   string  `json:"expense_id"`
	SplitAmount float64 `json:"split_amount,omitempty"` // 0 for whole-transaction matches
}

// TransactionMatch is the persisted matching outcome for one
// transaction (or one slice of a split transaction).
type TransactionMatch struct {
	ID             string         `json:"id"`
	CompanyID      string         `json:"company_id"`
	TransactionID  string         `json:"transaction_id"`
	Links          []ExpenseLink  `json:"links"`
	MatchType      MatchType      `json:"match_type"`
	Strategy       string         `json:"strategy"`
	AmountScore    float64        `json:"amount_score"`
	DateScore      float64        `json:"date_score"`
	VendorScore    float64        `json:"vendor_score"`
	AggregateScore float64        `json:"aggregate_score"`
	Status         MatchStatus    `json:"status"`
	ReviewPriority ReviewPriority `json:"review_priority"`
	ReviewedBy     string         `json:"reviewed_by,omitempty"`
	ReviewedAt     *time.Time     `json:"reviewed_at,omitempty"`
	IsPartialMatch bool           `json:"is_partial_match"`
	SplitGroupID   string         `json:"split_group_id,omitempty"` // shared by sibling split rows
	Features       FeatureVector  `json:"features"`
	CreatedAt      time.Time      `json:"created_at"`
}

// ExpenseIDs returns the linked expense ids in link order.
func (m *TransactionMatch) ExpenseIDs() []string {
	ids := make([]string, len(m.Links))
	for i, l := range m.Links {
		ids[i] = l.ExpenseID
	}
	return ids
}

// FeedbackRecord is one labeled training example derived from a human
// review decision. Append-only; never mutated after being written.
type FeedbackRecord struct {
	ID             string        `json:"id"`
	Features       FeatureVector `json:"features"`
	Label          bool          `json:"label"` // true = reviewer confirmed the match
	UserConfidence float64       `json:"user_confidence"`
	CreatedAt      time.Time     `json:"created_at"`
}

// ReconciliationReport aggregates match outcomes for a company over a
// period. Plain data; rendering is the export service's job.
type ReconciliationReport struct {
	CompanyID              string    `json:"company_id"`
	PeriodStart            time.Time `json:"period_start"`
	PeriodEnd              time.Time `json:"period_end"`
	TotalTransactions      int       `json:"total_transactions"`
	TotalExpenses          int       `json:"total_expenses"`
	MatchedTransactions    int       `json:"matched_transactions"`
	UnmatchedTransactions  int       `json:"unmatched_transactions"`
	UnmatchedExpenses      int       `json:"unmatched_expenses"`
	PartialMatchCount      int       `json:"partial_match_count"`
	AutoApprovedCount      int       `json:"auto_approved_count"`
	AutoReconciliationRate float64   `json:"auto_reconciliation_rate"`
	AverageConfidenceScore float64   `json:"average_confidence_score"`
}

// ClaimedSet tracks which expense ids have been consumed during a
// reconciliation run, so one expense cannot be claimed by two
// transactions in the same batch. It is transient per-run state
// threaded through the resolver, not a persistent flag.
type ClaimedSet map[string]bool

// NewClaimedSet seeds a set from expenses already marked matched.
func NewClaimedSet(expenses []ExpenseCandidate) ClaimedSet {
	s := make(ClaimedSet)
	for _, e := range expenses {
		if e.Matched {
			s[e.ID] = true
		}
	}
	return s
}

// Claim marks an expense as consumed for the rest of the run.
func (s ClaimedSet) Claim(expenseID string) { s[expenseID] = true }

// Claimed reports whether an expense is already consumed.
func (s ClaimedSet) Claimed(expenseID string) bool { return s[expenseID] }

// Release makes an expense eligible again (e.g. after a reject).
func (s ClaimedSet) Release(expenseID string) { delete(s, expenseID) }
