package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/expenseflow/reconcile/internal/domain/recon"
	"github.com/expenseflow/reconcile/internal/domain/score"
)

// MockRepository is an in-memory implementation of Repository for testing.
// It stores all data in maps and slices, making tests fast and isolated.
type MockRepository struct {
	mu       sync.Mutex
	rules    map[string]*recon.MatchingRule // keyed by company_id
	txs      map[string]*recon.Transaction
	expenses map[string]*recon.ExpenseCandidate
	matches  map[string]*recon.TransactionMatch
	feedback []recon.FeedbackRecord

	// Hooks for test assertions
	CreateMatchesCalled bool
	AppendFeedbackCalls int

	// Error injection for testing error paths
	GetRuleErr       error
	CreateMatchesErr error
	UpdateMatchErr   error
	AppendErr        error
}

// NewMockRepository creates a new mock repository for testing
func NewMockRepository() *MockRepository {
	return &MockRepository{
		rules:    make(map[string]*recon.MatchingRule),
		txs:      make(map[string]*recon.Transaction),
		expenses: make(map[string]*recon.ExpenseCandidate),
		matches:  make(map[string]*recon.TransactionMatch),
	}
}

// Compile-time check that MockRepository implements Repository
var _ Repository = (*MockRepository)(nil)

// Close does nothing for mock
func (m *MockRepository) Close() error {
	return nil
}

func (m *MockRepository) SaveRule(_ context.Context, rule *recon.MatchingRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	copied := *rule
	m.rules[rule.CompanyID] = &copied
	return nil
}

func (m *MockRepository) GetRuleForCompany(_ context.Context, companyID string) (*recon.MatchingRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetRuleErr != nil {
		return nil, m.GetRuleErr
	}
	rule, ok := m.rules[companyID]
	if !ok {
		return nil, fmt.Errorf("%w: matching rule for company %s", ErrNotFound, companyID)
	}
	copied := *rule
	return &copied, nil
}

func (m *MockRepository) SaveTransactions(_ context.Context, txs []recon.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range txs {
		copied := t
		m.txs[t.ID] = &copied
	}
	return nil
}

func (m *MockRepository) GetTransaction(_ context.Context, id string) (*recon.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.txs[id]
	if !ok {
		return nil, fmt.Errorf("%w: transaction %s", ErrNotFound, id)
	}
	copied := *t
	return &copied, nil
}

func (m *MockRepository) ListTransactions(_ context.Context, companyID string, start, end time.Time) ([]recon.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []recon.Transaction
	for _, t := range m.txs {
		if t.CompanyID == companyID && !t.PostedAt.Before(start) && !t.PostedAt.After(end) {
			out = append(out, *t)
		}
	}
	sortTransactions(out)
	return out, nil
}

func (m *MockRepository) CountTransactions(ctx context.Context, companyID string, start, end time.Time) (int, error) {
	txs, err := m.ListTransactions(ctx, companyID, start, end)
	return len(txs), err
}

func (m *MockRepository) TransactionHistory(_ context.Context, companyID string, before time.Time) ([]recon.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []recon.Transaction
	for _, t := range m.txs {
		if t.CompanyID == companyID && t.PostedAt.Before(before) {
			out = append(out, *t)
		}
	}
	sortTransactions(out)
	return out, nil
}

func sortTransactions(txs []recon.Transaction) {
	sort.Slice(txs, func(i, j int) bool {
		if !txs[i].PostedAt.Equal(txs[j].PostedAt) {
			return txs[i].PostedAt.Before(txs[j].PostedAt)
		}
		return txs[i].ID < txs[j].ID
	})
}

func (m *MockRepository) SaveExpenses(_ context.Context, expenses []recon.ExpenseCandidate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range expenses {
		copied := e
		m.expenses[e.ID] = &copied
	}
	return nil
}

func (m *MockRepository) ListExpenses(_ context.Context, companyID string, start, end time.Time) ([]recon.ExpenseCandidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []recon.ExpenseCandidate
	for _, e := range m.expenses {
		if e.CompanyID == companyID && !e.ExpenseDate.Before(start) && !e.ExpenseDate.After(end) {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ExpenseDate.Equal(out[j].ExpenseDate) {
			return out[i].ExpenseDate.Before(out[j].ExpenseDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MockRepository) SetExpenseMatched(_ context.Context, expenseID string, matched bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.expenses[expenseID]
	if !ok {
		return fmt.Errorf("%w: expense %s", ErrNotFound, expenseID)
	}
	e.Matched = matched
	return nil
}

func (m *MockRepository) CountExpenses(ctx context.Context, companyID string, start, end time.Time) (int, error) {
	expenses, err := m.ListExpenses(ctx, companyID, start, end)
	return len(expenses), err
}

func (m *MockRepository) CreateMatches(_ context.Context, matches []*recon.TransactionMatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CreateMatchesCalled = true
	if m.CreateMatchesErr != nil {
		return m.CreateMatchesErr
	}
	for _, match := range matches {
		copied := *match
		m.matches[match.ID] = &copied
	}
	return nil
}

func (m *MockRepository) UpdateMatch(_ context.Context, match *recon.TransactionMatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UpdateMatchErr != nil {
		return m.UpdateMatchErr
	}
	if _, ok := m.matches[match.ID]; !ok {
		return fmt.Errorf("%w: match %s", ErrNotFound, match.ID)
	}
	copied := *match
	m.matches[match.ID] = &copied
	return nil
}

func (m *MockRepository) GetMatch(_ context.Context, id string) (*recon.TransactionMatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	match, ok := m.matches[id]
	if !ok {
		return nil, fmt.Errorf("%w: match %s", ErrNotFound, id)
	}
	copied := *match
	return &copied, nil
}

func (m *MockRepository) ActiveMatchesForTransaction(_ context.Context, transactionID string) ([]recon.TransactionMatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []recon.TransactionMatch
	for _, match := range m.matches {
		if match.TransactionID == transactionID && match.Status.Active() {
			out = append(out, *match)
		}
	}
	sortMatches(out)
	return out, nil
}

func (m *MockRepository) ListMatches(_ context.Context, filters MatchFilters) (*MatchListResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []recon.TransactionMatch
	for _, match := range m.matches {
		if match.CompanyID != filters.CompanyID {
			continue
		}
		if filters.Status != "" && !strings.EqualFold(string(match.Status), filters.Status) {
			continue
		}
		if !filters.Start.IsZero() && match.CreatedAt.Before(filters.Start) {
			continue
		}
		if !filters.End.IsZero() && match.CreatedAt.After(filters.End) {
			continue
		}
		all = append(all, *match)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID < all[j].ID
	})

	limit := filters.Limit
	if limit <= 0 {
		limit = 50
	}
	total := len(all)
	start := filters.Offset
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}

	return &MatchListResult{
		Matches:    all[start:end],
		TotalCount: total,
		Limit:      limit,
		Offset:     filters.Offset,
	}, nil
}

func (m *MockRepository) MatchesInPeriod(_ context.Context, companyID string, start, end time.Time) ([]recon.TransactionMatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []recon.TransactionMatch
	for _, match := range m.matches {
		if match.CompanyID != companyID {
			continue
		}
		t, ok := m.txs[match.TransactionID]
		if !ok || t.PostedAt.Before(start) || t.PostedAt.After(end) {
			continue
		}
		out = append(out, *match)
	}
	sortMatches(out)
	return out, nil
}

func (m *MockRepository) ConfirmedVendors(_ context.Context, companyID string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var approved []recon.TransactionMatch
	for _, match := range m.matches {
		if match.CompanyID != companyID {
			continue
		}
		if match.Status != recon.StatusApproved && match.Status != recon.StatusAutoApproved {
			continue
		}
		approved = append(approved, *match)
	}
	sortMatches(approved)

	mapping := make(map[string]string)
	for _, match := range approved {
		t, ok := m.txs[match.TransactionID]
		if !ok {
			continue
		}
		signature := score.NormalizeVendor(t.Description)
		if signature == "" {
			continue
		}
		for _, link := range match.Links {
			if e, ok := m.expenses[link.ExpenseID]; ok && e.Vendor != "" {
				mapping[signature] = e.Vendor
			}
		}
	}
	return mapping, nil
}

func sortMatches(matches []recon.TransactionMatch) {
	sort.Slice(matches, func(i, j int) bool {
		if !matches[i].CreatedAt.Equal(matches[j].CreatedAt) {
			return matches[i].CreatedAt.Before(matches[j].CreatedAt)
		}
		return matches[i].ID < matches[j].ID
	})
}

func (m *MockRepository) AppendFeedback(_ context.Context, record recon.FeedbackRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AppendFeedbackCalls++
	if m.AppendErr != nil {
		return m.AppendErr
	}
	m.feedback = append(m.feedback, record)
	return nil
}

func (m *MockRepository) LoadFeedbackCorpus(_ context.Context) ([]recon.FeedbackRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]recon.FeedbackRecord, len(m.feedback))
	copy(out, m.feedback)
	return out, nil
}
