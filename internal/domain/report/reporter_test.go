package report

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/expenseflow/reconcile/internal/domain/recon"
)

type fakeSource struct {
	matches      []recon.TransactionMatch
	transactions int
	expenses     int
}

func (f *fakeSource) MatchesInPeriod(context.Context, string, time.Time, time.Time) ([]recon.TransactionMatch, error) {
	return f.matches, nil
}

func (f *fakeSource) CountTransactions(context.Context, string, time.Time, time.Time) (int, error) {
	return f.transactions, nil
}

func (f *fakeSource) CountExpenses(context.Context, string, time.Time, time.Time) (int, error) {
	return f.expenses, nil
}

func matchRow(txID, expID string, status recon.MatchStatus, score float64) recon.TransactionMatch {
	return recon.TransactionMatch{
		ID:             "m-" + txID + "-" + expID,
		CompanyID:      "co1",
		TransactionID:  txID,
		Links:          []recon.ExpenseLink{{ExpenseID: expID}},
		MatchType:      recon.MatchTypeFuzzy,
		AggregateScore: score,
		Status:         status,
	}
}

func period() (time.Time, time.Time) {
	return time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)
}

func TestGenerateReport_AutoRate(t *testing.T) {
	// Arrange: 10 transactions, exactly 6 auto-approved
	src := &fakeSource{transactions: 10, expenses: 10}
	for i := 0; i < 6; i++ {
		src.matches = append(src.matches,
			matchRow(string(rune('a'+i)), string(rune('a'+i)), recon.StatusAutoApproved, 1.0))
	}
	r := NewReporter(src, nil)
	start, end := period()

	// Act
	rep, err := r.GenerateReport(context.Background(), "co1", start, end)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 0.6, rep.AutoReconciliationRate)
	assert.Equal(t, 6, rep.AutoApprovedCount)
	assert.Equal(t, 6, rep.MatchedTransactions)
	assert.Equal(t, 4, rep.UnmatchedTransactions)
}

func TestGenerateReport_RejectedExcluded(t *testing.T) {
	src := &fakeSource{transactions: 3, expenses: 3}
	src.matches = []recon.TransactionMatch{
		matchRow("t1", "e1", recon.StatusApproved, 0.9),
		matchRow("t2", "e2", recon.StatusRejected, 0.5),
		matchRow("t3", "e3", recon.StatusPending, 0.7),
	}
	r := NewReporter(src, nil)
	start, end := period()

	rep, err := r.GenerateReport(context.Background(), "co1", start, end)

	require.NoError(t, err)
	assert.Equal(t, 2, rep.MatchedTransactions)
	assert.Equal(t, 1, rep.UnmatchedTransactions)
	assert.Equal(t, 1, rep.UnmatchedExpenses)
	assert.InDelta(t, 0.8, rep.AverageConfidenceScore, 1e-9)
}

func TestGenerateReport_SplitGroupCountedOnce(t *testing.T) {
	src := &fakeSource{transactions: 1, expenses: 2}
	m1 := matchRow("t1", "e1", recon.StatusApproved, 1.0)
	m1.IsPartialMatch = true
	m1.SplitGroupID = "g1"
	m2 := matchRow("t1", "e2", recon.StatusApproved, 1.0)
	m2.IsPartialMatch = true
	m2.SplitGroupID = "g1"
	src.matches = []recon.TransactionMatch{m1, m2}
	r := NewReporter(src, nil)
	start, end := period()

	rep, err := r.GenerateReport(context.Background(), "co1", start, end)

	require.NoError(t, err)
	assert.Equal(t, 1, rep.PartialMatchCount)
	assert.Equal(t, 1, rep.MatchedTransactions)
	assert.Equal(t, 0, rep.UnmatchedExpenses)
}

func TestGenerateReport_EmptyPeriod(t *testing.T) {
	r := NewReporter(&fakeSource{}, nil)
	start, end := period()

	rep, err := r.GenerateReport(context.Background(), "co1", start, end)

	require.NoError(t, err)
	assert.Zero(t, rep.AutoReconciliationRate)
	assert.Zero(t, rep.AverageConfidenceScore)
}

func TestGenerateReport_InvalidPeriod(t *testing.T) {
	r := NewReporter(&fakeSource{}, nil)
	start, end := period()

	_, err := r.GenerateReport(context.Background(), "co1", end, start)

	var invErr *recon.InvalidInputError
	require.ErrorAs(t, err, &invErr)
}
