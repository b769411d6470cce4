package service

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/expenseflow/reconcile/internal/domain/recon"
	"github.com/expenseflow/reconcile/internal/infrastructure/config"
	"github.com/expenseflow/reconcile/internal/infrastructure/storage"
)

func testConfig() *config.Config {
	cfg := config.LoadFromEnv()
	cfg.Engine.TransactionTimeout = 5 * time.Second
	return cfg
}

func newTestService(store storage.Repository) *ReconcileService {
	return NewReconcileService(testConfig(), store, nil)
}

func seedRule(t *testing.T, store *storage.MockRepository, companyID string) {
	t.Helper()
	rule := recon.DefaultMatchingRule(companyID)
	require.NoError(t, store.SaveRule(context.Background(), &rule))
}

func marchPeriod() ReconcileRequest {
	return ReconcileRequest{
		CompanyID:   "co1",
		PeriodStart: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:   time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
	}
}

func TestRunBatch_MissingRuleAbortsRun(t *testing.T) {
	store := storage.NewMockRepository()
	svc := newTestService(store)

	_, err := svc.RunBatch(context.Background(), marchPeriod())

	var missing *recon.MissingConfigurationError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "co1", missing.CompanyID)
	assert.False(t, store.CreateMatchesCalled, "no matches may be written without a rule")
}

func TestRunBatch_ExactMatchAutoApproved(t *testing.T) {
	// Arrange
	store := storage.NewMockRepository()
	seedRule(t, store, "co1")
	ctx := context.Background()
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.SaveTransactions(ctx, []recon.Transaction{
		{ID: "t1", CompanyID: "co1", Amount: 45.00, Currency: "USD", PostedAt: day, Description: "STARBUCKS #123"},
	}))
	require.NoError(t, store.SaveExpenses(ctx, []recon.ExpenseCandidate{
		{ID: "e1", CompanyID: "co1", Amount: 45.00, Currency: "USD", ExpenseDate: day, Vendor: "Starbucks"},
	}))
	svc := newTestService(store)

	// Act
	result, err := svc.RunBatch(ctx, marchPeriod())

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 1, result.TotalTransactions)
	assert.Equal(t, 1, result.MatchedCount)
	assert.Equal(t, 1, result.AutoApprovedCount)
	assert.Zero(t, result.ErrorCount)

	matches, err := store.ActiveMatchesForTransaction(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, recon.MatchTypeExact, matches[0].MatchType)
	assert.Equal(t, recon.StatusAutoApproved, matches[0].Status)
	assert.Equal(t, 1.0, matches[0].AggregateScore)

	expenses, err := store.ListExpenses(ctx, "co1", day, day)
	require.NoError(t, err)
	assert.True(t, expenses[0].Matched)
}

func TestRunBatch_OneExpenseClaimedOnce(t *testing.T) {
	store := storage.NewMockRepository()
	seedRule(t, store, "co1")
	ctx := context.Background()
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.SaveTransactions(ctx, []recon.Transaction{
		{ID: "t1", CompanyID: "co1", Amount: 45.00, Currency: "USD", PostedAt: day, Description: "STARBUCKS #123"},
		{ID: "t2", CompanyID: "co1", Amount: 45.00, Currency: "USD", PostedAt: day, Description: "STARBUCKS #123"},
	}))
	require.NoError(t, store.SaveExpenses(ctx, []recon.ExpenseCandidate{
		{ID: "e1", CompanyID: "co1", Amount: 45.00, Currency: "USD", ExpenseDate: day, Vendor: "Starbucks"},
	}))
	svc := newTestService(store)

	result, err := svc.RunBatch(ctx, marchPeriod())

	require.NoError(t, err)
	assert.Equal(t, 1, result.MatchedCount)
	assert.Equal(t, 1, result.UnmatchedCount)
}

func TestRunBatch_MalformedTransactionDoesNotStopBatch(t *testing.T) {
	store := storage.NewMockRepository()
	seedRule(t, store, "co1")
	ctx := context.Background()
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.SaveTransactions(ctx, []recon.Transaction{
		{ID: "t1", CompanyID: "co1", Amount: math.NaN(), Currency: "USD", PostedAt: day, Description: "CORRUPT"},
		{ID: "t2", CompanyID: "co1", Amount: 45.00, Currency: "USD", PostedAt: day.AddDate(0, 0, 1), Description: "STARBUCKS #123"},
	}))
	require.NoError(t, store.SaveExpenses(ctx, []recon.ExpenseCandidate{
		{ID: "e1", CompanyID: "co1", Amount: 45.00, Currency: "USD", ExpenseDate: day.AddDate(0, 0, 1), Vendor: "Starbucks"},
	}))
	svc := newTestService(store)

	result, err := svc.RunBatch(ctx, marchPeriod())

	require.NoError(t, err)
	assert.Equal(t, 1, result.ErrorCount)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "t1", result.Errors[0].TransactionID)
	assert.Equal(t, 1, result.MatchedCount)
}

func TestRunBatch_InvalidRuleAborts(t *testing.T) {
	store := storage.NewMockRepository()
	rule := recon.DefaultMatchingRule("co1")
	rule.AmountWeight = 0.9 // weights no longer sum to 1
	require.NoError(t, store.SaveRule(context.Background(), &rule))
	svc := newTestService(store)

	_, err := svc.RunBatch(context.Background(), marchPeriod())

	var cfgErr *recon.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
}

func TestRunBatch_CancelledContextStopsBetweenTransactions(t *testing.T) {
	store := storage.NewMockRepository()
	seedRule(t, store, "co1")
	svc := newTestService(store)

	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.SaveTransactions(context.Background(), []recon.Transaction{
		{ID: "t1", CompanyID: "co1", Amount: 45.00, Currency: "USD", PostedAt: day, Description: "STARBUCKS #123"},
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := svc.RunBatch(ctx, marchPeriod())

	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, result.MatchedCount)
	assert.Zero(t, result.ErrorCount)
}

func TestStartReconciliation_CompletesJob(t *testing.T) {
	store := storage.NewMockRepository()
	seedRule(t, store, "co1")
	svc := newTestService(store)

	jobID, err := svc.StartReconciliation(context.Background(), marchPeriod())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		job, err := svc.GetJob(jobID)
		return err == nil && job.Status == StatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	job, err := svc.GetJob(jobID)
	require.NoError(t, err)
	require.NotNil(t, job.Result)
	assert.Equal(t, "co1", job.Result.CompanyID)
	assert.NotNil(t, job.CompletedAt)
	assert.Empty(t, svc.ListActiveJobs())
}

func TestStartReconciliation_RejectsEmptyCompany(t *testing.T) {
	svc := newTestService(storage.NewMockRepository())

	_, err := svc.StartReconciliation(context.Background(), ReconcileRequest{})

	var invErr *recon.InvalidInputError
	require.ErrorAs(t, err, &invErr)
}

func TestStartReconciliation_SecondRunAllowedAfterFirstFinishes(t *testing.T) {
	store := storage.NewMockRepository()
	seedRule(t, store, "co1")
	svc := newTestService(store)

	first, err := svc.StartReconciliation(context.Background(), marchPeriod())
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		job, _ := svc.GetJob(first)
		return job != nil && job.Status == StatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	second, err := svc.StartReconciliation(context.Background(), marchPeriod())
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestGetJob_NotFound(t *testing.T) {
	svc := newTestService(storage.NewMockRepository())

	_, err := svc.GetJob("non-existent")

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestCancelJob_NotFound(t *testing.T) {
	svc := newTestService(storage.NewMockRepository())

	err := svc.CancelJob("non-existent")

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestCancelJob_TerminalJobRejected(t *testing.T) {
	store := storage.NewMockRepository()
	seedRule(t, store, "co1")
	svc := newTestService(store)

	jobID, err := svc.StartReconciliation(context.Background(), marchPeriod())
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		job, _ := svc.GetJob(jobID)
		return job != nil && job.Status == StatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	err = svc.CancelJob(jobID)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "cannot be cancelled")
}

func TestCleanupOldJobs(t *testing.T) {
	store := storage.NewMockRepository()
	seedRule(t, store, "co1")
	svc := newTestService(store)

	jobID, err := svc.StartReconciliation(context.Background(), marchPeriod())
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		job, _ := svc.GetJob(jobID)
		return job != nil && job.Status == StatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	// Age the job past the retention window
	svc.jobsMutex.Lock()
	old := time.Now().Add(-2 * time.Hour)
	svc.jobs[jobID].CompletedAt = &old
	svc.jobsMutex.Unlock()

	removed := svc.CleanupOldJobs(time.Hour)

	assert.Equal(t, 1, removed)
	_, err = svc.GetJob(jobID)
	assert.Error(t, err)
}

func TestMarkStaleJobsAsFailed(t *testing.T) {
	store := storage.NewMockRepository()
	seedRule(t, store, "co1")
	svc := newTestService(store)

	jobID, err := svc.StartReconciliation(context.Background(), marchPeriod())
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		job, _ := svc.GetJob(jobID)
		return job != nil && job.Status == StatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	// Rewind the job so the sweeper sees a running job with no recent
	// progress
	svc.jobsMutex.Lock()
	svc.jobs[jobID].Status = StatusRunning
	svc.jobs[jobID].Progress.LastUpdate = time.Now().Add(-time.Hour)
	svc.jobsMutex.Unlock()

	marked := svc.MarkStaleJobsAsFailed(30*time.Minute, 2*time.Hour)

	assert.Equal(t, 1, marked)
	job, err := svc.GetJob(jobID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, job.Status)
}
