package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/expenseflow/reconcile/internal/domain/learning"
	"github.com/expenseflow/reconcile/internal/domain/recon"
	"github.com/expenseflow/reconcile/internal/domain/report"
	"github.com/expenseflow/reconcile/internal/domain/resolver"
	"github.com/expenseflow/reconcile/internal/domain/review"
	"github.com/expenseflow/reconcile/internal/domain/strategy"
	"github.com/expenseflow/reconcile/internal/infrastructure/config"
	"github.com/expenseflow/reconcile/internal/infrastructure/storage"
)

// JobStatus represents the current state of a reconciliation job.
type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusCancelled JobStatus = "cancelled"
)

// Job staleness thresholds
const (
	// DefaultJobStaleThreshold is how long a job can go without progress
	// updates before being considered stale.
	DefaultJobStaleThreshold = 30 * time.Minute

	// DefaultJobMaxDuration is the maximum time a job can run before
	// being forcefully marked as failed.
	DefaultJobMaxDuration = 2 * time.Hour
)

// ReconcileRequest holds parameters for starting a reconciliation run.
type ReconcileRequest struct {
	CompanyID   string
	PeriodStart time.Time
	PeriodEnd   time.Time
}

// JobProgress holds real-time progress information.
type JobProgress struct {
	CurrentPhase          string // "pending", "loading", "matching", "completed", "failed"
	TotalTransactions     int
	ProcessedTransactions int
	MatchedTransactions   int
	ErroredTransactions   int
	LastUpdate            time.Time
}

// BatchError records one transaction whose resolution failed without
// stopping the batch.
type BatchError struct {
	TransactionID string `json:"transaction_id"`
	Message       string `json:"message"`
}

// BatchResult summarizes one reconciliation run.
type BatchResult struct {
	CompanyID          string       `json:"company_id"`
	TotalTransactions  int          `json:"total_transactions"`
	MatchedCount       int          `json:"matched_count"`
	AutoApprovedCount  int          `json:"auto_approved_count"`
	PendingReviewCount int          `json:"pending_review_count"`
	UnmatchedCount     int          `json:"unmatched_count"`
	ErrorCount         int          `json:"error_count"`
	Errors             []BatchError `json:"errors,omitempty"`
}

// ReconcileJob represents a running or completed reconciliation job.
type ReconcileJob struct {
	ID          string
	CompanyID   string
	Status      JobStatus
	Request     ReconcileRequest
	StartedAt   time.Time
	CompletedAt *time.Time
	Progress    JobProgress
	Result      *BatchResult
	Error       error
	cancelFunc  context.CancelFunc
}

// ReconcileService owns the reconciliation engine: batch runs, the
// review workflow, the learner and the reporter, all sharing one
// storage repository.
type ReconcileService struct {
	cfg      *config.Config
	storage  storage.Repository
	logger   *slog.Logger
	resolver *resolver.Resolver
	learner  *learning.Learner
	workflow *review.Workflow
	reporter *report.Reporter

	// Job management
	jobs      map[string]*ReconcileJob
	jobsMutex sync.RWMutex

	// Company-level locking (only one run per company at a time)
	companyLocks map[string]*sync.Mutex
	locksMutex   sync.Mutex

	// Background cleanup
	cleanupStop chan struct{}
	cleanupDone chan struct{}
}

// NewReconcileService wires the engine together from configuration and
// a storage repository.
func NewReconcileService(cfg *config.Config, store storage.Repository, logger *slog.Logger) *ReconcileService {
	if logger == nil {
		logger = slog.Default()
	}

	classifier := learning.NewKNN(cfg.Engine.KNNNeighbors, cfg.Engine.MinCorpusSize)
	learner := learning.NewLearner(store, classifier)

	// Strategy priority order: exact wins over fuzzy, fuzzy over
	// pattern, ml last.
	strategies := []strategy.Strategy{
		strategy.NewExact(),
		strategy.NewFuzzy(cfg.Engine.MaxParallelScorers),
		strategy.NewPattern(store),
		strategy.NewML(classifier),
	}

	return &ReconcileService{
		cfg:          cfg,
		storage:      store,
		logger:       logger,
		resolver:     resolver.New(strategies, logger),
		learner:      learner,
		workflow:     review.NewWorkflow(store, store, store, learner, cfg.Engine.SplitEpsilon, logger),
		reporter:     report.NewReporter(store, logger),
		jobs:         make(map[string]*ReconcileJob),
		companyLocks: make(map[string]*sync.Mutex),
	}
}

// Workflow exposes the review workflow for the API layer.
func (s *ReconcileService) Workflow() *review.Workflow { return s.workflow }

// Reporter exposes the reconciliation reporter for the API layer.
func (s *ReconcileService) Reporter() *report.Reporter { return s.reporter }

// ListMatches delegates to storage with pagination.
func (s *ReconcileService) ListMatches(ctx context.Context, filters storage.MatchFilters) (*storage.MatchListResult, error) {
	return s.storage.ListMatches(ctx, filters)
}

// RunBatch resolves every transaction in the period synchronously.
// Each transaction's resolution is its own unit of work: one failing
// transaction is recorded and the batch continues, but a missing or
// invalid rule aborts the whole run before any matching starts.
func (s *ReconcileService) RunBatch(ctx context.Context, req ReconcileRequest) (*BatchResult, error) {
	if req.CompanyID == "" {
		return nil, &recon.InvalidInputError{Field: "company_id", Reason: "must not be empty"}
	}
	if req.PeriodEnd.Before(req.PeriodStart) {
		return nil, &recon.InvalidInputError{Field: "period", Reason: "period end precedes period start"}
	}

	rule, err := s.storage.GetRuleForCompany(ctx, req.CompanyID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, &recon.MissingConfigurationError{CompanyID: req.CompanyID}
		}
		return nil, err
	}
	if err := rule.Validate(); err != nil {
		return nil, err
	}

	// Refresh the classifier snapshot so feedback recorded since the
	// last run participates in this one.
	if err := s.learner.Retrain(ctx); err != nil {
		s.logger.Warn("classifier retrain failed, continuing with stale corpus", "error", err)
	}

	transactions, err := s.storage.ListTransactions(ctx, req.CompanyID, req.PeriodStart, req.PeriodEnd)
	if err != nil {
		return nil, fmt.Errorf("load transactions: %w", err)
	}

	// Candidate window extends past the period by the date tolerance so
	// edge transactions still see their expenses.
	window := time.Duration(rule.DateToleranceDays) * 24 * time.Hour
	expenses, err := s.storage.ListExpenses(ctx, req.CompanyID, req.PeriodStart.Add(-window), req.PeriodEnd.Add(window))
	if err != nil {
		return nil, fmt.Errorf("load expenses: %w", err)
	}

	claimed := recon.NewClaimedSet(expenses)
	result := &BatchResult{
		CompanyID:         req.CompanyID,
		TotalTransactions: len(transactions),
	}

	for _, tx := range transactions {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		match, err := s.resolveOne(ctx, tx, expenses, *rule, claimed)
		if err != nil {
			result.ErrorCount++
			result.Errors = append(result.Errors, BatchError{
				TransactionID: tx.ID,
				Message:       err.Error(),
			})
			s.logger.Warn("transaction resolution failed",
				"transaction_id", tx.ID, "error", err)
			continue
		}
		if match == nil {
			result.UnmatchedCount++
			continue
		}

		if err := s.persistMatch(ctx, match); err != nil {
			result.ErrorCount++
			result.Errors = append(result.Errors, BatchError{
				TransactionID: tx.ID,
				Message:       err.Error(),
			})
			// The persisted claim failed, release the in-run claim too
			for _, id := range match.ExpenseIDs() {
				claimed.Release(id)
			}
			continue
		}

		result.MatchedCount++
		if match.Status == recon.StatusAutoApproved {
			result.AutoApprovedCount++
		} else {
			result.PendingReviewCount++
		}
	}

	s.logger.Info("reconciliation batch finished",
		"company_id", req.CompanyID,
		"total", result.TotalTransactions,
		"matched", result.MatchedCount,
		"auto_approved", result.AutoApprovedCount,
		"errors", result.ErrorCount,
	)
	return result, nil
}

// resolveOne runs the resolver under the per-transaction timeout. A
// timeout fails only this transaction, not the batch.
func (s *ReconcileService) resolveOne(ctx context.Context, tx recon.Transaction, pool []recon.ExpenseCandidate, rule recon.MatchingRule, claimed recon.ClaimedSet) (*recon.TransactionMatch, error) {
	txCtx, cancel := context.WithTimeout(ctx, s.cfg.Engine.TransactionTimeout)
	defer cancel()

	return s.resolver.Resolve(txCtx, tx, pool, rule, claimed)
}

// persistMatch writes the match row and flips the linked expenses'
// matched flag. Discrete writes, no cross-batch transaction.
func (s *ReconcileService) persistMatch(ctx context.Context, match *recon.TransactionMatch) error {
	if err := s.storage.CreateMatches(ctx, []*recon.TransactionMatch{match}); err != nil {
		return fmt.Errorf("persist match: %w", err)
	}
	for _, expenseID := range match.ExpenseIDs() {
		if err := s.storage.SetExpenseMatched(ctx, expenseID, true); err != nil {
			return fmt.Errorf("claim expense %s: %w", expenseID, err)
		}
	}
	return nil
}

// StartReconciliation starts a new reconciliation job asynchronously.
// Note: The passed context is NOT used as the parent for the background
// job, so the run survives the HTTP request that started it. Use
// CancelJob() to cancel a running job.
func (s *ReconcileService) StartReconciliation(_ context.Context, req ReconcileRequest) (string, error) {
	if req.CompanyID == "" {
		return "", &recon.InvalidInputError{Field: "company_id", Reason: "must not be empty"}
	}

	// Check if the company is already mid-run
	if !s.tryLockCompany(req.CompanyID) {
		return "", fmt.Errorf("reconciliation already running for company: %s", req.CompanyID)
	}

	jobID := s.generateJobID(req.CompanyID)
	jobCtx, cancel := context.WithCancel(context.Background())

	job := &ReconcileJob{
		ID:         jobID,
		CompanyID:  req.CompanyID,
		Status:     StatusPending,
		Request:    req,
		StartedAt:  time.Now(),
		cancelFunc: cancel,
		Progress:   JobProgress{CurrentPhase: "pending", LastUpdate: time.Now()},
	}

	s.jobsMutex.Lock()
	s.jobs[jobID] = job
	s.jobsMutex.Unlock()

	go s.runJob(jobCtx, job)

	s.logger.Info("reconciliation job started",
		"job_id", jobID,
		"company_id", req.CompanyID,
		"period_start", req.PeriodStart,
		"period_end", req.PeriodEnd,
	)

	return jobID, nil
}

// GetJob retrieves a reconciliation job by ID.
func (s *ReconcileService) GetJob(jobID string) (*ReconcileJob, error) {
	s.jobsMutex.RLock()
	defer s.jobsMutex.RUnlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return nil, fmt.Errorf("job not found: %s", jobID)
	}

	return job, nil
}

// ListActiveJobs returns all running or pending jobs.
func (s *ReconcileService) ListActiveJobs() []*ReconcileJob {
	s.jobsMutex.RLock()
	defer s.jobsMutex.RUnlock()

	var active []*ReconcileJob
	for _, job := range s.jobs {
		if job.Status == StatusPending || job.Status == StatusRunning {
			active = append(active, job)
		}
	}
	return active
}

// CancelJob cancels a running reconciliation job.
func (s *ReconcileService) CancelJob(jobID string) error {
	s.jobsMutex.Lock()
	defer s.jobsMutex.Unlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return fmt.Errorf("job not found: %s", jobID)
	}

	if job.Status != StatusPending && job.Status != StatusRunning {
		return fmt.Errorf("job cannot be cancelled: status=%s", job.Status)
	}

	job.cancelFunc()
	job.Status = StatusCancelled
	now := time.Now()
	job.CompletedAt = &now
	job.Progress.CurrentPhase = "cancelled"
	job.Progress.LastUpdate = now

	s.logger.Info("reconciliation job cancelled", "job_id", jobID)
	return nil
}

// runJob executes the reconciliation in a background goroutine.
func (s *ReconcileService) runJob(ctx context.Context, job *ReconcileJob) {
	defer s.unlockCompany(job.CompanyID)

	s.updateJobStatus(job.ID, StatusRunning, JobProgress{
		CurrentPhase: "matching",
		LastUpdate:   time.Now(),
	})

	result, err := s.RunBatch(ctx, job.Request)

	if err != nil {
		if ctx.Err() == context.Canceled {
			// Already marked as cancelled in CancelJob
			return
		}
		s.failJob(job.ID, err)
		return
	}

	s.completeJob(job.ID, result)
}

// updateJobStatus updates a job's status and progress.
func (s *ReconcileService) updateJobStatus(jobID string, status JobStatus, progress JobProgress) {
	s.jobsMutex.Lock()
	defer s.jobsMutex.Unlock()

	if job, exists := s.jobs[jobID]; exists {
		job.Status = status
		job.Progress = progress
	}
}

// completeJob marks a job as completed with results.
func (s *ReconcileService) completeJob(jobID string, result *BatchResult) {
	s.jobsMutex.Lock()
	defer s.jobsMutex.Unlock()

	if job, exists := s.jobs[jobID]; exists {
		now := time.Now()
		job.Status = StatusCompleted
		job.CompletedAt = &now
		job.Result = result
		job.Progress.CurrentPhase = "completed"
		job.Progress.TotalTransactions = result.TotalTransactions
		job.Progress.ProcessedTransactions = result.TotalTransactions
		job.Progress.MatchedTransactions = result.MatchedCount
		job.Progress.ErroredTransactions = result.ErrorCount
		job.Progress.LastUpdate = now
		s.logger.Info("reconciliation job completed",
			"job_id", jobID,
			"total", result.TotalTransactions,
			"matched", result.MatchedCount,
			"errors", result.ErrorCount,
		)
	}
}

// failJob marks a job as failed with an error.
func (s *ReconcileService) failJob(jobID string, err error) {
	s.jobsMutex.Lock()
	defer s.jobsMutex.Unlock()

	if job, exists := s.jobs[jobID]; exists {
		now := time.Now()
		job.Status = StatusFailed
		job.CompletedAt = &now
		job.Error = err
		job.Progress = JobProgress{
			CurrentPhase: "failed",
			LastUpdate:   now,
		}
		s.logger.Error("reconciliation job failed", "job_id", jobID, "error", err)
	}
}

// tryLockCompany attempts to acquire the lock for a company.
func (s *ReconcileService) tryLockCompany(companyID string) bool {
	s.locksMutex.Lock()
	defer s.locksMutex.Unlock()

	if _, exists := s.companyLocks[companyID]; !exists {
		s.companyLocks[companyID] = &sync.Mutex{}
	}

	return s.companyLocks[companyID].TryLock()
}

// unlockCompany releases the lock for a company.
func (s *ReconcileService) unlockCompany(companyID string) {
	s.locksMutex.Lock()
	defer s.locksMutex.Unlock()

	if lock, exists := s.companyLocks[companyID]; exists {
		lock.Unlock()
	}
}

// generateJobID creates a unique job ID.
func (s *ReconcileService) generateJobID(companyID string) string {
	return fmt.Sprintf("%s-%d", companyID, time.Now().UnixNano())
}

// CleanupOldJobs removes completed jobs older than the specified duration.
func (s *ReconcileService) CleanupOldJobs(maxAge time.Duration) int {
	s.jobsMutex.Lock()
	defer s.jobsMutex.Unlock()

	cutoff := time.Now().Add(-maxAge)
	removed := 0

	for id, job := range s.jobs {
		if job.Status == StatusCompleted || job.Status == StatusFailed || job.Status == StatusCancelled {
			if job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
				delete(s.jobs, id)
				removed++
			}
		}
	}

	if removed > 0 {
		s.logger.Debug("cleaned up old reconciliation jobs", "removed", removed)
	}

	return removed
}

// MarkStaleJobsAsFailed finds jobs that appear to be stuck and marks
// them as failed. A job is stale when it has run longer than
// maxDuration or has not updated progress within staleThreshold. This
// handles goroutines that panicked without updating job state, and
// genuinely stuck runs.
func (s *ReconcileService) MarkStaleJobsAsFailed(staleThreshold, maxDuration time.Duration) int {
	s.jobsMutex.Lock()
	defer s.jobsMutex.Unlock()

	now := time.Now()
	marked := 0

	for id, job := range s.jobs {
		if job.Status != StatusRunning && job.Status != StatusPending {
			continue
		}

		isStale := false
		reason := ""

		if now.Sub(job.StartedAt) > maxDuration {
			isStale = true
			reason = fmt.Sprintf("exceeded max duration of %v (started %v ago)", maxDuration, now.Sub(job.StartedAt).Round(time.Second))
		}

		if !isStale && now.Sub(job.Progress.LastUpdate) > staleThreshold {
			isStale = true
			reason = fmt.Sprintf("no progress update for %v (threshold: %v)", now.Sub(job.Progress.LastUpdate).Round(time.Second), staleThreshold)
		}

		if isStale {
			if job.cancelFunc != nil {
				job.cancelFunc()
			}

			job.Status = StatusFailed
			job.CompletedAt = &now
			job.Error = fmt.Errorf("job marked as stale: %s", reason)
			job.Progress.CurrentPhase = "failed"
			job.Progress.LastUpdate = now

			s.releaseCompanyLockUnsafe(job.CompanyID)

			s.logger.Warn("marked stale job as failed",
				"job_id", id,
				"company_id", job.CompanyID,
				"reason", reason,
			)

			marked++
		}
	}

	return marked
}

// releaseCompanyLockUnsafe releases a company lock without acquiring
// locksMutex. MUST only be called while holding jobsMutex.
func (s *ReconcileService) releaseCompanyLockUnsafe(companyID string) {
	s.locksMutex.Lock()
	defer s.locksMutex.Unlock()

	if lock, exists := s.companyLocks[companyID]; exists {
		if lock.TryLock() {
			lock.Unlock()
		} else {
			lock.Unlock()
		}
	}
}

// StartBackgroundCleanup starts a goroutine that periodically marks
// stale jobs as failed and drops old completed jobs. Call
// StopBackgroundCleanup to stop it.
func (s *ReconcileService) StartBackgroundCleanup(checkInterval time.Duration) {
	s.cleanupStop = make(chan struct{})
	s.cleanupDone = make(chan struct{})

	go func() {
		defer close(s.cleanupDone)

		ticker := time.NewTicker(checkInterval)
		defer ticker.Stop()

		s.logger.Info("background job cleanup started",
			"check_interval", checkInterval,
			"stale_threshold", DefaultJobStaleThreshold,
			"max_duration", DefaultJobMaxDuration,
		)

		for {
			select {
			case <-s.cleanupStop:
				s.logger.Info("background job cleanup stopped")
				return
			case <-ticker.C:
				staleMarked := s.MarkStaleJobsAsFailed(DefaultJobStaleThreshold, DefaultJobMaxDuration)
				if staleMarked > 0 {
					s.logger.Info("marked stale jobs as failed", "count", staleMarked)
				}

				cleaned := s.CleanupOldJobs(s.cfg.Engine.JobRetention)
				if cleaned > 0 {
					s.logger.Debug("cleaned up old jobs", "count", cleaned)
				}
			}
		}
	}()
}

// StopBackgroundCleanup stops the background cleanup goroutine. Blocks
// until the goroutine has fully stopped.
func (s *ReconcileService) StopBackgroundCleanup() {
	if s.cleanupStop == nil {
		return
	}

	close(s.cleanupStop)
	<-s.cleanupDone
}
