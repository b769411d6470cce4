package dto

import (
	"time"

	"github.com/expenseflow/reconcile/internal/application/service"
	"github.com/expenseflow/reconcile/internal/domain/recon"
)

// HealthResponse is returned by the health endpoint.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// StartReconcileResponse acknowledges an accepted reconciliation run.
type StartReconcileResponse struct {
	JobID     string `json:"job_id"`
	CompanyID string `json:"company_id"`
	Status    string `json:"status"`
	Message   string `json:"message"`
}

// JobProgressResponse mirrors service.JobProgress on the wire.
type JobProgressResponse struct {
	CurrentPhase          string    `json:"current_phase"`
	TotalTransactions     int       `json:"total_transactions"`
	ProcessedTransactions int       `json:"processed_transactions"`
	MatchedTransactions   int       `json:"matched_transactions"`
	ErroredTransactions   int       `json:"errored_transactions"`
	LastUpdate            time.Time `json:"last_update"`
}

// JobResponse is the API view of a reconciliation job.
type JobResponse struct {
	JobID       string               `json:"job_id"`
	CompanyID   string               `json:"company_id"`
	Status      string               `json:"status"`
	StartedAt   time.Time            `json:"started_at"`
	CompletedAt *time.Time           `json:"completed_at,omitempty"`
	Progress    JobProgressResponse  `json:"progress"`
	Result      *service.BatchResult `json:"result,omitempty"`
	Error       string               `json:"error,omitempty"`
}

// FromJob converts a service job to its API representation.
func FromJob(job *service.ReconcileJob) JobResponse {
	resp := JobResponse{
		JobID:       job.ID,
		CompanyID:   job.CompanyID,
		Status:      string(job.Status),
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
		Progress: JobProgressResponse{
			CurrentPhase:          job.Progress.CurrentPhase,
			TotalTransactions:     job.Progress.TotalTransactions,
			ProcessedTransactions: job.Progress.ProcessedTransactions,
			MatchedTransactions:   job.Progress.MatchedTransactions,
			ErroredTransactions:   job.Progress.ErroredTransactions,
			LastUpdate:            job.Progress.LastUpdate,
		},
		Result: job.Result,
	}
	if job.Error != nil {
		resp.Error = job.Error.Error()
	}
	return resp
}

// MatchListResponse is a paginated page of matches.
type MatchListResponse struct {
	Matches    []recon.TransactionMatch `json:"matches"`
	TotalCount int                      `json:"total_count"`
	Limit      int                      `json:"limit"`
	Offset     int                      `json:"offset"`
}

// SplitResponse returns the match rows created by a split.
type SplitResponse struct {
	TransactionID string                    `json:"transaction_id"`
	SplitGroupID  string                    `json:"split_group_id"`
	Matches       []*recon.TransactionMatch `json:"matches"`
}
