// Package report aggregates match outcomes into period summaries.
// It is strictly read-only: nothing here mutates match state.
package report

import (
	"context"
	"log/slog"
	"time"

	"github.com/expenseflow/reconcile/internal/domain/recon"
)

// Source is the read side the reporter aggregates over.
type Source interface {
	// MatchesInPeriod returns every match for the company whose
	// transaction posted inside [start, end].
	MatchesInPeriod(ctx context.Context, companyID string, start, end time.Time) ([]recon.TransactionMatch, error)
	// CountTransactions returns how many transactions posted inside
	// [start, end] for the company.
	CountTransactions(ctx context.Context, companyID string, start, end time.Time) (int, error)
	// CountExpenses returns how many expense candidates fall inside
	// [start, end] for the company.
	CountExpenses(ctx context.Context, companyID string, start, end time.Time) (int, error)
}

type Reporter struct {
	source Source
	logger *slog.Logger
}

func NewReporter(source Source, logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{source: source, logger: logger}
}

// GenerateReport computes the reconciliation summary for a company over
// a period. Rejected matches contribute to no totals except the match
// list itself; their transactions and expenses count as unmatched.
func (r *Reporter) GenerateReport(ctx context.Context, companyID string, periodStart, periodEnd time.Time) (*recon.ReconciliationReport, error) {
	if companyID == "" {
		return nil, &recon.InvalidInputError{Field: "company_id", Reason: "must not be empty"}
	}
	if periodEnd.Before(periodStart) {
		return nil, &recon.InvalidInputError{Field: "period", Reason: "period end precedes period start"}
	}

	matches, err := r.source.MatchesInPeriod(ctx, companyID, periodStart, periodEnd)
	if err != nil {
		return nil, err
	}
	totalTx, err := r.source.CountTransactions(ctx, companyID, periodStart, periodEnd)
	if err != nil {
		return nil, err
	}
	totalExpenses, err := r.source.CountExpenses(ctx, companyID, periodStart, periodEnd)
	if err != nil {
		return nil, err
	}

	matchedTx := make(map[string]bool)
	matchedExpenses := make(map[string]bool)
	splitGroups := make(map[string]bool)
	autoApproved := 0
	var confidenceSum float64
	confidenceCount := 0

	for _, m := range matches {
		if m.Status == recon.StatusRejected {
			continue
		}
		matchedTx[m.TransactionID] = true
		for _, link := range m.Links {
			matchedExpenses[link.ExpenseID] = true
		}
		if m.IsPartialMatch && m.SplitGroupID != "" {
			splitGroups[m.SplitGroupID] = true
		}
		if m.Status == recon.StatusAutoApproved {
			autoApproved++
		}
		confidenceSum += m.AggregateScore
		confidenceCount++
	}

	rep := &recon.ReconciliationReport{
		CompanyID:             companyID,
		PeriodStart:           periodStart,
		PeriodEnd:             periodEnd,
		TotalTransactions:     totalTx,
		TotalExpenses:         totalExpenses,
		MatchedTransactions:   len(matchedTx),
		UnmatchedTransactions: totalTx - len(matchedTx),
		UnmatchedExpenses:     totalExpenses - len(matchedExpenses),
		PartialMatchCount:     len(splitGroups),
		AutoApprovedCount:     autoApproved,
	}
	if totalTx > 0 {
		rep.AutoReconciliationRate = float64(autoApproved) / float64(totalTx)
	}
	if confidenceCount > 0 {
		rep.AverageConfidenceScore = confidenceSum / float64(confidenceCount)
	}

	r.logger.Debug("report generated",
		"company_id", companyID,
		"total_transactions", totalTx,
		"matched", rep.MatchedTransactions,
		"auto_rate", rep.AutoReconciliationRate,
	)
	return rep, nil
}
