// Command reconcile runs a single reconciliation batch for one company
// and prints the result summary. Useful for backfills and cron jobs;
// the long-running API server lives in cmd/api.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/expenseflow/reconcile/internal/application/service"
	"github.com/expenseflow/reconcile/internal/domain/recon"
	"github.com/expenseflow/reconcile/internal/infrastructure/config"
	"github.com/expenseflow/reconcile/internal/infrastructure/storage"
	"github.com/expenseflow/reconcile/internal/observability"
)

const dateFormat = "2006-01-02"

func main() {
	var (
		configFile = flag.String("config", "config.yaml", "Configuration file path")
		companyID  = flag.String("company", "", "Company to reconcile (required)")
		startStr   = flag.String("start", "", "Period start YYYY-MM-DD (default: 30 days ago)")
		endStr     = flag.String("end", "", "Period end YYYY-MM-DD (default: today)")
		seedRule   = flag.Bool("seed-rule", false, "Create the default matching rule if the company has none")
		asJSON     = flag.Bool("json", false, "Print the result as JSON")
		verbose    = flag.Bool("verbose", false, "Enable verbose logging")
	)
	flag.Parse()

	if *companyID == "" {
		fmt.Fprintln(os.Stderr, "usage: reconcile -company <id> [-start YYYY-MM-DD] [-end YYYY-MM-DD]")
		os.Exit(2)
	}

	_ = godotenv.Load()

	cfg := config.LoadOrEnvWithPath(*configFile)
	if *verbose {
		cfg.Observability.Logging.Level = "debug"
	}
	logger := observability.NewLogger(cfg.Observability.Logging)

	end := time.Now().UTC().Truncate(24 * time.Hour)
	if *endStr != "" {
		var err error
		end, err = time.Parse(dateFormat, *endStr)
		if err != nil {
			fatal(logger, "invalid -end", err)
		}
	}
	start := end.AddDate(0, 0, -30)
	if *startStr != "" {
		var err error
		start, err = time.Parse(dateFormat, *startStr)
		if err != nil {
			fatal(logger, "invalid -start", err)
		}
	}

	store, err := storage.NewStorage(cfg.Storage.DatabasePath)
	if err != nil {
		fatal(logger, "failed to initialize storage", err)
	}
	defer store.Close()

	ctx := context.Background()

	if *seedRule {
		if _, err := store.GetRuleForCompany(ctx, *companyID); err != nil {
			rule := recon.DefaultMatchingRule(*companyID)
			if err := store.SaveRule(ctx, &rule); err != nil {
				fatal(logger, "failed to seed default rule", err)
			}
			logger.Info("seeded default matching rule", "company_id", *companyID)
		}
	}

	svc := service.NewReconcileService(cfg, store, logger)

	result, err := svc.RunBatch(ctx, service.ReconcileRequest{
		CompanyID:   *companyID,
		PeriodStart: start,
		PeriodEnd:   end,
	})
	if err != nil {
		fatal(logger, "reconciliation failed", err)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			fatal(logger, "failed to encode result", err)
		}
		return
	}

	fmt.Printf("Reconciliation for %s (%s .. %s)\n",
		result.CompanyID, start.Format(dateFormat), end.Format(dateFormat))
	fmt.Printf("  transactions:   %d\n", result.TotalTransactions)
	fmt.Printf("  matched:        %d\n", result.MatchedCount)
	fmt.Printf("  auto-approved:  %d\n", result.AutoApprovedCount)
	fmt.Printf("  pending review: %d\n", result.PendingReviewCount)
	fmt.Printf("  unmatched:      %d\n", result.UnmatchedCount)
	if result.ErrorCount > 0 {
		fmt.Printf("  errors:         %d\n", result.ErrorCount)
		for _, e := range result.Errors {
			fmt.Printf("    %s: %s\n", e.TransactionID, e.Message)
		}
	}
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "error", err)
	os.Exit(1)
}
