package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/expenseflow/reconcile/internal/api"
	"github.com/expenseflow/reconcile/internal/application/service"
	"github.com/expenseflow/reconcile/internal/infrastructure/config"
	"github.com/expenseflow/reconcile/internal/infrastructure/storage"
	"github.com/expenseflow/reconcile/internal/observability"
)

func main() {
	configFile := flag.String("config", "config.yaml", "Configuration file path (falls back to env)")
	flag.Parse()

	// .env is optional; real deployments set env vars directly
	_ = godotenv.Load()

	cfg := config.LoadOrEnvWithPath(*configFile)

	logger := observability.NewLogger(cfg.Observability.Logging)

	store, err := storage.NewStorage(cfg.Storage.DatabasePath)
	if err != nil {
		logger.Error("failed to initialize storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	svc := service.NewReconcileService(cfg, store, logger)
	svc.StartBackgroundCleanup(10 * time.Minute)
	defer svc.StopBackgroundCleanup()

	gin.SetMode(gin.ReleaseMode)
	server := api.NewServer(cfg, svc, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.Error("shutdown error", "error", err)
			os.Exit(1)
		}
	}
}
