// Package api exposes the reconciliation engine over HTTP. Routes are
// grouped under /api; /health sits outside the group and is excluded
// from request logging.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/expenseflow/reconcile/internal/api/dto"
	"github.com/expenseflow/reconcile/internal/application/service"
	"github.com/expenseflow/reconcile/internal/domain/recon"
	"github.com/expenseflow/reconcile/internal/infrastructure/config"
	"github.com/expenseflow/reconcile/internal/infrastructure/storage"
)

// Server is the HTTP API server.
type Server struct {
	svc    *service.ReconcileService
	logger *slog.Logger
	engine *gin.Engine
	http   *http.Server
}

// NewServer builds the router with middleware and all routes registered.
func NewServer(cfg *config.Config, svc *service.ReconcileService, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/health"},
	}))

	origins := cfg.Server.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000", "http://localhost:5173"}
	}
	engine.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	s := &Server{
		svc:    svc,
		logger: logger,
		engine: engine,
		http: &http.Server{
			Addr:         cfg.Server.Addr,
			Handler:      engine,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}

	// Health check (no /api prefix - for load balancers)
	engine.GET("/health", s.handleHealth)

	apiGroup := engine.Group("/api")
	{
		// Reconciliation runs (async jobs)
		apiGroup.POST("/reconcile", s.handleStartReconcile)
		apiGroup.GET("/reconcile/:jobId", s.handleGetJob)
		apiGroup.DELETE("/reconcile/:jobId", s.handleCancelJob)

		// Match review
		apiGroup.GET("/matches", s.handleListMatches)
		apiGroup.POST("/matches/:id/approve", s.handleApprove)
		apiGroup.POST("/matches/:id/reject", s.handleReject)

		// Splits
		apiGroup.POST("/transactions/:id/split", s.handleSplit)

		// Reporting
		apiGroup.GET("/report", s.handleReport)
	}

	return s
}

// Router returns the handler for testing.
func (s *Server) Router() http.Handler { return s.engine }

// Start starts the HTTP server and blocks until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("starting API server", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down API server")
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, dto.HealthResponse{Status: "ok", Service: "reconcile"})
}

func (s *Server) handleStartReconcile(c *gin.Context) {
	var req dto.StartReconcileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ValidationError(err.Error()))
		return
	}

	start, err := time.Parse(dto.DateFormat, req.PeriodStart)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.BadRequestError("period_start must be YYYY-MM-DD"))
		return
	}
	end, err := time.Parse(dto.DateFormat, req.PeriodEnd)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.BadRequestError("period_end must be YYYY-MM-DD"))
		return
	}
	if end.Before(start) {
		c.JSON(http.StatusBadRequest, dto.BadRequestError("period_end must not precede period_start"))
		return
	}

	jobID, err := s.svc.StartReconciliation(c.Request.Context(), service.ReconcileRequest{
		CompanyID:   req.CompanyID,
		PeriodStart: start,
		PeriodEnd:   end,
	})
	if err != nil {
		if strings.Contains(err.Error(), "already running") {
			c.JSON(http.StatusConflict, dto.ConflictError(err.Error()))
			return
		}
		s.writeDomainError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, dto.StartReconcileResponse{
		JobID:     jobID,
		CompanyID: req.CompanyID,
		Status:    string(service.StatusPending),
		Message:   "reconciliation started",
	})
}

func (s *Server) handleGetJob(c *gin.Context) {
	job, err := s.svc.GetJob(c.Param("jobId"))
	if err != nil {
		c.JSON(http.StatusNotFound, dto.NotFoundError(err.Error()))
		return
	}
	c.JSON(http.StatusOK, dto.FromJob(job))
}

func (s *Server) handleCancelJob(c *gin.Context) {
	jobID := c.Param("jobId")
	if err := s.svc.CancelJob(jobID); err != nil {
		if strings.Contains(err.Error(), "not found") {
			c.JSON(http.StatusNotFound, dto.NotFoundError(err.Error()))
			return
		}
		c.JSON(http.StatusConflict, dto.ConflictError(err.Error()))
		return
	}
	job, err := s.svc.GetJob(jobID)
	if err != nil {
		c.JSON(http.StatusNotFound, dto.NotFoundError(err.Error()))
		return
	}
	c.JSON(http.StatusOK, dto.FromJob(job))
}

func (s *Server) handleListMatches(c *gin.Context) {
	var params dto.MatchListParams
	if err := c.ShouldBindQuery(&params); err != nil {
		c.JSON(http.StatusBadRequest, dto.ValidationError(err.Error()))
		return
	}

	filters := storage.MatchFilters{
		CompanyID: params.CompanyID,
		Status:    params.Status,
		Limit:     params.Limit,
		Offset:    params.Offset,
	}
	if params.Start != "" {
		start, err := time.Parse(dto.DateFormat, params.Start)
		if err != nil {
			c.JSON(http.StatusBadRequest, dto.BadRequestError("start must be YYYY-MM-DD"))
			return
		}
		filters.Start = start
	}
	if params.End != "" {
		end, err := time.Parse(dto.DateFormat, params.End)
		if err != nil {
			c.JSON(http.StatusBadRequest, dto.BadRequestError("end must be YYYY-MM-DD"))
			return
		}
		filters.End = end
	}

	result, err := s.svc.ListMatches(c.Request.Context(), filters)
	if err != nil {
		s.writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.MatchListResponse{
		Matches:    result.Matches,
		TotalCount: result.TotalCount,
		Limit:      result.Limit,
		Offset:     result.Offset,
	})
}

func (s *Server) handleApprove(c *gin.Context) {
	var req dto.ApproveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ValidationError(err.Error()))
		return
	}

	match, err := s.svc.Workflow().Approve(c.Request.Context(), c.Param("id"), req.ReviewerID, req.Confidence)
	if err != nil {
		s.writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, match)
}

func (s *Server) handleReject(c *gin.Context) {
	var req dto.RejectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ValidationError(err.Error()))
		return
	}

	match, err := s.svc.Workflow().Reject(c.Request.Context(), c.Param("id"), req.ReviewerID, req.Reason, req.Confidence)
	if err != nil {
		s.writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, match)
}

func (s *Server) handleSplit(c *gin.Context) {
	var req dto.SplitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ValidationError(err.Error()))
		return
	}

	transactionID := c.Param("id")
	matches, err := s.svc.Workflow().Split(c.Request.Context(), transactionID, req.ExpenseIDs, req.SplitAmounts, req.ReviewerID)
	if err != nil {
		s.writeDomainError(c, err)
		return
	}

	resp := dto.SplitResponse{TransactionID: transactionID, Matches: matches}
	if len(matches) > 0 {
		resp.SplitGroupID = matches[0].SplitGroupID
	}
	c.JSON(http.StatusCreated, resp)
}

func (s *Server) handleReport(c *gin.Context) {
	var params dto.ReportParams
	if err := c.ShouldBindQuery(&params); err != nil {
		c.JSON(http.StatusBadRequest, dto.ValidationError(err.Error()))
		return
	}

	start, err := time.Parse(dto.DateFormat, params.PeriodStart)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.BadRequestError("period_start must be YYYY-MM-DD"))
		return
	}
	end, err := time.Parse(dto.DateFormat, params.PeriodEnd)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.BadRequestError("period_end must be YYYY-MM-DD"))
		return
	}

	rep, err := s.svc.Reporter().GenerateReport(c.Request.Context(), params.CompanyID, start, end)
	if err != nil {
		s.writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}

// writeDomainError maps engine errors onto HTTP status codes.
func (s *Server) writeDomainError(c *gin.Context, err error) {
	var invalidInput *recon.InvalidInputError
	var splitMismatch *recon.SplitAmountMismatchError
	var missingCfg *recon.MissingConfigurationError
	var badCfg *recon.ConfigurationError

	switch {
	case errors.As(err, &invalidInput):
		c.JSON(http.StatusBadRequest, dto.BadRequestError(err.Error()))
	case errors.As(err, &splitMismatch):
		c.JSON(http.StatusBadRequest, dto.BadRequestError(err.Error()))
	case errors.As(err, &missingCfg):
		c.JSON(http.StatusConflict, dto.NewAPIError(dto.ErrCodeNoRule, err.Error()))
	case errors.As(err, &badCfg):
		c.JSON(http.StatusUnprocessableEntity, dto.NewAPIError(dto.ErrCodeValidation, err.Error()))
	case errors.Is(err, storage.ErrNotFound):
		c.JSON(http.StatusNotFound, dto.NotFoundError(err.Error()))
	default:
		s.logger.Error("request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, dto.InternalError())
	}
}
