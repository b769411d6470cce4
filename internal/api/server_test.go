package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/expenseflow/reconcile/internal/api/dto"
	"github.com/expenseflow/reconcile/internal/application/service"
	"github.com/expenseflow/reconcile/internal/domain/recon"
	"github.com/expenseflow/reconcile/internal/infrastructure/config"
	"github.com/expenseflow/reconcile/internal/infrastructure/storage"
	"github.com/expenseflow/reconcile/internal/observability"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T) (*Server, *storage.MockRepository) {
	t.Helper()

	cfg := config.LoadFromEnv()
	repo := storage.NewMockRepository()
	logger := observability.NewLogger(config.LoggingConfig{Level: "error", Format: "text"})
	svc := service.NewReconcileService(cfg, repo, logger)

	return NewServer(cfg, svc, logger), repo
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func seedRule(t *testing.T, repo *storage.MockRepository, companyID string) {
	t.Helper()
	rule := recon.DefaultMatchingRule(companyID)
	require.NoError(t, repo.SaveRule(context.Background(), &rule))
}

func seedPendingMatch(t *testing.T, repo *storage.MockRepository, id, txID, expenseID string) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, repo.SaveTransactions(ctx, []recon.Transaction{{
		ID:          txID,
		CompanyID:   "acme",
		Amount:      100.00,
		Currency:    "USD",
		PostedAt:    time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
		Description: "ACME SUPPLY CO",
	}}))
	require.NoError(t, repo.SaveExpenses(ctx, []recon.ExpenseCandidate{{
		ID:          expenseID,
		CompanyID:   "acme",
		Amount:      100.00,
		Currency:    "USD",
		ExpenseDate: time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
		Vendor:      "Acme Supply",
	}}))
	require.NoError(t, repo.CreateMatches(ctx, []*recon.TransactionMatch{{
		ID:             id,
		CompanyID:      "acme",
		TransactionID:  txID,
		Links:          []recon.ExpenseLink{{ExpenseID: expenseID}},
		MatchType:      recon.MatchTypeFuzzy,
		Strategy:       "fuzzy",
		AggregateScore: 0.8,
		Status:         recon.StatusPending,
		ReviewPriority: recon.PriorityNormal,
		CreatedAt:      time.Now().UTC(),
	}}))
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/health", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp dto.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestStartReconcile_Accepted(t *testing.T) {
	srv, repo := newTestServer(t)
	seedRule(t, repo, "acme")

	rec := doJSON(t, srv, http.MethodPost, "/api/reconcile", dto.StartReconcileRequest{
		CompanyID:   "acme",
		PeriodStart: "2026-03-01",
		PeriodEnd:   "2026-03-31",
	})

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp dto.StartReconcileResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.JobID)
	assert.Equal(t, "acme", resp.CompanyID)

	// Job becomes visible and eventually terminal.
	require.Eventually(t, func() bool {
		get := doJSON(t, srv, http.MethodGet, "/api/reconcile/"+resp.JobID, nil)
		if get.Code != http.StatusOK {
			return false
		}
		var job dto.JobResponse
		if err := json.Unmarshal(get.Body.Bytes(), &job); err != nil {
			return false
		}
		return job.Status == string(service.StatusCompleted)
	}, 5*time.Second, 10*time.Millisecond)
}

func TestStartReconcile_BadPeriod(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/reconcile", dto.StartReconcileRequest{
		CompanyID:   "acme",
		PeriodStart: "2026-03-31",
		PeriodEnd:   "2026-03-01",
	})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var apiErr dto.APIError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &apiErr))
	assert.Equal(t, dto.ErrCodeBadRequest, apiErr.Code)
}

func TestStartReconcile_MissingBodyFields(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/reconcile", map[string]string{
		"company_id": "acme",
	})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var apiErr dto.APIError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &apiErr))
	assert.Equal(t, dto.ErrCodeValidation, apiErr.Code)
}

func TestStartReconcile_SecondRunConflicts(t *testing.T) {
	srv, repo := newTestServer(t)
	seedRule(t, repo, "acme")

	body := dto.StartReconcileRequest{
		CompanyID:   "acme",
		PeriodStart: "2026-03-01",
		PeriodEnd:   "2026-03-31",
	}
	first := doJSON(t, srv, http.MethodPost, "/api/reconcile", body)
	require.Equal(t, http.StatusAccepted, first.Code)

	// Immediately starting again may race with completion of the first
	// run; accept either outcome but require the conflict code when it
	// does conflict.
	second := doJSON(t, srv, http.MethodPost, "/api/reconcile", body)
	if second.Code == http.StatusConflict {
		var apiErr dto.APIError
		require.NoError(t, json.Unmarshal(second.Body.Bytes(), &apiErr))
		assert.Equal(t, dto.ErrCodeConflict, apiErr.Code)
	} else {
		assert.Equal(t, http.StatusAccepted, second.Code)
	}
}

func TestGetJob_NotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/api/reconcile/nope", nil)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelJob_NotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodDelete, "/api/reconcile/nope", nil)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListMatches_FiltersByStatus(t *testing.T) {
	srv, repo := newTestServer(t)
	seedPendingMatch(t, repo, "m1", "tx1", "e1")

	rec := doJSON(t, srv, http.MethodGet, "/api/matches?company_id=acme&status=PENDING", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp dto.MatchListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Matches, 1)
	assert.Equal(t, "m1", resp.Matches[0].ID)
	assert.Equal(t, 1, resp.TotalCount)
}

func TestListMatches_RequiresCompanyID(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/api/matches", nil)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestApproveMatch(t *testing.T) {
	srv, repo := newTestServer(t)
	seedPendingMatch(t, repo, "m1", "tx1", "e1")

	rec := doJSON(t, srv, http.MethodPost, "/api/matches/m1/approve", dto.ApproveRequest{
		ReviewerID: "reviewer1",
		Confidence: 0.9,
	})

	require.Equal(t, http.StatusOK, rec.Code)
	var match recon.TransactionMatch
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &match))
	assert.Equal(t, recon.StatusApproved, match.Status)
	assert.Equal(t, "reviewer1", match.ReviewedBy)
}

func TestApproveMatch_NotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/matches/nope/approve", dto.ApproveRequest{
		ReviewerID: "reviewer1",
	})

	require.Equal(t, http.StatusNotFound, rec.Code)
	var apiErr dto.APIError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &apiErr))
	assert.Equal(t, dto.ErrCodeNotFound, apiErr.Code)
}

func TestRejectMatch(t *testing.T) {
	srv, repo := newTestServer(t)
	seedPendingMatch(t, repo, "m1", "tx1", "e1")

	rec := doJSON(t, srv, http.MethodPost, "/api/matches/m1/reject", dto.RejectRequest{
		ReviewerID: "reviewer1",
		Reason:     "wrong vendor",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	var match recon.TransactionMatch
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &match))
	assert.Equal(t, recon.StatusRejected, match.Status)
}

func TestSplitTransaction(t *testing.T) {
	srv, repo := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, repo.SaveTransactions(ctx, []recon.Transaction{{
		ID:          "tx1",
		CompanyID:   "acme",
		Amount:      100.00,
		Currency:    "USD",
		PostedAt:    time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
		Description: "ACME SUPPLY CO",
	}}))
	for i, amt := range []float64{60.00, 40.00} {
		require.NoError(t, repo.SaveExpenses(ctx, []recon.ExpenseCandidate{{
			ID:          fmt.Sprintf("e%d", i+1),
			CompanyID:   "acme",
			Amount:      amt,
			Currency:    "USD",
			ExpenseDate: time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
			Vendor:      "Acme Supply",
		}}))
	}

	rec := doJSON(t, srv, http.MethodPost, "/api/transactions/tx1/split", dto.SplitRequest{
		ReviewerID:   "reviewer1",
		ExpenseIDs:   []string{"e1", "e2"},
		SplitAmounts: []float64{60.00, 40.00},
	})

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp dto.SplitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Matches, 2)
	assert.NotEmpty(t, resp.SplitGroupID)
	for _, m := range resp.Matches {
		assert.Equal(t, resp.SplitGroupID, m.SplitGroupID)
		assert.Equal(t, recon.StatusApproved, m.Status)
	}
}

func TestSplitTransaction_SumMismatch(t *testing.T) {
	srv, repo := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, repo.SaveTransactions(ctx, []recon.Transaction{{
		ID:          "tx1",
		CompanyID:   "acme",
		Amount:      100.00,
		Currency:    "USD",
		PostedAt:    time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
		Description: "ACME SUPPLY CO",
	}}))

	rec := doJSON(t, srv, http.MethodPost, "/api/transactions/tx1/split", dto.SplitRequest{
		ReviewerID:   "reviewer1",
		ExpenseIDs:   []string{"e1", "e2"},
		SplitAmounts: []float64{60.00, 50.00},
	})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var apiErr dto.APIError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &apiErr))
	assert.Equal(t, dto.ErrCodeBadRequest, apiErr.Code)
}

func TestReport(t *testing.T) {
	srv, repo := newTestServer(t)
	seedPendingMatch(t, repo, "m1", "tx1", "e1")

	rec := doJSON(t, srv, http.MethodGet,
		"/api/report?company_id=acme&period_start=2026-03-01&period_end=2026-03-31", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var rep recon.ReconciliationReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rep))
	assert.Equal(t, "acme", rep.CompanyID)
	assert.Equal(t, 1, rep.TotalTransactions)
	assert.Equal(t, 1, rep.MatchedTransactions)
}

func TestReport_MissingParams(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/api/report?company_id=acme", nil)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}
