package dto

// DateFormat is the wire format for period boundaries.
const DateFormat = "2006-01-02"

// StartReconcileRequest is the request body for starting a run.
type StartReconcileRequest struct {
	CompanyID   string `json:"company_id" binding:"required"`
	PeriodStart string `json:"period_start" binding:"required"` // YYYY-MM-DD
	PeriodEnd   string `json:"period_end" binding:"required"`   // YYYY-MM-DD
}

// ApproveRequest is the request body for approving a match.
type ApproveRequest struct {
	ReviewerID string  `json:"reviewer_id" binding:"required"`
	Confidence float64 `json:"confidence" binding:"gte=0,lte=1"`
}

// RejectRequest is the request body for rejecting a match.
type RejectRequest struct {
	ReviewerID string  `json:"reviewer_id" binding:"required"`
	Reason     string  `json:"reason"`
	Confidence float64 `json:"confidence" binding:"gte=0,lte=1"`
}

// SplitRequest is the request body for splitting a transaction across
// several expenses. ExpenseIDs and SplitAmounts are parallel arrays.
type SplitRequest struct {
	ReviewerID   string    `json:"reviewer_id" binding:"required"`
	ExpenseIDs   []string  `json:"expense_ids" binding:"required,min=1"`
	SplitAmounts []float64 `json:"split_amounts" binding:"required,min=1"`
}

// MatchListParams represents query parameters for listing matches.
type MatchListParams struct {
	CompanyID string `form:"company_id" binding:"required"`
	Status    string `form:"status"`
	Start     string `form:"start"` // YYYY-MM-DD
	End       string `form:"end"`   // YYYY-MM-DD
	Limit     int    `form:"limit"`
	Offset    int    `form:"offset"`
}

// ReportParams represents query parameters for the period report.
type ReportParams struct {
	CompanyID   string `form:"company_id" binding:"required"`
	PeriodStart string `form:"period_start" binding:"required"` // YYYY-MM-DD
	PeriodEnd   string `form:"period_end" binding:"required"`   // YYYY-MM-DD
}
