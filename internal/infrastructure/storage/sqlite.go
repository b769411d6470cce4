package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/expenseflow/reconcile/internal/domain/recon"
	"github.com/expenseflow/reconcile/internal/domain/score"
)

// Storage provides SQLite database access for reconciliation state.
// It implements the Repository interface.
type Storage struct {
	db *sql.DB
}

// Compile-time check that Storage implements Repository
var _ Repository = (*Storage)(nil)

// NewStorage creates a new storage instance with SQLite database
func NewStorage(dbPath string) (*Storage, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	// Enable foreign key constraints (SQLite-specific)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &Storage{db: db}

	// Run all pending migrations
	if err := s.runMigrations(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	return s.db.Close()
}

// ----------------------------------------------------------------
// Rules
// ----------------------------------------------------------------

// SaveRule inserts or replaces the company's matching rule
func (s *Storage) SaveRule(ctx context.Context, rule *recon.MatchingRule) error {
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}

	query := `
	INSERT OR REPLACE INTO matching_rules
	(id, company_id, amount_weight, date_weight, vendor_weight,
	 amount_tolerance_pct, date_tolerance_days, vendor_threshold,
	 auto_approval, manual_review, minimum_match, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	`

	_, err := s.db.ExecContext(ctx, query,
		rule.ID,
		rule.CompanyID,
		rule.AmountWeight,
		rule.DateWeight,
		rule.VendorWeight,
		rule.AmountTolerancePct,
		rule.DateToleranceDays,
		rule.VendorThreshold,
		rule.AutoApproval,
		rule.ManualReview,
		rule.MinimumMatch,
	)

	return err
}

// GetRuleForCompany retrieves the rule snapshot for one company
func (s *Storage) GetRuleForCompany(ctx context.Context, companyID string) (*recon.MatchingRule, error) {
	query := `
	SELECT id, company_id, amount_weight, date_weight, vendor_weight,
	       amount_tolerance_pct, date_tolerance_days, vendor_threshold,
	       auto_approval, manual_review, minimum_match
	FROM matching_rules WHERE company_id = ?
	`

	rule := &recon.MatchingRule{}
	err := s.db.QueryRowContext(ctx, query, companyID).Scan(
		&rule.ID,
		&rule.CompanyID,
		&rule.AmountWeight,
		&rule.DateWeight,
		&rule.VendorWeight,
		&rule.AmountTolerancePct,
		&rule.DateToleranceDays,
		&rule.VendorThreshold,
		&rule.AutoApproval,
		&rule.ManualReview,
		&rule.MinimumMatch,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: matching rule for company %s", ErrNotFound, companyID)
	}
	if err != nil {
		return nil, err
	}

	return rule, nil
}

// ----------------------------------------------------------------
// Transactions
// ----------------------------------------------------------------

// SaveTransactions upserts a batch of statement entries
func (s *Storage) SaveTransactions(ctx context.Context, txs []recon.Transaction) error {
	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := dbTx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO transactions
		(id, company_id, amount, currency, posted_at, description)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		_ = dbTx.Rollback()
		return err
	}
	defer func() { _ = stmt.Close() }()

	for _, t := range txs {
		if _, err := stmt.ExecContext(ctx, t.ID, t.CompanyID, t.Amount, t.Currency, t.PostedAt, t.Description); err != nil {
			_ = dbTx.Rollback()
			return fmt.Errorf("save transaction %s: %w", t.ID, err)
		}
	}

	return dbTx.Commit()
}

// GetTransaction retrieves one transaction by external id
func (s *Storage) GetTransaction(ctx context.Context, id string) (*recon.Transaction, error) {
	query := `
	SELECT id, company_id, amount, currency, posted_at, description
	FROM transactions WHERE id = ?
	`

	t := &recon.Transaction{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&t.ID, &t.CompanyID, &t.Amount, &t.Currency, &t.PostedAt, &t.Description,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: transaction %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	return t, nil
}

// ListTransactions returns transactions posted inside [start, end]
func (s *Storage) ListTransactions(ctx context.Context, companyID string, start, end time.Time) ([]recon.Transaction, error) {
	query := `
	SELECT id, company_id, amount, currency, posted_at, description
	FROM transactions
	WHERE company_id = ? AND posted_at >= ? AND posted_at <= ?
	ORDER BY posted_at ASC, id ASC
	`

	return s.queryTransactions(ctx, query, companyID, start, end)
}

// CountTransactions counts transactions posted inside [start, end]
func (s *Storage) CountTransactions(ctx context.Context, companyID string, start, end time.Time) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM transactions WHERE company_id = ? AND posted_at >= ? AND posted_at <= ?`
	err := s.db.QueryRowContext(ctx, query, companyID, start, end).Scan(&count)
	return count, err
}

// TransactionHistory returns all transactions posted strictly before
// the given time, oldest first
func (s *Storage) TransactionHistory(ctx context.Context, companyID string, before time.Time) ([]recon.Transaction, error) {
	query := `
	SELECT id, company_id, amount, currency, posted_at, description
	FROM transactions
	WHERE company_id = ? AND posted_at < ?
	ORDER BY posted_at ASC, id ASC
	`

	return s.queryTransactions(ctx, query, companyID, before)
}

func (s *Storage) queryTransactions(ctx context.Context, query string, args ...any) ([]recon.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var txs []recon.Transaction
	for rows.Next() {
		var t recon.Transaction
		if err := rows.Scan(&t.ID, &t.CompanyID, &t.Amount, &t.Currency, &t.PostedAt, &t.Description); err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}

	return txs, rows.Err()
}

// ----------------------------------------------------------------
// Expenses
// ----------------------------------------------------------------

// SaveExpenses upserts a batch of expense candidates
func (s *Storage) SaveExpenses(ctx context.Context, expenses []recon.ExpenseCandidate) error {
	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := dbTx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO expenses
		(id, company_id, amount, currency, expense_date, vendor, matched)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		_ = dbTx.Rollback()
		return err
	}
	defer func() { _ = stmt.Close() }()

	for _, e := range expenses {
		if _, err := stmt.ExecContext(ctx, e.ID, e.CompanyID, e.Amount, e.Currency, e.ExpenseDate, e.Vendor, e.Matched); err != nil {
			_ = dbTx.Rollback()
			return fmt.Errorf("save expense %s: %w", e.ID, err)
		}
	}

	return dbTx.Commit()
}

// ListExpenses returns expenses dated inside [start, end]
func (s *Storage) ListExpenses(ctx context.Context, companyID string, start, end time.Time) ([]recon.ExpenseCandidate, error) {
	query := `
	SELECT id, company_id, amount, currency, expense_date, vendor, matched
	FROM expenses
	WHERE company_id = ? AND expense_date >= ? AND expense_date <= ?
	ORDER BY expense_date ASC, id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, companyID, start, end)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var expenses []recon.ExpenseCandidate
	for rows.Next() {
		var e recon.ExpenseCandidate
		if err := rows.Scan(&e.ID, &e.CompanyID, &e.Amount, &e.Currency, &e.ExpenseDate, &e.Vendor, &e.Matched); err != nil {
			return nil, err
		}
		expenses = append(expenses, e)
	}

	return expenses, rows.Err()
}

// SetExpenseMatched flips the persisted consumption marker
func (s *Storage) SetExpenseMatched(ctx context.Context, expenseID string, matched bool) error {
	result, err := s.db.ExecContext(ctx, `UPDATE expenses SET matched = ? WHERE id = ?`, matched, expenseID)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: expense %s", ErrNotFound, expenseID)
	}

	return nil
}

// CountExpenses counts expenses dated inside [start, end]
func (s *Storage) CountExpenses(ctx context.Context, companyID string, start, end time.Time) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM expenses WHERE company_id = ? AND expense_date >= ? AND expense_date <= ?`
	err := s.db.QueryRowContext(ctx, query, companyID, start, end).Scan(&count)
	return count, err
}

// ----------------------------------------------------------------
// Matches
// ----------------------------------------------------------------

const matchColumns = `id, company_id, transaction_id, links_json, match_type, strategy,
	amount_score, date_score, vendor_score, aggregate_score, status,
	review_priority, reviewed_by, reviewed_at, is_partial_match,
	split_group_id, features_json, created_at`

// CreateMatches inserts all rows in one transaction
func (s *Storage) CreateMatches(ctx context.Context, matches []*recon.TransactionMatch) error {
	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := dbTx.PrepareContext(ctx, `
		INSERT INTO transaction_matches
		(id, company_id, transaction_id, links_json, match_type, strategy,
		 amount_score, date_score, vendor_score, aggregate_score, status,
		 review_priority, reviewed_by, reviewed_at, is_partial_match,
		 split_group_id, features_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		_ = dbTx.Rollback()
		return err
	}
	defer func() { _ = stmt.Close() }()

	for _, m := range matches {
		linksJSON, err := json.Marshal(m.Links)
		if err != nil {
			_ = dbTx.Rollback()
			return fmt.Errorf("marshal links for match %s: %w", m.ID, err)
		}
		featuresJSON, err := json.Marshal(m.Features)
		if err != nil {
			_ = dbTx.Rollback()
			return fmt.Errorf("marshal features for match %s: %w", m.ID, err)
		}

		var reviewedAt sql.NullTime
		if m.ReviewedAt != nil {
			reviewedAt = sql.NullTime{Time: *m.ReviewedAt, Valid: true}
		}

		_, err = stmt.ExecContext(ctx,
			m.ID,
			m.CompanyID,
			m.TransactionID,
			string(linksJSON),
			string(m.MatchType),
			m.Strategy,
			m.AmountScore,
			m.DateScore,
			m.VendorScore,
			m.AggregateScore,
			string(m.Status),
			string(m.ReviewPriority),
			m.ReviewedBy,
			reviewedAt,
			m.IsPartialMatch,
			m.SplitGroupID,
			string(featuresJSON),
			m.CreatedAt,
		)
		if err != nil {
			_ = dbTx.Rollback()
			return fmt.Errorf("insert match %s: %w", m.ID, err)
		}
	}

	return dbTx.Commit()
}

// UpdateMatch replaces a match row by id
func (s *Storage) UpdateMatch(ctx context.Context, match *recon.TransactionMatch) error {
	linksJSON, err := json.Marshal(match.Links)
	if err != nil {
		return fmt.Errorf("marshal links for match %s: %w", match.ID, err)
	}
	featuresJSON, err := json.Marshal(match.Features)
	if err != nil {
		return fmt.Errorf("marshal features for match %s: %w", match.ID, err)
	}

	var reviewedAt sql.NullTime
	if match.ReviewedAt != nil {
		reviewedAt = sql.NullTime{Time: *match.ReviewedAt, Valid: true}
	}

	query := `
	UPDATE transaction_matches
	SET links_json = ?, match_type = ?, strategy = ?,
	    amount_score = ?, date_score = ?, vendor_score = ?, aggregate_score = ?,
	    status = ?, review_priority = ?, reviewed_by = ?, reviewed_at = ?,
	    is_partial_match = ?, split_group_id = ?, features_json = ?
	WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		string(linksJSON),
		string(match.MatchType),
		match.Strategy,
		match.AmountScore,
		match.DateScore,
		match.VendorScore,
		match.AggregateScore,
		string(match.Status),
		string(match.ReviewPriority),
		match.ReviewedBy,
		reviewedAt,
		match.IsPartialMatch,
		match.SplitGroupID,
		string(featuresJSON),
		match.ID,
	)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: match %s", ErrNotFound, match.ID)
	}

	return nil
}

// GetMatch retrieves one match by id
func (s *Storage) GetMatch(ctx context.Context, id string) (*recon.TransactionMatch, error) {
	query := `SELECT ` + matchColumns + ` FROM transaction_matches WHERE id = ?`

	m, err := scanMatch(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: match %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	return m, nil
}

// ActiveMatchesForTransaction returns the non-rejected matches
// currently claiming the transaction
func (s *Storage) ActiveMatchesForTransaction(ctx context.Context, transactionID string) ([]recon.TransactionMatch, error) {
	query := `SELECT ` + matchColumns + `
	FROM transaction_matches
	WHERE transaction_id = ? AND status != 'REJECTED'
	ORDER BY created_at ASC`

	return s.queryMatches(ctx, query, transactionID)
}

// ListMatches returns matches matching the given filters with pagination
func (s *Storage) ListMatches(ctx context.Context, filters MatchFilters) (*MatchListResult, error) {
	where := []string{"company_id = ?"}
	args := []any{filters.CompanyID}

	if filters.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filters.Status)
	}
	if !filters.Start.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, filters.Start)
	}
	if !filters.End.IsZero() {
		where = append(where, "created_at <= ?")
		args = append(args, filters.End)
	}

	whereClause := strings.Join(where, " AND ")

	var total int
	countQuery := `SELECT COUNT(*) FROM transaction_matches WHERE ` + whereClause
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, err
	}

	limit := filters.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + matchColumns + `
	FROM transaction_matches
	WHERE ` + whereClause + `
	ORDER BY created_at DESC, id ASC
	LIMIT ? OFFSET ?`
	args = append(args, limit, filters.Offset)

	matches, err := s.queryMatches(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	return &MatchListResult{
		Matches:    matches,
		TotalCount: total,
		Limit:      limit,
		Offset:     filters.Offset,
	}, nil
}

// MatchesInPeriod returns every match whose transaction posted inside
// [start, end]
func (s *Storage) MatchesInPeriod(ctx context.Context, companyID string, start, end time.Time) ([]recon.TransactionMatch, error) {
	query := `SELECT m.id, m.company_id, m.transaction_id, m.links_json, m.match_type,
	       m.strategy, m.amount_score, m.date_score, m.vendor_score,
	       m.aggregate_score, m.status, m.review_priority, m.reviewed_by,
	       m.reviewed_at, m.is_partial_match, m.split_group_id,
	       m.features_json, m.created_at
	FROM transaction_matches m
	JOIN transactions t ON t.id = m.transaction_id
	WHERE m.company_id = ? AND t.posted_at >= ? AND t.posted_at <= ?
	ORDER BY m.created_at ASC`

	return s.queryMatches(ctx, query, companyID, start, end)
}

// ConfirmedVendors maps normalized bank descriptors to the vendor name
// of an approved match for that descriptor. Later approvals win when a
// descriptor was confirmed more than once.
func (s *Storage) ConfirmedVendors(ctx context.Context, companyID string) (map[string]string, error) {
	query := `
	SELECT m.links_json, t.description
	FROM transaction_matches m
	JOIN transactions t ON t.id = m.transaction_id
	WHERE m.company_id = ? AND m.status IN ('APPROVED', 'AUTO_APPROVED')
	ORDER BY m.created_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query, companyID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	type confirmed struct {
		signature string
		expenseID string
	}
	var pairs []confirmed
	expenseIDs := make(map[string]bool)

	for rows.Next() {
		var linksJSON, description string
		if err := rows.Scan(&linksJSON, &description); err != nil {
			return nil, err
		}
		signature := score.NormalizeVendor(description)
		if signature == "" {
			continue
		}
		var links []recon.ExpenseLink
		if err := json.Unmarshal([]byte(linksJSON), &links); err != nil {
			continue
		}
		for _, link := range links {
			pairs = append(pairs, confirmed{signature: signature, expenseID: link.ExpenseID})
			expenseIDs[link.ExpenseID] = true
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(pairs) == 0 {
		return map[string]string{}, nil
	}

	vendors, err := s.vendorsByExpenseID(ctx, expenseIDs)
	if err != nil {
		return nil, err
	}

	mapping := make(map[string]string)
	for _, p := range pairs {
		if vendor, ok := vendors[p.expenseID]; ok && vendor != "" {
			mapping[p.signature] = vendor
		}
	}

	return mapping, nil
}

// vendorsByExpenseID batch-loads vendor names for a set of expense ids
func (s *Storage) vendorsByExpenseID(ctx context.Context, ids map[string]bool) (map[string]string, error) {
	placeholders := make([]string, 0, len(ids))
	args := make([]any, 0, len(ids))
	for id := range ids {
		placeholders = append(placeholders, "?")
		args = append(args, id)
	}

	query := `SELECT id, vendor FROM expenses WHERE id IN (` + strings.Join(placeholders, ", ") + `)`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	vendors := make(map[string]string)
	for rows.Next() {
		var id, vendor string
		if err := rows.Scan(&id, &vendor); err != nil {
			return nil, err
		}
		vendors[id] = vendor
	}

	return vendors, rows.Err()
}

func (s *Storage) queryMatches(ctx context.Context, query string, args ...any) ([]recon.TransactionMatch, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var matches []recon.TransactionMatch
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, err
		}
		matches = append(matches, *m)
	}

	return matches, rows.Err()
}

// rowScanner lets scanMatch work for both QueryRow and Query results
type rowScanner interface {
	Scan(dest ...any) error
}

func scanMatch(row rowScanner) (*recon.TransactionMatch, error) {
	m := &recon.TransactionMatch{}
	var linksJSON, featuresJSON string
	var strategy, reviewedBy, splitGroupID sql.NullString
	var reviewedAt sql.NullTime

	err := row.Scan(
		&m.ID,
		&m.CompanyID,
		&m.TransactionID,
		&linksJSON,
		&m.MatchType,
		&strategy,
		&m.AmountScore,
		&m.DateScore,
		&m.VendorScore,
		&m.AggregateScore,
		&m.Status,
		&m.ReviewPriority,
		&reviewedBy,
		&reviewedAt,
		&m.IsPartialMatch,
		&splitGroupID,
		&featuresJSON,
		&m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(linksJSON), &m.Links); err != nil {
		return nil, fmt.Errorf("unmarshal links for match %s: %w", m.ID, err)
	}
	if featuresJSON != "" {
		_ = json.Unmarshal([]byte(featuresJSON), &m.Features)
	}
	if strategy.Valid {
		m.Strategy = strategy.String
	}
	if reviewedBy.Valid {
		m.ReviewedBy = reviewedBy.String
	}
	if reviewedAt.Valid {
		t := reviewedAt.Time
		m.ReviewedAt = &t
	}
	if splitGroupID.Valid {
		m.SplitGroupID = splitGroupID.String
	}

	return m, nil
}

// ----------------------------------------------------------------
// Feedback
// ----------------------------------------------------------------

// AppendFeedback inserts one labeled example
func (s *Storage) AppendFeedback(ctx context.Context, record recon.FeedbackRecord) error {
	featuresJSON, err := json.Marshal(record.Features)
	if err != nil {
		return fmt.Errorf("marshal features for feedback %s: %w", record.ID, err)
	}

	query := `
	INSERT INTO feedback_records (id, features_json, label, user_confidence, created_at)
	VALUES (?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		record.ID,
		string(featuresJSON),
		record.Label,
		record.UserConfidence,
		record.CreatedAt,
	)

	return err
}

// LoadFeedbackCorpus returns the full corpus, oldest first
func (s *Storage) LoadFeedbackCorpus(ctx context.Context) ([]recon.FeedbackRecord, error) {
	query := `
	SELECT id, features_json, label, user_confidence, created_at
	FROM feedback_records
	ORDER BY created_at ASC, id ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var corpus []recon.FeedbackRecord
	for rows.Next() {
		var record recon.FeedbackRecord
		var featuresJSON string
		if err := rows.Scan(&record.ID, &featuresJSON, &record.Label, &record.UserConfidence, &record.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(featuresJSON), &record.Features); err != nil {
			return nil, fmt.Errorf("unmarshal features for feedback %s: %w", record.ID, err)
		}
		corpus = append(corpus, record)
	}

	return corpus, rows.Err()
}
