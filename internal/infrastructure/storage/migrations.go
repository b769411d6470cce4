package storage

import (
	"database/sql"
	"fmt"
	"log"
)

// Migration represents a database schema migration
type Migration struct {
	Version int
	Name    string
	Up      func(*sql.Tx) error
}

// allMigrations defines all migrations in order
var allMigrations = []Migration{
	{
		Version: 1,
		Name:    "initial_schema",
		Up:      migration001InitialSchema,
	},
	{
		Version: 2,
		Name:    "add_feedback_table",
		Up:      migration002AddFeedbackTable,
	},
	{
		Version: 3,
		Name:    "add_split_group_index",
		Up:      migration003AddSplitGroupIndex,
	},
}

// runMigrations executes all pending migrations
func (s *Storage) runMigrations() error {
	if err := s.ensureMigrationsTable(); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := s.getAppliedMigrations()
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	for _, migration := range allMigrations {
		if applied[migration.Version] {
			continue // Already applied
		}

		log.Printf("Running migration %d: %s", migration.Version, migration.Name)

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin transaction for migration %d: %w", migration.Version, err)
		}

		if err := migration.Up(tx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d (%s) failed: %w", migration.Version, migration.Name, err)
		}

		_, err = tx.Exec(`
			INSERT INTO schema_migrations (version, name) VALUES (?, ?)
		`, migration.Version, migration.Name)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}

// ensureMigrationsTable creates the schema_migrations table
func (s *Storage) ensureMigrationsTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	_, err := s.db.Exec(query)
	return err
}

// getAppliedMigrations returns a set of applied migration versions
func (s *Storage) getAppliedMigrations() (map[int]bool, error) {
	applied := make(map[int]bool)

	rows, err := s.db.Query(`SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}

	return applied, rows.Err()
}

// ================================================================
// MIGRATION FUNCTIONS
// ================================================================

// migration001InitialSchema creates the rule, transaction, expense and
// match tables.
func migration001InitialSchema(db *sql.Tx) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS matching_rules (
			id TEXT PRIMARY KEY,
			company_id TEXT UNIQUE NOT NULL,
			amount_weight REAL NOT NULL,
			date_weight REAL NOT NULL,
			vendor_weight REAL NOT NULL,
			amount_tolerance_pct REAL NOT NULL,
			date_tolerance_days INTEGER NOT NULL,
			vendor_threshold REAL NOT NULL,
			auto_approval REAL NOT NULL,
			manual_review REAL NOT NULL,
			minimum_match REAL NOT NULL,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS transactions (
			id TEXT PRIMARY KEY,
			company_id TEXT NOT NULL,
			amount REAL NOT NULL,
			currency TEXT NOT NULL,
			posted_at TIMESTAMP NOT NULL,
			description TEXT
		)`,

		`CREATE TABLE IF NOT EXISTS expenses (
			id TEXT PRIMARY KEY,
			company_id TEXT NOT NULL,
			amount REAL NOT NULL,
			currency TEXT NOT NULL,
			expense_date TIMESTAMP NOT NULL,
			vendor TEXT,
			matched BOOLEAN DEFAULT 0
		)`,

		`CREATE TABLE IF NOT EXISTS transaction_matches (
			id TEXT PRIMARY KEY,
			company_id TEXT NOT NULL,
			transaction_id TEXT NOT NULL,
			links_json TEXT NOT NULL,
			match_type TEXT NOT NULL,
			strategy TEXT,
			amount_score REAL,
			date_score REAL,
			vendor_score REAL,
			aggregate_score REAL,
			status TEXT NOT NULL,
			review_priority TEXT DEFAULT 'normal',
			reviewed_by TEXT,
			reviewed_at TIMESTAMP,
			is_partial_match BOOLEAN DEFAULT 0,
			split_group_id TEXT,
			features_json TEXT,
			created_at TIMESTAMP NOT NULL
		)`,

		// Indexes for common queries
		`CREATE INDEX IF NOT EXISTS idx_transactions_company_posted
		 ON transactions(company_id, posted_at)`,

		`CREATE INDEX IF NOT EXISTS idx_expenses_company_date
		 ON expenses(company_id, expense_date)`,

		`CREATE INDEX IF NOT EXISTS idx_matches_company_status
		 ON transaction_matches(company_id, status)`,

		`CREATE INDEX IF NOT EXISTS idx_matches_transaction
		 ON transaction_matches(transaction_id)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}

	return nil
}

// migration002AddFeedbackTable creates the append-only feedback log.
func migration002AddFeedbackTable(db *sql.Tx) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS feedback_records (
			id TEXT PRIMARY KEY,
			features_json TEXT NOT NULL,
			label BOOLEAN NOT NULL,
			user_confidence REAL NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_feedback_created
		 ON feedback_records(created_at)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return err
		}
	}

	return nil
}

// migration003AddSplitGroupIndex indexes split siblings so a group can
// be loaded together when rendering review queues.
func migration003AddSplitGroupIndex(db *sql.Tx) error {
	query := `CREATE INDEX IF NOT EXISTS idx_matches_split_group
	          ON transaction_matches(split_group_id) WHERE split_group_id IS NOT NULL`

	_, err := db.Exec(query)
	if err != nil {
		return fmt.Errorf("failed to create split group index: %w", err)
	}

	return nil
}
