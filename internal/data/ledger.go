package data

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mohitkumawat/realpm/internal/biz/domain"
	"github.com/mohitkumawat/realpm/internal/biz/repo"

	_ "modernc.org/sqlite"
)

// ledgerRepo is the agent's long-term memory: which messages were already
// fed to the planner, what was executed, and which reports went out.
type ledgerRepo struct {
	db *sql.DB
}

// NewLedgerRepo creates a new dedup/history ledger
func NewLedgerRepo(dbPath string) (repo.LedgerRepo, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	schemas := []string{
		`CREATE TABLE IF NOT EXISTS processed_messages (
			message_ts TEXT PRIMARY KEY,
			channel_id TEXT NOT NULL,
			processed_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS action_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			action_id TEXT NOT NULL,
			action_type TEXT NOT NULL,
			summary TEXT,
			success INTEGER NOT NULL,
			logged_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS decisions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			action_type TEXT NOT NULL,
			approved INTEGER NOT NULL,
			reasoning TEXT,
			logged_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sent_reports (
			report_key TEXT PRIMARY KEY,
			sent_at INTEGER NOT NULL
		)`,
	}
	for _, s := range schemas {
		if _, err := db.Exec(s); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create ledger table: %w", err)
		}
	}

	return &ledgerRepo{db: db}, nil
}

// MarkProcessed records that a message has been handed to the planner.
// Re-marking is a no-op.
func (r *ledgerRepo) MarkProcessed(ctx context.Context, messageID, channelID string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO processed_messages (message_ts, channel_id, processed_at)
		VALUES (?, ?, ?)
	`, messageID, channelID, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to mark message processed: %w", err)
	}
	return nil
}

// IsProcessed reports whether a message was already handed to the planner.
func (r *ledgerRepo) IsProcessed(ctx context.Context, messageID string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM processed_messages WHERE message_ts = ?`, messageID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to query processed message: %w", err)
	}
	return n > 0, nil
}

// LogExecution records an execution outcome, success or failure.
func (r *ledgerRepo) LogExecution(ctx context.Context, a *domain.Action) error {
	summary := a.Result
	success := 1
	if a.Status == domain.StatusFailed {
		summary = a.Error
		success = 0
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO action_history (action_id, action_type, summary, success, logged_at)
		VALUES (?, ?, ?, ?, ?)
	`, a.ID, string(a.Type), summary, success, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to log execution: %w", err)
	}
	return nil
}

// LogDecision records an approval decision (auto-approval, operator
// approve/reject) for later audit.
func (r *ledgerRepo) LogDecision(ctx context.Context, actionType string, approved bool, reasoning string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO decisions (action_type, approved, reasoning, logged_at)
		VALUES (?, ?, ?, ?)
	`, actionType, boolToInt(approved), reasoning, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to log decision: %w", err)
	}
	return nil
}

// HasSentReport reports whether the report identified by reportKey
// (e.g. "2025-01-15/morning") already went out.
func (r *ledgerRepo) HasSentReport(ctx context.Context, reportKey string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM sent_reports WHERE report_key = ?`, reportKey).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to query sent report: %w", err)
	}
	return n > 0, nil
}

// MarkReportSent records a sent report. Re-marking is a no-op.
func (r *ledgerRepo) MarkReportSent(ctx context.Context, reportKey string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO sent_reports (report_key, sent_at)
		VALUES (?, ?)
	`, reportKey, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to mark report sent: %w", err)
	}
	return nil
}

// Counters returns lifetime totals for the dashboard.
func (r *ledgerRepo) Counters(ctx context.Context) (int64, int64, error) {
	var executed, decisions int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM action_history WHERE success = 1`).Scan(&executed)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count executions: %w", err)
	}
	err = r.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM decisions`).Scan(&decisions)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count decisions: %w", err)
	}
	return executed, decisions, nil
}

// Close closes the database connection
func (r *ledgerRepo) Close() error {
	return r.db.Close()
}
