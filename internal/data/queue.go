package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mohitkumawat/realpm/internal/biz/domain"
	"github.com/mohitkumawat/realpm/internal/biz/repo"

	_ "modernc.org/sqlite"
)

// queueRepo implements the durable action queue on sqlite. Status-transition
// updates are guarded by a WHERE on the current status, so the first writer
// wins and re-deliveries are no-ops.
type queueRepo struct {
	db *sql.DB
}

// NewQueueRepo creates a new action queue repository
func NewQueueRepo(dbPath string) (repo.QueueRepo, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS actions (
			id TEXT PRIMARY KEY,
			action_type TEXT NOT NULL,
			reasoning TEXT,
			confidence REAL NOT NULL DEFAULT 0,
			trigger_user_id TEXT,
			data TEXT NOT NULL,
			status TEXT NOT NULL,
			is_proactive INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			executed_at INTEGER NOT NULL DEFAULT 0,
			result TEXT,
			error TEXT
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create actions table: %w", err)
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_actions_status ON actions(status)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create index: %w", err)
	}

	return &queueRepo{db: db}, nil
}

// Enqueue inserts a new action. Duplicate IDs are rejected.
func (r *queueRepo) Enqueue(ctx context.Context, a *domain.Action) error {
	dataJSON, err := json.Marshal(a.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal action data: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO actions (id, action_type, reasoning, confidence, trigger_user_id, data, status, is_proactive, created_at, result, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, '', '')
	`,
		a.ID, string(a.Type), a.Reasoning, a.Confidence, a.TriggerUserID,
		string(dataJSON), string(a.Status), boolToInt(a.IsProactive), a.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue action: %w", err)
	}
	return nil
}

// Get returns one action by ID, or nil when absent.
func (r *queueRepo) Get(ctx context.Context, id string) (*domain.Action, error) {
	row := r.db.QueryRowContext(ctx, selectActions+` WHERE id = ?`, id)
	a, err := scanAction(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

// List returns all actions, newest first.
func (r *queueRepo) List(ctx context.Context) ([]*domain.Action, error) {
	rows, err := r.db.QueryContext(ctx, selectActions+` ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list actions: %w", err)
	}
	defer rows.Close()
	return scanActions(rows)
}

// ListByStatus returns actions with the given status, oldest first.
func (r *queueRepo) ListByStatus(ctx context.Context, status domain.ActionStatus) ([]*domain.Action, error) {
	rows, err := r.db.QueryContext(ctx, selectActions+` WHERE status = ? ORDER BY created_at ASC, id ASC`, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to list actions: %w", err)
	}
	defer rows.Close()
	return scanActions(rows)
}

// Approve transitions PENDING -> APPROVED. Approving an already-APPROVED
// action is a no-op. An action whose data fails validation may not leave
// PENDING.
func (r *queueRepo) Approve(ctx context.Context, id string) error {
	a, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if a == nil {
		return fmt.Errorf("action %s not found", id)
	}
	if a.Status == domain.StatusApproved {
		return nil
	}
	if !domain.CanTransition(a.Status, domain.StatusApproved) {
		return fmt.Errorf("cannot approve action %s in status %s", id, a.Status)
	}
	if err := a.ValidateData(); err != nil {
		return fmt.Errorf("action %s data invalid: %w", id, err)
	}
	return r.transition(ctx, id, domain.StatusPending, domain.StatusApproved, "", "")
}

// Reject transitions PENDING -> REJECTED. Idempotent on already-rejected.
func (r *queueRepo) Reject(ctx context.Context, id string) error {
	a, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if a == nil {
		return fmt.Errorf("action %s not found", id)
	}
	if a.Status == domain.StatusRejected || a.Status == domain.StatusRejectedLogged {
		return nil
	}
	if !domain.CanTransition(a.Status, domain.StatusRejected) {
		return fmt.Errorf("cannot reject action %s in status %s", id, a.Status)
	}
	return r.transition(ctx, id, domain.StatusPending, domain.StatusRejected, "", "")
}

// MarkExecuted transitions APPROVED -> EXECUTED and records the result.
func (r *queueRepo) MarkExecuted(ctx context.Context, id, result string) error {
	return r.transition(ctx, id, domain.StatusApproved, domain.StatusExecuted, result, "")
}

// MarkFailed transitions APPROVED -> FAILED and records the reason.
func (r *queueRepo) MarkFailed(ctx context.Context, id, reason string) error {
	return r.transition(ctx, id, domain.StatusApproved, domain.StatusFailed, "", reason)
}

// MarkRejectedLogged transitions REJECTED -> REJECTED_LOGGED.
func (r *queueRepo) MarkRejectedLogged(ctx context.Context, id string) error {
	return r.transition(ctx, id, domain.StatusRejected, domain.StatusRejectedLogged, "", "")
}

// transition performs a status-guarded update. Zero rows means another writer
// got there first; that is an error only if the action is not already past
// the requested state.
func (r *queueRepo) transition(ctx context.Context, id string, from, to domain.ActionStatus, result, errMsg string) error {
	executedAt := int64(0)
	if to == domain.StatusExecuted || to == domain.StatusFailed {
		executedAt = time.Now().Unix()
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE actions SET status = ?, executed_at = CASE WHEN ? > 0 THEN ? ELSE executed_at END,
			result = CASE WHEN ? != '' THEN ? ELSE result END,
			error = CASE WHEN ? != '' THEN ? ELSE error END
		WHERE id = ? AND status = ?
	`, string(to), executedAt, executedAt, result, result, errMsg, errMsg, id, string(from))
	if err != nil {
		return fmt.Errorf("failed to transition action: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		current, err := r.Get(ctx, id)
		if err != nil {
			return err
		}
		if current == nil {
			return fmt.Errorf("action %s not found", id)
		}
		if current.Status == to {
			return nil
		}
		return fmt.Errorf("cannot move action %s from %s to %s (currently %s)", id, from, to, current.Status)
	}
	return nil
}

// Cleanup drops stale PENDING actions (>3 days) and terminal actions older
// than one hour; terminal history lives in the ledger.
func (r *queueRepo) Cleanup(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM actions
		WHERE (status = ? AND created_at < ?)
		   OR (status IN (?, ?, ?) AND COALESCE(NULLIF(executed_at, 0), created_at) < ?)
	`,
		string(domain.StatusPending), now.Add(-72*time.Hour).Unix(),
		string(domain.StatusExecuted), string(domain.StatusFailed), string(domain.StatusRejectedLogged),
		now.Add(-time.Hour).Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup actions: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database connection
func (r *queueRepo) Close() error {
	return r.db.Close()
}

const selectActions = `
	SELECT id, action_type, reasoning, confidence, trigger_user_id, data, status, is_proactive, created_at, executed_at, result, error
	FROM actions`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAction(row rowScanner) (*domain.Action, error) {
	var a domain.Action
	var actionType, status, dataJSON string
	var isProactive int
	var createdAt, executedAt int64

	err := row.Scan(&a.ID, &actionType, &a.Reasoning, &a.Confidence, &a.TriggerUserID,
		&dataJSON, &status, &isProactive, &createdAt, &executedAt, &a.Result, &a.Error)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(dataJSON), &a.Data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal action data: %w", err)
	}
	a.Type = domain.ActionType(actionType)
	a.Status = domain.ActionStatus(status)
	a.IsProactive = isProactive != 0
	a.CreatedAt = time.Unix(createdAt, 0)
	if executedAt > 0 {
		a.ExecutedAt = time.Unix(executedAt, 0)
	}
	return &a, nil
}

func scanActions(rows *sql.Rows) ([]*domain.Action, error) {
	var actions []*domain.Action
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan action: %w", err)
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
