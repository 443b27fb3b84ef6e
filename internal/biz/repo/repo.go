package repo

import (
	"context"
	"errors"
	"time"

	"github.com/mohitkumawat/realpm/internal/biz/domain"
)

// Boundary error taxonomy. Transient failures are retried or skipped for the
// cycle; credential errors are surfaced to the operator.
var (
	// ErrChannelInaccessible means one channel cannot be read (bot not a
	// member, channel archived). The scan skips it and continues.
	ErrChannelInaccessible = errors.New("channel inaccessible")

	// ErrCredentialInvalid means the platform credential itself is bad.
	ErrCredentialInvalid = errors.New("credential invalid")

	// ErrQuotaExceeded means the inference provider rejected the call for
	// quota reasons. Recoverable: rotate credentials or wait.
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrInvalidRequest means the inference request itself was malformed.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrSectionNotFound means the named context-document heading does not
	// exist. A missing heading is an error, never a silent no-op.
	ErrSectionNotFound = errors.New("section not found")
)

// MessageRepo is the message store adapter boundary.
type MessageRepo interface {
	// FetchRecent returns up to limit messages in a channel newer than since,
	// oldest first.
	FetchRecent(ctx context.Context, channelID string, since time.Time, limit int) ([]domain.Message, error)
	// Send delivers text to a channel or user DM, optionally inside a thread.
	// Returns the platform delivery ID.
	Send(ctx context.Context, channelID, text, threadID string) (string, error)
	// Schedule queues text for delivery at a future time. Returns the
	// platform schedule ID.
	Schedule(ctx context.Context, channelID, text string, at time.Time) (string, error)
}

// PlannerInput is the context handed to the inference call.
type PlannerInput struct {
	Matches    []domain.TriggerMatch
	ContextDoc string
	Now        time.Time
}

// PlannerRepo is the inference boundary. Plan returns zero or more
// schema-conformant actions; non-conformant model output degrades to an
// empty list, never an error that aborts the batch.
type PlannerRepo interface {
	Plan(ctx context.Context, in *PlannerInput) ([]*domain.Action, error)
	// GenerateReport produces free text (daily/weekly status updates) from
	// the project context document.
	GenerateReport(ctx context.Context, contextDoc, directive string) (string, error)
}

// QueueRepo is the durable action queue. All transitions are idempotent with
// respect to re-delivery and first-writer-wins under concurrency.
type QueueRepo interface {
	Enqueue(ctx context.Context, a *domain.Action) error
	Get(ctx context.Context, id string) (*domain.Action, error)
	List(ctx context.Context) ([]*domain.Action, error)
	ListByStatus(ctx context.Context, status domain.ActionStatus) ([]*domain.Action, error)
	Approve(ctx context.Context, id string) error
	Reject(ctx context.Context, id string) error
	MarkExecuted(ctx context.Context, id, result string) error
	MarkFailed(ctx context.Context, id, reason string) error
	MarkRejectedLogged(ctx context.Context, id string) error
	// Cleanup removes stale PENDING and aged-out terminal actions from the
	// live queue (history is retained in the ledger). Returns rows removed.
	Cleanup(ctx context.Context, now time.Time) (int64, error)
	Close() error
}

// LedgerRepo is the durable dedup/memory record.
type LedgerRepo interface {
	MarkProcessed(ctx context.Context, messageID, channelID string) error
	IsProcessed(ctx context.Context, messageID string) (bool, error)
	LogExecution(ctx context.Context, a *domain.Action) error
	LogDecision(ctx context.Context, actionType string, approved bool, reasoning string) error
	HasSentReport(ctx context.Context, reportKey string) (bool, error)
	MarkReportSent(ctx context.Context, reportKey string) error
	// Counters returns (actions executed, decisions logged) for the dashboard.
	Counters(ctx context.Context) (int64, int64, error)
	Close() error
}

// ContextRepo is the shared project-state document boundary. Sections are
// identified by exact heading match.
type ContextRepo interface {
	Read() (string, error)
	ReplaceSection(title, content string) error
	AppendSection(title, content string) error
}

// FilterRepo decides whether a keyword-triggered message is worth a full
// inference pass. Optional; a nil FilterRepo means always respond.
type FilterRepo interface {
	ShouldRespond(ctx context.Context, message, history string) (bool, error)
}
