package data

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohitkumawat/realpm/internal/biz/domain"
	"github.com/mohitkumawat/realpm/internal/biz/repo"
)

func newTestLedger(t *testing.T) repo.LedgerRepo {
	t.Helper()
	l, err := NewLedgerRepo(filepath.Join(t.TempDir(), "memory.db"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestLedgerProcessedMessages(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	done, err := l.IsProcessed(ctx, "1.1")
	require.NoError(t, err)
	assert.False(t, done)

	require.NoError(t, l.MarkProcessed(ctx, "1.1", "C1"))
	// Re-marking the same message is a no-op.
	require.NoError(t, l.MarkProcessed(ctx, "1.1", "C1"))

	done, err = l.IsProcessed(ctx, "1.1")
	require.NoError(t, err)
	assert.True(t, done)

	done, err = l.IsProcessed(ctx, "1.2")
	require.NoError(t, err)
	assert.False(t, done)
}

func TestLedgerSentReports(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	sent, err := l.HasSentReport(ctx, "2026-08-28/morning")
	require.NoError(t, err)
	assert.False(t, sent)

	require.NoError(t, l.MarkReportSent(ctx, "2026-08-28/morning"))
	require.NoError(t, l.MarkReportSent(ctx, "2026-08-28/morning"))

	sent, err = l.HasSentReport(ctx, "2026-08-28/morning")
	require.NoError(t, err)
	assert.True(t, sent)

	sent, err = l.HasSentReport(ctx, "2026-08-28/evening")
	require.NoError(t, err)
	assert.False(t, sent)
}

func TestLedgerCounters(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	ok := &domain.Action{ID: "a1", Type: domain.ActionSendMessage, Status: domain.StatusExecuted, Result: "sent"}
	failed := &domain.Action{ID: "a2", Type: domain.ActionSendMessage, Status: domain.StatusFailed, Error: "boom"}
	require.NoError(t, l.LogExecution(ctx, ok))
	require.NoError(t, l.LogExecution(ctx, failed))

	require.NoError(t, l.LogDecision(ctx, "send_message", true, "auto-approved"))
	require.NoError(t, l.LogDecision(ctx, "schedule_message", false, "operator rejected"))

	executed, decisions, err := l.Counters(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), executed, "failed executions do not count")
	assert.Equal(t, int64(2), decisions)
}
