package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mohitkumawat/realpm/internal/biz/domain"
	"github.com/mohitkumawat/realpm/internal/data"
)

func approvedAction(t domain.ActionType, d domain.ActionData) *domain.Action {
	return &domain.Action{
		ID:            uuid.NewString(),
		Type:          t,
		Reasoning:     "test",
		Confidence:    0.9,
		TriggerUserID: testOperatorID,
		Data:          d,
		Status:        domain.StatusApproved,
		CreatedAt:     time.Now(),
	}
}

func newTestExecutor(t *testing.T, messages *mockMessages) (*Executor, *data.Repositories) {
	t.Helper()
	repos := testRepos(t, messages, &mockPlanner{})
	return NewExecutor(testConfig(), repos, NewTracker()), repos
}

func TestExecutorSendsMessage(t *testing.T) {
	messages := &mockMessages{}
	e, repos := newTestExecutor(t, messages)
	ctx := context.Background()

	a := approvedAction(domain.ActionSendMessage, domain.ActionData{
		TargetChannelID: "C1",
		MessageText:     "<@UBOT> says: deadline is friday",
		ThreadID:        "1.5",
	})
	if err := repos.Queue.Enqueue(ctx, a); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	e.Tick(ctx)

	if len(messages.sent) != 1 {
		t.Fatalf("expected 1 sent message, got %d", len(messages.sent))
	}
	if strings.Contains(messages.sent[0].Text, "<@UBOT>") {
		t.Errorf("self-mention not scrubbed: %q", messages.sent[0].Text)
	}
	if messages.sent[0].ThreadID != "1.5" {
		t.Errorf("thread not carried: %q", messages.sent[0].ThreadID)
	}

	got, _ := repos.Queue.Get(ctx, a.ID)
	if got.Status != domain.StatusExecuted {
		t.Errorf("expected EXECUTED, got %s (%s)", got.Status, got.Error)
	}

	executed, _, _ := repos.Ledger.Counters(ctx)
	if executed != 1 {
		t.Errorf("execution not recorded in ledger, counter=%d", executed)
	}
}

func TestExecutorSkipsSelfTargetedSend(t *testing.T) {
	messages := &mockMessages{}
	e, repos := newTestExecutor(t, messages)
	ctx := context.Background()

	a := approvedAction(domain.ActionSendMessage, domain.ActionData{
		TargetChannelID: testBotID,
		MessageText:     "note to self",
	})
	repos.Queue.Enqueue(ctx, a)

	e.Tick(ctx)

	if len(messages.sent) != 0 {
		t.Fatalf("self-targeted send must not hit the platform")
	}
	got, _ := repos.Queue.Get(ctx, a.ID)
	if got.Status != domain.StatusExecuted {
		t.Errorf("expected EXECUTED, got %s", got.Status)
	}
	if !strings.Contains(got.Result, "skipped") {
		t.Errorf("result should record the skip, got %q", got.Result)
	}
}

func TestExecutorScheduleMessage(t *testing.T) {
	messages := &mockMessages{}
	e, repos := newTestExecutor(t, messages)
	ctx := context.Background()

	future := time.Now().Add(2 * time.Hour).Format(time.RFC3339)
	a := approvedAction(domain.ActionScheduleMessage, domain.ActionData{
		TargetChannelID: "C1",
		MessageText:     "standup in 10",
		TimeISO:         future,
	})
	repos.Queue.Enqueue(ctx, a)

	e.Tick(ctx)

	if len(messages.scheduled) != 1 {
		t.Fatalf("expected 1 scheduled message, got %d", len(messages.scheduled))
	}
	got, _ := repos.Queue.Get(ctx, a.ID)
	if got.Status != domain.StatusExecuted {
		t.Errorf("expected EXECUTED, got %s (%s)", got.Status, got.Error)
	}
}

func TestExecutorRejectsPastSchedule(t *testing.T) {
	messages := &mockMessages{}
	e, repos := newTestExecutor(t, messages)
	ctx := context.Background()

	past := time.Now().Add(-time.Hour).Format(time.RFC3339)
	a := approvedAction(domain.ActionScheduleMessage, domain.ActionData{
		TargetChannelID: "C1",
		MessageText:     "too late",
		TimeISO:         past,
	})
	repos.Queue.Enqueue(ctx, a)

	e.Tick(ctx)

	if len(messages.scheduled) != 0 {
		t.Fatalf("past-due schedule must not reach the platform")
	}
	got, _ := repos.Queue.Get(ctx, a.ID)
	if got.Status != domain.StatusFailed {
		t.Errorf("expected FAILED, got %s", got.Status)
	}
	if !strings.Contains(got.Error, "past") {
		t.Errorf("unexpected failure reason: %q", got.Error)
	}
}

func TestExecutorScheduleAcceptsLocalTimestamp(t *testing.T) {
	messages := &mockMessages{}
	e, repos := newTestExecutor(t, messages)
	ctx := context.Background()

	future := time.Now().Add(2 * time.Hour).UTC().Format("2006-01-02 15:04:05")
	a := approvedAction(domain.ActionScheduleMessage, domain.ActionData{
		TargetChannelID: "C1",
		MessageText:     "reminder",
		TimeISO:         future,
	})
	repos.Queue.Enqueue(ctx, a)

	e.Tick(ctx)

	got, _ := repos.Queue.Get(ctx, a.ID)
	if got.Status != domain.StatusExecuted {
		t.Errorf("bare local timestamps should parse in the operator timezone, got %s (%s)", got.Status, got.Error)
	}
}

func TestExecutorUpdatesContextSection(t *testing.T) {
	e, repos := newTestExecutor(t, &mockMessages{})
	ctx := context.Background()

	t.Run("replace", func(t *testing.T) {
		a := approvedAction(domain.ActionUpdateContextSection, domain.ActionData{
			SectionTitle: "Current Tasks",
			Content:      "- ship v2",
		})
		repos.Queue.Enqueue(ctx, a)
		e.Tick(ctx)

		doc, _ := repos.Context.Read()
		if !strings.Contains(doc, "- ship v2") || strings.Contains(doc, "- ship\n") {
			t.Errorf("section not replaced:\n%s", doc)
		}
	})

	t.Run("append", func(t *testing.T) {
		a := approvedAction(domain.ActionUpdateContextSection, domain.ActionData{
			SectionTitle: "Current Tasks",
			Content:      "- write docs",
			Append:       true,
		})
		repos.Queue.Enqueue(ctx, a)
		e.Tick(ctx)

		doc, _ := repos.Context.Read()
		if !strings.Contains(doc, "- ship v2\n- write docs") {
			t.Errorf("section not appended:\n%s", doc)
		}
	})

	t.Run("missing section fails", func(t *testing.T) {
		a := approvedAction(domain.ActionUpdateContextSection, domain.ActionData{
			SectionTitle: "Nonexistent",
			Content:      "x",
		})
		repos.Queue.Enqueue(ctx, a)
		e.Tick(ctx)

		got, _ := repos.Queue.Get(ctx, a.ID)
		if got.Status != domain.StatusFailed {
			t.Errorf("missing heading must fail, got %s", got.Status)
		}
	})
}

func TestExecutorDraftReplyQueuesPendingSend(t *testing.T) {
	messages := &mockMessages{}
	e, repos := newTestExecutor(t, messages)
	ctx := context.Background()

	draft := approvedAction(domain.ActionDraftReply, domain.ActionData{
		TargetChannelID: "C1",
		MessageText:     "Here is the summary you asked for.",
		ThreadID:        "1.5",
	})
	repos.Queue.Enqueue(ctx, draft)

	e.Tick(ctx)

	// The draft itself completes without sending anything.
	if len(messages.sent) != 0 {
		t.Fatalf("draft execution must not send directly")
	}
	got, _ := repos.Queue.Get(ctx, draft.ID)
	if got.Status != domain.StatusExecuted {
		t.Fatalf("expected draft EXECUTED, got %s", got.Status)
	}

	// A new PENDING send_message carrying the same payload awaits approval.
	pending, err := repos.Queue.ListByStatus(ctx, domain.StatusPending)
	if err != nil {
		t.Fatalf("ListByStatus: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending send, got %d", len(pending))
	}
	send := pending[0]
	if send.Type != domain.ActionSendMessage {
		t.Errorf("expected send_message, got %s", send.Type)
	}
	if send.Data.TargetChannelID != "C1" || send.Data.MessageText != draft.Data.MessageText || send.Data.ThreadID != "1.5" {
		t.Errorf("payload not carried over: %+v", send.Data)
	}
}

func TestExecutorInvalidDataFails(t *testing.T) {
	e, repos := newTestExecutor(t, &mockMessages{})
	ctx := context.Background()

	a := approvedAction(domain.ActionSendMessage, domain.ActionData{TargetChannelID: "C1"})
	repos.Queue.Enqueue(ctx, a)

	e.Tick(ctx)

	got, _ := repos.Queue.Get(ctx, a.ID)
	if got.Status != domain.StatusFailed {
		t.Errorf("invalid data must fail at execution, got %s", got.Status)
	}
}

func TestExecutorSweepsRejected(t *testing.T) {
	e, repos := newTestExecutor(t, &mockMessages{})
	ctx := context.Background()

	a := approvedAction(domain.ActionSendMessage, domain.ActionData{
		TargetChannelID: "C1", MessageText: "nope",
	})
	a.Status = domain.StatusRejected
	repos.Queue.Enqueue(ctx, a)

	e.Tick(ctx)

	got, _ := repos.Queue.Get(ctx, a.ID)
	if got.Status != domain.StatusRejectedLogged {
		t.Errorf("expected REJECTED_LOGGED, got %s", got.Status)
	}
	_, decisions, _ := repos.Ledger.Counters(ctx)
	if decisions != 1 {
		t.Errorf("rejection not logged as a decision, counter=%d", decisions)
	}
}

func TestExecutorIsolatesFailures(t *testing.T) {
	messages := &mockMessages{}
	e, repos := newTestExecutor(t, messages)
	ctx := context.Background()

	bad := approvedAction(domain.ActionScheduleMessage, domain.ActionData{
		TargetChannelID: "C1", MessageText: "x", TimeISO: "garbage",
	})
	bad.CreatedAt = time.Now().Add(-time.Minute)
	good := approvedAction(domain.ActionSendMessage, domain.ActionData{
		TargetChannelID: "C1", MessageText: "still works",
	})
	repos.Queue.Enqueue(ctx, bad)
	repos.Queue.Enqueue(ctx, good)

	e.Tick(ctx)

	gotBad, _ := repos.Queue.Get(ctx, bad.ID)
	gotGood, _ := repos.Queue.Get(ctx, good.ID)
	if gotBad.Status != domain.StatusFailed {
		t.Errorf("bad action should fail, got %s", gotBad.Status)
	}
	if gotGood.Status != domain.StatusExecuted {
		t.Errorf("one failure must not stop the batch, got %s", gotGood.Status)
	}
}
