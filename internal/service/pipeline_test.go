package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mohitkumawat/realpm/internal/biz/domain"
	"github.com/mohitkumawat/realpm/internal/biz/repo"
	"github.com/mohitkumawat/realpm/internal/conf"
	"github.com/mohitkumawat/realpm/internal/data"
)

const (
	testBotID      = "UBOT"
	testOperatorID = "UOPER"
)

// Mock implementations. The queue, ledger, and context document use the real
// sqlite/file stores on temp paths; only the external network boundaries are
// mocked.

type sentMessage struct {
	ChannelID string
	Text      string
	ThreadID  string
}

type scheduledMessage struct {
	ChannelID string
	Text      string
	At        time.Time
}

type mockMessages struct {
	byChannel map[string][]domain.Message
	sent      []sentMessage
	scheduled []scheduledMessage
	sendErr   error
}

func (m *mockMessages) FetchRecent(ctx context.Context, channelID string, since time.Time, limit int) ([]domain.Message, error) {
	return m.byChannel[channelID], nil
}

func (m *mockMessages) Send(ctx context.Context, channelID, text, threadID string) (string, error) {
	if m.sendErr != nil {
		return "", m.sendErr
	}
	m.sent = append(m.sent, sentMessage{ChannelID: channelID, Text: text, ThreadID: threadID})
	return "1710000000.000001", nil
}

func (m *mockMessages) Schedule(ctx context.Context, channelID, text string, at time.Time) (string, error) {
	m.scheduled = append(m.scheduled, scheduledMessage{ChannelID: channelID, Text: text, At: at})
	return "sched-1", nil
}

type mockPlanner struct {
	actions   []*domain.Action
	report    string
	err       error
	planCalls int
}

func (m *mockPlanner) Plan(ctx context.Context, in *repo.PlannerInput) ([]*domain.Action, error) {
	m.planCalls++
	if m.err != nil {
		return nil, m.err
	}
	// Fresh copies: the pipeline finalizes actions in place.
	out := make([]*domain.Action, 0, len(m.actions))
	for _, a := range m.actions {
		copied := *a
		out = append(out, &copied)
	}
	return out, nil
}

func (m *mockPlanner) GenerateReport(ctx context.Context, contextDoc, directive string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	return m.report, nil
}

type mockFilter struct {
	respond bool
	calls   int
}

func (m *mockFilter) ShouldRespond(ctx context.Context, message, history string) (bool, error) {
	m.calls++
	return m.respond, nil
}

func testConfig() *conf.Config {
	return &conf.Config{
		Slack: conf.SlackConfig{
			BotUserID:      testBotID,
			BotName:        "The Real PM",
			OperatorUserID: testOperatorID,
			Channels:       []string{"C1"},
		},
		Pipeline: conf.PipelineConfig{
			Keywords:      []string{"deadline"},
			LookbackHours: 24,
			MaxMessages:   100,
			Timezone:      "UTC",
			MorningHour:   10,
			EveningHour:   18,
		},
	}
}

func testRepos(t *testing.T, messages *mockMessages, planner *mockPlanner) *data.Repositories {
	t.Helper()
	dir := t.TempDir()

	queue, err := data.NewQueueRepo(filepath.Join(dir, "queue.db"))
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	ledger, err := data.NewLedgerRepo(filepath.Join(dir, "memory.db"))
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	t.Cleanup(func() {
		queue.Close()
		ledger.Close()
	})

	docPath := filepath.Join(dir, "context.md")
	if err := os.WriteFile(docPath, []byte("## Current Tasks\n- ship\n"), 0644); err != nil {
		t.Fatalf("context doc: %v", err)
	}

	return &data.Repositories{
		Messages: messages,
		Planner:  planner,
		Queue:    queue,
		Ledger:   ledger,
		Context:  data.NewContextDoc(docPath),
	}
}

func operatorMention(id string) domain.Message {
	return domain.Message{ID: id, ChannelID: "C1", SenderID: testOperatorID, Text: "<@UBOT> remind the team about the deadline"}
}

func TestPipelineCycleQueuesActions(t *testing.T) {
	messages := &mockMessages{byChannel: map[string][]domain.Message{
		"C1": {operatorMention("1.1")},
	}}
	planner := &mockPlanner{actions: []*domain.Action{{
		Type:          domain.ActionSendMessage,
		Reasoning:     "remind",
		Confidence:    0.9,
		TriggerUserID: testOperatorID,
		Data:          domain.ActionData{TargetChannelID: "C1", MessageText: "Reminder: deadline friday"},
	}}}
	repos := testRepos(t, messages, planner)
	p := NewPipeline(testConfig(), repos, NewTracker())
	ctx := context.Background()

	p.runCycle(ctx, pipelineRequest{source: "test", channels: []string{"C1"}})

	queued, err := repos.Queue.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(queued) != 1 {
		t.Fatalf("expected 1 queued action, got %d", len(queued))
	}
	a := queued[0]
	if a.ID == "" || a.CreatedAt.IsZero() {
		t.Errorf("action not finalized: id=%q created=%v", a.ID, a.CreatedAt)
	}
	if a.Status != domain.StatusApproved {
		t.Errorf("confident send from operator should auto-approve, got %s", a.Status)
	}
	if a.Data.ThreadID != "1.1" {
		t.Errorf("thread not backfilled, got %q", a.Data.ThreadID)
	}

	done, _ := repos.Ledger.IsProcessed(ctx, "1.1")
	if !done {
		t.Errorf("triggering message should be marked processed")
	}
}

func TestPipelineRepollIsIdempotent(t *testing.T) {
	messages := &mockMessages{byChannel: map[string][]domain.Message{
		"C1": {operatorMention("1.1")},
	}}
	planner := &mockPlanner{actions: []*domain.Action{{
		Type:       domain.ActionSendMessage,
		Confidence: 0.9,
		Data:       domain.ActionData{TargetChannelID: "C1", MessageText: "on it"},
	}}}
	repos := testRepos(t, messages, planner)
	p := NewPipeline(testConfig(), repos, NewTracker())
	ctx := context.Background()

	p.runCycle(ctx, pipelineRequest{source: "poll", channels: []string{"C1"}})
	p.runCycle(ctx, pipelineRequest{source: "poll", channels: []string{"C1"}})
	p.runCycle(ctx, pipelineRequest{source: "webhook", channels: []string{"C1"}})

	if planner.planCalls != 1 {
		t.Errorf("already-processed messages must not be re-planned, planner called %d times", planner.planCalls)
	}
	queued, _ := repos.Queue.List(ctx)
	if len(queued) != 1 {
		t.Errorf("expected exactly 1 action after re-polls, got %d", len(queued))
	}
}

func TestPipelineRefusesNonOperatorMention(t *testing.T) {
	messages := &mockMessages{byChannel: map[string][]domain.Message{
		"C1": {{ID: "2.1", ChannelID: "C1", SenderID: "USOMEONE", Text: "<@UBOT> schedule a meeting"}},
	}}
	planner := &mockPlanner{}
	repos := testRepos(t, messages, planner)
	p := NewPipeline(testConfig(), repos, NewTracker())
	ctx := context.Background()

	p.runCycle(ctx, pipelineRequest{source: "poll", channels: []string{"C1"}})

	if planner.planCalls != 0 {
		t.Errorf("non-operator instructions must not reach the planner")
	}
	if len(messages.sent) != 1 {
		t.Fatalf("expected 1 refusal message, got %d", len(messages.sent))
	}
	if messages.sent[0].Text != refusalText {
		t.Errorf("unexpected refusal text: %q", messages.sent[0].Text)
	}
	if messages.sent[0].ThreadID != "2.1" {
		t.Errorf("refusal should land in the triggering thread, got %q", messages.sent[0].ThreadID)
	}

	// Refusal is one-shot.
	p.runCycle(ctx, pipelineRequest{source: "poll", channels: []string{"C1"}})
	if len(messages.sent) != 1 {
		t.Errorf("refusal must not repeat, got %d messages", len(messages.sent))
	}
}

func TestPipelineKeywordRelevanceFilter(t *testing.T) {
	keywordMsg := domain.Message{ID: "3.1", ChannelID: "C1", SenderID: "U1", Text: "the deadline moved"}

	t.Run("not relevant", func(t *testing.T) {
		messages := &mockMessages{byChannel: map[string][]domain.Message{"C1": {keywordMsg}}}
		planner := &mockPlanner{}
		repos := testRepos(t, messages, planner)
		filter := &mockFilter{respond: false}
		repos.Filter = filter
		p := NewPipeline(testConfig(), repos, NewTracker())
		ctx := context.Background()

		p.runCycle(ctx, pipelineRequest{source: "poll", channels: []string{"C1"}})
		if filter.calls != 1 {
			t.Errorf("keyword-only match should consult the filter")
		}
		if planner.planCalls != 0 {
			t.Errorf("filtered-out message must not be planned")
		}
		done, _ := repos.Ledger.IsProcessed(ctx, "3.1")
		if !done {
			t.Errorf("filtered-out message should be marked processed")
		}
	})

	t.Run("relevant", func(t *testing.T) {
		messages := &mockMessages{byChannel: map[string][]domain.Message{"C1": {keywordMsg}}}
		planner := &mockPlanner{}
		repos := testRepos(t, messages, planner)
		repos.Filter = &mockFilter{respond: true}
		p := NewPipeline(testConfig(), repos, NewTracker())

		p.runCycle(context.Background(), pipelineRequest{source: "poll", channels: []string{"C1"}})
		if planner.planCalls != 1 {
			t.Errorf("relevant keyword match should be planned")
		}
	})

	t.Run("mention bypasses filter", func(t *testing.T) {
		messages := &mockMessages{byChannel: map[string][]domain.Message{"C1": {operatorMention("3.2")}}}
		planner := &mockPlanner{}
		repos := testRepos(t, messages, planner)
		filter := &mockFilter{respond: false}
		repos.Filter = filter
		p := NewPipeline(testConfig(), repos, NewTracker())

		p.runCycle(context.Background(), pipelineRequest{source: "poll", channels: []string{"C1"}})
		if filter.calls != 0 {
			t.Errorf("mention-triggered messages skip the relevance filter")
		}
		if planner.planCalls != 1 {
			t.Errorf("mention should be planned")
		}
	})
}

func TestPipelineReminderScenario(t *testing.T) {
	// "remind me in 10 minutes to check logs" from the operator becomes one
	// schedule_message. At moderate confidence it waits for approval.
	at := time.Now().Add(10 * time.Minute).Format(time.RFC3339)
	messages := &mockMessages{byChannel: map[string][]domain.Message{
		"C1": {{ID: "5.1", ChannelID: "C1", SenderID: testOperatorID, Text: "<@UBOT> remind me in 10 minutes to check logs"}},
	}}
	planner := &mockPlanner{actions: []*domain.Action{
		{
			Type:          domain.ActionScheduleMessage,
			Reasoning:     "operator asked for a reminder",
			Confidence:    0.8,
			TriggerUserID: testOperatorID,
			Data:          domain.ActionData{TargetChannelID: "C1", MessageText: "Check the logs", TimeISO: at},
		},
		{
			Type:          domain.ActionUpdateContextSection,
			Reasoning:     "note the follow-up",
			Confidence:    0.75,
			TriggerUserID: testOperatorID,
			Data:          domain.ActionData{SectionTitle: "Current Tasks", Content: "- check logs", Append: true},
		},
	}}
	repos := testRepos(t, messages, planner)
	p := NewPipeline(testConfig(), repos, NewTracker())
	ctx := context.Background()

	p.runCycle(ctx, pipelineRequest{source: "poll", channels: []string{"C1"}})

	queued, _ := repos.Queue.List(ctx)
	if len(queued) != 2 {
		t.Fatalf("expected 2 queued actions, got %d", len(queued))
	}
	for _, a := range queued {
		if a.Status != domain.StatusPending {
			t.Errorf("%s at confidence %.2f should await approval, got %s", a.Type, a.Confidence, a.Status)
		}
	}
}

func TestPipelineQuotaErrorLeavesQueueEmpty(t *testing.T) {
	messages := &mockMessages{byChannel: map[string][]domain.Message{
		"C1": {operatorMention("4.1")},
	}}
	planner := &mockPlanner{err: repo.ErrQuotaExceeded}
	repos := testRepos(t, messages, planner)
	p := NewPipeline(testConfig(), repos, NewTracker())
	ctx := context.Background()

	p.runCycle(ctx, pipelineRequest{source: "poll", channels: []string{"C1"}})

	queued, _ := repos.Queue.List(ctx)
	if len(queued) != 0 {
		t.Errorf("no actions should be queued on quota failure, got %d", len(queued))
	}
}

func TestRunDailyReportOncePerDay(t *testing.T) {
	messages := &mockMessages{}
	planner := &mockPlanner{report: "All on track."}
	repos := testRepos(t, messages, planner)
	p := NewPipeline(testConfig(), repos, NewTracker())
	ctx := context.Background()

	p.RunDailyReport(ctx, "morning")
	p.RunDailyReport(ctx, "morning")

	queued, err := repos.Queue.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(queued) != 1 {
		t.Fatalf("expected exactly 1 report action, got %d", len(queued))
	}
	a := queued[0]
	if a.Status != domain.StatusApproved {
		t.Errorf("reports are auto-approved, got %s", a.Status)
	}
	if !a.IsProactive {
		t.Errorf("reports are proactive actions")
	}
	if a.Data.TargetChannelID != "C1" {
		t.Errorf("report targets the first monitored channel, got %s", a.Data.TargetChannelID)
	}

	// Evening is tracked separately.
	p.RunDailyReport(ctx, "evening")
	queued, _ = repos.Queue.List(ctx)
	if len(queued) != 2 {
		t.Errorf("evening report should queue independently, got %d", len(queued))
	}
}
