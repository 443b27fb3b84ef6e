package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mohitkumawat/realpm/internal/biz/domain"
	"github.com/mohitkumawat/realpm/internal/conf"
	"github.com/mohitkumawat/realpm/internal/data"
	"github.com/mohitkumawat/realpm/internal/oplog"
)

// Executor drains APPROVED actions and performs their side effects, and
// sweeps REJECTED actions into the ledger. One action failing never stops
// the rest of the batch.
type Executor struct {
	repos   *data.Repositories
	tracker *Tracker

	botUserID string
	botName   string
	loc       *time.Location
}

// NewExecutor creates the action executor
func NewExecutor(cfg *conf.Config, repos *data.Repositories, tracker *Tracker) *Executor {
	return &Executor{
		repos:     repos,
		tracker:   tracker,
		botUserID: cfg.Slack.BotUserID,
		botName:   cfg.Slack.BotName,
		loc:       cfg.Location(),
	}
}

// Tick runs one execution pass.
func (e *Executor) Tick(ctx context.Context) {
	approved, err := e.repos.Queue.ListByStatus(ctx, domain.StatusApproved)
	if err != nil {
		oplog.Logf("[Executor] Failed to list approved actions: %v", err)
		return
	}

	if len(approved) > 0 {
		e.tracker.Set(StateExecuting, fmt.Sprintf("executing %d actions", len(approved)))
		for _, a := range approved {
			e.execute(ctx, a)
		}
		e.tracker.Set(StateIdle, "")
	}

	e.sweepRejected(ctx)
}

// execute performs one approved action and records the outcome.
func (e *Executor) execute(ctx context.Context, a *domain.Action) {
	// The queue refuses to approve invalid data, but actions approved by
	// older builds may still be sitting in the queue.
	if err := a.ValidateData(); err != nil {
		e.markFailed(ctx, a, err.Error())
		return
	}

	switch a.Type {
	case domain.ActionSendMessage:
		e.executeSend(ctx, a)
	case domain.ActionScheduleMessage:
		e.executeSchedule(ctx, a)
	case domain.ActionUpdateContextSection:
		e.executeContextUpdate(ctx, a)
	case domain.ActionDraftReply:
		e.executeDraft(ctx, a)
	default:
		e.markFailed(ctx, a, fmt.Sprintf("unknown action type: %q", a.Type))
	}
}

func (e *Executor) executeSend(ctx context.Context, a *domain.Action) {
	// Last line of defense against self-addressed output.
	if a.Data.TargetChannelID == e.botUserID {
		e.markExecuted(ctx, a, "skipped (self-target)")
		return
	}

	text := e.scrubSelfMentions(a.Data.MessageText)
	ts, err := e.repos.Messages.Send(ctx, a.Data.TargetChannelID, text, a.Data.ThreadID)
	if err != nil {
		e.markFailed(ctx, a, err.Error())
		return
	}
	e.markExecuted(ctx, a, "sent (ts "+ts+")")
}

func (e *Executor) executeSchedule(ctx context.Context, a *domain.Action) {
	at, err := e.parseScheduleTime(a.Data.TimeISO)
	if err != nil {
		e.markFailed(ctx, a, fmt.Sprintf("unparseable time_iso %q: %v", a.Data.TimeISO, err))
		return
	}
	if !at.After(time.Now()) {
		e.markFailed(ctx, a, "scheduled time is in the past")
		return
	}

	text := e.scrubSelfMentions(a.Data.MessageText)
	id, err := e.repos.Messages.Schedule(ctx, a.Data.TargetChannelID, text, at)
	if err != nil {
		e.markFailed(ctx, a, err.Error())
		return
	}
	e.markExecuted(ctx, a, fmt.Sprintf("scheduled for %s (id %s)", at.Format(time.RFC3339), id))
}

func (e *Executor) executeContextUpdate(ctx context.Context, a *domain.Action) {
	var err error
	if a.Data.Append {
		err = e.repos.Context.AppendSection(a.Data.SectionTitle, a.Data.Content)
	} else {
		err = e.repos.Context.ReplaceSection(a.Data.SectionTitle, a.Data.Content)
	}
	if err != nil {
		e.markFailed(ctx, a, err.Error())
		return
	}
	verb := "replaced"
	if a.Data.Append {
		verb = "appended to"
	}
	e.markExecuted(ctx, a, verb+" section "+a.Data.SectionTitle)
}

// executeDraft surfaces the drafted text as a new PENDING send_message, so
// the operator confirms the final wording before anything leaves the agent.
func (e *Executor) executeDraft(ctx context.Context, a *domain.Action) {
	send := &domain.Action{
		ID:            uuid.NewString(),
		Type:          domain.ActionSendMessage,
		Reasoning:     "drafted reply: " + a.Reasoning,
		Confidence:    a.Confidence,
		TriggerUserID: a.TriggerUserID,
		Data:          a.Data,
		Status:        domain.StatusPending,
		CreatedAt:     time.Now(),
	}
	if err := e.repos.Queue.Enqueue(ctx, send); err != nil {
		e.markFailed(ctx, a, "failed to queue drafted send: "+err.Error())
		return
	}
	e.markExecuted(ctx, a, "draft queued as "+send.ID)
}

// sweepRejected logs rejected actions to the ledger and parks them in
// REJECTED_LOGGED.
func (e *Executor) sweepRejected(ctx context.Context) {
	rejected, err := e.repos.Queue.ListByStatus(ctx, domain.StatusRejected)
	if err != nil {
		oplog.Logf("[Executor] Failed to list rejected actions: %v", err)
		return
	}
	for _, a := range rejected {
		if err := e.repos.Ledger.LogDecision(ctx, string(a.Type), false, a.Reasoning); err != nil {
			oplog.Logf("[Executor] Failed to log rejection of %s: %v", a.ID, err)
			continue
		}
		if err := e.repos.Queue.MarkRejectedLogged(ctx, a.ID); err != nil {
			oplog.Logf("[Executor] Failed to park rejected action %s: %v", a.ID, err)
		}
	}
}

func (e *Executor) markExecuted(ctx context.Context, a *domain.Action, result string) {
	if err := e.repos.Queue.MarkExecuted(ctx, a.ID, result); err != nil {
		oplog.Logf("[Executor] Failed to mark %s executed: %v", a.ID, err)
		return
	}
	a.Status = domain.StatusExecuted
	a.Result = result
	if err := e.repos.Ledger.LogExecution(ctx, a); err != nil {
		oplog.Logf("[Executor] Failed to log execution of %s: %v", a.ID, err)
	}
	oplog.Logf("[Executor] %s %s: %s", a.Type, a.ID, result)
}

func (e *Executor) markFailed(ctx context.Context, a *domain.Action, reason string) {
	if err := e.repos.Queue.MarkFailed(ctx, a.ID, reason); err != nil {
		oplog.Logf("[Executor] Failed to mark %s failed: %v", a.ID, err)
		return
	}
	a.Status = domain.StatusFailed
	a.Error = reason
	if err := e.repos.Ledger.LogExecution(ctx, a); err != nil {
		oplog.Logf("[Executor] Failed to log failure of %s: %v", a.ID, err)
	}
	oplog.Logf("[Executor] %s %s FAILED: %s", a.Type, a.ID, reason)
}

// scrubSelfMentions strips bot self-references from outbound text.
func (e *Executor) scrubSelfMentions(text string) string {
	if e.botUserID != "" {
		text = strings.ReplaceAll(text, "<@"+e.botUserID+">", "")
	}
	if e.botName != "" {
		text = strings.ReplaceAll(text, "@"+e.botName, "")
	}
	return strings.TrimSpace(text)
}

// parseScheduleTime accepts RFC 3339 first, then a bare local timestamp in
// the operator's timezone.
func (e *Executor) parseScheduleTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.ParseInLocation("2006-01-02 15:04:05", s, e.loc)
}
