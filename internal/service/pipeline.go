package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mohitkumawat/realpm/internal/biz/domain"
	"github.com/mohitkumawat/realpm/internal/biz/repo"
	"github.com/mohitkumawat/realpm/internal/biz/usecase"
	"github.com/mohitkumawat/realpm/internal/conf"
	"github.com/mohitkumawat/realpm/internal/data"
	"github.com/mohitkumawat/realpm/internal/oplog"
)

// refusalText is sent once per non-operator mention; the planner is not
// consulted for these.
const refusalText = "Sorry, I only take task instructions from my operator. I've noted your message."

// pipelineRequest asks for one analysis cycle over a set of channels.
type pipelineRequest struct {
	source   string
	channels []string
}

// Pipeline funnels poll ticks and webhook events into a single analysis
// worker. Cycles never run concurrently; a request arriving while a cycle is
// in flight queues behind it, and overflow beyond the buffer is dropped
// (the next poll covers it).
type Pipeline struct {
	repos    *data.Repositories
	detector *usecase.TriggerDetector
	guard    *usecase.LoopGuard
	policy   *usecase.ApprovalPolicy
	tracker  *Tracker

	channels       []string
	operatorUserID string
	loc            *time.Location

	requests chan pipelineRequest
}

// NewPipeline creates the analysis pipeline
func NewPipeline(cfg *conf.Config, repos *data.Repositories, tracker *Tracker) *Pipeline {
	return &Pipeline{
		repos: repos,
		detector: usecase.NewTriggerDetector(
			repos.Messages,
			cfg.Slack.BotUserID,
			cfg.Slack.OperatorUserID,
			cfg.Pipeline.Keywords,
			time.Duration(cfg.Pipeline.LookbackHours)*time.Hour,
			cfg.Pipeline.MaxMessages,
		),
		guard:          usecase.NewLoopGuard(cfg.Slack.BotUserID, cfg.Slack.BotName, cfg.Slack.OperatorUserID),
		policy:         usecase.NewApprovalPolicy(cfg.Slack.OperatorUserID),
		tracker:        tracker,
		channels:       cfg.Slack.Channels,
		operatorUserID: cfg.Slack.OperatorUserID,
		loc:            cfg.Location(),
		requests:       make(chan pipelineRequest, 16),
	}
}

// Trigger requests an analysis cycle. Non-blocking; when the queue is full
// the request is dropped and the next poll tick picks the work up.
func (p *Pipeline) Trigger(source string, channels []string) {
	if len(channels) == 0 {
		channels = p.channels
	}
	select {
	case p.requests <- pipelineRequest{source: source, channels: channels}:
	default:
		oplog.Logf("[Pipeline] Request queue full, dropping %s trigger", source)
	}
}

// Run consumes analysis requests until the context is cancelled. Only one
// cycle runs at a time.
func (p *Pipeline) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-p.requests:
			p.runCycle(ctx, req)
		}
	}
}

func (p *Pipeline) runCycle(ctx context.Context, req pipelineRequest) {
	p.tracker.Set(StateThinking, fmt.Sprintf("analyzing %d channels (%s)", len(req.channels), req.source))
	defer p.tracker.Set(StateIdle, "")

	matches := p.detector.Detect(ctx, req.channels)
	if len(matches) == 0 {
		return
	}

	fresh := p.dropProcessed(ctx, matches)
	if len(fresh) == 0 {
		return
	}
	oplog.Logf("[Pipeline] %d new triggering messages (%s)", len(fresh), req.source)

	planned := p.refuseNonOperatorMentions(ctx, fresh)
	planned = p.filterKeywordMatches(ctx, planned)
	if len(planned) == 0 {
		return
	}

	// Mark before inference: a crash mid-plan must not replay the same
	// messages into a second batch of actions.
	for _, m := range planned {
		if err := p.repos.Ledger.MarkProcessed(ctx, m.Message.ID, m.Message.ChannelID); err != nil {
			oplog.Logf("[Pipeline] Failed to mark %s processed: %v", m.Message.ID, err)
		}
	}

	contextDoc, err := p.repos.Context.Read()
	if err != nil {
		oplog.Logf("[Pipeline] Failed to read context document: %v", err)
	}

	actions, err := p.repos.Planner.Plan(ctx, &repo.PlannerInput{
		Matches:    planned,
		ContextDoc: contextDoc,
		Now:        time.Now(),
	})
	if err != nil {
		if errors.Is(err, repo.ErrQuotaExceeded) {
			oplog.Logf("[Pipeline] Inference quota exhausted: %v", err)
		} else {
			oplog.Logf("[Pipeline] Planning failed: %v", err)
		}
		return
	}

	actions = p.guard.Apply(actions, planned)
	p.enqueue(ctx, actions, planned)
}

// dropProcessed filters out messages the ledger has already seen.
func (p *Pipeline) dropProcessed(ctx context.Context, matches []domain.TriggerMatch) []domain.TriggerMatch {
	var fresh []domain.TriggerMatch
	for _, m := range matches {
		done, err := p.repos.Ledger.IsProcessed(ctx, m.Message.ID)
		if err != nil {
			oplog.Logf("[Pipeline] Ledger lookup failed for %s: %v", m.Message.ID, err)
			continue
		}
		if !done {
			fresh = append(fresh, m)
		}
	}
	return fresh
}

// refuseNonOperatorMentions answers direct bot mentions from anyone other
// than the operator with a single fixed refusal and takes them out of the
// planning batch.
func (p *Pipeline) refuseNonOperatorMentions(ctx context.Context, matches []domain.TriggerMatch) []domain.TriggerMatch {
	var kept []domain.TriggerMatch
	for _, m := range matches {
		if !m.HasReason(domain.TriggerBotMention) || m.Message.SenderID == p.operatorUserID {
			kept = append(kept, m)
			continue
		}

		threadID := m.Message.ThreadID
		if threadID == "" {
			threadID = m.Message.ID
		}
		if _, err := p.repos.Messages.Send(ctx, m.Message.ChannelID, refusalText, threadID); err != nil {
			oplog.Logf("[Pipeline] Failed to send refusal in %s: %v", m.Message.ChannelID, err)
		} else {
			oplog.Logf("[Pipeline] Refused non-operator instruction from %s", m.Message.SenderID)
		}
		if err := p.repos.Ledger.MarkProcessed(ctx, m.Message.ID, m.Message.ChannelID); err != nil {
			oplog.Logf("[Pipeline] Failed to mark %s processed: %v", m.Message.ID, err)
		}
	}
	return kept
}

// filterKeywordMatches runs keyword-only matches through the relevance
// filter. Filtered-out messages are marked processed so they are not
// re-evaluated every cycle.
func (p *Pipeline) filterKeywordMatches(ctx context.Context, matches []domain.TriggerMatch) []domain.TriggerMatch {
	if p.repos.Filter == nil {
		return matches
	}

	var kept []domain.TriggerMatch
	for _, m := range matches {
		if !m.KeywordOnly() {
			kept = append(kept, m)
			continue
		}
		ok, err := p.repos.Filter.ShouldRespond(ctx, m.Message.Text, "")
		if err != nil {
			oplog.Logf("[Pipeline] Relevance check error for %s: %v", m.Message.ID, err)
		}
		if ok {
			kept = append(kept, m)
			continue
		}
		oplog.Logf("[Pipeline] Keyword match %s judged not relevant, skipping", m.Message.ID)
		if err := p.repos.Ledger.MarkProcessed(ctx, m.Message.ID, m.Message.ChannelID); err != nil {
			oplog.Logf("[Pipeline] Failed to mark %s processed: %v", m.Message.ID, err)
		}
	}
	return kept
}

// enqueue finalizes planned actions (ID, timestamps, initial status) and
// writes them to the queue.
func (p *Pipeline) enqueue(ctx context.Context, actions []*domain.Action, matches []domain.TriggerMatch) {
	for _, a := range actions {
		if a.TriggerUserID == "" && len(matches) > 0 {
			a.TriggerUserID = matches[0].Message.SenderID
		}
		a.ID = uuid.NewString()
		a.CreatedAt = time.Now()
		a.Status = p.policy.Decide(a)

		if err := p.repos.Queue.Enqueue(ctx, a); err != nil {
			oplog.Logf("[Pipeline] Failed to enqueue %s action: %v", a.Type, err)
			continue
		}
		oplog.Logf("[Pipeline] Queued %s action %s as %s (confidence %.2f)", a.Type, a.ID, a.Status, a.Confidence)

		if a.Status == domain.StatusApproved {
			if err := p.repos.Ledger.LogDecision(ctx, string(a.Type), true, "auto-approved: "+a.Reasoning); err != nil {
				oplog.Logf("[Pipeline] Failed to log decision: %v", err)
			}
		}
	}
}

// RunDailyReport generates and queues the morning or evening status update.
// The ledger keeps one entry per local date and kind, so restarts and
// overlapping ticks cannot double-send.
func (p *Pipeline) RunDailyReport(ctx context.Context, kind string) {
	if len(p.channels) == 0 {
		return
	}

	date := time.Now().In(p.loc).Format("2006-01-02")
	reportKey := date + "/" + kind

	sent, err := p.repos.Ledger.HasSentReport(ctx, reportKey)
	if err != nil {
		oplog.Logf("[Reports] Ledger lookup failed for %s: %v", reportKey, err)
		return
	}
	if sent {
		return
	}

	directive := "Write the morning kickoff update: today's priorities, anything blocked, and what needs a decision."
	if kind == "evening" {
		directive = "Write the end-of-day wrap-up: what moved today, what is still open, and what carries over to tomorrow."
	}

	contextDoc, err := p.repos.Context.Read()
	if err != nil {
		oplog.Logf("[Reports] Failed to read context document: %v", err)
		return
	}

	p.tracker.Set(StateThinking, "generating "+kind+" report")
	defer p.tracker.Set(StateIdle, "")

	text, err := p.repos.Planner.GenerateReport(ctx, contextDoc, directive)
	if err != nil {
		oplog.Logf("[Reports] Failed to generate %s report: %v", kind, err)
		return
	}
	if text == "" {
		return
	}

	a := &domain.Action{
		ID:          uuid.NewString(),
		Type:        domain.ActionSendMessage,
		Reasoning:   "scheduled " + kind + " report",
		Confidence:  1.0,
		Data:        domain.ActionData{TargetChannelID: p.channels[0], MessageText: text},
		Status:      domain.StatusApproved,
		IsProactive: true,
		CreatedAt:   time.Now(),
	}
	if err := p.repos.Queue.Enqueue(ctx, a); err != nil {
		oplog.Logf("[Reports] Failed to enqueue %s report: %v", kind, err)
		return
	}
	if err := p.repos.Ledger.MarkReportSent(ctx, reportKey); err != nil {
		oplog.Logf("[Reports] Failed to mark report %s sent: %v", reportKey, err)
	}
	oplog.Logf("[Reports] Queued %s report for %s", kind, p.channels[0])
}
