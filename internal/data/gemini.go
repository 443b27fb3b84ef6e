package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"google.golang.org/genai"

	"github.com/mohitkumawat/realpm/internal/biz/domain"
	"github.com/mohitkumawat/realpm/internal/biz/repo"
	"github.com/mohitkumawat/realpm/internal/oplog"
)

// generateFunc performs one generation call with one API key. Swapped out in
// tests; the default implementation calls the Gemini API.
type generateFunc func(ctx context.Context, apiKey, model, prompt string, schema *genai.Schema) (string, error)

// credentialSlot is one rotation-eligible API key with its cool-down.
type credentialSlot struct {
	key            string
	exhaustedUntil time.Time
}

// geminiPlanner implements the inference boundary with a ring of credential
// slots that rotate on quota exhaustion.
type geminiPlanner struct {
	mu    sync.Mutex
	slots []*credentialSlot
	next  int

	model    string
	cooldown time.Duration
	backoff  time.Duration
	timeout  time.Duration

	botUserID      string
	operatorUserID string
	loc            *time.Location

	generate generateFunc
}

// NewGeminiPlanner creates a Gemini-backed planner. Keys are rotated
// round-robin when the provider reports quota exhaustion.
func NewGeminiPlanner(keys []string, model string, cooldown time.Duration, botUserID, operatorUserID string, loc *time.Location) repo.PlannerRepo {
	slots := make([]*credentialSlot, 0, len(keys))
	for _, k := range keys {
		slots = append(slots, &credentialSlot{key: k})
	}
	return &geminiPlanner{
		slots:          slots,
		model:          model,
		cooldown:       cooldown,
		backoff:        2 * time.Second,
		timeout:        60 * time.Second,
		botUserID:      botUserID,
		operatorUserID: operatorUserID,
		loc:            loc,
		generate:       defaultGenerate,
	}
}

// actionSchema constrains the model output at the provider level. Free-text
// parsing is only a degraded fallback.
var actionSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"thought_process": {Type: genai.TypeString},
		"actions": {
			Type: genai.TypeArray,
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"action_type": {
						Type: genai.TypeString,
						Enum: []string{
							string(domain.ActionSendMessage),
							string(domain.ActionScheduleMessage),
							string(domain.ActionUpdateContextSection),
							string(domain.ActionDraftReply),
						},
					},
					"reasoning":       {Type: genai.TypeString},
					"confidence":      {Type: genai.TypeNumber},
					"trigger_user_id": {Type: genai.TypeString},
					"data": {
						Type: genai.TypeObject,
						Properties: map[string]*genai.Schema{
							"target_channel_id": {Type: genai.TypeString},
							"target_user_ids":   {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
							"message_text":      {Type: genai.TypeString},
							"thread_id":         {Type: genai.TypeString},
							"time_iso":          {Type: genai.TypeString},
							"section_title":     {Type: genai.TypeString},
							"content":           {Type: genai.TypeString},
							"append":            {Type: genai.TypeBoolean},
						},
					},
				},
				Required: []string{"action_type", "reasoning", "data"},
			},
		},
	},
	Required: []string{"thought_process", "actions"},
}

type planResponse struct {
	ThoughtProcess string        `json:"thought_process"`
	Actions        []*planAction `json:"actions"`
}

type planAction struct {
	ActionType    string            `json:"action_type"`
	Reasoning     string            `json:"reasoning"`
	Confidence    float64           `json:"confidence"`
	TriggerUserID string            `json:"trigger_user_id"`
	Data          domain.ActionData `json:"data"`
}

// Plan asks the model to turn triggering messages into an action list.
func (p *geminiPlanner) Plan(ctx context.Context, in *repo.PlannerInput) ([]*domain.Action, error) {
	prompt, err := p.buildPrompt(in)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", repo.ErrInvalidRequest, err)
	}

	text, err := p.generateWithRotation(ctx, prompt, actionSchema)
	if err != nil {
		return nil, err
	}

	resp := parsePlanResponse(text)
	if resp == nil {
		return nil, nil
	}
	if resp.ThoughtProcess != "" {
		oplog.Logf("[Planner] Thoughts: %s", resp.ThoughtProcess)
	}

	var actions []*domain.Action
	for _, pa := range resp.Actions {
		t := domain.ActionType(pa.ActionType)
		if !t.Valid() {
			oplog.Logf("[Planner] Dropping non-conformant action type %q", pa.ActionType)
			continue
		}
		actions = append(actions, &domain.Action{
			Type:          t,
			Reasoning:     pa.Reasoning,
			Confidence:    pa.Confidence,
			TriggerUserID: pa.TriggerUserID,
			Data:          pa.Data,
		})
	}
	return actions, nil
}

// GenerateReport produces a free-text status update from the context document.
func (p *geminiPlanner) GenerateReport(ctx context.Context, contextDoc, directive string) (string, error) {
	prompt := fmt.Sprintf(`You are a PM assistant writing a short status update for a Slack channel.

%s

Project context:
%s

Write the update directly, no preamble. Keep it under 150 words.`, directive, contextDoc)

	text, err := p.generateWithRotation(ctx, prompt, nil)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// generateWithRotation tries the request once per available credential slot,
// marking slots exhausted on quota errors and waiting a short fixed backoff
// between attempts.
func (p *geminiPlanner) generateWithRotation(ctx context.Context, prompt string, schema *genai.Schema) (string, error) {
	for attempt := 0; attempt < len(p.slots); attempt++ {
		slot := p.acquireSlot()
		if slot == nil {
			break
		}

		callCtx, cancel := context.WithTimeout(ctx, p.timeout)
		text, err := p.generate(callCtx, slot.key, p.model, prompt, schema)
		cancel()

		if err == nil {
			return text, nil
		}

		if isQuotaError(err) {
			p.markExhausted(slot)
			oplog.Logf("[Planner] Quota exhausted, rotating API key (%d slots configured)", len(p.slots))
			time.Sleep(p.backoff)
			continue
		}
		if isInvalidRequestError(err) {
			return "", fmt.Errorf("%w: %v", repo.ErrInvalidRequest, err)
		}
		return "", fmt.Errorf("inference call: %w", err)
	}

	return "", fmt.Errorf("%w: all %d API keys are rate limited; wait and retry, add GOOGLE_API_KEY_BACKUP keys, or upgrade quota", repo.ErrQuotaExceeded, len(p.slots))
}

// acquireSlot returns the next slot not currently cooling down, or nil.
func (p *geminiPlanner) acquireSlot() *credentialSlot {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	for i := 0; i < len(p.slots); i++ {
		slot := p.slots[(p.next+i)%len(p.slots)]
		if slot.exhaustedUntil.After(now) {
			continue
		}
		p.next = (p.next + i + 1) % len(p.slots)
		return slot
	}
	return nil
}

func (p *geminiPlanner) markExhausted(slot *credentialSlot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	slot.exhaustedUntil = time.Now().Add(p.cooldown)
}

func (p *geminiPlanner) buildPrompt(in *repo.PlannerInput) (string, error) {
	type promptMessage struct {
		TS       string `json:"ts"`
		Channel  string `json:"channel"`
		User     string `json:"user"`
		Text     string `json:"text"`
		ThreadTS string `json:"thread_ts,omitempty"`
		Triggers string `json:"triggers"`
	}

	msgs := make([]promptMessage, 0, len(in.Matches))
	for _, m := range in.Matches {
		reasons := make([]string, 0, len(m.Reasons))
		for _, r := range m.Reasons {
			reasons = append(reasons, string(r))
		}
		msgs = append(msgs, promptMessage{
			TS:       m.Message.ID,
			Channel:  m.Message.ChannelID,
			User:     m.Message.SenderID,
			Text:     m.Message.Text,
			ThreadTS: m.Message.ThreadID,
			Triggers: strings.Join(reasons, ","),
		})
	}
	msgsJSON, err := json.MarshalIndent(msgs, "", "  ")
	if err != nil {
		return "", err
	}

	now := in.Now
	if p.loc != nil {
		now = now.In(p.loc)
	}

	return fmt.Sprintf(`You are a PM agent assistant running in daemon mode.

Current Time: %s
Project Context:
%s

TASK:
1. ANALYZE: read the messages below.
2. THINK: use the thought_process field to write out your plan (user intent, context check, tool selection).
3. ACT: generate the actions array.

Messages: %s

USER DIRECTORY:
- %s: the operator (authorized for all actions)
- %s: you (the bot)

RULES:
1. Always set trigger_user_id to the user who sent the triggering message.
2. Never generate a question back to the user or channel that triggered this analysis. Answer from context instead, or state what is missing in your reply.
3. Never mention or tag the bot itself in outbound text.
4. When replying to a threaded message, carry the same thread_id.
5. Check the project context before asking anyone for information.
6. Do not invent user IDs.
7. For schedule_message, time_iso must be an RFC 3339 timestamp in the operator's timezone.
8. For update_context_section, section_title must match an existing heading in the project context; set append to true to add to the section instead of replacing it.
9. Prefer draft_reply for direct answers to the triggering user; do not add a separate confirmation message for reminders or context updates.

CONFIDENCE: simple clear requests >= 0.9, moderate >= 0.8, ambiguous < 0.8.`,
		now.Format("2006-01-02 15:04:05 MST"), in.ContextDoc, string(msgsJSON), p.operatorUserID, p.botUserID), nil
}

// parsePlanResponse parses schema-enforced output, falling back to stripping
// markdown fences. A fallback parse failure yields nil, never an error.
func parsePlanResponse(text string) *planResponse {
	var resp planResponse
	if err := json.Unmarshal([]byte(text), &resp); err == nil {
		return &resp
	}

	stripped := strings.TrimSpace(text)
	stripped = strings.TrimPrefix(stripped, "```json")
	stripped = strings.TrimPrefix(stripped, "```")
	stripped = strings.TrimSuffix(stripped, "```")
	stripped = strings.TrimSpace(stripped)

	if err := json.Unmarshal([]byte(stripped), &resp); err != nil {
		oplog.Logf("[Planner] Unparseable model output, returning no actions: %v", err)
		return nil
	}
	return &resp
}

func isQuotaError(err error) bool {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests
	}
	msg := err.Error()
	return strings.Contains(msg, "RESOURCE_EXHAUSTED") || strings.Contains(msg, "429")
}

func isInvalidRequestError(err error) bool {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusBadRequest
	}
	return false
}

// defaultGenerate performs a real Gemini call with the given key.
func defaultGenerate(ctx context.Context, apiKey, model, prompt string, schema *genai.Schema) (string, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return "", fmt.Errorf("create client: %w", err)
	}

	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](0.3),
	}
	if schema != nil {
		cfg.ResponseMIMEType = "application/json"
		cfg.ResponseSchema = schema
	}

	resp, err := client.Models.GenerateContent(ctx, model, genai.Text(prompt), cfg)
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}
