package domain

import (
	"fmt"
	"time"
)

// ActionType enumerates the side effects the agent can propose.
type ActionType string

const (
	ActionSendMessage          ActionType = "send_message"
	ActionScheduleMessage      ActionType = "schedule_message"
	ActionUpdateContextSection ActionType = "update_context_section"
	ActionDraftReply           ActionType = "draft_reply"
)

// Valid reports whether the type is one of the known action types.
func (t ActionType) Valid() bool {
	switch t {
	case ActionSendMessage, ActionScheduleMessage, ActionUpdateContextSection, ActionDraftReply:
		return true
	}
	return false
}

// ActionStatus is the lifecycle state of an action.
type ActionStatus string

const (
	StatusPending        ActionStatus = "PENDING"
	StatusApproved       ActionStatus = "APPROVED"
	StatusRejected       ActionStatus = "REJECTED"
	StatusExecuted       ActionStatus = "EXECUTED"
	StatusFailed         ActionStatus = "FAILED"
	StatusRejectedLogged ActionStatus = "REJECTED_LOGGED"
)

// Terminal reports whether the status admits no further transitions.
func (s ActionStatus) Terminal() bool {
	switch s {
	case StatusExecuted, StatusFailed, StatusRejectedLogged:
		return true
	}
	return false
}

// CanTransition reports whether the state machine allows from -> to.
// PENDING -> {APPROVED, REJECTED}; APPROVED -> {EXECUTED, FAILED};
// REJECTED -> REJECTED_LOGGED.
func CanTransition(from, to ActionStatus) bool {
	switch from {
	case StatusPending:
		return to == StatusApproved || to == StatusRejected
	case StatusApproved:
		return to == StatusExecuted || to == StatusFailed
	case StatusRejected:
		return to == StatusRejectedLogged
	}
	return false
}

// ActionData is the type-specific payload of an action. Which fields are
// required depends on the action type; see Action.ValidateData.
type ActionData struct {
	TargetChannelID string   `json:"target_channel_id,omitempty"`
	TargetUserIDs   []string `json:"target_user_ids,omitempty"`
	MessageText     string   `json:"message_text,omitempty"`
	ThreadID        string   `json:"thread_id,omitempty"`
	TimeISO         string   `json:"time_iso,omitempty"`
	SectionTitle    string   `json:"section_title,omitempty"`
	Content         string   `json:"content,omitempty"`
	Append          bool     `json:"append,omitempty"`
}

// Action is a proposed side effect awaiting or having received approval.
type Action struct {
	ID            string       `json:"id"`
	Type          ActionType   `json:"action_type"`
	Reasoning     string       `json:"reasoning"`
	Confidence    float64      `json:"confidence"`
	TriggerUserID string       `json:"trigger_user_id,omitempty"`
	Data          ActionData   `json:"data"`
	Status        ActionStatus `json:"status"`
	IsProactive   bool         `json:"is_proactive,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	ExecutedAt    time.Time    `json:"executed_at,omitempty"`
	Result        string       `json:"result,omitempty"`
	Error         string       `json:"error,omitempty"`
}

// ValidateData checks the required-field set for the action's type. An action
// whose data fails validation must not leave PENDING.
func (a *Action) ValidateData() error {
	switch a.Type {
	case ActionSendMessage, ActionDraftReply:
		if a.Data.TargetChannelID == "" {
			return fmt.Errorf("%s: missing target_channel_id", a.Type)
		}
		if a.Data.MessageText == "" {
			return fmt.Errorf("%s: missing message_text", a.Type)
		}
	case ActionScheduleMessage:
		if a.Data.TargetChannelID == "" {
			return fmt.Errorf("%s: missing target_channel_id", a.Type)
		}
		if a.Data.MessageText == "" {
			return fmt.Errorf("%s: missing message_text", a.Type)
		}
		if a.Data.TimeISO == "" {
			return fmt.Errorf("%s: missing time_iso", a.Type)
		}
	case ActionUpdateContextSection:
		if a.Data.SectionTitle == "" {
			return fmt.Errorf("%s: missing section_title", a.Type)
		}
		if a.Data.Content == "" {
			return fmt.Errorf("%s: missing content", a.Type)
		}
	default:
		return fmt.Errorf("unknown action type: %q", a.Type)
	}
	return nil
}

// TextPreview returns a truncated view of the action's outbound text for logs.
func (a *Action) TextPreview(n int) string {
	text := a.Data.MessageText
	if text == "" {
		text = a.Data.Content
	}
	if len(text) <= n {
		return text
	}
	return text[:n] + "..."
}
