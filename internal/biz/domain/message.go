package domain

// Message is one inbound unit from a Slack channel. Immutable once fetched.
type Message struct {
	ID        string // Slack message timestamp, unique within a channel
	ChannelID string
	SenderID  string
	Text      string
	ThreadID  string // thread_ts, empty when the message is not in a thread
}

// TriggerReason identifies which detection condition flagged a message.
type TriggerReason string

const (
	TriggerBotMention      TriggerReason = "bot_mention"
	TriggerOperatorMention TriggerReason = "operator_mention"
	TriggerKeyword         TriggerReason = "keyword"
)

// TriggerMatch associates a message with the trigger conditions it matched.
// A message matching several triggers collapses to a single TriggerMatch.
type TriggerMatch struct {
	Message Message
	Reasons []TriggerReason
}

// AddReason records a match reason, ignoring duplicates.
func (m *TriggerMatch) AddReason(r TriggerReason) {
	for _, existing := range m.Reasons {
		if existing == r {
			return
		}
	}
	m.Reasons = append(m.Reasons, r)
}

// HasReason reports whether the match includes the given reason.
func (m *TriggerMatch) HasReason(r TriggerReason) bool {
	for _, existing := range m.Reasons {
		if existing == r {
			return true
		}
	}
	return false
}

// KeywordOnly reports whether the message matched a keyword but no mention.
func (m *TriggerMatch) KeywordOnly() bool {
	return m.HasReason(TriggerKeyword) &&
		!m.HasReason(TriggerBotMention) &&
		!m.HasReason(TriggerOperatorMention)
}
