package usecase

import (
	"strings"

	"github.com/mohitkumawat/realpm/internal/biz/domain"
	"github.com/mohitkumawat/realpm/internal/oplog"
)

// LoopGuard is the safety rule chain that keeps the agent from addressing
// itself. Rules run in order; each can drop or mutate an action.
type LoopGuard struct {
	botUserID      string
	botName        string
	operatorUserID string
}

// NewLoopGuard creates a new loop guard
func NewLoopGuard(botUserID, botName, operatorUserID string) *LoopGuard {
	return &LoopGuard{
		botUserID:      botUserID,
		botName:        botName,
		operatorUserID: operatorUserID,
	}
}

// Apply filters and corrects a batch of proposed actions against the set of
// triggering messages that produced them.
func (g *LoopGuard) Apply(actions []*domain.Action, matches []domain.TriggerMatch) []*domain.Action {
	triggerUsers := make(map[string]bool)
	triggerChannels := make(map[string]bool)
	for _, m := range matches {
		if m.Message.SenderID != "" {
			triggerUsers[m.Message.SenderID] = true
		}
		if m.Message.ChannelID != "" {
			triggerChannels[m.Message.ChannelID] = true
		}
	}

	var kept []*domain.Action
	for _, a := range actions {
		if a.Type != domain.ActionSendMessage && a.Type != domain.ActionDraftReply && a.Type != domain.ActionScheduleMessage {
			kept = append(kept, a)
			continue
		}

		target := a.Data.TargetChannelID
		text := a.Data.MessageText
		isQuestion := strings.Contains(text, "?")

		// Rule 1: never ask a clarifying question back to whoever just
		// asked us something.
		if isQuestion && (triggerUsers[target] || triggerChannels[target]) {
			g.logDrop("self-questioning", a, triggerUsers)
			continue
		}

		// Rule 2: stricter form of rule 1 for the operator. No outbound
		// question may land in the operator's own DM when the operator
		// triggered the analysis.
		if isQuestion && g.operatorUserID != "" && target == g.operatorUserID && triggerUsers[g.operatorUserID] {
			g.logDrop("operator clarification", a, triggerUsers)
			continue
		}

		// Rule 3: no message that tags the bot itself.
		if g.botUserID != "" && strings.Contains(text, "<@"+g.botUserID+">") {
			g.logDrop("self-tag", a, triggerUsers)
			continue
		}
		if g.botName != "" && strings.Contains(text, "@"+g.botName) {
			g.logDrop("self-tag (name)", a, triggerUsers)
			continue
		}

		// Rule 4: backfill thread linkage so replies land in the right
		// thread instead of the channel root.
		if a.Data.ThreadID == "" {
			for _, m := range matches {
				if m.Message.ChannelID != target {
					continue
				}
				threadID := m.Message.ThreadID
				if threadID == "" {
					threadID = m.Message.ID
				}
				a.Data.ThreadID = threadID
				oplog.Logf("[LoopGuard] Backfilled thread %s on action to %s", threadID, target)
				break
			}
		}

		kept = append(kept, a)
	}
	return kept
}

func (g *LoopGuard) logDrop(rule string, a *domain.Action, triggerUsers map[string]bool) {
	users := make([]string, 0, len(triggerUsers))
	for u := range triggerUsers {
		users = append(users, u)
	}
	oplog.Logf("[LoopGuard] BLOCKED %s action to %s: %q (triggered by %s)",
		rule, a.Data.TargetChannelID, a.TextPreview(50), strings.Join(users, ","))
}
