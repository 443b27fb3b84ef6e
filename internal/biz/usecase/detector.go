package usecase

import (
	"context"
	"strings"
	"time"

	"github.com/mohitkumawat/realpm/internal/biz/domain"
	"github.com/mohitkumawat/realpm/internal/biz/repo"
	"github.com/mohitkumawat/realpm/internal/oplog"
)

// TriggerDetector scans monitored channels for messages matching any of the
// configured triggers and returns a deduplicated candidate set.
type TriggerDetector struct {
	messageRepo    repo.MessageRepo
	botUserID      string
	operatorUserID string
	keywords       []string
	lookback       time.Duration
	maxMessages    int
}

// NewTriggerDetector creates a new trigger detector
func NewTriggerDetector(
	messageRepo repo.MessageRepo,
	botUserID string,
	operatorUserID string,
	keywords []string,
	lookback time.Duration,
	maxMessages int,
) *TriggerDetector {
	return &TriggerDetector{
		messageRepo:    messageRepo,
		botUserID:      botUserID,
		operatorUserID: operatorUserID,
		keywords:       keywords,
		lookback:       lookback,
		maxMessages:    maxMessages,
	}
}

// Detect scans all given channels. An inaccessible channel is skipped with a
// log line; the scan never aborts as a whole.
func (d *TriggerDetector) Detect(ctx context.Context, channelIDs []string) []domain.TriggerMatch {
	var all []domain.TriggerMatch
	seen := make(map[string]int) // message ID -> index in all

	for _, channelID := range channelIDs {
		matches, err := d.DetectChannel(ctx, channelID)
		if err != nil {
			oplog.Logf("[Detector] Skipping channel %s: %v", channelID, err)
			continue
		}
		for _, m := range matches {
			if idx, ok := seen[m.Message.ID]; ok {
				for _, r := range m.Reasons {
					all[idx].AddReason(r)
				}
				continue
			}
			seen[m.Message.ID] = len(all)
			all = append(all, m)
		}
	}
	return all
}

// DetectChannel scans a single channel over the lookback window.
func (d *TriggerDetector) DetectChannel(ctx context.Context, channelID string) ([]domain.TriggerMatch, error) {
	since := time.Now().Add(-d.lookback)
	messages, err := d.messageRepo.FetchRecent(ctx, channelID, since, d.maxMessages)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]int)
	var matches []domain.TriggerMatch

	for _, msg := range messages {
		// The bot's own messages are excluded before any trigger is
		// evaluated. Evaluating triggers first and filtering the bot
		// afterward caused the bot to answer itself.
		if msg.SenderID == d.botUserID {
			continue
		}

		for _, reason := range d.evaluate(msg) {
			idx, ok := byID[msg.ID]
			if !ok {
				idx = len(matches)
				byID[msg.ID] = idx
				matches = append(matches, domain.TriggerMatch{Message: msg})
			}
			matches[idx].AddReason(reason)
		}
	}
	return matches, nil
}

// evaluate returns every trigger the message matches. Triggers are
// independent; the caller unions them by message ID.
func (d *TriggerDetector) evaluate(msg domain.Message) []domain.TriggerReason {
	var reasons []domain.TriggerReason

	if d.botUserID != "" && strings.Contains(msg.Text, "<@"+d.botUserID+">") {
		reasons = append(reasons, domain.TriggerBotMention)
	}
	if d.operatorUserID != "" && strings.Contains(msg.Text, "<@"+d.operatorUserID+">") {
		reasons = append(reasons, domain.TriggerOperatorMention)
	}

	lower := strings.ToLower(msg.Text)
	for _, kw := range d.keywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			reasons = append(reasons, domain.TriggerKeyword)
			break
		}
	}
	return reasons
}
