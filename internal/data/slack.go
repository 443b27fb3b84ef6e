package data

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/slack-go/slack"

	"github.com/mohitkumawat/realpm/internal/biz/domain"
	"github.com/mohitkumawat/realpm/internal/biz/repo"
)

// slackRepo implements the message store adapter on the Slack Web API.
type slackRepo struct {
	api *slack.Client
}

// NewSlackRepo creates a Slack-backed message repository
func NewSlackRepo(api *slack.Client) repo.MessageRepo {
	return &slackRepo{api: api}
}

// FetchRecent returns up to limit messages newer than since, oldest first.
func (r *slackRepo) FetchRecent(ctx context.Context, channelID string, since time.Time, limit int) ([]domain.Message, error) {
	resp, err := r.api.GetConversationHistoryContext(ctx, &slack.GetConversationHistoryParameters{
		ChannelID: channelID,
		Oldest:    fmt.Sprintf("%d.000000", since.Unix()),
		Limit:     limit,
	})
	if err != nil {
		return nil, mapSlackError(err)
	}

	// Slack returns newest first; the pipeline wants chronological order.
	messages := make([]domain.Message, 0, len(resp.Messages))
	for i := len(resp.Messages) - 1; i >= 0; i-- {
		m := resp.Messages[i]
		threadID := ""
		if m.ThreadTimestamp != "" && m.ThreadTimestamp != m.Timestamp {
			threadID = m.ThreadTimestamp
		}
		messages = append(messages, domain.Message{
			ID:        m.Timestamp,
			ChannelID: channelID,
			SenderID:  m.User,
			Text:      m.Text,
			ThreadID:  threadID,
		})
	}
	return messages, nil
}

// Send delivers text immediately, optionally inside a thread.
func (r *slackRepo) Send(ctx context.Context, channelID, text, threadID string) (string, error) {
	opts := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if threadID != "" {
		opts = append(opts, slack.MsgOptionTS(threadID))
	}
	_, ts, err := r.api.PostMessageContext(ctx, channelID, opts...)
	if err != nil {
		return "", mapSlackError(err)
	}
	return ts, nil
}

// Schedule queues text for delivery at a future time.
func (r *slackRepo) Schedule(ctx context.Context, channelID, text string, at time.Time) (string, error) {
	postAt := strconv.FormatInt(at.Unix(), 10)
	_, scheduledID, err := r.api.ScheduleMessageContext(ctx, channelID, postAt, slack.MsgOptionText(text, false))
	if err != nil {
		return "", mapSlackError(err)
	}
	return scheduledID, nil
}

// mapSlackError folds the Slack error codes into the boundary taxonomy so
// callers can distinguish "skip this channel" from "fix your credentials".
func mapSlackError(err error) error {
	switch err.Error() {
	case "channel_not_found", "not_in_channel", "is_archived", "channel_is_archived":
		return fmt.Errorf("%w: %v", repo.ErrChannelInaccessible, err)
	case "invalid_auth", "account_inactive", "token_revoked", "token_expired", "not_authed":
		return fmt.Errorf("%w: %v", repo.ErrCredentialInvalid, err)
	}
	return err
}
