package data

import (
	"context"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/mohitkumawat/realpm/internal/biz/repo"
	"github.com/mohitkumawat/realpm/internal/oplog"
)

// relevanceFilter answers YES/NO on whether a keyword-triggered message
// deserves a full planning pass. Backed by any OpenAI-compatible endpoint.
type relevanceFilter struct {
	client  *openai.Client
	model   string
	botName string
}

// NewRelevanceFilter creates a relevance filter, or nil when no key is
// configured (nil means "always respond").
func NewRelevanceFilter(apiKey, baseURL, model, botName string) repo.FilterRepo {
	if apiKey == "" {
		return nil
	}
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	if model == "" {
		model = openai.GPT4oMini
	}
	return &relevanceFilter{
		client:  openai.NewClientWithConfig(config),
		model:   model,
		botName: botName,
	}
}

// ShouldRespond determines if the message needs a response from the bot.
// Errors default to not responding (conservative).
func (f *relevanceFilter) ShouldRespond(ctx context.Context, message, history string) (bool, error) {
	systemPrompt := fmt.Sprintf(`You are a message filter that determines whether a Slack message needs a response from the PM assistant bot "%s".

Decision rules:
1. The message asks for project status, reminders, or PM help -> YES
2. The message is casual chat unrelated to the project -> NO
3. The message explicitly calls the bot -> YES
4. Uncertain -> NO

Reply only YES or NO.`, f.botName)

	userMsg := message
	if history != "" {
		userMsg = fmt.Sprintf("## Recent channel history\n%s\n\n## Message to evaluate\n%s", history, message)
	}

	callCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	resp, err := f.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model: f.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userMsg},
		},
		Temperature: 0.1,
		MaxTokens:   10,
	})
	if err != nil {
		oplog.Logf("[Filter] Relevance check failed, defaulting to NO: %v", err)
		return false, nil
	}
	if len(resp.Choices) == 0 {
		return false, nil
	}

	answer := strings.TrimSpace(resp.Choices[0].Message.Content)
	return strings.HasPrefix(strings.ToUpper(answer), "YES"), nil
}
