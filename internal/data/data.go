package data

import (
	"fmt"

	"github.com/slack-go/slack"

	"github.com/mohitkumawat/realpm/internal/biz/repo"
	"github.com/mohitkumawat/realpm/internal/conf"
)

// Repositories bundles every data-layer implementation behind the biz
// boundary interfaces.
type Repositories struct {
	Messages repo.MessageRepo
	Planner  repo.PlannerRepo
	Queue    repo.QueueRepo
	Ledger   repo.LedgerRepo
	Context  repo.ContextRepo
	Filter   repo.FilterRepo // nil when no filter key is configured
}

// NewRepositories wires the concrete data layer from configuration.
func NewRepositories(cfg *conf.Config, api *slack.Client) (*Repositories, error) {
	queue, err := NewQueueRepo(cfg.QueueDBPath)
	if err != nil {
		return nil, fmt.Errorf("queue store: %w", err)
	}

	ledger, err := NewLedgerRepo(cfg.MemoryDBPath)
	if err != nil {
		queue.Close()
		return nil, fmt.Errorf("ledger store: %w", err)
	}

	return &Repositories{
		Messages: NewSlackRepo(api),
		Planner: NewGeminiPlanner(
			cfg.Gemini.APIKeys, cfg.Gemini.Model, cfg.Gemini.Cooldown,
			cfg.Slack.BotUserID, cfg.Slack.OperatorUserID, cfg.Location(),
		),
		Queue:   queue,
		Ledger:  ledger,
		Context: NewContextDoc(cfg.ContextDocPath),
		Filter:  NewRelevanceFilter(cfg.Filter.APIKey, cfg.Filter.BaseURL, cfg.Filter.Model, cfg.Slack.BotName),
	}, nil
}

// Close releases the database-backed stores.
func (r *Repositories) Close() {
	if r.Queue != nil {
		r.Queue.Close()
	}
	if r.Ledger != nil {
		r.Ledger.Close()
	}
}
