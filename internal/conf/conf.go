package conf

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration
type Config struct {
	// Slack configuration
	Slack SlackConfig

	// Gemini configuration
	Gemini GeminiConfig

	// Relevance filter configuration (optional)
	Filter FilterConfig

	// Pipeline configuration
	Pipeline PipelineConfig

	// HTTP server port (dashboard + webhook)
	Port int

	// Shared project-state document
	ContextDocPath string

	// Database paths
	QueueDBPath  string
	MemoryDBPath string

	// Debug mode
	Debug bool
}

// SlackConfig contains Slack configuration
type SlackConfig struct {
	BotToken       string
	BotUserID      string
	BotName        string
	OperatorUserID string
	Channels       []string // monitored channel IDs
}

// GeminiConfig contains Gemini configuration
type GeminiConfig struct {
	APIKeys  []string // primary first, backups after
	Model    string
	Cooldown time.Duration // per-key cool-down after a quota error
}

// FilterConfig contains the OpenAI-compatible relevance filter configuration
type FilterConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// PipelineConfig contains trigger/scheduling configuration
type PipelineConfig struct {
	Keywords        []string
	LookbackHours   int
	MaxMessages     int
	PollInterval    time.Duration
	ExecuteInterval time.Duration
	CleanupInterval time.Duration
	Timezone        string // operator's timezone
	MorningHour     int    // daily morning report hour, operator TZ
	EveningHour     int    // daily evening report hour, operator TZ
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() *Config {
	// Gemini keys: primary plus backups
	var keys []string
	if k := os.Getenv("GOOGLE_API_KEY"); k != "" {
		keys = append(keys, k)
	}
	if k := os.Getenv("GOOGLE_API_KEY_BACKUP"); k != "" {
		keys = append(keys, k)
	}
	for i := 2; ; i++ {
		k := os.Getenv("GOOGLE_API_KEY_BACKUP" + strconv.Itoa(i))
		if k == "" {
			break
		}
		keys = append(keys, k)
	}

	model := os.Getenv("GEMINI_MODEL")
	if model == "" {
		model = "gemini-2.0-flash"
	}

	botName := os.Getenv("BOT_NAME")
	if botName == "" {
		botName = "The Real PM"
	}

	tz := os.Getenv("AGENT_TZ")
	if tz == "" {
		tz = "Asia/Kolkata"
	}

	memoryDBPath := os.Getenv("MEMORY_DB_PATH")
	if memoryDBPath == "" {
		homeDir, _ := os.UserHomeDir()
		memoryDBPath = filepath.Join(homeDir, ".realpm", "memory.db")
	}
	queueDBPath := os.Getenv("QUEUE_DB_PATH")
	if queueDBPath == "" {
		queueDBPath = filepath.Join(filepath.Dir(memoryDBPath), "queue.db")
	}

	contextDocPath := os.Getenv("CONTEXT_DOC_PATH")
	if contextDocPath == "" {
		contextDocPath = "context.md"
	}

	return &Config{
		Slack: SlackConfig{
			BotToken:       os.Getenv("SLACK_BOT_TOKEN"),
			BotUserID:      os.Getenv("SLACK_BOT_USER_ID"),
			BotName:        botName,
			OperatorUserID: os.Getenv("SLACK_USER_ID"),
			Channels:       strings.Fields(os.Getenv("SLACK_CHANNELS")),
		},
		Gemini: GeminiConfig{
			APIKeys:  keys,
			Model:    model,
			Cooldown: time.Duration(envInt("GEMINI_COOLDOWN_MINUTES", 5)) * time.Minute,
		},
		Filter: FilterConfig{
			APIKey:  os.Getenv("FILTER_API_KEY"),
			BaseURL: os.Getenv("FILTER_BASE_URL"),
			Model:   os.Getenv("FILTER_MODEL"),
		},
		Pipeline: PipelineConfig{
			Keywords:        splitCSV(os.Getenv("TRIGGER_KEYWORDS")),
			LookbackHours:   envInt("LOOKBACK_HOURS", 24),
			MaxMessages:     envInt("MAX_MESSAGES", 100),
			PollInterval:    time.Duration(envInt("POLL_SECONDS", 30)) * time.Second,
			ExecuteInterval: time.Duration(envInt("EXECUTE_SECONDS", 10)) * time.Second,
			CleanupInterval: time.Duration(envInt("CLEANUP_MINUTES", 60)) * time.Minute,
			Timezone:        tz,
			MorningHour:     envInt("MORNING_REPORT_HOUR", 10),
			EveningHour:     envInt("EVENING_REPORT_HOUR", 18),
		},
		Port:           envInt("PORT", 10000),
		ContextDocPath: contextDocPath,
		QueueDBPath:    queueDBPath,
		MemoryDBPath:   memoryDBPath,
		Debug:          os.Getenv("DEBUG") == "true",
	}
}

// Location resolves the operator's timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Pipeline.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Slack.BotToken == "" {
		return &ConfigError{Field: "SLACK_BOT_TOKEN", Message: "required"}
	}
	if c.Slack.OperatorUserID == "" {
		return &ConfigError{Field: "SLACK_USER_ID", Message: "required"}
	}
	if len(c.Slack.Channels) == 0 {
		return &ConfigError{Field: "SLACK_CHANNELS", Message: "at least one channel ID required"}
	}
	if len(c.Gemini.APIKeys) == 0 {
		return &ConfigError{Field: "GOOGLE_API_KEY", Message: "required"}
	}
	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Field + ": " + e.Message
}

func envInt(name string, def int) int {
	if val := os.Getenv(name); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
