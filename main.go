package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/slack-go/slack"

	"github.com/mohitkumawat/realpm/internal/conf"
	"github.com/mohitkumawat/realpm/internal/data"
	"github.com/mohitkumawat/realpm/internal/oplog"
	"github.com/mohitkumawat/realpm/internal/server"
	"github.com/mohitkumawat/realpm/internal/service"
)

func main() {
	// Load .env file if present
	if err := godotenv.Load(); err == nil {
		oplog.Logf("[Main] Loaded .env file")
	}

	cfg := conf.LoadFromEnv()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	api := slack.New(cfg.Slack.BotToken, slack.OptionDebug(cfg.Debug))

	// Resolve our own user ID when not configured; the detector and loop
	// guard cannot work without it.
	if cfg.Slack.BotUserID == "" {
		authCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		auth, err := api.AuthTestContext(authCtx)
		cancel()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Slack auth test failed: %v\n", err)
			os.Exit(1)
		}
		cfg.Slack.BotUserID = auth.UserID
		oplog.Logf("[Main] Resolved bot user ID: %s", auth.UserID)
	}

	repos, err := data.NewRepositories(cfg, api)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize data layer: %v\n", err)
		os.Exit(1)
	}
	defer repos.Close()

	tracker := service.NewTracker()
	pipeline := service.NewPipeline(cfg, repos, tracker)
	executor := service.NewExecutor(cfg, repos, tracker)
	scheduler := service.NewScheduler(cfg, pipeline, executor, repos)

	httpServer := server.NewHTTPServer(cfg.Port, repos, pipeline, tracker)
	httpServer.Start()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scheduler.Start(ctx)
	oplog.Logf("[Main] Agent running: %d channels, model %s, port %d",
		len(cfg.Slack.Channels), cfg.Gemini.Model, cfg.Port)

	<-ctx.Done()
	oplog.Logf("[Main] Shutting down...")

	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		oplog.Logf("[Main] HTTP shutdown error: %v", err)
	}
	oplog.Logf("[Main] Goodbye")
}
