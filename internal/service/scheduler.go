package service

import (
	"context"
	"sync"
	"time"

	"github.com/mohitkumawat/realpm/internal/conf"
	"github.com/mohitkumawat/realpm/internal/data"
	"github.com/mohitkumawat/realpm/internal/oplog"
)

// Scheduler owns the background loops: channel polling, action execution,
// queue cleanup, and daily reports.
type Scheduler struct {
	pipeline *Pipeline
	executor *Executor
	repos    *data.Repositories

	pollInterval    time.Duration
	executeInterval time.Duration
	cleanupInterval time.Duration
	morningHour     int
	eveningHour     int
	loc             *time.Location

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates the background scheduler
func NewScheduler(cfg *conf.Config, pipeline *Pipeline, executor *Executor, repos *data.Repositories) *Scheduler {
	return &Scheduler{
		pipeline:        pipeline,
		executor:        executor,
		repos:           repos,
		pollInterval:    cfg.Pipeline.PollInterval,
		executeInterval: cfg.Pipeline.ExecuteInterval,
		cleanupInterval: cfg.Pipeline.CleanupInterval,
		morningHour:     cfg.Pipeline.MorningHour,
		eveningHour:     cfg.Pipeline.EveningHour,
		loc:             cfg.Location(),
	}
}

// Start launches the pipeline worker and all periodic loops.
func (s *Scheduler) Start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel

	s.wg.Add(5)
	go func() {
		defer s.wg.Done()
		s.pipeline.Run(ctx)
	}()
	go s.pollLoop(ctx)
	go s.executeLoop(ctx)
	go s.cleanupLoop(ctx)
	go s.reportLoop(ctx)

	oplog.Logf("[Scheduler] Started (poll %s, execute %s, cleanup %s)",
		s.pollInterval, s.executeInterval, s.cleanupInterval)
}

// Stop cancels all loops and waits for them to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	oplog.Logf("[Scheduler] Stopped")
}

func (s *Scheduler) pollLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	// First scan right away, not one interval in.
	s.pipeline.Trigger("poll", nil)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pipeline.Trigger("poll", nil)
		}
	}
}

func (s *Scheduler) executeLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.executeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.executor.Tick(ctx)
		}
	}
}

func (s *Scheduler) cleanupLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.repos.Queue.Cleanup(ctx, time.Now())
			if err != nil {
				oplog.Logf("[Scheduler] Queue cleanup failed: %v", err)
				continue
			}
			if n > 0 {
				oplog.Logf("[Scheduler] Queue cleanup removed %d actions", n)
			}
		}
	}
}

// reportLoop checks once a minute whether a daily report window has opened.
// The sent_reports ledger makes the check idempotent, which also gives
// catch-up on restart: starting at 11:00 with a 10:00 morning slot still
// sends the morning report once.
func (s *Scheduler) reportLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	s.checkReports(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.checkReports(ctx)
		}
	}
}

func (s *Scheduler) checkReports(ctx context.Context) {
	hour := time.Now().In(s.loc).Hour()
	if hour >= s.morningHour {
		s.pipeline.RunDailyReport(ctx, "morning")
	}
	if hour >= s.eveningHour {
		s.pipeline.RunDailyReport(ctx, "evening")
	}
}
