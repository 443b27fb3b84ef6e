package service

import (
	"sync"
	"time"
)

// AgentState is the coarse activity state shown on the dashboard.
type AgentState string

const (
	StateIdle      AgentState = "IDLE"
	StateThinking  AgentState = "THINKING"
	StateExecuting AgentState = "EXECUTING"
)

// Tracker holds the current agent state for the dashboard.
type Tracker struct {
	mu          sync.Mutex
	state       AgentState
	detail      string
	lastUpdated time.Time
}

// NewTracker creates a tracker starting in IDLE.
func NewTracker() *Tracker {
	return &Tracker{state: StateIdle, lastUpdated: time.Now()}
}

// Set updates the current state and detail line.
func (t *Tracker) Set(state AgentState, detail string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = state
	t.detail = detail
	t.lastUpdated = time.Now()
}

// Snapshot returns the current state, detail, and update time.
func (t *Tracker) Snapshot() (AgentState, string, time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state, t.detail, t.lastUpdated
}
