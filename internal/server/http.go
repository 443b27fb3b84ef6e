package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/slack-go/slack/slackevents"

	"github.com/mohitkumawat/realpm/internal/data"
	"github.com/mohitkumawat/realpm/internal/oplog"
	"github.com/mohitkumawat/realpm/internal/service"
)

// HTTPServer exposes the operator dashboard API and the Slack events
// webhook.
type HTTPServer struct {
	server   *http.Server
	repos    *data.Repositories
	pipeline *service.Pipeline
	tracker  *service.Tracker
}

// NewHTTPServer creates the dashboard/webhook server
func NewHTTPServer(port int, repos *data.Repositories, pipeline *service.Pipeline, tracker *service.Tracker) *HTTPServer {
	s := &HTTPServer{
		repos:    repos,
		pipeline: pipeline,
		tracker:  tracker,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/api/actions", s.handleActions)
	mux.HandleFunc("/api/actions/", s.handleActionDecision)
	mux.HandleFunc("/api/log", s.handleLog)
	mux.HandleFunc("/api/counters", s.handleCounters)
	mux.HandleFunc("/api/context", s.handleContext)
	mux.HandleFunc("/slack/events", s.handleSlackEvents)

	// Bound to all interfaces: Slack must reach the events webhook.
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	return s
}

// Start begins serving in a background goroutine.
func (s *HTTPServer) Start() {
	go func() {
		oplog.Logf("[Server] Listening on %s", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			oplog.Logf("[Server] Serve error: %v", err)
		}
	}()
}

// Shutdown stops the server gracefully.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	state, detail, updated := s.tracker.Snapshot()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"state":        state,
		"detail":       detail,
		"last_updated": updated.Format(time.RFC3339),
	})
}

func (s *HTTPServer) handleActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actions, err := s.repos.Queue.List(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"actions": actions})
}

// handleActionDecision serves POST /api/actions/{id}/approve and
// POST /api/actions/{id}/reject.
func (s *HTTPServer) handleActionDecision(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/actions/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	id, verb := parts[0], parts[1]

	var err error
	switch verb {
	case "approve":
		err = s.repos.Queue.Approve(r.Context(), id)
	case "reject":
		err = s.repos.Queue.Reject(r.Context(), id)
	default:
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}

	oplog.Logf("[Server] Operator %sd action %s", verb, id)
	if a, getErr := s.repos.Queue.Get(r.Context(), id); getErr == nil && a != nil && verb == "approve" {
		if logErr := s.repos.Ledger.LogDecision(r.Context(), string(a.Type), true, "operator approved"); logErr != nil {
			oplog.Logf("[Server] Failed to log decision: %v", logErr)
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "result": verb + "d"})
}

func (s *HTTPServer) handleLog(w http.ResponseWriter, r *http.Request) {
	n := 50
	if v := r.URL.Query().Get("n"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			n = parsed
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"lines": oplog.Tail(n)})
}

func (s *HTTPServer) handleCounters(w http.ResponseWriter, r *http.Request) {
	executed, decisions, err := s.repos.Ledger.Counters(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{
		"actions_executed": executed,
		"decisions_logged": decisions,
	})
}

func (s *HTTPServer) handleContext(w http.ResponseWriter, r *http.Request) {
	doc, err := s.repos.Context.Read()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, doc)
}

// handleSlackEvents is the Slack Events API endpoint. URL verification is
// answered with the challenge; app_mention events acknowledge immediately
// and hand the channel to the pipeline, which re-reads it through the same
// path the poller uses.
func (s *HTTPServer) handleSlackEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	event, err := slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken())
	if err != nil {
		oplog.Logf("[Server] Unparseable Slack event: %v", err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	switch event.Type {
	case slackevents.URLVerification:
		var challenge slackevents.ChallengeResponse
		if err := json.Unmarshal(body, &challenge); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		io.WriteString(w, challenge.Challenge)

	case slackevents.CallbackEvent:
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
		if ev, ok := event.InnerEvent.Data.(*slackevents.AppMentionEvent); ok {
			oplog.Logf("[Server] Webhook mention in %s", ev.Channel)
			s.pipeline.Trigger("webhook", []string{ev.Channel})
		}

	default:
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		oplog.Logf("[Server] Failed to encode response: %v", err)
	}
}
