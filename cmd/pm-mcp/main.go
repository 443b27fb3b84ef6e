// Command pm-mcp exposes the running agent's approval surface as MCP tools
// over stdio, so an MCP-capable client (e.g. an editor assistant) can list,
// approve, and reject queued actions. It talks to the daemon's HTTP API.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

var apiBase = func() string {
	if v := os.Getenv("PM_API_URL"); v != "" {
		return v
	}
	return "http://127.0.0.1:10000"
}()

var httpClient = &http.Client{Timeout: 15 * time.Second}

func main() {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "pm-tools",
		Version: "v1.0.0",
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "pm_list_actions",
		Description: "List the agent's queued actions with their status (PENDING, APPROVED, EXECUTED, ...).",
	}, handleListActions)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "pm_approve_action",
		Description: "Approve a PENDING action by ID so the executor runs it.",
	}, handleApproveAction)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "pm_reject_action",
		Description: "Reject a PENDING action by ID. Rejected actions are logged and never executed.",
	}, handleRejectAction)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "pm_agent_status",
		Description: "Get the agent's current state (IDLE, THINKING, EXECUTING) and recent log lines.",
	}, handleAgentStatus)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "pm_read_context",
		Description: "Read the shared project context document the agent plans from.",
	}, handleReadContext)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil {
		fmt.Fprintf(os.Stderr, "pm-mcp: %v\n", err)
		os.Exit(1)
	}
}

// ListActionsInput optionally filters by status
type ListActionsInput struct {
	Status string `json:"status,omitempty" jsonschema:"description=Filter by status (PENDING, APPROVED, REJECTED, EXECUTED, FAILED). Empty for all."`
}

// ListActionsOutput contains the queued actions as returned by the daemon
type ListActionsOutput struct {
	Actions []json.RawMessage `json:"actions"`
	Error   string            `json:"error,omitempty"`
}

func handleListActions(ctx context.Context, req *mcp.CallToolRequest, input ListActionsInput) (*mcp.CallToolResult, ListActionsOutput, error) {
	var resp struct {
		Actions []json.RawMessage `json:"actions"`
	}
	if err := apiGet(ctx, "/api/actions", &resp); err != nil {
		return nil, ListActionsOutput{Error: err.Error()}, nil
	}

	if input.Status == "" {
		return nil, ListActionsOutput{Actions: resp.Actions}, nil
	}

	var filtered []json.RawMessage
	for _, raw := range resp.Actions {
		var a struct {
			Status string `json:"status"`
		}
		if json.Unmarshal(raw, &a) == nil && a.Status == input.Status {
			filtered = append(filtered, raw)
		}
	}
	return nil, ListActionsOutput{Actions: filtered}, nil
}

// DecideActionInput names the action to approve or reject
type DecideActionInput struct {
	ActionID string `json:"action_id" jsonschema:"description=The ID of the queued action"`
}

// DecideActionOutput is the decision result
type DecideActionOutput struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func handleApproveAction(ctx context.Context, req *mcp.CallToolRequest, input DecideActionInput) (*mcp.CallToolResult, DecideActionOutput, error) {
	if err := apiPost(ctx, "/api/actions/"+input.ActionID+"/approve"); err != nil {
		return nil, DecideActionOutput{Success: false, Error: err.Error()}, nil
	}
	return nil, DecideActionOutput{Success: true}, nil
}

func handleRejectAction(ctx context.Context, req *mcp.CallToolRequest, input DecideActionInput) (*mcp.CallToolResult, DecideActionOutput, error) {
	if err := apiPost(ctx, "/api/actions/"+input.ActionID+"/reject"); err != nil {
		return nil, DecideActionOutput{Success: false, Error: err.Error()}, nil
	}
	return nil, DecideActionOutput{Success: true}, nil
}

// AgentStatusInput is empty - no input needed
type AgentStatusInput struct{}

// AgentStatusOutput is the agent state plus a log tail
type AgentStatusOutput struct {
	State       string   `json:"state,omitempty"`
	Detail      string   `json:"detail,omitempty"`
	LastUpdated string   `json:"last_updated,omitempty"`
	Log         []string `json:"log,omitempty"`
	Error       string   `json:"error,omitempty"`
}

func handleAgentStatus(ctx context.Context, req *mcp.CallToolRequest, input AgentStatusInput) (*mcp.CallToolResult, AgentStatusOutput, error) {
	var status struct {
		State       string `json:"state"`
		Detail      string `json:"detail"`
		LastUpdated string `json:"last_updated"`
	}
	if err := apiGet(ctx, "/status", &status); err != nil {
		return nil, AgentStatusOutput{Error: err.Error()}, nil
	}

	var logResp struct {
		Lines []string `json:"lines"`
	}
	if err := apiGet(ctx, "/api/log?n=20", &logResp); err != nil {
		return nil, AgentStatusOutput{Error: err.Error()}, nil
	}

	return nil, AgentStatusOutput{
		State:       status.State,
		Detail:      status.Detail,
		LastUpdated: status.LastUpdated,
		Log:         logResp.Lines,
	}, nil
}

// ReadContextInput is empty - no input needed
type ReadContextInput struct{}

// ReadContextOutput carries the markdown document
type ReadContextOutput struct {
	Document string `json:"document,omitempty"`
	Error    string `json:"error,omitempty"`
}

func handleReadContext(ctx context.Context, req *mcp.CallToolRequest, input ReadContextInput) (*mcp.CallToolResult, ReadContextOutput, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, apiBase+"/api/context", nil)
	if err != nil {
		return nil, ReadContextOutput{Error: err.Error()}, nil
	}
	resp, err := httpClient.Do(httpReq)
	if err != nil {
		return nil, ReadContextOutput{Error: err.Error()}, nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, ReadContextOutput{Error: err.Error()}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, ReadContextOutput{Error: fmt.Sprintf("daemon returned %d: %s", resp.StatusCode, body)}, nil
	}
	return nil, ReadContextOutput{Document: string(body)}, nil
}

func apiGet(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiBase+path, nil)
	if err != nil {
		return err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("daemon unreachable at %s: %w", apiBase, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("daemon returned %d: %s", resp.StatusCode, body)
	}
	return json.Unmarshal(body, out)
}

func apiPost(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiBase+path, bytes.NewReader(nil))
	if err != nil {
		return err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("daemon unreachable at %s: %w", apiBase, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("daemon returned %d: %s", resp.StatusCode, body)
	}
	return nil
}
