// Package history persists an audit log of tool invocations. The request path
// only writes to it; reads serve operators and tests.
package history

import (
	"context"
	"encoding/json"
	"time"

	"friday/internal/agent"
	"friday/internal/db"
)

type Store struct {
	q *db.Queries
}

func NewStore(database *db.DB) *Store {
	return &Store{q: db.New(database.Conn())}
}

// RecordToolCall implements agent.Recorder.
func (s *Store) RecordToolCall(ctx context.Context, inv agent.ToolInvocation) error {
	// Record even when the client went away mid-step.
	ctx = context.WithoutCancel(ctx)
	return s.q.InsertToolCall(ctx, db.InsertToolCallParams{
		RequestID:  inv.RequestID,
		Route:      inv.Route,
		Step:       int64(inv.Step),
		CallID:     inv.CallID,
		Tool:       inv.Tool,
		Input:      string(inv.Input),
		Output:     string(inv.Output),
		IsError:    inv.IsError,
		DurationMs: inv.Duration.Milliseconds(),
	})
}

// ToolCalls returns the invocations made while serving one request, in
// step order.
func (s *Store) ToolCalls(ctx context.Context, requestID string) ([]agent.ToolInvocation, error) {
	rows, err := s.q.GetToolCallsByRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	return toInvocations(rows), nil
}

// Recent returns up to limit invocations, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]agent.ToolInvocation, error) {
	rows, err := s.q.ListRecentToolCalls(ctx, int64(limit))
	if err != nil {
		return nil, err
	}
	return toInvocations(rows), nil
}

func toInvocations(rows []db.ToolCall) []agent.ToolInvocation {
	out := make([]agent.ToolInvocation, 0, len(rows))
	for _, r := range rows {
		out = append(out, agent.ToolInvocation{
			RequestID: r.RequestID,
			Route:     r.Route,
			Step:      int(r.Step),
			CallID:    r.CallID,
			Tool:      r.Tool,
			Input:     json.RawMessage(r.Input),
			Output:    json.RawMessage(r.Output),
			IsError:   r.IsError,
			Duration:  time.Duration(r.DurationMs) * time.Millisecond,
		})
	}
	return out
}
