package agent

import (
	"context"
	"encoding/json"
	"time"
)

// ToolInvocation describes one executed tool call.
type ToolInvocation struct {
	RequestID string
	Route     string
	Step      int
	CallID    string
	Tool      string
	Input     json.RawMessage
	Output    json.RawMessage
	IsError   bool
	Duration  time.Duration
}

// Recorder receives every tool invocation after it completes. Errors are
// logged and never fail the request.
type Recorder interface {
	RecordToolCall(ctx context.Context, inv ToolInvocation) error
}
