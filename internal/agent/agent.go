package agent

import (
	"context"
	"encoding/json"

	"friday/internal/llm"
)

type EventType string

const (
	EventStepStart  EventType = "step_start"
	EventToken      EventType = "token"
	EventToolCall   EventType = "tool_call"
	EventToolResult EventType = "tool_result"
	EventStepFinish EventType = "step_finish"
	EventDone       EventType = "done"
	EventError      EventType = "error"
)

// Event is emitted by a Runner while it works. Data holds one of the payload
// types below, or a string for EventToken and EventError.
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

type StepStart struct {
	Step int `json:"step"`
}

type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult carries either Output or, when IsError is set, ErrorText.
type ToolResult struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Output    json.RawMessage `json:"output,omitempty"`
	IsError   bool            `json:"isError,omitempty"`
	ErrorText string          `json:"errorText,omitempty"`
}

type StepFinish struct {
	Step         int              `json:"step"`
	FinishReason llm.FinishReason `json:"finishReason"`
	Usage        llm.Usage        `json:"usage"`
}

type Done struct {
	Steps        int              `json:"steps"`
	FinishReason llm.FinishReason `json:"finishReason"`
}

// Runner drives a conversation against a model. Events are emitted in order
// from the calling goroutine.
type Runner interface {
	Run(ctx context.Context, messages []llm.Message, emit func(Event)) error
}
