// Package chat decodes UI chat requests and normalizes them into the
// provider-neutral message schema.
package chat

import (
	"encoding/json"
	"errors"
	"strings"
)

var (
	// ErrMalformedInput is returned when a request body is not valid JSON or
	// lacks a well-formed messages array.
	ErrMalformedInput = errors.New("malformed input")

	// ErrUnsupportedMessagePart is returned when a content part has no
	// backend equivalent.
	ErrUnsupportedMessagePart = errors.New("unsupported message part")
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

func (r Role) valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem, RoleTool:
		return true
	}
	return false
}

// Message is one UI message. Content is either a plain string (Text) or a
// list of parts; UI clients send parts.
type Message struct {
	ID         string         `json:"id,omitempty"`
	Role       Role           `json:"role"`
	Text       string         `json:"-"`
	Parts      []Part         `json:"parts,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	ToolCallID string         `json:"toolCallId,omitempty"`
}

// Part is a UI message part. Only the fields relevant to its Type are set.
type Part struct {
	Type string `json:"type"`

	// text, reasoning
	Text string `json:"text,omitempty"`

	// file
	MediaType string `json:"mediaType,omitempty"`
	URL       string `json:"url,omitempty"`
	Filename  string `json:"filename,omitempty"`

	// tool-<name>, dynamic-tool
	ToolName   string          `json:"toolName,omitempty"`
	ToolCallID string          `json:"toolCallId,omitempty"`
	State      string          `json:"state,omitempty"`
	Input      json.RawMessage `json:"input,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`
	ErrorText  string          `json:"errorText,omitempty"`
}

const (
	PartText           = "text"
	PartReasoning      = "reasoning"
	PartFile           = "file"
	PartStepStart      = "step-start"
	PartSourceURL      = "source-url"
	PartSourceDocument = "source-document"
	PartDynamicTool    = "dynamic-tool"

	toolPartPrefix = "tool-"
	dataPartPrefix = "data-"
)

// Tool part states.
const (
	StateInputStreaming  = "input-streaming"
	StateInputAvailable  = "input-available"
	StateOutputAvailable = "output-available"
	StateOutputError     = "output-error"
)

// IsTool reports whether p is a tool invocation part.
func (p Part) IsTool() bool {
	return p.Type == PartDynamicTool || strings.HasPrefix(p.Type, toolPartPrefix)
}

// Tool returns the name of the invoked tool for tool parts.
func (p Part) Tool() string {
	if p.Type == PartDynamicTool {
		return p.ToolName
	}
	return strings.TrimPrefix(p.Type, toolPartPrefix)
}

func (p Part) isData() bool {
	return strings.HasPrefix(p.Type, dataPartPrefix)
}
