package llm

import "strings"

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

type PartType string

const (
	PartText  PartType = "text"
	PartImage PartType = "image"
)

// Part is one piece of message content. Image parts carry a URL, which may be
// a data: URL.
type Part struct {
	Type      PartType
	Text      string
	URL       string
	MediaType string
}

func TextPart(s string) Part { return Part{Type: PartText, Text: s} }

// Message is the provider-neutral message schema every backend translates
// from. Assistant messages may carry tool calls; tool messages answer one
// call by ID.
type Message struct {
	Role       Role
	Content    []Part
	ToolCalls  []ToolCall
	ToolCallID string
}

// Text concatenates the text parts of the message.
func (m Message) Text() string {
	var b strings.Builder
	for _, p := range m.Content {
		if p.Type == PartText {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

func (m Message) hasImages() bool {
	for _, p := range m.Content {
		if p.Type == PartImage {
			return true
		}
	}
	return false
}

type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// ToolSpec describes a tool to the backend. Parameters is a JSON schema
// object.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any
}

type Request struct {
	Messages []Message
	Tools    []ToolSpec
}

type ChunkType string

const (
	ChunkTextDelta ChunkType = "text-delta"
	ChunkToolCall  ChunkType = "tool-call"
	ChunkFinish    ChunkType = "finish"
)

type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishToolCalls FinishReason = "tool-calls"
	FinishLength    FinishReason = "length"
	FinishOther     FinishReason = "other"
)

type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// Chunk is one unit of backend output. A stream yields any number of text
// deltas and tool calls, then exactly one finish chunk.
type Chunk struct {
	Type         ChunkType
	Text         string
	ToolCall     *ToolCall
	FinishReason FinishReason
	Usage        Usage
}
