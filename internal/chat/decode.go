package chat

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

type request struct {
	Messages json.RawMessage `json:"messages"`
}

type wireMessage struct {
	ID         string          `json:"id"`
	Role       Role            `json:"role"`
	Content    json.RawMessage `json:"content"`
	Parts      []Part          `json:"parts"`
	Metadata   map[string]any  `json:"metadata"`
	ToolCallID string          `json:"toolCallId"`
}

var null = []byte("null")

// Decode reads a {"messages": [...]} body. The returned list has the same
// length and order as the input array. All failures wrap ErrMalformedInput.
func Decode(r io.Reader) ([]Message, error) {
	var req request
	dec := json.NewDecoder(r)
	if err := dec.Decode(&req); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON body: %v", ErrMalformedInput, err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing data after JSON body", ErrMalformedInput)
	}
	if len(req.Messages) == 0 || bytes.Equal(req.Messages, null) {
		return nil, fmt.Errorf("%w: messages is required", ErrMalformedInput)
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(req.Messages, &raw); err != nil {
		return nil, fmt.Errorf("%w: messages must be an array", ErrMalformedInput)
	}

	msgs := make([]Message, 0, len(raw))
	for i, item := range raw {
		m, err := decodeMessage(item)
		if err != nil {
			return nil, fmt.Errorf("%w: messages[%d]: %v", ErrMalformedInput, i, err)
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

func decodeMessage(raw json.RawMessage) (Message, error) {
	var w wireMessage
	if err := json.Unmarshal(raw, &w); err != nil {
		return Message{}, fmt.Errorf("not a message object: %v", err)
	}
	if !w.Role.valid() {
		return Message{}, fmt.Errorf("unknown role %q", w.Role)
	}

	m := Message{
		ID:         w.ID,
		Role:       w.Role,
		Parts:      w.Parts,
		Metadata:   w.Metadata,
		ToolCallID: w.ToolCallID,
	}
	if len(w.Parts) > 0 || len(w.Content) == 0 || bytes.Equal(w.Content, null) {
		return m, nil
	}

	// content is either a string or a part array
	switch w.Content[0] {
	case '"':
		if err := json.Unmarshal(w.Content, &m.Text); err != nil {
			return Message{}, fmt.Errorf("content: %v", err)
		}
	case '[':
		if err := json.Unmarshal(w.Content, &m.Parts); err != nil {
			return Message{}, fmt.Errorf("content parts: %v", err)
		}
	default:
		return Message{}, fmt.Errorf("content must be a string or an array of parts")
	}
	return m, nil
}
