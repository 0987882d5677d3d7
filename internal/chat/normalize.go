package chat

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"friday/internal/llm"
)

// Normalize maps UI messages onto the provider-neutral schema. It does not
// modify msgs. Parts without model content (step markers, sources, data
// parts) are skipped; parts with no backend equivalent fail with
// ErrUnsupportedMessagePart.
func Normalize(msgs []Message) ([]llm.Message, error) {
	out := make([]llm.Message, 0, len(msgs))
	for i, m := range msgs {
		converted, err := normalizeMessage(m)
		if err != nil {
			return nil, fmt.Errorf("messages[%d]: %w", i, err)
		}
		out = append(out, converted...)
	}
	return out, nil
}

func normalizeMessage(m Message) ([]llm.Message, error) {
	switch m.Role {
	case RoleSystem:
		text, err := joinText(m)
		if err != nil {
			return nil, err
		}
		if text == "" {
			return nil, nil
		}
		return []llm.Message{{Role: llm.RoleSystem, Content: []llm.Part{llm.TextPart(text)}}}, nil
	case RoleUser:
		return normalizeUser(m)
	case RoleAssistant:
		return normalizeAssistant(m)
	case RoleTool:
		text, err := joinText(m)
		if err != nil {
			return nil, err
		}
		return []llm.Message{{Role: llm.RoleTool, ToolCallID: m.ToolCallID, Content: []llm.Part{llm.TextPart(text)}}}, nil
	default:
		return nil, fmt.Errorf("%w: role %q", ErrMalformedInput, m.Role)
	}
}

func joinText(m Message) (string, error) {
	if len(m.Parts) == 0 {
		return m.Text, nil
	}
	var texts []string
	for _, p := range m.Parts {
		switch {
		case p.Type == PartText:
			texts = append(texts, p.Text)
		case skippable(p):
		default:
			return "", unsupported(m.Role, p)
		}
	}
	return strings.Join(texts, "\n"), nil
}

func normalizeUser(m Message) ([]llm.Message, error) {
	if len(m.Parts) == 0 {
		if m.Text == "" {
			return nil, nil
		}
		return []llm.Message{{Role: llm.RoleUser, Content: []llm.Part{llm.TextPart(m.Text)}}}, nil
	}

	var content []llm.Part
	for _, p := range m.Parts {
		switch {
		case p.Type == PartText:
			content = append(content, llm.TextPart(p.Text))
		case p.Type == PartFile && strings.HasPrefix(p.MediaType, "image/"):
			content = append(content, llm.Part{Type: llm.PartImage, URL: p.URL, MediaType: p.MediaType})
		case skippable(p):
		default:
			return nil, unsupported(m.Role, p)
		}
	}
	if len(content) == 0 {
		return nil, nil
	}
	return []llm.Message{{Role: llm.RoleUser, Content: content}}, nil
}

// normalizeAssistant splits the message at step boundaries. Each step becomes
// an assistant message followed by one tool message per completed call.
func normalizeAssistant(m Message) ([]llm.Message, error) {
	if len(m.Parts) == 0 {
		if m.Text == "" {
			return nil, nil
		}
		return []llm.Message{{Role: llm.RoleAssistant, Content: []llm.Part{llm.TextPart(m.Text)}}}, nil
	}

	var (
		out     []llm.Message
		text    strings.Builder
		calls   []llm.ToolCall
		results []llm.Message
	)
	flush := func() {
		if text.Len() > 0 || len(calls) > 0 {
			msg := llm.Message{Role: llm.RoleAssistant, ToolCalls: calls}
			if text.Len() > 0 {
				msg.Content = []llm.Part{llm.TextPart(text.String())}
			}
			out = append(out, msg)
			out = append(out, results...)
		}
		text.Reset()
		calls, results = nil, nil
	}

	for _, p := range m.Parts {
		switch {
		case p.Type == PartStepStart:
			flush()
		case p.Type == PartText:
			text.WriteString(p.Text)
		case p.Type == PartReasoning:
			// neither backend accepts reasoning as input
		case p.IsTool():
			call, result, ok := toolExchange(p)
			if !ok {
				continue
			}
			calls = append(calls, call)
			results = append(results, result)
		case skippable(p):
		default:
			return nil, unsupported(m.Role, p)
		}
	}
	flush()
	return out, nil
}

// toolExchange converts a finished tool part into the call and its result.
// Calls still waiting for input or output are dropped.
func toolExchange(p Part) (llm.ToolCall, llm.Message, bool) {
	var output string
	switch p.State {
	case StateOutputAvailable:
		output = rawOrNull(p.Output)
	case StateOutputError:
		b, _ := json.Marshal(map[string]string{"error": p.ErrorText})
		output = string(b)
	default:
		return llm.ToolCall{}, llm.Message{}, false
	}

	args := rawOrNull(p.Input)
	if args == "null" {
		args = "{}"
	}
	call := llm.ToolCall{ID: p.ToolCallID, Name: p.Tool(), Arguments: args}
	result := llm.Message{
		Role:       llm.RoleTool,
		ToolCallID: p.ToolCallID,
		Content:    []llm.Part{llm.TextPart(output)},
	}
	return call, result, true
}

func rawOrNull(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "null"
	}
	return string(raw)
}

func skippable(p Part) bool {
	switch p.Type {
	case PartStepStart, PartSourceURL, PartSourceDocument:
		return true
	}
	return p.isData()
}

func unsupported(role Role, p Part) error {
	if p.Type == PartFile {
		return fmt.Errorf("%w: %s file with media type %q", ErrUnsupportedMessagePart, role, p.MediaType)
	}
	return fmt.Errorf("%w: %s part %q", ErrUnsupportedMessagePart, role, p.Type)
}
