package llm

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sort"

	goopenai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// CompatibleProvider streams from a Chat Completions endpoint, the lowest
// common denominator among OpenAI-compatible vendors.
type CompatibleProvider struct {
	name   string
	client *goopenai.Client
	model  string
}

func NewCompatible(name, baseURL, apiKey, model string) *CompatibleProvider {
	cfg := goopenai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	cfg.HTTPClient = &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	return &CompatibleProvider{
		name:   name,
		client: goopenai.NewClientWithConfig(cfg),
		model:  model,
	}
}

func (c *CompatibleProvider) Name() string  { return c.name }
func (c *CompatibleProvider) Model() string { return c.model }

func (c *CompatibleProvider) Stream(ctx context.Context, req Request) Stream {
	return &compatibleStream{
		ctx:      ctx,
		provider: c,
		req: goopenai.ChatCompletionRequest{
			Model:    c.model,
			Messages: toChatMessages(req.Messages),
			Tools:    toChatTools(req.Tools),
			Stream:   true,
		},
		calls: make(map[int]*ToolCall),
	}
}

type compatibleStream struct {
	ctx      context.Context
	provider *CompatibleProvider
	req      goopenai.ChatCompletionRequest

	raw     *goopenai.ChatCompletionStream
	pending []Chunk
	cur     Chunk
	done    bool
	err     error

	// tool call fragments keyed by their index in the choice
	calls  map[int]*ToolCall
	finish goopenai.FinishReason
	usage  Usage
}

func (s *compatibleStream) Next() bool {
	if len(s.pending) > 0 {
		s.cur, s.pending = s.pending[0], s.pending[1:]
		return true
	}
	if s.done || s.err != nil {
		return false
	}
	if s.raw == nil {
		raw, err := s.provider.client.CreateChatCompletionStream(s.ctx, s.req)
		if err != nil {
			s.err = upstreamError(s.provider.name, err)
			return false
		}
		s.raw = raw
	}

	for {
		resp, err := s.raw.Recv()
		if errors.Is(err, io.EOF) {
			s.done = true
			s.pending = s.finalChunks()
			return s.Next()
		}
		if err != nil {
			s.err = upstreamError(s.provider.name, err)
			return false
		}

		if resp.Usage != nil {
			s.usage = Usage{
				InputTokens:  int64(resp.Usage.PromptTokens),
				OutputTokens: int64(resp.Usage.CompletionTokens),
			}
		}
		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]
		if choice.FinishReason != "" {
			s.finish = choice.FinishReason
		}
		s.collectToolCalls(choice.Delta.ToolCalls)

		if choice.Delta.Content != "" {
			s.cur = Chunk{Type: ChunkTextDelta, Text: choice.Delta.Content}
			return true
		}
	}
}

func (s *compatibleStream) collectToolCalls(deltas []goopenai.ToolCall) {
	for i, d := range deltas {
		idx := i
		if d.Index != nil {
			idx = *d.Index
		}
		call, ok := s.calls[idx]
		if !ok {
			call = &ToolCall{}
			s.calls[idx] = call
		}
		if d.ID != "" {
			call.ID = d.ID
		}
		if d.Function.Name != "" {
			call.Name = d.Function.Name
		}
		call.Arguments += d.Function.Arguments
	}
}

func (s *compatibleStream) finalChunks() []Chunk {
	indexes := make([]int, 0, len(s.calls))
	for idx := range s.calls {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	var chunks []Chunk
	for _, idx := range indexes {
		call := *s.calls[idx]
		if call.Arguments == "" {
			call.Arguments = "{}"
		}
		chunks = append(chunks, Chunk{Type: ChunkToolCall, ToolCall: &call})
	}

	reason := FinishStop
	switch {
	case len(chunks) > 0 || s.finish == goopenai.FinishReasonToolCalls:
		reason = FinishToolCalls
	case s.finish == goopenai.FinishReasonLength:
		reason = FinishLength
	case s.finish == goopenai.FinishReasonContentFilter:
		reason = FinishOther
	}
	return append(chunks, Chunk{Type: ChunkFinish, FinishReason: reason, Usage: s.usage})
}

func (s *compatibleStream) Current() Chunk { return s.cur }
func (s *compatibleStream) Err() error     { return s.err }

func (s *compatibleStream) Close() error {
	if s.raw == nil {
		return nil
	}
	return s.raw.Close()
}

func toChatMessages(msgs []Message) []goopenai.ChatCompletionMessage {
	out := make([]goopenai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			out = append(out, goopenai.ChatCompletionMessage{
				Role:    goopenai.ChatMessageRoleSystem,
				Content: m.Text(),
			})
		case RoleUser:
			msg := goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleUser}
			if m.hasImages() {
				msg.MultiContent = toChatParts(m.Content)
			} else {
				msg.Content = m.Text()
			}
			out = append(out, msg)
		case RoleAssistant:
			msg := goopenai.ChatCompletionMessage{
				Role:    goopenai.ChatMessageRoleAssistant,
				Content: m.Text(),
			}
			for _, tc := range m.ToolCalls {
				msg.ToolCalls = append(msg.ToolCalls, goopenai.ToolCall{
					ID:   tc.ID,
					Type: goopenai.ToolTypeFunction,
					Function: goopenai.FunctionCall{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				})
			}
			out = append(out, msg)
		case RoleTool:
			out = append(out, goopenai.ChatCompletionMessage{
				Role:       goopenai.ChatMessageRoleTool,
				Content:    m.Text(),
				ToolCallID: m.ToolCallID,
			})
		}
	}
	return out
}

func toChatParts(parts []Part) []goopenai.ChatMessagePart {
	out := make([]goopenai.ChatMessagePart, 0, len(parts))
	for _, p := range parts {
		switch p.Type {
		case PartText:
			out = append(out, goopenai.ChatMessagePart{
				Type: goopenai.ChatMessagePartTypeText,
				Text: p.Text,
			})
		case PartImage:
			out = append(out, goopenai.ChatMessagePart{
				Type: goopenai.ChatMessagePartTypeImageURL,
				ImageURL: &goopenai.ChatMessageImageURL{
					URL:    p.URL,
					Detail: goopenai.ImageURLDetailAuto,
				},
			})
		}
	}
	return out
}

func toChatTools(specs []ToolSpec) []goopenai.Tool {
	if len(specs) == 0 {
		return nil
	}
	tools := make([]goopenai.Tool, 0, len(specs))
	for _, t := range specs {
		tools = append(tools, goopenai.Tool{
			Type: goopenai.ToolTypeFunction,
			Function: &goopenai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return tools
}
