package llm

import (
	"context"
	"errors"
	"net/http"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/ssestream"
	"github.com/openai/openai-go/v3/responses"
	"github.com/openai/openai-go/v3/shared"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// ResponsesProvider streams completions from an OpenAI-compatible Responses
// API endpoint.
type ResponsesProvider struct {
	name    string
	client  *openai.Client
	model   string
	reqOpts []option.RequestOption
}

// NewResponses builds a provider for baseURL. Keys of extraBody are merged
// into every request body.
func NewResponses(name, baseURL, apiKey, model string, extraBody map[string]any) *ResponsesProvider {
	opts := []option.RequestOption{option.WithMaxRetries(0)}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	opts = append(opts, option.WithHTTPClient(&http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}))
	client := openai.NewClient(opts...)

	var reqOpts []option.RequestOption
	for k, v := range extraBody {
		reqOpts = append(reqOpts, option.WithJSONSet(k, v))
	}
	return &ResponsesProvider{name: name, client: &client, model: model, reqOpts: reqOpts}
}

func (o *ResponsesProvider) Name() string  { return o.name }
func (o *ResponsesProvider) Model() string { return o.model }

func (o *ResponsesProvider) Stream(ctx context.Context, req Request) Stream {
	params := responses.ResponseNewParams{
		Model: shared.ResponsesModel(o.model),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: toResponsesInput(req.Messages),
		},
		Tools: toResponsesTools(req.Tools),
	}
	return &responsesStream{ctx: ctx, provider: o, params: params}
}

type responsesStream struct {
	ctx      context.Context
	provider *ResponsesProvider
	params   responses.ResponseNewParams

	raw     *ssestream.Stream[responses.ResponseStreamEventUnion]
	pending []Chunk
	cur     Chunk
	done    bool
	err     error
}

func (s *responsesStream) Next() bool {
	if len(s.pending) > 0 {
		s.cur, s.pending = s.pending[0], s.pending[1:]
		return true
	}
	if s.done || s.err != nil {
		return false
	}
	if s.raw == nil {
		p := s.provider
		s.raw = p.client.Responses.NewStreaming(s.ctx, s.params, p.reqOpts...)
	}

	for s.raw.Next() {
		event := s.raw.Current()

		switch event.Type {
		case "response.output_text.delta":
			if event.Delta != "" {
				s.cur = Chunk{Type: ChunkTextDelta, Text: event.Delta}
				return true
			}
		case "response.completed", "response.incomplete":
			s.done = true
			s.pending = completedChunks(&event.Response, event.Type == "response.incomplete")
			return s.Next()
		case "response.failed":
			msg := event.Response.Error.Message
			if msg == "" {
				msg = "response failed"
			}
			s.err = upstreamError(s.provider.name, errors.New(msg))
			return false
		}
	}

	if err := s.raw.Err(); err != nil {
		s.err = upstreamError(s.provider.name, err)
		return false
	}
	s.err = upstreamError(s.provider.name, errors.New("stream ended before the response completed"))
	return false
}

func (s *responsesStream) Current() Chunk { return s.cur }
func (s *responsesStream) Err() error     { return s.err }

func (s *responsesStream) Close() error {
	if s.raw == nil {
		return nil
	}
	return s.raw.Close()
}

// completedChunks turns the final response into tool-call chunks followed by
// the finish chunk.
func completedChunks(resp *responses.Response, incomplete bool) []Chunk {
	var chunks []Chunk
	for _, item := range resp.Output {
		if item.Type != "function_call" {
			continue
		}
		fc := item.AsFunctionCall()
		chunks = append(chunks, Chunk{
			Type: ChunkToolCall,
			ToolCall: &ToolCall{
				ID:        fc.CallID,
				Name:      fc.Name,
				Arguments: fc.Arguments,
			},
		})
	}

	reason := FinishStop
	switch {
	case incomplete:
		reason = FinishLength
	case len(chunks) > 0:
		reason = FinishToolCalls
	}
	return append(chunks, Chunk{
		Type:         ChunkFinish,
		FinishReason: reason,
		Usage: Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		},
	})
}

func toResponsesInput(msgs []Message) []responses.ResponseInputItemUnionParam {
	var items []responses.ResponseInputItemUnionParam
	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			items = append(items, responses.ResponseInputItemParamOfMessage(m.Text(), responses.EasyInputMessageRoleSystem))
		case RoleUser:
			if m.hasImages() {
				items = append(items, responses.ResponseInputItemParamOfMessage(toResponsesContent(m.Content), responses.EasyInputMessageRoleUser))
				continue
			}
			items = append(items, responses.ResponseInputItemParamOfMessage(m.Text(), responses.EasyInputMessageRoleUser))
		case RoleAssistant:
			if text := m.Text(); text != "" {
				items = append(items, responses.ResponseInputItemParamOfMessage(text, responses.EasyInputMessageRoleAssistant))
			}
			for _, tc := range m.ToolCalls {
				items = append(items, responses.ResponseInputItemUnionParam{
					OfFunctionCall: &responses.ResponseFunctionToolCallParam{
						Arguments: tc.Arguments,
						CallID:    tc.ID,
						Name:      tc.Name,
					},
				})
			}
		case RoleTool:
			items = append(items, responses.ResponseInputItemParamOfFunctionCallOutput(m.ToolCallID, m.Text()))
		}
	}
	return items
}

func toResponsesContent(parts []Part) responses.ResponseInputMessageContentListParam {
	content := make(responses.ResponseInputMessageContentListParam, 0, len(parts))
	for _, p := range parts {
		switch p.Type {
		case PartText:
			content = append(content, responses.ResponseInputContentUnionParam{
				OfInputText: &responses.ResponseInputTextParam{Text: p.Text},
			})
		case PartImage:
			content = append(content, responses.ResponseInputContentUnionParam{
				OfInputImage: &responses.ResponseInputImageParam{
					Detail:   responses.ResponseInputImageDetailAuto,
					ImageURL: openai.String(p.URL),
				},
			})
		}
	}
	return content
}

func toResponsesTools(specs []ToolSpec) []responses.ToolUnionParam {
	if len(specs) == 0 {
		return nil
	}
	tools := make([]responses.ToolUnionParam, 0, len(specs))
	for _, t := range specs {
		tools = append(tools, responses.ToolUnionParam{
			OfFunction: &responses.FunctionToolParam{
				Name:        t.Name,
				Description: openai.String(t.Description),
				Parameters:  t.Parameters,
				Strict:      openai.Bool(true),
			},
		})
	}
	return tools
}
