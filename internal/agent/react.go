package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"friday/internal/llm"
	"friday/internal/metrics"
	"friday/internal/trace"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

const DefaultMaxSteps = 5

type RunnerOption func(*ReactRunner)

func WithSystemPrompt(s string) RunnerOption {
	return func(r *ReactRunner) { r.systemPrompt = s }
}

// WithMaxSteps bounds the number of model calls per run. Values below one
// are ignored.
func WithMaxSteps(n int) RunnerOption {
	return func(r *ReactRunner) {
		if n > 0 {
			r.maxSteps = n
		}
	}
}

func WithRecorder(rec Recorder) RunnerOption {
	return func(r *ReactRunner) { r.recorder = rec }
}

func WithMetrics(m *metrics.Metrics) RunnerOption {
	return func(r *ReactRunner) { r.metrics = m }
}

func WithName(name string) RunnerOption {
	return func(r *ReactRunner) { r.name = name }
}

// ReactRunner implements a ReAct (Reason + Act) loop. Each step is one model
// stream; tool calls requested by a step are executed and their results fed
// into the next step. The loop ends when a step requests no tools, the step
// ceiling is reached, or the context is cancelled.
type ReactRunner struct {
	name         string
	provider     llm.Provider
	registry     *Registry
	tools        []llm.ToolSpec
	systemPrompt string
	maxSteps     int
	recorder     Recorder
	metrics      *metrics.Metrics
}

func NewReactRunner(provider llm.Provider, registry *Registry, opts ...RunnerOption) (*ReactRunner, error) {
	if registry == nil {
		registry = NewRegistry()
	}
	r := &ReactRunner{
		name:     "default",
		provider: provider,
		registry: registry.Traced(),
		maxSteps: DefaultMaxSteps,
	}
	for _, opt := range opts {
		opt(r)
	}

	tools, err := registry.Specs()
	if err != nil {
		return nil, err
	}
	r.tools = tools
	return r, nil
}

func (r *ReactRunner) Run(ctx context.Context, messages []llm.Message, emit func(Event)) error {
	ctx, span := trace.Tracer().Start(ctx, "agent.run",
		oteltrace.WithAttributes(
			attribute.String("gen_ai.agent.name", r.name),
			attribute.String("gen_ai.request.model", r.provider.Model()),
			attribute.String("request.id", RequestIDFromContext(ctx)),
			attribute.Int("agent.max_steps", r.maxSteps),
			attribute.Int("agent.tools", len(r.tools)),
		),
	)
	defer span.End()

	input := make([]llm.Message, 0, len(messages)+1)
	if r.systemPrompt != "" {
		input = append(input, llm.Message{Role: llm.RoleSystem, Content: []llm.Part{llm.TextPart(r.systemPrompt)}})
	}
	input = append(input, messages...)

	steps, reason, err := r.loop(ctx, input, emit)
	span.SetAttributes(attribute.Int("agent.steps", steps))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		emit(Event{Type: EventError, Data: err.Error()})
		return err
	}

	emit(Event{Type: EventDone, Data: Done{Steps: steps, FinishReason: reason}})
	return nil
}

func (r *ReactRunner) loop(ctx context.Context, input []llm.Message, emit func(Event)) (int, llm.FinishReason, error) {
	for step := 1; ; step++ {
		if err := ctx.Err(); err != nil {
			return step - 1, "", err
		}

		emit(Event{Type: EventStepStart, Data: StepStart{Step: step}})
		r.metrics.IncStep(r.name)

		out, err := r.think(ctx, step, input, emit)
		if err != nil {
			return step, "", err
		}
		input = append(input, out.message())

		if len(out.calls) > 0 {
			input = append(input, r.act(ctx, step, out.calls, emit)...)
		}

		emit(Event{Type: EventStepFinish, Data: StepFinish{Step: step, FinishReason: out.reason, Usage: out.usage}})

		if len(out.calls) == 0 || step >= r.maxSteps {
			if len(out.calls) > 0 {
				slog.Debug("agent: step ceiling reached", "agent", r.name, "steps", step)
			}
			return step, out.reason, nil
		}
	}
}

type stepOutput struct {
	text   strings.Builder
	calls  []llm.ToolCall
	reason llm.FinishReason
	usage  llm.Usage
}

func (o *stepOutput) message() llm.Message {
	msg := llm.Message{Role: llm.RoleAssistant, ToolCalls: o.calls}
	if o.text.Len() > 0 {
		msg.Content = []llm.Part{llm.TextPart(o.text.String())}
	}
	return msg
}

// think runs one model stream, forwarding text as it arrives.
func (r *ReactRunner) think(ctx context.Context, step int, input []llm.Message, emit func(Event)) (*stepOutput, error) {
	ctx, span := trace.Tracer().Start(ctx, "llm.stream",
		oteltrace.WithAttributes(
			attribute.String("gen_ai.system", r.provider.Name()),
			attribute.Int("llm.step", step),
			attribute.Int("llm.input_messages", len(input)),
		),
	)
	defer span.End()

	stream := r.provider.Stream(ctx, llm.Request{Messages: input, Tools: r.tools})
	defer stream.Close()

	out := &stepOutput{}
	for stream.Next() {
		c := stream.Current()
		switch c.Type {
		case llm.ChunkTextDelta:
			if c.Text == "" {
				continue
			}
			out.text.WriteString(c.Text)
			emit(Event{Type: EventToken, Data: c.Text})
		case llm.ChunkToolCall:
			if c.ToolCall != nil {
				out.calls = append(out.calls, *c.ToolCall)
			}
		case llm.ChunkFinish:
			out.reason = c.FinishReason
			out.usage = c.Usage
		}
	}
	if err := stream.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if out.reason == "" {
		out.reason = llm.FinishStop
		if len(out.calls) > 0 {
			out.reason = llm.FinishToolCalls
		}
	}
	span.SetAttributes(
		attribute.String("llm.finish_reason", string(out.reason)),
		attribute.Int("llm.tool_calls", len(out.calls)),
		attribute.Int64("llm.input_tokens", out.usage.InputTokens),
		attribute.Int64("llm.output_tokens", out.usage.OutputTokens),
	)
	r.metrics.AddTokens(r.provider.Name(), out.usage.InputTokens, out.usage.OutputTokens)
	return out, nil
}

// act executes tool calls in parallel and returns their results as tool
// messages. Events for inputs and results are emitted in call order.
func (r *ReactRunner) act(ctx context.Context, step int, calls []llm.ToolCall, emit func(Event)) []llm.Message {
	for _, call := range calls {
		emit(Event{Type: EventToolCall, Data: ToolCall{ID: call.ID, Name: call.Name, Input: rawArguments(call.Arguments)}})
	}

	type result struct {
		output json.RawMessage
		isErr  bool
	}
	results := make([]result, len(calls))

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call llm.ToolCall) {
			defer wg.Done()
			start := time.Now()
			output, isErr := r.registry.Call(ctx, call)
			results[i] = result{output: output, isErr: isErr}
			r.metrics.IncToolCall(call.Name, !isErr)
			r.record(ctx, ToolInvocation{
				RequestID: RequestIDFromContext(ctx),
				Route:     r.name,
				Step:      step,
				CallID:    call.ID,
				Tool:      call.Name,
				Input:     rawArguments(call.Arguments),
				Output:    output,
				IsError:   isErr,
				Duration:  time.Since(start),
			})
		}(i, call)
	}
	wg.Wait()

	msgs := make([]llm.Message, 0, len(calls))
	for i, call := range calls {
		res := results[i]
		ev := ToolResult{ID: call.ID, Name: call.Name}
		if res.isErr {
			ev.IsError = true
			ev.ErrorText = errorText(res.output)
		} else {
			ev.Output = res.output
		}
		emit(Event{Type: EventToolResult, Data: ev})
		msgs = append(msgs, llm.Message{
			Role:       llm.RoleTool,
			ToolCallID: call.ID,
			Content:    []llm.Part{llm.TextPart(string(res.output))},
		})
	}
	return msgs
}

func (r *ReactRunner) record(ctx context.Context, inv ToolInvocation) {
	if r.recorder == nil {
		return
	}
	if err := r.recorder.RecordToolCall(ctx, inv); err != nil {
		slog.Warn("failed to record tool call", "tool", inv.Tool, "call_id", inv.CallID, "error", err)
	}
}

// rawArguments returns the model's arguments as JSON. Arguments that are
// not valid JSON are passed on as a JSON string.
func rawArguments(args string) json.RawMessage {
	if args == "" {
		return json.RawMessage("{}")
	}
	if json.Valid([]byte(args)) {
		return json.RawMessage(args)
	}
	b, _ := json.Marshal(args)
	return b
}

func errorText(output json.RawMessage) string {
	var v struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(output, &v); err != nil || v.Error == "" {
		return string(output)
	}
	return v.Error
}
