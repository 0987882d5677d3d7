package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"github.com/sashabaranov/go-openai/jsonschema"

	"friday/internal/llm"
)

type Tool interface {
	Name() string
	Description() string
	InputSchema() jsonschema.Definition
	// Execute runs the tool on input that already matched InputSchema. The
	// result is marshalled to JSON.
	Execute(ctx context.Context, input json.RawMessage) (any, error)
}

type Registry struct {
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

func (r *Registry) Register(t Tool) {
	r.tools[t.Name()] = t
}

func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// All returns the tools sorted by name.
func (r *Registry) All() []Tool {
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Scope returns a registry holding only the named tools. Unknown names are
// an error.
func (r *Registry) Scope(names []string) (*Registry, error) {
	scoped := NewRegistry()
	for _, name := range names {
		t, ok := r.tools[name]
		if !ok {
			return nil, fmt.Errorf("unknown tool: %s", name)
		}
		scoped.Register(t)
	}
	return scoped, nil
}

// Specs describes the registered tools to a provider.
func (r *Registry) Specs() ([]llm.ToolSpec, error) {
	var specs []llm.ToolSpec
	for _, t := range r.All() {
		params, err := schemaMap(t.InputSchema())
		if err != nil {
			return nil, fmt.Errorf("tool %s: %w", t.Name(), err)
		}
		specs = append(specs, llm.ToolSpec{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  params,
		})
	}
	return specs, nil
}

func schemaMap(def jsonschema.Definition) (map[string]any, error) {
	b, err := json.Marshal(def)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// Call validates the arguments of a model tool call and runs the tool. Every
// failure, including a panic inside the tool, is returned as a JSON error
// object with isErr set so the model can see it on the next step.
func (r *Registry) Call(ctx context.Context, call llm.ToolCall) (output json.RawMessage, isErr bool) {
	result, err := r.call(ctx, call)
	if err != nil {
		slog.Warn("tool call failed", "tool", call.Name, "call_id", call.ID, "error", err)
		return errorOutput(err), true
	}
	return result, false
}

func (r *Registry) call(ctx context.Context, call llm.ToolCall) (out json.RawMessage, err error) {
	t, ok := r.Get(call.Name)
	if !ok {
		return nil, fmt.Errorf("unknown tool: %s", call.Name)
	}

	args := []byte(call.Arguments)
	if len(args) == 0 {
		args = []byte("{}")
	}
	schema := t.InputSchema()
	var input json.RawMessage
	if err := jsonschema.VerifySchemaAndUnmarshal(schema, args, &input); err != nil {
		return nil, fmt.Errorf("invalid input for %s: %w", call.Name, err)
	}
	if err := checkClosedObject(schema, input); err != nil {
		return nil, fmt.Errorf("invalid input for %s: %w", call.Name, err)
	}

	defer func() {
		if p := recover(); p != nil {
			out, err = nil, fmt.Errorf("tool %s panicked: %v", call.Name, p)
		}
	}()

	result, err := t.Execute(ctx, input)
	if err != nil {
		return nil, err
	}
	return json.Marshal(result)
}

// checkClosedObject rejects keys outside Properties when the schema sets
// additionalProperties to false. VerifySchemaAndUnmarshal does not check it.
func checkClosedObject(schema jsonschema.Definition, input json.RawMessage) error {
	if open, ok := schema.AdditionalProperties.(bool); !ok || open {
		return nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(input, &fields); err != nil {
		return err
	}
	for key := range fields {
		if _, ok := schema.Properties[key]; !ok {
			return fmt.Errorf("unknown property %q", key)
		}
	}
	return nil
}

func errorOutput(err error) json.RawMessage {
	b, _ := json.Marshal(map[string]string{"error": err.Error()})
	return b
}
