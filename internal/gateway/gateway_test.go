package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"friday/internal/agent"
	"friday/internal/db"
	"friday/internal/history"
	"friday/internal/llm"
	"friday/internal/metrics"
	"friday/internal/tools"
)

type stubProvider struct {
	mu      sync.Mutex
	scripts [][]llm.Chunk
	err     error
	calls   int
}

func (p *stubProvider) Name() string  { return "stub" }
func (p *stubProvider) Model() string { return "agent-model" }

func (p *stubProvider) Stream(ctx context.Context, req llm.Request) llm.Stream {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.calls
	p.calls++
	if len(p.scripts) == 0 {
		return &stubStream{err: p.err}
	}
	if i >= len(p.scripts) {
		i = len(p.scripts) - 1
	}
	return &stubStream{chunks: p.scripts[i], err: p.err}
}

func (p *stubProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// stubStream yields its chunks, then fails with err when set.
type stubStream struct {
	chunks []llm.Chunk
	pos    int
	err    error
}

func (s *stubStream) Next() bool {
	if s.pos >= len(s.chunks) {
		return false
	}
	s.pos++
	return true
}
func (s *stubStream) Current() llm.Chunk { return s.chunks[s.pos-1] }

func (s *stubStream) Err() error {
	if s.pos < len(s.chunks) {
		return nil
	}
	return s.err
}
func (s *stubStream) Close() error { return nil }

func textChunks(parts ...string) []llm.Chunk {
	var out []llm.Chunk
	for _, p := range parts {
		out = append(out, llm.Chunk{Type: llm.ChunkTextDelta, Text: p})
	}
	return append(out, llm.Chunk{Type: llm.ChunkFinish, FinishReason: llm.FinishStop})
}

// blockingProvider streams one text delta, then blocks until the request
// context is cancelled.
type blockingProvider struct {
	closed          atomic.Int32
	nextAfterCancel atomic.Int32
}

func (p *blockingProvider) Name() string  { return "blocking" }
func (p *blockingProvider) Model() string { return "agent-model" }

func (p *blockingProvider) Stream(ctx context.Context, _ llm.Request) llm.Stream {
	return &blockingStream{ctx: ctx, p: p}
}

type blockingStream struct {
	ctx  context.Context
	p    *blockingProvider
	sent bool
}

func (s *blockingStream) Next() bool {
	if s.ctx.Err() != nil {
		s.p.nextAfterCancel.Add(1)
		return false
	}
	if !s.sent {
		s.sent = true
		return true
	}
	<-s.ctx.Done()
	return false
}

func (s *blockingStream) Current() llm.Chunk {
	return llm.Chunk{Type: llm.ChunkTextDelta, Text: "partial"}
}

func (s *blockingStream) Err() error {
	if err := s.ctx.Err(); err != nil {
		return fmt.Errorf("blocking: %w: %w", llm.ErrUpstream, err)
	}
	return nil
}

func (s *blockingStream) Close() error {
	s.p.closed.Add(1)
	return nil
}

type testEnv struct {
	server   *Server
	provider llm.Provider
	store    *history.Store
	metrics  *metrics.Metrics
}

func newTestEnv(t *testing.T, provider llm.Provider, opts ...Option) *testEnv {
	t.Helper()

	database, err := db.Open(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, database.Migrate())
	store := history.NewStore(database)

	registry := agent.NewRegistry()
	registry.Register(tools.NewWeather())
	m := metrics.New(nil)

	factory := agent.NewRunnerFactory(provider, registry, map[string]*agent.AgentProfile{
		"plain":   {Name: "plain", MaxSteps: 1},
		"weather": {Name: "weather", Tools: []string{"weather"}, MaxSteps: 5},
	}, store, m)

	plain, err := factory.Build("plain")
	require.NoError(t, err)
	weather, err := factory.Build("weather")
	require.NoError(t, err)

	opts = append([]Option{WithMetrics(m)}, opts...)
	s := NewServer([]Route{
		{Name: "plain", Path: "/api/chat", Runner: plain},
		{Name: "weather", Path: "/chat", Runner: weather},
	}, opts...)
	t.Cleanup(s.Close)

	return &testEnv{server: s, provider: provider, store: store, metrics: m}
}

func (e *testEnv) post(path, body string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

// readStream parses a UI message stream body. It fails unless the stream
// ends with [DONE].
func readStream(t *testing.T, body io.Reader) []map[string]any {
	t.Helper()
	var chunks []map[string]any
	done := false
	sc := bufio.NewScanner(body)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		require.True(t, strings.HasPrefix(line, "data: "), "unexpected line %q", line)
		require.False(t, done, "data after [DONE]")
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			done = true
			continue
		}
		var c map[string]any
		require.NoError(t, json.Unmarshal([]byte(data), &c))
		chunks = append(chunks, c)
	}
	require.True(t, done, "stream not terminated by [DONE]")
	return chunks
}

func types(chunks []map[string]any) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c["type"].(string)
	}
	return out
}

const bostonBody = `{"messages":[{"id":"u1","role":"user","parts":[{"type":"text","text":"What's the weather in Boston?"}]}]}`

func TestPlainChatStreamsInOrder(t *testing.T) {
	env := newTestEnv(t, &stubProvider{scripts: [][]llm.Chunk{textChunks("A", "B", "C")}})

	rec := env.post("/api/chat", `{"messages":[{"role":"user","content":"hi"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	require.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	require.Equal(t, "v1", rec.Header().Get("X-Vercel-AI-UI-Message-Stream"))

	chunks := readStream(t, rec.Body)
	require.Equal(t, []string{
		"start", "start-step", "text-start",
		"text-delta", "text-delta", "text-delta",
		"text-end", "finish-step", "finish",
	}, types(chunks))

	var deltas []string
	for _, c := range chunks {
		if c["type"] == "text-delta" {
			deltas = append(deltas, c["delta"].(string))
			require.Equal(t, chunks[2]["id"], c["id"])
		}
	}
	require.Equal(t, []string{"A", "B", "C"}, deltas)
	require.NotEmpty(t, chunks[0]["messageId"])
}

func TestMalformedRequestsNeverReachBackend(t *testing.T) {
	tests := []struct {
		name string
		body string
		code string
	}{
		{"invalid json", `{"messages":`, codeMalformedInput},
		{"missing messages", `{}`, codeMalformedInput},
		{"messages not array", `{"messages":{"role":"user"}}`, codeMalformedInput},
		{"bad role", `{"messages":[{"role":"admin","content":"x"}]}`, codeMalformedInput},
		{"empty list", `{"messages":[]}`, codeMalformedInput},
		{"no content", `{"messages":[{"role":"user","parts":[{"type":"step-start"}]}]}`, codeMalformedInput},
		{"pdf file", `{"messages":[{"role":"user","parts":[{"type":"file","mediaType":"application/pdf","url":"data:x"}]}]}`, codeUnsupportedMessagePart},
		{"unknown part", `{"messages":[{"role":"user","parts":[{"type":"hologram"}]}]}`, codeUnsupportedMessagePart},
		{"trailing garbage", `{"messages":[{"role":"user","content":"hi"}]} garbage`, codeMalformedInput},
		{"trailing object", `{"messages":[{"role":"user","content":"hi"}]}{"x":1}`, codeMalformedInput},
	}

	for _, path := range []string{"/api/chat", "/chat"} {
		for _, tt := range tests {
			t.Run(path+" "+tt.name, func(t *testing.T) {
				provider := &stubProvider{scripts: [][]llm.Chunk{textChunks("x")}}
				env := newTestEnv(t, provider)

				rec := env.post(path, tt.body)
				require.Equal(t, http.StatusBadRequest, rec.Code)
				require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

				var resp errorResponse
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
				require.Equal(t, tt.code, resp.Code)
				require.NotEmpty(t, resp.Error)
				require.Zero(t, provider.callCount())
			})
		}
	}
}

func TestBodyLimit(t *testing.T) {
	provider := &stubProvider{scripts: [][]llm.Chunk{textChunks("x")}}
	env := newTestEnv(t, provider, WithMaxBodyBytes(64))

	body := fmt.Sprintf(`{"messages":[{"role":"user","content":%q}]}`, strings.Repeat("a", 200))
	rec := env.post("/api/chat", body)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Zero(t, provider.callCount())
}

func TestUpstreamFailureEndsStream(t *testing.T) {
	provider := &stubProvider{err: fmt.Errorf("stub: %w: connection refused", llm.ErrUpstream)}
	env := newTestEnv(t, provider)

	rec := env.post("/chat", bostonBody)
	require.Equal(t, http.StatusOK, rec.Code)

	chunks := readStream(t, rec.Body)
	require.Equal(t, []string{"start", "start-step", "error"}, types(chunks))
	require.Contains(t, chunks[2]["errorText"], "connection refused")
	require.Equal(t, 1.0, requestsTotal(t, env.metrics, "weather", "failed"))
}

func TestUpstreamFailureMidText(t *testing.T) {
	provider := &stubProvider{
		scripts: [][]llm.Chunk{{{Type: llm.ChunkTextDelta, Text: "partial"}}},
		err:     fmt.Errorf("stub: %w: stream ended before completion", llm.ErrUpstream),
	}
	env := newTestEnv(t, provider)

	chunks := readStream(t, env.post("/api/chat", bostonBody).Body)
	require.Equal(t, []string{"start", "start-step", "text-start", "text-delta", "text-end", "error"}, types(chunks))
	require.Equal(t, chunks[2]["id"], chunks[4]["id"])
}

func TestClientDisconnectReleasesStream(t *testing.T) {
	provider := &blockingProvider{}
	env := newTestEnv(t, provider)
	srv := httptest.NewServer(env.server.Handler())
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, srv.URL+"/api/chat", strings.NewReader(bostonBody))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var seen []string
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		data, ok := strings.CutPrefix(sc.Text(), "data: ")
		if !ok {
			continue
		}
		var c map[string]any
		require.NoError(t, json.Unmarshal([]byte(data), &c))
		seen = append(seen, c["type"].(string))
		if c["type"] == "text-delta" {
			break
		}
	}
	require.Equal(t, []string{"start", "start-step", "text-start", "text-delta"}, seen)
	require.Zero(t, provider.closed.Load())

	cancel()

	require.Eventually(t, func() bool {
		return provider.closed.Load() == 1
	}, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return requestsTotal(t, env.metrics, "plain", "cancelled") == 1
	}, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, int32(1), provider.closed.Load())
	require.Zero(t, provider.nextAfterCancel.Load())
	require.Zero(t, requestsTotal(t, env.metrics, "plain", "failed"))
}

func TestBostonWeather(t *testing.T) {
	provider := &stubProvider{scripts: [][]llm.Chunk{
		{
			{Type: llm.ChunkToolCall, ToolCall: &llm.ToolCall{ID: "call_1", Name: "weather", Arguments: `{"location":"Boston"}`}},
			{Type: llm.ChunkFinish, FinishReason: llm.FinishToolCalls},
		},
		textChunks("It is ", "warm in Boston."),
	}}
	env := newTestEnv(t, provider)

	rec := env.post("/chat", bostonBody, "X-Request-Id", "boston-1")
	require.Equal(t, http.StatusOK, rec.Code)

	chunks := readStream(t, rec.Body)
	require.Equal(t, []string{
		"start",
		"start-step", "tool-input-available", "tool-output-available", "finish-step",
		"start-step", "text-start", "text-delta", "text-delta", "text-end", "finish-step",
		"finish",
	}, types(chunks))

	input := chunks[2]
	require.Equal(t, "call_1", input["toolCallId"])
	require.Equal(t, "weather", input["toolName"])
	require.Equal(t, map[string]any{"location": "Boston"}, input["input"])

	output := chunks[3]["output"].(map[string]any)
	require.Equal(t, "Boston", output["location"])
	temp := output["temperature"].(float64)
	require.GreaterOrEqual(t, temp, 32.0)
	require.LessOrEqual(t, temp, 90.0)

	invs, err := env.store.ToolCalls(context.Background(), "boston-1")
	require.NoError(t, err)
	require.Len(t, invs, 1)
	require.Equal(t, "weather", invs[0].Tool)
	require.Equal(t, "weather", invs[0].Route)
	require.JSONEq(t, `{"location":"Boston"}`, string(invs[0].Input))
	require.False(t, invs[0].IsError)
	require.Equal(t, 2, provider.callCount())
}

func TestPlainRouteHasNoTools(t *testing.T) {
	provider := &stubProvider{scripts: [][]llm.Chunk{{
		{Type: llm.ChunkToolCall, ToolCall: &llm.ToolCall{ID: "c1", Name: "weather", Arguments: `{"location":"Boston"}`}},
		{Type: llm.ChunkFinish, FinishReason: llm.FinishToolCalls},
	}}}
	env := newTestEnv(t, provider)

	chunks := readStream(t, env.post("/api/chat", bostonBody, "X-Request-Id", "plain-1").Body)
	require.Equal(t, 1, provider.callCount())
	require.Equal(t, "tool-output-error", chunks[3]["type"])
	require.Contains(t, chunks[3]["errorText"], "unknown tool")
}

func TestHealthzAndMetrics(t *testing.T) {
	env := newTestEnv(t, &stubProvider{scripts: [][]llm.Chunk{textChunks("ok")}})
	readStream(t, env.post("/api/chat", bostonBody).Body)

	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `friday_requests_total{route="plain",state="completed"} 1`)
	require.Contains(t, rec.Body.String(), `friday_stream_chunks_total{type="text-delta"} 1`)
}

func TestObserverSeesEveryChunk(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []string
	)
	provider := &stubProvider{scripts: [][]llm.Chunk{textChunks("A", "B")}}
	env := newTestEnv(t, provider, WithObserver(func(c Chunk) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, c.Type)
	}, 64))

	chunks := readStream(t, env.post("/api/chat", bostonBody).Body)
	env.server.Close()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, types(chunks), seen)
}

func TestObserverDropsWhenFull(t *testing.T) {
	release := make(chan struct{})
	o := newAsyncObserver(func(Chunk) { <-release }, 1)

	start := time.Now()
	for i := 0; i < 100; i++ {
		o.Observe(Chunk{Type: ChunkTextDelta})
	}
	require.Less(t, time.Since(start), time.Second)
	require.Greater(t, o.Dropped(), int64(90))

	close(release)
	o.Close()
	o.Observe(Chunk{Type: ChunkFinish}) // after Close: ignored
}

func TestObserverPanicIsContained(t *testing.T) {
	calls := 0
	o := newAsyncObserver(func(Chunk) {
		calls++
		panic("observer bug")
	}, 4)
	o.Observe(Chunk{Type: ChunkStart})
	o.Observe(Chunk{Type: ChunkFinish})
	o.Close()
	require.Equal(t, 2, calls)
}

func requestsTotal(t *testing.T, m *metrics.Metrics, route, state string) float64 {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	want := fmt.Sprintf(`friday_requests_total{route=%q,state=%q} `, route, state)
	for _, line := range strings.Split(rec.Body.String(), "\n") {
		if strings.HasPrefix(line, want) {
			var v float64
			_, err := fmt.Sscanf(strings.TrimPrefix(line, want), "%g", &v)
			require.NoError(t, err)
			return v
		}
	}
	return 0
}
