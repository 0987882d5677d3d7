package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"

	"friday/internal/metrics"
)

// UI message stream chunk types.
const (
	ChunkStart               = "start"
	ChunkStartStep           = "start-step"
	ChunkTextStart           = "text-start"
	ChunkTextDelta           = "text-delta"
	ChunkTextEnd             = "text-end"
	ChunkToolInputAvailable  = "tool-input-available"
	ChunkToolOutputAvailable = "tool-output-available"
	ChunkToolOutputError     = "tool-output-error"
	ChunkFinishStep          = "finish-step"
	ChunkFinish              = "finish"
	ChunkError               = "error"
)

// Chunk is one UI message stream event.
type Chunk struct {
	Type       string          `json:"type"`
	MessageID  string          `json:"messageId,omitempty"`
	ID         string          `json:"id,omitempty"`
	Delta      string          `json:"delta,omitempty"`
	ToolCallID string          `json:"toolCallId,omitempty"`
	ToolName   string          `json:"toolName,omitempty"`
	Input      json.RawMessage `json:"input,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`
	ErrorText  string          `json:"errorText,omitempty"`
}

// UIStreamWriter writes the UI message stream: one `data: <json>` event per
// chunk, flushed immediately, terminated by `data: [DONE]`. After the first
// write error all further writes are dropped and the error is kept.
type UIStreamWriter struct {
	w       http.ResponseWriter
	rc      *http.ResponseController
	observe func(Chunk)
	metrics *metrics.Metrics
	err     error
}

func NewUIStreamWriter(w http.ResponseWriter, observe func(Chunk), m *metrics.Metrics) *UIStreamWriter {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Vercel-AI-UI-Message-Stream", "v1")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	return &UIStreamWriter{
		w:       w,
		rc:      http.NewResponseController(w),
		observe: observe,
		metrics: m,
	}
}

func (s *UIStreamWriter) Send(c Chunk) error {
	if s.err != nil {
		return s.err
	}
	b, err := json.Marshal(c)
	if err != nil {
		return err
	}
	if err := s.write(b); err != nil {
		return err
	}
	s.metrics.IncChunk(c.Type)
	if s.observe != nil {
		s.observe(c)
	}
	return nil
}

// Close writes the terminator.
func (s *UIStreamWriter) Close() error {
	if s.err != nil {
		return s.err
	}
	return s.write([]byte("[DONE]"))
}

// Err returns the first write error.
func (s *UIStreamWriter) Err() error {
	return s.err
}

func (s *UIStreamWriter) write(data []byte) error {
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		s.err = err
		return err
	}
	if err := s.rc.Flush(); err != nil {
		s.err = err
		return err
	}
	return nil
}
