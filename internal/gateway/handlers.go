package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"friday/internal/agent"
	"friday/internal/chat"
)

// Request states, also used as the state label of the requests metric.
const (
	stateDecoding    = "decoding"
	stateNormalizing = "normalizing"
	stateDispatched  = "dispatched"
	stateStreaming   = "streaming"
	stateCompleted   = "completed"
	stateFailed      = "failed"
	stateCancelled   = "cancelled"
	stateRejected    = "rejected"
)

const (
	codeMalformedInput         = "malformed_input"
	codeUnsupportedMessagePart = "unsupported_message_part"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (s *Server) handleChat(rt Route) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := middleware.GetReqID(r.Context())
		if reqID == "" {
			reqID = uuid.NewString()
		}
		log := slog.With("route", rt.Name, "request_id", reqID)

		state := stateDecoding
		defer func() {
			s.metrics.ObserveRequest(rt.Name, state, time.Since(start))
			log.Debug("chat: request finished", "state", state, "duration", time.Since(start))
		}()

		msgs, err := chat.Decode(http.MaxBytesReader(w, r.Body, s.maxBodyBytes))
		if err != nil {
			state = stateRejected
			log.Info("chat: rejected request", "error", err)
			writeError(w, err)
			return
		}

		state = stateNormalizing
		normalized, err := chat.Normalize(msgs)
		if err == nil && len(normalized) == 0 {
			err = fmt.Errorf("%w: no message has model content", chat.ErrMalformedInput)
		}
		if err != nil {
			state = stateRejected
			log.Info("chat: rejected request", "error", err)
			writeError(w, err)
			return
		}

		state = stateDispatched
		log.Debug("chat: dispatching", "messages", len(normalized))

		ctx := agent.ContextWithRequestID(r.Context(), reqID)

		var observe func(Chunk)
		if s.observer != nil {
			observe = s.observer.Observe
		}
		sw := NewUIStreamWriter(w, observe, s.metrics)
		tr := newTranslator(sw)
		tr.start()

		state = stateStreaming
		runErr := rt.Runner.Run(ctx, normalized, tr.handle)
		switch {
		case runErr == nil:
			state = stateCompleted
		case errors.Is(runErr, context.Canceled) || r.Context().Err() != nil:
			state = stateCancelled
			log.Info("chat: client went away", "error", runErr)
		default:
			state = stateFailed
			tr.fail(runErr)
			log.Warn("chat: run failed", "error", runErr)
		}

		if err := sw.Close(); err != nil && runErr == nil {
			state = stateCancelled
			log.Info("chat: client went away", "error", err)
		}
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeError(w http.ResponseWriter, err error) {
	code := codeMalformedInput
	if errors.Is(err, chat.ErrUnsupportedMessagePart) {
		code = codeUnsupportedMessagePart
	}
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Code: code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response", "error", err)
	}
}

// translator maps runner events onto UI message stream chunks.
type translator struct {
	sw       *UIStreamWriter
	textID   string
	errored  bool
	finished bool
}

func newTranslator(sw *UIStreamWriter) *translator {
	return &translator{sw: sw}
}

func (t *translator) start() {
	t.sw.Send(Chunk{Type: ChunkStart, MessageID: "msg-" + uuid.NewString()})
}

func (t *translator) handle(ev agent.Event) {
	switch ev.Type {
	case agent.EventStepStart:
		t.sw.Send(Chunk{Type: ChunkStartStep})
	case agent.EventToken:
		if t.textID == "" {
			t.textID = uuid.NewString()
			t.sw.Send(Chunk{Type: ChunkTextStart, ID: t.textID})
		}
		t.sw.Send(Chunk{Type: ChunkTextDelta, ID: t.textID, Delta: ev.Data.(string)})
	case agent.EventToolCall:
		t.endText()
		call := ev.Data.(agent.ToolCall)
		t.sw.Send(Chunk{Type: ChunkToolInputAvailable, ToolCallID: call.ID, ToolName: call.Name, Input: call.Input})
	case agent.EventToolResult:
		res := ev.Data.(agent.ToolResult)
		if res.IsError {
			t.sw.Send(Chunk{Type: ChunkToolOutputError, ToolCallID: res.ID, ErrorText: res.ErrorText})
		} else {
			t.sw.Send(Chunk{Type: ChunkToolOutputAvailable, ToolCallID: res.ID, Output: res.Output})
		}
	case agent.EventStepFinish:
		t.endText()
		t.sw.Send(Chunk{Type: ChunkFinishStep})
	case agent.EventDone:
		t.endText()
		t.finished = true
		t.sw.Send(Chunk{Type: ChunkFinish})
	case agent.EventError:
		t.fail(errors.New(ev.Data.(string)))
	}
}

func (t *translator) endText() {
	if t.textID == "" {
		return
	}
	t.sw.Send(Chunk{Type: ChunkTextEnd, ID: t.textID})
	t.textID = ""
}

// fail emits a single error chunk; later calls are ignored.
func (t *translator) fail(err error) {
	if t.errored || t.finished {
		return
	}
	t.errored = true
	t.endText()
	msg := err.Error()
	if msg == "" {
		msg = "unknown error"
	}
	t.sw.Send(Chunk{Type: ChunkError, ErrorText: msg})
}
