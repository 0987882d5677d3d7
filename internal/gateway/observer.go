package gateway

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

const defaultObserverBuffer = 256

// ChunkObserver receives a copy of every chunk written to any client.
type ChunkObserver func(Chunk)

// LogChunk is the default observer.
func LogChunk(c Chunk) {
	slog.Debug("ui chunk", "type", c.Type, "id", c.ID, "tool_call_id", c.ToolCallID, "delta_len", len(c.Delta))
}

// asyncObserver runs an observer on its own goroutine behind a bounded
// buffer. When the buffer is full chunks are dropped so a slow observer
// never delays a client.
type asyncObserver struct {
	fn      ChunkObserver
	ch      chan Chunk
	done    chan struct{}
	once    sync.Once
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

func newAsyncObserver(fn ChunkObserver, size int) *asyncObserver {
	if size <= 0 {
		size = defaultObserverBuffer
	}
	o := &asyncObserver{
		fn:   fn,
		ch:   make(chan Chunk, size),
		done: make(chan struct{}),
	}
	go o.run()
	return o
}

func (o *asyncObserver) run() {
	defer close(o.done)
	for c := range o.ch {
		o.call(c)
	}
}

func (o *asyncObserver) call(c Chunk) {
	defer func() {
		if p := recover(); p != nil {
			slog.Error("chunk observer panicked", "panic", p)
		}
	}()
	o.fn(c)
}

func (o *asyncObserver) Observe(c Chunk) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		return
	}
	select {
	case o.ch <- c:
	default:
		if n := o.dropped.Add(1); n == 1 || n%1000 == 0 {
			slog.Warn("chunk observer falling behind, dropping chunks", "dropped", n)
		}
	}
}

// Close stops accepting chunks and waits for buffered ones to be observed.
func (o *asyncObserver) Close() {
	o.once.Do(func() {
		o.mu.Lock()
		o.closed = true
		close(o.ch)
		o.mu.Unlock()
	})
	<-o.done
}

func (o *asyncObserver) Dropped() int64 {
	return o.dropped.Load()
}
