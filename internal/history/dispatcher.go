package history

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"
)

const (
	DefaultQueueSize   = 256
	DefaultSendTimeout = 5 * time.Second
)

// Dispatcher fans events out to sinks on a background worker so that
// publishers never wait on I/O. When the queue is full events are dropped.
type Dispatcher struct {
	sinks   []Sink
	queue   chan Event
	timeout time.Duration
	log     *slog.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewDispatcher starts a dispatcher. A nil logger selects slog.Default.
func NewDispatcher(sinks []Sink, queueSize int, log *slog.Logger) *Dispatcher {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if log == nil {
		log = slog.Default()
	}
	d := &Dispatcher{
		sinks:   sinks,
		queue:   make(chan Event, queueSize),
		timeout: DefaultSendTimeout,
		log:     log,
		done:    make(chan struct{}),
	}
	go d.run()
	return d
}

// Publish enqueues e without blocking. It reports false when the event was
// dropped because the queue is full or the dispatcher is closed.
func (d *Dispatcher) Publish(e Event) bool {
	if d == nil || len(d.sinks) == 0 {
		return false
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}
	select {
	case d.queue <- e:
		return true
	default:
		d.log.Warn("history queue full, dropping event", "session", e.Record.SessionID, "type", e.Type)
		return false
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for e := range d.queue {
		for _, s := range d.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
			if err := s.Send(ctx, e); err != nil {
				d.log.Warn("history sink send failed", "session", e.Record.SessionID, "type", e.Type, "error", err)
			}
			cancel()
		}
	}
}

// Close stops accepting events, drains the queue until ctx is done and
// closes sinks implementing io.Closer.
func (d *Dispatcher) Close(ctx context.Context) error {
	if d == nil {
		return nil
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	select {
	case <-d.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	for _, s := range d.sinks {
		if c, ok := s.(io.Closer); ok {
			_ = c.Close()
		}
	}
	return nil
}
