package session

import (
	"io"
	"sync"
)

// OutputBuffer captures one output stream of a session. When capacity is
// positive only the most recent capacity bytes are kept. Once sealed further
// writes are accepted and discarded so the producing process never blocks.
type OutputBuffer struct {
	mu        sync.RWMutex
	buf       []byte
	capacity  int
	pos       int // next write position once full
	full      bool
	truncated bool
	sealed    bool
}

// NewOutputBuffer creates a buffer keeping at most capacity bytes.
// A capacity of zero or less means unbounded.
func NewOutputBuffer(capacity int) *OutputBuffer {
	return &OutputBuffer{capacity: capacity}
}

func (b *OutputBuffer) Write(p []byte) (int, error) {
	n := len(p)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sealed || n == 0 {
		return n, nil
	}
	if b.capacity <= 0 {
		b.buf = append(b.buf, p...)
		return n, nil
	}
	if !b.full {
		room := b.capacity - len(b.buf)
		if len(p) <= room {
			b.buf = append(b.buf, p...)
			if len(b.buf) == b.capacity {
				b.full = true
				b.pos = 0
			}
			return n, nil
		}
		b.buf = append(b.buf, p[:room]...)
		p = p[room:]
		b.full = true
		b.pos = 0
	}
	b.truncated = true
	if len(p) >= b.capacity {
		copy(b.buf, p[len(p)-b.capacity:])
		b.pos = 0
		return n, nil
	}
	k := copy(b.buf[b.pos:], p)
	copy(b.buf, p[k:])
	b.pos = (b.pos + len(p)) % b.capacity
	return n, nil
}

// String returns the retained bytes in arrival order.
func (b *OutputBuffer) String() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.full {
		return string(b.buf)
	}
	out := make([]byte, 0, b.capacity)
	out = append(out, b.buf[b.pos:]...)
	out = append(out, b.buf[:b.pos]...)
	return string(out)
}

// Truncated reports whether older bytes were dropped.
func (b *OutputBuffer) Truncated() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.truncated
}

// Seal makes the buffer read-only.
func (b *OutputBuffer) Seal() {
	b.mu.Lock()
	b.sealed = true
	b.mu.Unlock()
}

// quietWriter forwards to w and swallows its errors. Used for tee targets
// such as log files, whose failures must not stall the process pipes.
type quietWriter struct{ w io.Writer }

func (q quietWriter) Write(p []byte) (int, error) {
	_, _ = q.w.Write(p)
	return len(p), nil
}

func teeTo(buf *OutputBuffer, extra io.Writer) io.Writer {
	if extra == nil {
		return buf
	}
	return io.MultiWriter(buf, quietWriter{extra})
}
