package engine

import (
	"fmt"
	"sync"
)

// cappedBuffer keeps the first limit bytes written to it and counts the
// rest. Engine diagnostics can be arbitrarily large; only a prefix is worth
// logging.
type cappedBuffer struct {
	mu      sync.Mutex
	buf     []byte
	limit   int
	dropped int
}

func newCappedBuffer(limit int) *cappedBuffer {
	if limit <= 0 {
		limit = 16 * 1024
	}
	return &cappedBuffer{limit: limit}
}

// Write never fails, so the child never sees a broken pipe.
func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	room := b.limit - len(b.buf)
	if room > len(p) {
		room = len(p)
	}
	if room > 0 {
		b.buf = append(b.buf, p[:room]...)
	}
	b.dropped += len(p) - room
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.dropped == 0 {
		return string(b.buf)
	}
	return fmt.Sprintf("%s... [%d bytes truncated]", b.buf, b.dropped)
}
