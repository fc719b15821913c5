// Package audio holds the per-session PCM accumulator and the helpers that
// turn raw PCM16 frames into model input.
package audio

import (
	"context"
	"sync"
	"time"
)

// Limits bounds a session buffer.
type Limits struct {
	FlushBytes int // threshold for a partial drain
	MaxBytes   int // soft cap reported by AtCapacity
}

// Threshold returns the partial-drain size for l.
func (l Limits) Threshold() int {
	return FlushThreshold(l.FlushBytes, l.MaxBytes)
}

// FlushThreshold returns min(bufferBytes, maxBytes) rounded down to an even
// byte count so a partial drain never splits a PCM16 sample.
func FlushThreshold(bufferBytes, maxBytes int) int {
	t := bufferBytes
	if maxBytes > 0 && (t <= 0 || maxBytes < t) {
		t = maxBytes
	}
	if t < 2 {
		return 2
	}
	return t &^ 1
}

// Buffer is an append-only FIFO of PCM bytes with a single-flusher guard.
// Appends never block on a flush in progress; drains are atomic with respect
// to concurrent appends.
//
// Every byte has a stream offset counted from the first Append. Mark returns
// the current end offset so a caller can later drain or discard exactly the
// bytes that were appended before it.
type Buffer struct {
	mu           sync.Mutex
	data         []byte
	head         int64 // offset of data[0]
	lastActivity time.Time

	// flushing holds a token while a drain/transcribe cycle is running.
	flushing chan struct{}
}

// NewBuffer creates an empty buffer.
func NewBuffer() *Buffer {
	return &Buffer{
		lastActivity: time.Now(),
		flushing:     make(chan struct{}, 1),
	}
}

// Append adds chunk to the tail of the buffer. The chunk is copied.
func (b *Buffer) Append(chunk []byte) {
	b.mu.Lock()
	b.data = append(b.data, chunk...)
	b.lastActivity = time.Now()
	b.mu.Unlock()
}

// Mark returns the stream offset just past the last appended byte.
func (b *Buffer) Mark() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.head + int64(len(b.data))
}

// Len returns the number of buffered bytes.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// AtCapacity reports whether at least max bytes are buffered. A
// non-positive max never reports capacity.
func (b *Buffer) AtCapacity(max int) bool {
	return max > 0 && b.Len() >= max
}

// LastActivity returns the time of the last Append.
func (b *Buffer) LastActivity() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastActivity
}

// ShouldFlush reports whether at least threshold bytes are buffered and no
// flush is currently in progress.
func (b *Buffer) ShouldFlush(threshold int) bool {
	if b.Processing() {
		return false
	}
	return b.Len() >= threshold
}

// Drain removes bytes from the front of the buffer. A final drain returns
// everything; otherwise exactly min(len, threshold) bytes are returned and
// the remainder is kept for the next cycle.
func (b *Buffer) Drain(final bool, threshold int) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(b.data)
	if !final && threshold >= 0 && threshold < n {
		n = threshold
	}
	return b.take(n)
}

// DrainTo removes and returns the buffered bytes that precede mark. Bytes
// appended after mark stay buffered.
func (b *Buffer) DrainTo(mark int64) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.take(b.before(mark))
}

// DiscardTo drops the buffered bytes that precede mark and returns how many
// were dropped.
func (b *Buffer) DiscardTo(mark int64) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := b.before(mark)
	b.take(n)
	return n
}

// before returns how many buffered bytes lie ahead of mark. b.mu must be held.
func (b *Buffer) before(mark int64) int {
	n := mark - b.head
	if n <= 0 {
		return 0
	}
	if n > int64(len(b.data)) {
		return len(b.data)
	}
	return int(n)
}

// take removes the first n bytes. b.mu must be held.
func (b *Buffer) take(n int) []byte {
	out := make([]byte, n)
	copy(out, b.data[:n])

	rest := len(b.data) - n
	if rest == 0 {
		b.data = nil
	} else {
		remaining := make([]byte, rest)
		copy(remaining, b.data[n:])
		b.data = remaining
	}
	b.head += int64(n)
	return out
}

// Clear discards all buffered bytes.
func (b *Buffer) Clear() {
	b.mu.Lock()
	b.head += int64(len(b.data))
	b.data = nil
	b.mu.Unlock()
}

// TryBeginFlush takes the flush token without waiting. It returns false when
// another flush already holds it.
func (b *Buffer) TryBeginFlush() bool {
	select {
	case b.flushing <- struct{}{}:
		return true
	default:
		return false
	}
}

// BeginFlush waits for the flush token or for ctx to end.
func (b *Buffer) BeginFlush(ctx context.Context) error {
	select {
	case b.flushing <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EndFlush releases the flush token. It is a no-op when the token is not held.
func (b *Buffer) EndFlush() {
	select {
	case <-b.flushing:
	default:
	}
}

// Processing reports whether a flush currently holds the token.
func (b *Buffer) Processing() bool {
	return len(b.flushing) > 0
}
