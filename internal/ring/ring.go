// Package ring implements a bounded byte ring buffer used to replay recent
// PTY output to late-joining subscribers (spec property 6: the replay plus
// the live stream that follows reconstructs a gap-free, duplicate-free
// prefix of the full byte stream).
package ring

import "sync"

// DefaultCapacity is the default ring size (64 KiB) named in the spec as a
// default that implementations may make configurable but must never make
// unbounded.
const DefaultCapacity = 64 * 1024

// Buffer is a fixed-capacity FIFO byte store. The zero value is not usable;
// construct with New.
type Buffer struct {
	mu    sync.Mutex
	data  []byte
	cap   int
	start int // index of oldest byte in data
	size  int // number of valid bytes currently stored
	total uint64
}

// New constructs a Buffer that retains at most capacity bytes. A zero or
// negative capacity falls back to DefaultCapacity.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		data: make([]byte, capacity),
		cap:  capacity,
	}
}

// Write appends p to the buffer, evicting the oldest bytes if necessary.
// It never returns an error and always "writes" all of p, consistent with
// io.Writer, so Buffer can be used anywhere a Writer is expected.
func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.total += uint64(len(p))

	if len(p) >= b.cap {
		copy(b.data, p[len(p)-b.cap:])
		b.start = 0
		b.size = b.cap
		return len(p), nil
	}

	for i := 0; i < len(p); i++ {
		writeIdx := (b.start + b.size) % b.cap
		if b.size == b.cap {
			// Full: overwrite oldest, advance start.
			b.data[writeIdx] = p[i]
			b.start = (b.start + 1) % b.cap
		} else {
			b.data[writeIdx] = p[i]
			b.size++
		}
	}
	return len(p), nil
}

// Snapshot returns a copy of the currently retained bytes, oldest first.
func (b *Buffer) Snapshot() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]byte, b.size)
	for i := 0; i < b.size; i++ {
		out[i] = b.data[(b.start+i)%b.cap]
	}
	return out
}

// Len returns the number of bytes currently retained.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// TotalWritten returns the lifetime count of bytes ever written, including
// ones since evicted.
func (b *Buffer) TotalWritten() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total
}
