// Package bytestream implements a bounded, single-producer/single-consumer
// byte pipe backed by a circular buffer.
//
// It provides the backpressure that the reassembler (and, transitively, the
// advertised TCP receive window) relies on: a writer can never push more
// than the stream has room for, and a reader drains bytes strictly in order.
package bytestream

// ByteStream is a fixed-capacity FIFO byte buffer with an explicit close and
// a sticky error flag. It is not safe for concurrent use; the surrounding
// protocol state machines are single-threaded by design (see the top-level
// concurrency model).
type ByteStream struct {
	capacity int
	buf      []byte

	base int // index of the oldest buffered byte
	n    int // number of buffered bytes

	pushed int64
	popped int64

	closed  bool
	errored bool
}

// New returns a ByteStream with the given capacity. capacity must be > 0.
func New(capacity int) *ByteStream {
	if capacity <= 0 {
		panic("bytestream: capacity must be positive")
	}
	return &ByteStream{
		capacity: capacity,
		buf:      make([]byte, capacity),
	}
}

// Capacity returns the stream's immutable capacity.
func (s *ByteStream) Capacity() int { return s.capacity }

// Push writes up to Available() bytes from data, silently truncating the
// tail when data is larger than the remaining room. It is a no-op once the
// stream is closed or has been marked errored.
func (s *ByteStream) Push(data []byte) int {
	if s.closed || s.errored {
		return 0
	}
	avail := s.Available()
	if len(data) > avail {
		data = data[:avail]
	}
	n := len(data)
	if n == 0 {
		return 0
	}

	writeAt := (s.base + s.n) % s.capacity
	first := s.capacity - writeAt
	if first > n {
		first = n
	}
	copy(s.buf[writeAt:writeAt+first], data[:first])
	if rest := n - first; rest > 0 {
		copy(s.buf[0:rest], data[first:])
	}

	s.n += n
	s.pushed += int64(n)
	return n
}

// Close marks the stream as having no further writes. Idempotent.
func (s *ByteStream) Close() { s.closed = true }

// SetError marks the stream as poisoned. Sticky; idempotent.
func (s *ByteStream) SetError() { s.errored = true }

// IsClosed reports whether Close has been called.
func (s *ByteStream) IsClosed() bool { return s.closed }

// HasError reports whether SetError has been called.
func (s *ByteStream) HasError() bool { return s.errored }

// Available returns the remaining capacity for writes.
func (s *ByteStream) Available() int { return s.capacity - s.n }

// BytesBuffered returns the number of bytes currently held, unread.
func (s *ByteStream) BytesBuffered() int { return s.n }

// BytesPushed returns the total number of bytes ever written.
func (s *ByteStream) BytesPushed() int64 { return s.pushed }

// BytesPopped returns the total number of bytes ever read.
func (s *ByteStream) BytesPopped() int64 { return s.popped }

// IsFinished reports whether the stream is closed and fully drained.
func (s *ByteStream) IsFinished() bool { return s.closed && s.n == 0 }

// Peek returns a contiguous view of the buffered bytes starting at the
// current read position. When the buffered region wraps past the end of the
// underlying array, only the first contiguous run up to the wrap boundary is
// returned — callers that need everything currently buffered must call Peek
// again after Pop-ing the returned slice's length.
func (s *ByteStream) Peek() []byte {
	if s.n == 0 {
		return nil
	}
	readAt := s.base
	run := s.capacity - readAt
	if run > s.n {
		run = s.n
	}
	return s.buf[readAt : readAt+run]
}

// Pop advances the read position by min(n, BytesBuffered()).
func (s *ByteStream) Pop(n int) {
	if n > s.n {
		n = s.n
	}
	if n <= 0 {
		return
	}
	s.base = (s.base + n) % s.capacity
	s.n -= n
	s.popped += int64(n)
}
