// Package reassembler turns a stream of possibly out-of-order, possibly
// overlapping byte substrings into the ordered byte stream a TCP receiver
// needs, draining into a bytestream.ByteStream sink.
package reassembler

import "github.com/tinyrange/netstack/internal/bytestream"

// Reassembler accepts (index, bytes, last?) fragments and feeds their
// contiguous prefix into a sink. It owns a circular buffer sized to the
// sink's capacity plus a parallel bitmap marking which slots hold a byte
// that has arrived but not yet been drained.
//
// Note on an edge case named explicitly in the original design notes: if the
// very first fragment ever inserted is empty and carries the is-last flag,
// `end` is set to the current first_unassembled (0) and the sink closes
// immediately, having delivered zero bytes. That is intentional, not a bug:
// an empty final substring legitimately means "the stream ends here, right
// now".
type Reassembler struct {
	capacity int
	buf      []byte
	mark     []bool

	firstUnassembled uint64 // absolute index of the next byte to deliver
	basePos          int    // slot holding firstUnassembled

	hasEnd bool
	end    uint64 // absolute index one past the last byte, once known

	pending int // count of marked-but-undelivered cells
}

func (r *Reassembler) initIfNeeded(sink *bytestream.ByteStream) {
	if r.buf != nil {
		return
	}
	r.capacity = sink.Capacity()
	r.buf = make([]byte, r.capacity)
	r.mark = make([]bool, r.capacity)
}

// Pending returns the number of bytes currently buffered out of order.
func (r *Reassembler) Pending() int { return r.pending }

// FirstUnassembled returns the absolute index of the next byte the
// reassembler expects to deliver.
func (r *Reassembler) FirstUnassembled() uint64 { return r.firstUnassembled }

// Insert accepts a fragment: firstIndex is its absolute starting index into
// the byte stream, data is its payload, and isLast marks it as carrying (or
// ending with) the final byte of the stream.
func (r *Reassembler) Insert(firstIndex uint64, data []byte, isLast bool, sink *bytestream.ByteStream) {
	r.initIfNeeded(sink)

	if isLast {
		r.end = firstIndex + uint64(len(data))
		r.hasEnd = true
	}

	if r.hasEnd && r.firstUnassembled >= r.end {
		sink.Close()
	}

	// Clip to the window the sink can still accept: bytes before
	// firstUnassembled are already delivered, bytes past the sink's unfilled
	// capacity have nowhere to go (yet).
	windowEnd := uint64(sink.BytesPushed()) + uint64(sink.Available())
	l := firstIndex
	if r.firstUnassembled > l {
		l = r.firstUnassembled
	}
	rEnd := firstIndex + uint64(len(data))
	if windowEnd < rEnd {
		rEnd = windowEnd
	}
	if l >= rEnd {
		return
	}

	slot := r.basePos + int(l-r.firstUnassembled)
	for p := l; p < rEnd; p++ {
		i := slot % r.capacity
		r.buf[i] = data[p-firstIndex]
		if !r.mark[i] {
			r.mark[i] = true
			r.pending++
		}
		slot++
	}

	if firstIndex <= r.firstUnassembled {
		r.drain(sink)
	}
}

// drain pushes the contiguous run of marked cells starting at basePos into
// the sink, advancing firstUnassembled/basePos and clearing the marks.
func (r *Reassembler) drain(sink *bytestream.ByteStream) {
	cnt := 0
	for cnt < r.capacity {
		idx := (r.basePos + cnt) % r.capacity
		if !r.mark[idx] {
			break
		}
		r.mark[idx] = false
		cnt++
	}
	if cnt == 0 {
		return
	}

	if r.basePos+cnt <= r.capacity {
		sink.Push(r.buf[r.basePos : r.basePos+cnt])
	} else {
		sink.Push(r.buf[r.basePos:r.capacity])
		sink.Push(r.buf[:r.basePos+cnt-r.capacity])
	}

	r.firstUnassembled += uint64(cnt)
	r.pending -= cnt
	r.basePos = (r.basePos + cnt) % r.capacity

	if r.hasEnd && r.firstUnassembled >= r.end {
		sink.Close()
	}
}
