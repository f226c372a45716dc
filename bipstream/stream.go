// Package bipstream implements a single-producer/single-consumer
// lock-free ring buffer with wrap-around reservations over a shared
// memory region (C1). A producer reserves a contiguous slice of the
// data area, writes into it, and commits; a consumer observes the
// committed bytes via Valid/Consume. The three atomic indices
// (read, write, last) are each pinned to their own cache line to
// avoid false sharing between the producer and consumer.
package bipstream

import (
	"sync/atomic"
	"unsafe"

	"github.com/fiddlecore/wasmcore/wasmerr"
)

// validMode records which branch of Valid's invariant produced the
// last slice handed to the consumer, so Consume can validate its
// argument against the right bound.
type validMode int

const (
	modeNormal validMode = iota
	modeWrap
)

// Stream is one bip-stream connection: a fixed-capacity data area
// plus the three atomic indices. Per spec.md §5, read is producer-read
// consumer-written; write and last are producer-written,
// consumer-read. Cross-producer or cross-consumer use is undefined —
// the type is SPSC by contract, not by enforcement.
type Stream struct {
	region Region
	data   []byte // the capacity+1 usable byte area, after the header

	readIdx  *int32
	writeIdx *int32
	lastIdx  *int32

	// consumer-only bookkeeping: the mode and length of the slice most
	// recently returned by Valid, so Consume can bound-check.
	lastMode validMode
	lastLen  int
}

// New wraps an existing Region (already sized headerSize+capacity+1)
// as a bip-stream, initializing read=0, write=0, last=len(data area).
// Use NewHeapRegion or NewMmapRegion to allocate the region itself.
func New(region Region) *Stream {
	buf := region.Bytes()
	s := &Stream{
		region:   region,
		data:     buf[headerSize:],
		readIdx:  (*int32)(unsafe.Pointer(&buf[offsetRead])),
		writeIdx: (*int32)(unsafe.Pointer(&buf[offsetWrite])),
		lastIdx:  (*int32)(unsafe.Pointer(&buf[offsetLast])),
	}
	atomic.StoreInt32(s.readIdx, 0)
	atomic.StoreInt32(s.writeIdx, 0)
	atomic.StoreInt32(s.lastIdx, int32(len(s.data)))
	return s
}

// Attach wraps an already-initialized Region as a Stream without
// resetting its indices, for the side of a shared-region handshake
// that did not create the region (the creator calls New, which zeroes
// read/write/last; a second process attaching to the same mapping
// after the creator may already have advanced those indices must not
// re-zero them).
func Attach(region Region) *Stream {
	buf := region.Bytes()
	return &Stream{
		region:   region,
		data:     buf[headerSize:],
		readIdx:  (*int32)(unsafe.Pointer(&buf[offsetRead])),
		writeIdx: (*int32)(unsafe.Pointer(&buf[offsetWrite])),
		lastIdx:  (*int32)(unsafe.Pointer(&buf[offsetLast])),
	}
}

// CreateBuffer allocates a heap-backed region of the given capacity
// and wraps it as a Stream. capacity must be positive.
func CreateBuffer(capacity int) (*Stream, error) {
	region, err := NewHeapRegion(capacity)
	if err != nil {
		return nil, err
	}
	return New(region), nil
}

// Close releases the underlying region's OS resources, if any.
func (s *Stream) Close() error { return s.region.Close() }

// Capacity returns the usable data-area length (capacity+1 from
// create_buffer, i.e. including the one sentinel byte reserved to
// distinguish full from empty).
func (s *Stream) Capacity() int { return len(s.data) }

// Reservation is a producer-side token holding an exclusive slice of
// the data area, uncommitted until Commit fires.
type Reservation struct {
	stream     *Stream
	offset     int
	length     int
	wraparound bool
	committed  bool
}

// Data returns the writable byte slice for this reservation. Writing
// fewer than len(Data()) bytes and committing anyway leaves undefined
// trailing bytes visible to the consumer — callers must fill the
// whole slice before Commit.
func (r *Reservation) Data() []byte {
	return r.stream.data[r.offset : r.offset+r.length]
}

// Len returns the reservation's length in bytes.
func (r *Reservation) Len() int { return r.length }

// Reserve attempts to carve out count writable bytes from the data
// area. It is producer-only and non-blocking: a nil, nil return means
// the ring currently has no room and the caller should consult its
// lock strategy and retry. See spec.md §4.1 "Reservation algorithm
// (design intent)" for the branch-by-branch derivation this follows.
func (s *Stream) Reserve(count int, flexible bool) (*Reservation, error) {
	if count <= 0 {
		return nil, wasmerr.ErrBadReservation
	}
	dataLen := len(s.data)
	if !flexible && count > dataLen/2 {
		return nil, wasmerr.ErrBadReservation
	}

	write := int(atomic.LoadInt32(s.writeIdx))
	read := int(atomic.LoadInt32(s.readIdx))

	if write >= read {
		tailSpace := dataLen - write
		if tailSpace >= count {
			return &Reservation{stream: s, offset: write, length: count}, nil
		}
		if flexible && tailSpace > 0 {
			return &Reservation{stream: s, offset: write, length: tailSpace}, nil
		}
		// tail exhausted (or not flexible with a too-small tail): try
		// wrapping into [0, read-1), the "-1" preserving the
		// full-vs-empty distinction.
		wrapAvail := read - 1
		if wrapAvail <= 0 {
			return nil, nil
		}
		if !flexible {
			if wrapAvail < count {
				return nil, nil
			}
			return &Reservation{stream: s, offset: 0, length: count, wraparound: true}, nil
		}
		length := count
		if length > wrapAvail {
			length = wrapAvail
		}
		return &Reservation{stream: s, offset: 0, length: length, wraparound: true}, nil
	}

	// write < read: the only writable region is [write, read-1).
	wrapAvail := read - 1 - write
	if wrapAvail <= 0 {
		return nil, nil
	}
	if !flexible {
		if wrapAvail < count {
			return nil, nil
		}
		return &Reservation{stream: s, offset: write, length: count}, nil
	}
	length := count
	if length > wrapAvail {
		length = wrapAvail
	}
	return &Reservation{stream: s, offset: write, length: length}, nil
}

// Commit publishes a reservation so the consumer can observe it. If
// the reservation was marked wraparound, last is published first
// (recording the old write as the high-water mark of the pre-wrap
// run), then write is reset to 0; write then unconditionally advances
// by the reservation length, last is raised if write now exceeds it,
// and write is published last, per spec.md §4.1's ordering rule.
func (s *Stream) Commit(r *Reservation) error {
	if r == nil {
		return wasmerr.ErrBadReservation
	}
	write := int(atomic.LoadInt32(s.writeIdx))
	if r.wraparound {
		atomic.StoreInt32(s.lastIdx, int32(write))
		write = 0
	}
	write += r.length
	if write > int(atomic.LoadInt32(s.lastIdx)) {
		atomic.StoreInt32(s.lastIdx, int32(write))
	}
	atomic.StoreInt32(s.writeIdx, int32(write))
	r.committed = true
	return nil
}

// Valid returns the currently readable byte slice, consumer-only. The
// returned slice aliases the data area directly — callers must copy
// before the next Consume/Valid cycle touches that region again.
func (s *Stream) Valid() []byte {
	write := int(atomic.LoadInt32(s.writeIdx))
	read := int(atomic.LoadInt32(s.readIdx))
	if write >= read {
		s.lastMode = modeNormal
		s.lastLen = write - read
		return s.data[read:write]
	}
	last := int(atomic.LoadInt32(s.lastIdx))
	if read == last {
		atomic.StoreInt32(s.readIdx, 0)
		return s.Valid()
	}
	s.lastMode = modeWrap
	s.lastLen = last - read
	return s.data[read:last]
}

// Consume advances the read index past count bytes of the slice most
// recently returned by Valid. In the wrap tail, consuming exactly the
// remaining tail length wraps read back to 0; any other count in that
// mode just advances within the tail. A count that does not fit the
// last Valid() bound raises ErrBadConsume.
func (s *Stream) Consume(count int) error {
	if count < 0 || count > s.lastLen {
		return wasmerr.ErrBadConsume
	}
	read := int(atomic.LoadInt32(s.readIdx))
	switch s.lastMode {
	case modeWrap:
		if count == s.lastLen {
			atomic.StoreInt32(s.readIdx, 0)
		} else {
			atomic.StoreInt32(s.readIdx, int32(read+count))
		}
	default:
		write := int(atomic.LoadInt32(s.writeIdx))
		newRead := read + count
		if newRead > write {
			return wasmerr.ErrBadConsume
		}
		atomic.StoreInt32(s.readIdx, int32(newRead))
	}
	s.lastLen -= count
	return nil
}
