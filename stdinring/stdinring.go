// Package stdinring implements the length-prefixed single-producer/
// single-consumer byte channel (C7) used to stream stdin bytes
// across the host/compute boundary: a fixed region laid out as
// [atomic i32 len][byte payload[N-4]], where len == -1 signals EOF.
// The index/notify shape is the same cache-line-free-sharing
// discipline as bipstream, specialized to a single length word
// instead of three ring indices.
package stdinring

import (
	"runtime"
	"sync/atomic"
	"unsafe"

	"github.com/fiddlecore/wasmcore/wasmerr"
)

const lenEOF = -1

// Ring is one stdin ring connection.
type Ring struct {
	buf     []byte
	lenIdx  *int32
	payload []byte
}

// New wraps buf (which must be at least 5 bytes) as a Ring. The
// first 4 bytes hold the atomic length header; the remainder is the
// payload area.
func New(buf []byte) (*Ring, error) {
	if len(buf) < 5 {
		return nil, wasmerr.ErrBadReservation
	}
	return &Ring{
		buf:     buf,
		lenIdx:  (*int32)(unsafe.Pointer(&buf[0])),
		payload: buf[4:],
	}, nil
}

// PushData waits until the header reads 0 (i.e. the consumer has
// drained the previous payload), copies data into the payload area,
// and publishes its length. data must fit within the payload area.
func (r *Ring) PushData(data []byte) error {
	if len(data) > len(r.payload) {
		return wasmerr.ErrBadReservation
	}
	for atomic.LoadInt32(r.lenIdx) != 0 {
		runtime.Gosched()
	}
	copy(r.payload, data)
	atomic.StoreInt32(r.lenIdx, int32(len(data)))
	return nil
}

// PushEOF waits until the header reads 0 and then publishes the EOF
// sentinel.
func (r *Ring) PushEOF() {
	for atomic.LoadInt32(r.lenIdx) != 0 {
		runtime.Gosched()
	}
	atomic.StoreInt32(r.lenIdx, lenEOF)
}

// ConsumerRead waits until the header is nonzero. If it reads the EOF
// sentinel, it resets the header to 0 and returns (nil, true). Else
// it decodes up to maxBytes, compacts any undecoded remainder to the
// front of the payload area, republishes the remaining length, and
// returns the decoded slice.
func (r *Ring) ConsumerRead(maxBytes int) (data []byte, eof bool) {
	for atomic.LoadInt32(r.lenIdx) == 0 {
		runtime.Gosched()
	}
	n := int(atomic.LoadInt32(r.lenIdx))
	if n == lenEOF {
		atomic.StoreInt32(r.lenIdx, 0)
		return nil, true
	}
	take := n
	if take > maxBytes {
		take = maxBytes
	}
	out := make([]byte, take)
	copy(out, r.payload[:take])
	remainder := n - take
	if remainder > 0 {
		copy(r.payload, r.payload[take:n])
	}
	atomic.StoreInt32(r.lenIdx, int32(remainder))
	return out, false
}
