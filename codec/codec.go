// Package codec layers typed scalar/bytes/string readers and writers
// (C3) over a bip-stream, in both synchronous (blocking) and
// cooperative-asynchronous (channel-returning) forms driven by a
// pluggable lockstrategy.Strategy. Both forms share the same
// reserve/commit algorithm — only the waiting mechanics differ — per
// spec.md §9's "async/sync duality" design note.
package codec

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/fiddlecore/wasmcore/bipstream"
	"github.com/fiddlecore/wasmcore/lockstrategy"
	"github.com/fiddlecore/wasmcore/metrics"
	"github.com/fiddlecore/wasmcore/wasmerr"
)

// Writer is the synchronous, blocking producer-side codec. It must
// not be invoked from the host/UI goroutine (see AsyncWriter for
// that role) — spec.md §5's suspension-point rule.
type Writer struct {
	stream   *bipstream.Stream
	strategy lockstrategy.Strategy
}

// NewWriter wraps a bip-stream producer handle with a wait strategy.
func NewWriter(stream *bipstream.Stream, strategy lockstrategy.Strategy) *Writer {
	return &Writer{stream: stream, strategy: strategy}
}

// writeChunked commits buf to the stream using flexible reservations,
// looping until the whole slice has been written. Because reserve()
// already returns an exact single-region reservation whenever the
// tail (or, on wrap, the front) has enough room, this single loop
// naturally implements both the common case (one reservation) and the
// straddle case (tail-remainder reservation followed by a
// front-of-buffer reservation after the implicit wrap) — the "split
// across two consecutive reservations" behavior spec.md §4.3
// describes.
func (w *Writer) writeChunked(buf []byte) error {
	w.strategy.Reset()
	for len(buf) > 0 {
		r, err := w.stream.Reserve(len(buf), true)
		if err != nil {
			return err
		}
		if r == nil {
			delay, serr := w.strategy.Spin()
			if serr != nil {
				if serr == wasmerr.ErrTimeout {
					metrics.CodecTimeouts.Inc()
				}
				return serr
			}
			metrics.ReservationSpins.Inc()
			if delay > 0 {
				time.Sleep(time.Duration(delay) * time.Millisecond)
			}
			continue
		}
		w.strategy.Reset()
		n := copy(r.Data(), buf)
		if err := w.stream.Commit(r); err != nil {
			return err
		}
		metrics.BytesWritten.Add(float64(n))
		buf = buf[n:]
	}
	return nil
}

func (w *Writer) WriteUint8(v uint8) error  { return w.writeChunked([]byte{v}) }
func (w *Writer) WriteInt8(v int8) error    { return w.WriteUint8(uint8(v)) }

func (w *Writer) WriteUint16(v uint16) error {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	return w.writeChunked(b[:])
}
func (w *Writer) WriteInt16(v int16) error { return w.WriteUint16(uint16(v)) }

func (w *Writer) WriteUint32(v uint32) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return w.writeChunked(b[:])
}
func (w *Writer) WriteInt32(v int32) error { return w.WriteUint32(uint32(v)) }

func (w *Writer) WriteUint64(v uint64) error {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return w.writeChunked(b[:])
}
func (w *Writer) WriteInt64(v int64) error { return w.WriteUint64(uint64(v)) }

func (w *Writer) WriteFloat32(v float32) error {
	return w.WriteUint32(math.Float32bits(v))
}
func (w *Writer) WriteFloat64(v float64) error {
	return w.WriteUint64(math.Float64bits(v))
}

// WriteBytesRaw writes buf with no length prefix, in as many
// reservations as needed. An empty slice is a no-op.
func (w *Writer) WriteBytesRaw(buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	return w.writeChunked(buf)
}

// WriteBytes writes a u32 length prefix followed by buf.
func (w *Writer) WriteBytes(buf []byte) error {
	if err := w.WriteUint32(uint32(len(buf))); err != nil {
		return err
	}
	return w.WriteBytesRaw(buf)
}

// WriteString UTF-8 encodes s and writes it as length-prefixed bytes.
func (w *Writer) WriteString(s string) error {
	return w.WriteBytes([]byte(s))
}

// Reader is the synchronous, blocking consumer-side codec.
type Reader struct {
	stream   *bipstream.Stream
	strategy lockstrategy.Strategy
	scratch  []byte
}

// NewReader wraps a bip-stream consumer handle with a wait strategy.
func NewReader(stream *bipstream.Stream, strategy lockstrategy.Strategy) *Reader {
	return &Reader{stream: stream, strategy: strategy}
}

// readExact accumulates n bytes into the reader's scratch buffer,
// spinning per the strategy whenever Valid() has nothing ready. The
// returned slice aliases the scratch buffer: callers must copy it
// before the next read touches the stream again (spec.md §4.3
// "Returned buffers").
func (r *Reader) readExact(n int) ([]byte, error) {
	if cap(r.scratch) < n {
		r.scratch = make([]byte, n)
	}
	scratch := r.scratch[:n]
	got := 0
	r.strategy.Reset()
	for got < n {
		v := r.stream.Valid()
		if len(v) == 0 {
			delay, err := r.strategy.Spin()
			if err != nil {
				if err == wasmerr.ErrTimeout {
					metrics.CodecTimeouts.Inc()
				}
				return nil, err
			}
			metrics.ReservationSpins.Inc()
			if delay > 0 {
				time.Sleep(time.Duration(delay) * time.Millisecond)
			}
			continue
		}
		r.strategy.Reset()
		want := n - got
		if len(v) > want {
			v = v[:want]
		}
		copy(scratch[got:], v)
		if err := r.stream.Consume(len(v)); err != nil {
			return nil, err
		}
		metrics.BytesRead.Add(float64(len(v)))
		got += len(v)
	}
	return scratch, nil
}

func (r *Reader) ReadUint8() (uint8, error) {
	b, err := r.readExact(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}
func (r *Reader) ReadInt8() (int8, error) {
	v, err := r.ReadUint8()
	return int8(v), err
}

func (r *Reader) ReadUint16() (uint16, error) {
	b, err := r.readExact(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}
func (r *Reader) ReadInt16() (int16, error) {
	v, err := r.ReadUint16()
	return int16(v), err
}

func (r *Reader) ReadUint32() (uint32, error) {
	b, err := r.readExact(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}
func (r *Reader) ReadInt32() (int32, error) {
	v, err := r.ReadUint32()
	return int32(v), err
}

func (r *Reader) ReadUint64() (uint64, error) {
	b, err := r.readExact(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}
func (r *Reader) ReadInt64() (int64, error) {
	v, err := r.ReadUint64()
	return int64(v), err
}

func (r *Reader) ReadFloat32() (float32, error) {
	v, err := r.ReadUint32()
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(v), nil
}
func (r *Reader) ReadFloat64() (float64, error) {
	v, err := r.ReadUint64()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(v), nil
}

// ReadBytesRaw reads exactly count bytes. The returned slice aliases
// the reader's scratch buffer.
func (r *Reader) ReadBytesRaw(count int) ([]byte, error) {
	if count == 0 {
		return nil, nil
	}
	return r.readExact(count)
}

// ReadBytes reads a u32 length prefix, then that many raw bytes.
func (r *Reader) ReadBytes() ([]byte, error) {
	n, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	return r.ReadBytesRaw(int(n))
}

// ReadString reads a length-prefixed UTF-8 string.
func (r *Reader) ReadString() (string, error) {
	b, err := r.ReadBytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// errReentrant is returned verbatim (no position wrap needed — the
// call site is always the public Async* entry point) when an async
// operation is re-entered while one is already in flight.
var errReentrant = wasmerr.ErrReentrantIO
