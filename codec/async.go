package codec

import (
	"sync/atomic"

	"github.com/fiddlecore/wasmcore/bipstream"
	"github.com/fiddlecore/wasmcore/lockstrategy"
)

// AsyncWriter is the cooperative-asynchronous producer-side codec: each
// Write* call returns immediately with a channel that receives one
// error (nil on success) once the whole value has been committed. A
// second call while one is still in flight fails synchronously with
// wasmerr.ErrReentrantIO rather than queuing, per spec.md §5's
// reentrancy rule.
type AsyncWriter struct {
	w      *Writer
	inFlight atomic.Bool
}

// NewAsyncWriter wraps a bip-stream producer handle for async use.
func NewAsyncWriter(stream *bipstream.Stream, strategy lockstrategy.Strategy) *AsyncWriter {
	return &AsyncWriter{w: NewWriter(stream, strategy)}
}

// run starts fn on its own goroutine, guarded by the reentrancy flag,
// and returns a buffered channel that receives fn's result.
func (a *AsyncWriter) run(fn func() error) <-chan error {
	done := make(chan error, 1)
	if !a.inFlight.CompareAndSwap(false, true) {
		done <- errReentrant
		return done
	}
	go func() {
		defer a.inFlight.Store(false)
		done <- fn()
	}()
	return done
}

func (a *AsyncWriter) WriteUint8(v uint8) <-chan error   { return a.run(func() error { return a.w.WriteUint8(v) }) }
func (a *AsyncWriter) WriteInt8(v int8) <-chan error     { return a.run(func() error { return a.w.WriteInt8(v) }) }
func (a *AsyncWriter) WriteUint16(v uint16) <-chan error { return a.run(func() error { return a.w.WriteUint16(v) }) }
func (a *AsyncWriter) WriteInt16(v int16) <-chan error   { return a.run(func() error { return a.w.WriteInt16(v) }) }
func (a *AsyncWriter) WriteUint32(v uint32) <-chan error { return a.run(func() error { return a.w.WriteUint32(v) }) }
func (a *AsyncWriter) WriteInt32(v int32) <-chan error   { return a.run(func() error { return a.w.WriteInt32(v) }) }
func (a *AsyncWriter) WriteUint64(v uint64) <-chan error { return a.run(func() error { return a.w.WriteUint64(v) }) }
func (a *AsyncWriter) WriteInt64(v int64) <-chan error   { return a.run(func() error { return a.w.WriteInt64(v) }) }
func (a *AsyncWriter) WriteFloat32(v float32) <-chan error {
	return a.run(func() error { return a.w.WriteFloat32(v) })
}
func (a *AsyncWriter) WriteFloat64(v float64) <-chan error {
	return a.run(func() error { return a.w.WriteFloat64(v) })
}
func (a *AsyncWriter) WriteBytesRaw(buf []byte) <-chan error {
	return a.run(func() error { return a.w.WriteBytesRaw(buf) })
}
func (a *AsyncWriter) WriteBytes(buf []byte) <-chan error {
	return a.run(func() error { return a.w.WriteBytes(buf) })
}
func (a *AsyncWriter) WriteString(s string) <-chan error {
	return a.run(func() error { return a.w.WriteString(s) })
}

// AsyncReader is the cooperative-asynchronous consumer-side codec.
// Each Read* call returns a channel receiving exactly one result.
type AsyncReader struct {
	r        *Reader
	inFlight atomic.Bool
}

// NewAsyncReader wraps a bip-stream consumer handle for async use.
func NewAsyncReader(stream *bipstream.Stream, strategy lockstrategy.Strategy) *AsyncReader {
	return &AsyncReader{r: NewReader(stream, strategy)}
}

// AsyncResult carries one decoded value plus its error, since Go
// channels can't carry a (T, error) pair without a wrapper.
type AsyncResult[T any] struct {
	Value T
	Err   error
}

func runResult[T any](a *AsyncReader, fn func() (T, error)) <-chan AsyncResult[T] {
	done := make(chan AsyncResult[T], 1)
	if !a.inFlight.CompareAndSwap(false, true) {
		var zero T
		done <- AsyncResult[T]{Value: zero, Err: errReentrant}
		return done
	}
	go func() {
		defer a.inFlight.Store(false)
		v, err := fn()
		done <- AsyncResult[T]{Value: v, Err: err}
	}()
	return done
}

func (a *AsyncReader) ReadUint8() <-chan AsyncResult[uint8] {
	return runResult(a, a.r.ReadUint8)
}
func (a *AsyncReader) ReadInt8() <-chan AsyncResult[int8] {
	return runResult(a, a.r.ReadInt8)
}
func (a *AsyncReader) ReadUint16() <-chan AsyncResult[uint16] {
	return runResult(a, a.r.ReadUint16)
}
func (a *AsyncReader) ReadInt16() <-chan AsyncResult[int16] {
	return runResult(a, a.r.ReadInt16)
}
func (a *AsyncReader) ReadUint32() <-chan AsyncResult[uint32] {
	return runResult(a, a.r.ReadUint32)
}
func (a *AsyncReader) ReadInt32() <-chan AsyncResult[int32] {
	return runResult(a, a.r.ReadInt32)
}
func (a *AsyncReader) ReadUint64() <-chan AsyncResult[uint64] {
	return runResult(a, a.r.ReadUint64)
}
func (a *AsyncReader) ReadInt64() <-chan AsyncResult[int64] {
	return runResult(a, a.r.ReadInt64)
}
func (a *AsyncReader) ReadFloat32() <-chan AsyncResult[float32] {
	return runResult(a, a.r.ReadFloat32)
}
func (a *AsyncReader) ReadFloat64() <-chan AsyncResult[float64] {
	return runResult(a, a.r.ReadFloat64)
}
func (a *AsyncReader) ReadBytesRaw(count int) <-chan AsyncResult[[]byte] {
	return runResult(a, func() ([]byte, error) { return a.r.ReadBytesRaw(count) })
}
func (a *AsyncReader) ReadBytes() <-chan AsyncResult[[]byte] {
	return runResult(a, a.r.ReadBytes)
}
func (a *AsyncReader) ReadString() <-chan AsyncResult[string] {
	return runResult(a, a.r.ReadString)
}
