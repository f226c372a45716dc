package codec

import (
	"math"
	"testing"

	"github.com/fiddlecore/wasmcore/bipstream"
	"github.com/fiddlecore/wasmcore/lockstrategy"
)

func newPair(t *testing.T, capacity int) (*Writer, *Reader, *bipstream.Stream) {
	t.Helper()
	s, err := bipstream.CreateBuffer(capacity)
	if err != nil {
		t.Fatalf("CreateBuffer: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	strategy := lockstrategy.NewBackoff(0, 1, 5)
	return NewWriter(s, strategy), NewReader(s, lockstrategy.NewBackoff(0, 1, 5)), s
}

// TestScalarRoundTripStraddlingWrap is the "write_uN(x); read_uN()
// returns x" boundary scenario from spec.md §8, run against a ring
// small enough (capacity 15) that a uint64 write straddles the wrap
// boundary.
func TestScalarRoundTripStraddlingWrap(t *testing.T) {
	w, r, s := newPair(t, 15)

	// advance write/read to offset 10 with filler so the uint64 below
	// must straddle the 16-byte data area's wrap point.
	if err := w.WriteBytesRaw(make([]byte, 10)); err != nil {
		t.Fatalf("filler write: %v", err)
	}
	if _, err := r.ReadBytesRaw(10); err != nil {
		t.Fatalf("filler read: %v", err)
	}
	_ = s

	want := uint64(0xDEADBEEFCAFEBABE)
	if err := w.WriteUint64(want); err != nil {
		t.Fatalf("WriteUint64: %v", err)
	}
	got, err := r.ReadUint64()
	if err != nil {
		t.Fatalf("ReadUint64: %v", err)
	}
	if got != want {
		t.Fatalf("got %#x, want %#x", got, want)
	}
}

func TestScalarRoundTripAllWidths(t *testing.T) {
	w, r, _ := newPair(t, 64)

	if err := w.WriteUint8(0xAB); err != nil {
		t.Fatal(err)
	}
	if v, err := r.ReadUint8(); err != nil || v != 0xAB {
		t.Fatalf("ReadUint8() = (%v, %v), want (0xAB, nil)", v, err)
	}

	if err := w.WriteInt8(-5); err != nil {
		t.Fatal(err)
	}
	if v, err := r.ReadInt8(); err != nil || v != -5 {
		t.Fatalf("ReadInt8() = (%v, %v), want (-5, nil)", v, err)
	}

	if err := w.WriteUint16(0xBEEF); err != nil {
		t.Fatal(err)
	}
	if v, err := r.ReadUint16(); err != nil || v != 0xBEEF {
		t.Fatalf("ReadUint16() = (%v, %v), want (0xBEEF, nil)", v, err)
	}

	if err := w.WriteInt16(-1234); err != nil {
		t.Fatal(err)
	}
	if v, err := r.ReadInt16(); err != nil || v != -1234 {
		t.Fatalf("ReadInt16() = (%v, %v), want (-1234, nil)", v, err)
	}

	if err := w.WriteUint32(0xC0FFEE); err != nil {
		t.Fatal(err)
	}
	if v, err := r.ReadUint32(); err != nil || v != 0xC0FFEE {
		t.Fatalf("ReadUint32() = (%v, %v), want (0xC0FFEE, nil)", v, err)
	}

	if err := w.WriteInt32(-99999); err != nil {
		t.Fatal(err)
	}
	if v, err := r.ReadInt32(); err != nil || v != -99999 {
		t.Fatalf("ReadInt32() = (%v, %v), want (-99999, nil)", v, err)
	}

	if err := w.WriteInt64(-1); err != nil {
		t.Fatal(err)
	}
	if v, err := r.ReadInt64(); err != nil || v != -1 {
		t.Fatalf("ReadInt64() = (%v, %v), want (-1, nil)", v, err)
	}

	wf32 := float32(3.14159)
	if err := w.WriteFloat32(wf32); err != nil {
		t.Fatal(err)
	}
	if v, err := r.ReadFloat32(); err != nil || v != wf32 {
		t.Fatalf("ReadFloat32() = (%v, %v), want (%v, nil)", v, err, wf32)
	}

	wf64 := math.Pi
	if err := w.WriteFloat64(wf64); err != nil {
		t.Fatal(err)
	}
	if v, err := r.ReadFloat64(); err != nil || v != wf64 {
		t.Fatalf("ReadFloat64() = (%v, %v), want (%v, nil)", v, err, wf64)
	}
}

func TestStringRoundTripEmptyAndMultibyte(t *testing.T) {
	w, r, _ := newPair(t, 64)

	cases := []string{"", "hello", "héllo wörld", "日本語のテスト", string(make([]byte, 40))}
	for _, c := range cases {
		if err := w.WriteString(c); err != nil {
			t.Fatalf("WriteString(%q): %v", c, err)
		}
		got, err := r.ReadString()
		if err != nil {
			t.Fatalf("ReadString() after WriteString(%q): %v", c, err)
		}
		if got != c {
			t.Fatalf("round trip: got %q, want %q", got, c)
		}
	}
}

func TestBytesRoundTripAcrossWrap(t *testing.T) {
	w, r, _ := newPair(t, 20)

	payload := make([]byte, 64)
	for i := range payload {
		payload[i] = byte(i * 7)
	}

	done := make(chan error, 1)
	go func() { done <- w.WriteBytes(payload) }()

	got, err := r.ReadBytes()
	if err != nil {
		t.Fatalf("ReadBytes: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("WriteBytes: %v", err)
	}
	if len(got) != len(payload) {
		t.Fatalf("len(got) = %d, want %d", len(got), len(payload))
	}
	for i := range payload {
		if got[i] != payload[i] {
			t.Fatalf("byte %d: got %d, want %d", i, got[i], payload[i])
		}
	}
}

func TestAsyncWriterReentrancyGuard(t *testing.T) {
	s, err := bipstream.CreateBuffer(8)
	if err != nil {
		t.Fatalf("CreateBuffer: %v", err)
	}
	defer s.Close()

	aw := NewAsyncWriter(s, lockstrategy.NewBackoff(0, 1, 5))

	// write more than the 9-byte data area holds so the first write
	// blocks, leaving time for the second call to observe inFlight
	// still set.
	big := make([]byte, 16)
	first := aw.WriteBytesRaw(big)

	second := aw.WriteUint8(1)
	err2 := <-second
	if err2 == nil {
		t.Fatalf("second concurrent async call: expected ErrReentrantIO, got nil")
	}

	// drain the reader so the first call can complete.
	r := NewReader(s, lockstrategy.NewBackoff(0, 1, 5))
	go func() { r.ReadBytesRaw(16) }()
	if err1 := <-first; err1 != nil {
		t.Fatalf("first async write: %v", err1)
	}
}

func TestAsyncRoundTrip(t *testing.T) {
	s, err := bipstream.CreateBuffer(64)
	if err != nil {
		t.Fatalf("CreateBuffer: %v", err)
	}
	defer s.Close()

	aw := NewAsyncWriter(s, lockstrategy.NewBackoff(0, 1, 5))
	ar := NewAsyncReader(s, lockstrategy.NewBackoff(0, 1, 5))

	if err := <-aw.WriteUint32(424242); err != nil {
		t.Fatalf("async write: %v", err)
	}
	res := <-ar.ReadUint32()
	if res.Err != nil {
		t.Fatalf("async read: %v", res.Err)
	}
	if res.Value != 424242 {
		t.Fatalf("got %d, want 424242", res.Value)
	}
}

func TestAsyncReadBytesRawMatchesSyncCounterpart(t *testing.T) {
	s, err := bipstream.CreateBuffer(64)
	if err != nil {
		t.Fatalf("CreateBuffer: %v", err)
	}
	defer s.Close()

	aw := NewAsyncWriter(s, lockstrategy.NewBackoff(0, 1, 5))
	ar := NewAsyncReader(s, lockstrategy.NewBackoff(0, 1, 5))

	payload := []byte{9, 8, 7, 6, 5}
	if err := <-aw.WriteBytesRaw(payload); err != nil {
		t.Fatalf("async write: %v", err)
	}
	res := <-ar.ReadBytesRaw(len(payload))
	if res.Err != nil {
		t.Fatalf("async ReadBytesRaw: %v", res.Err)
	}
	if string(res.Value) != string(payload) {
		t.Fatalf("got %v, want %v", res.Value, payload)
	}
}
