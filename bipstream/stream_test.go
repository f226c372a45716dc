package bipstream

import (
	"encoding/binary"
	"fmt"
	"runtime"
	"testing"
)

// writeAllErr drives s with flexible reservations until all of p has
// been committed. It is safe to call from a non-test goroutine: all
// failures are returned, never reported via t.
func writeAllErr(s *Stream, p []byte) error {
	spins := 0
	for len(p) > 0 {
		r, err := s.Reserve(len(p), true)
		if err != nil {
			return err
		}
		if r == nil {
			spins++
			if spins > 10_000_000 {
				return fmt.Errorf("Reserve: spun too long, %d bytes left", len(p))
			}
			runtime.Gosched()
			continue
		}
		spins = 0
		n := copy(r.Data(), p)
		if err := s.Commit(r); err != nil {
			return err
		}
		p = p[n:]
	}
	return nil
}

func writeAll(t *testing.T, s *Stream, p []byte) {
	t.Helper()
	if err := writeAllErr(s, p); err != nil {
		t.Fatal(err)
	}
}

// readAllErr is the Consumer-side counterpart of writeAllErr, safe to
// call from a non-test goroutine.
func readAllErr(s *Stream, n int) ([]byte, error) {
	out := make([]byte, 0, n)
	spins := 0
	for len(out) < n {
		v := s.Valid()
		if len(v) == 0 {
			spins++
			if spins > 10_000_000 {
				return nil, fmt.Errorf("Valid: spun too long, got %d want %d", len(out), n)
			}
			runtime.Gosched()
			continue
		}
		spins = 0
		want := n - len(out)
		if len(v) > want {
			v = v[:want]
		}
		out = append(out, v...)
		if err := s.Consume(len(v)); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func readAll(t *testing.T, s *Stream, n int) []byte {
	t.Helper()
	out, err := readAllErr(s, n)
	if err != nil {
		t.Fatal(err)
	}
	return out
}

// TestTinyRingThroughput is boundary scenario 1 from spec.md §8:
// capacity 15, 1000 interleaved uint32 writes/reads, final consumer
// sequence must equal the producer sequence.
func TestTinyRingThroughput(t *testing.T) {
	s, err := CreateBuffer(15)
	if err != nil {
		t.Fatalf("CreateBuffer: %v", err)
	}
	defer s.Close()

	const n = 1000
	for i := 0; i < n; i++ {
		var buf [4]byte
		binary.BigEndian.PutUint32(buf[:], uint32(i))
		writeAll(t, s, buf[:])
		got := readAll(t, s, 4)
		v := binary.BigEndian.Uint32(got)
		if v != uint32(i) {
			t.Fatalf("iteration %d: got %d, want %d", i, v, i)
		}
	}
}

// TestWraparoundStraddlingScalar is boundary scenario 2: capacity 15,
// write then read an int64 (8 bytes) when write is at offset 10 — the
// value must decode correctly even though it straddles the wrap.
func TestWraparoundStraddlingScalar(t *testing.T) {
	s, err := CreateBuffer(15)
	if err != nil {
		t.Fatalf("CreateBuffer: %v", err)
	}
	defer s.Close()

	// advance write to offset 10 by writing and consuming 10 filler
	// bytes, leaving read==write==10 so the next reservation starts
	// exactly at offset 10.
	writeAll(t, s, make([]byte, 10))
	readAll(t, s, 10)

	want := int64(-87654321)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(want))
	writeAll(t, s, buf[:])

	got := readAll(t, s, 8)
	gotVal := int64(binary.BigEndian.Uint64(got))
	if gotVal != want {
		t.Fatalf("got %d, want %d", gotVal, want)
	}
}

// TestFlexibleBytesReservation is boundary scenario 3: capacity 32,
// write a 100-byte payload using flexible reservations, reader must
// reconstruct all 100 bytes.
func TestFlexibleBytesReservation(t *testing.T) {
	s, err := CreateBuffer(32)
	if err != nil {
		t.Fatalf("CreateBuffer: %v", err)
	}
	defer s.Close()

	payload := make([]byte, 100)
	for i := range payload {
		payload[i] = byte(i)
	}

	done := make(chan error, 1)
	go func() {
		done <- writeAllErr(s, payload)
	}()

	got := readAll(t, s, len(payload))
	if err := <-done; err != nil {
		t.Fatalf("producer: %v", err)
	}

	for i := range payload {
		if got[i] != payload[i] {
			t.Fatalf("byte %d: got %d, want %d", i, got[i], payload[i])
		}
	}
}

func TestReserveRejectsNonPositiveCount(t *testing.T) {
	s, err := CreateBuffer(32)
	if err != nil {
		t.Fatalf("CreateBuffer: %v", err)
	}
	defer s.Close()

	if _, err := s.Reserve(0, true); err == nil {
		t.Fatalf("Reserve(0, true): expected error")
	}
	if _, err := s.Reserve(-1, false); err == nil {
		t.Fatalf("Reserve(-1, false): expected error")
	}
}

func TestReserveRejectsOversizeNonFlexible(t *testing.T) {
	s, err := CreateBuffer(32)
	if err != nil {
		t.Fatalf("CreateBuffer: %v", err)
	}
	defer s.Close()

	// data area is 33 bytes; half-capacity floor is 16, so a
	// non-flexible request for 20 bytes must be rejected outright.
	if _, err := s.Reserve(20, false); err == nil {
		t.Fatalf("Reserve(20, false): expected ErrBadReservation")
	}
}

func TestNonFlexibleReservationIsExact(t *testing.T) {
	s, err := CreateBuffer(32)
	if err != nil {
		t.Fatalf("CreateBuffer: %v", err)
	}
	defer s.Close()

	r, err := s.Reserve(10, false)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if r.Len() != 10 {
		t.Fatalf("Len() = %d, want 10", r.Len())
	}
}

func TestCommitPublishesLastOnWraparound(t *testing.T) {
	s, err := CreateBuffer(15)
	if err != nil {
		t.Fatalf("CreateBuffer: %v", err)
	}
	defer s.Close()

	// fill the entire tail (dataLen = capacity+1 = 16), then consume it
	// all so read==write==dataLen, leaving zero tail space: the next
	// reservation must wrap.
	writeAll(t, s, make([]byte, 16))
	readAll(t, s, 16)

	preWrite := int(loadIdx(s.writeIdx))
	r, err := s.Reserve(1, true)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if !r.wraparound {
		t.Fatalf("expected a wraparound reservation at write=%d", preWrite)
	}
	if err := s.Commit(r); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if got := int(loadIdx(s.lastIdx)); got != preWrite {
		t.Fatalf("last = %d, want pre-commit write %d", got, preWrite)
	}
	if got := int(loadIdx(s.writeIdx)); got != r.Len() {
		t.Fatalf("write = %d, want reservation length %d", got, r.Len())
	}
}

func loadIdx(p *int32) int32 {
	return *p
}
