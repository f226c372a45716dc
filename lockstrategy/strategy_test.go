package lockstrategy

import (
	"errors"
	"testing"
	"time"

	"github.com/fiddlecore/wasmcore/wasmerr"
)

func TestBusyAlwaysZero(t *testing.T) {
	var s Busy
	for i := 0; i < 5; i++ {
		d, err := s.Spin()
		if err != nil || d != 0 {
			t.Fatalf("Spin() = (%d, %v), want (0, nil)", d, err)
		}
	}
}

func TestBackoffRampsAndClamps(t *testing.T) {
	b := NewBackoff(2, 5, 20)
	want := []int{0, 0, 5, 10, 20, 20}
	for i, w := range want {
		d, err := b.Spin()
		if err != nil {
			t.Fatalf("call %d: unexpected error %v", i, err)
		}
		if d != w {
			t.Fatalf("call %d: Spin() = %d, want %d", i, d, w)
		}
	}
}

func TestBackoffResetRestartsRamp(t *testing.T) {
	b := NewBackoff(0, 5, 20)
	b.Spin() // 5
	b.Spin() // 10
	b.Reset()
	d, _ := b.Spin()
	if d != 5 {
		t.Fatalf("after Reset, Spin() = %d, want 5", d)
	}
}

func TestDeadlineSignalsTimeout(t *testing.T) {
	d := NewDeadline(0, 1, 1, 5)
	d.Reset()
	deadlineHit := false
	for i := 0; i < 1000; i++ {
		_, err := d.Spin()
		if err != nil {
			if !errors.Is(err, wasmerr.ErrTimeout) {
				t.Fatalf("Spin() error = %v, want wasmerr.ErrTimeout", err)
			}
			deadlineHit = true
			break
		}
		time.Sleep(time.Millisecond)
	}
	if !deadlineHit {
		t.Fatalf("deadline never fired within 1000 iterations")
	}
}

func TestDeadlineZeroTimeoutNeverFires(t *testing.T) {
	d := NewDeadline(0, 1, 1, 0)
	d.Reset()
	for i := 0; i < 50; i++ {
		if _, err := d.Spin(); err != nil {
			t.Fatalf("Spin() unexpected error with TimeoutMS=0: %v", err)
		}
	}
}
