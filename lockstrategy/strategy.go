// Package lockstrategy implements the pluggable wait policy (C2) used
// by both synchronous and asynchronous codec readers/writers when a
// bip-stream reservation or a readable slice is not yet available.
package lockstrategy

import (
	"time"

	"github.com/fiddlecore/wasmcore/wasmerr"
)

// Strategy is the wait-policy contract: Reset is invoked when a wait
// begins (i.e. the first time a caller finds the ring has no room or
// no bytes), Spin is invoked once per poll iteration and returns the
// delay in milliseconds before the next poll — 0 means busy-wait.
type Strategy interface {
	Reset()
	// Spin returns the delay (in ms) to wait before the next retry, or
	// wasmerr.ErrTimeout once a deadline-bounded strategy has expired.
	Spin() (delayMS int, err error)
}

// Busy never delays: every Spin call returns 0. This is the default
// strategy, suitable for short critical sections where the expected
// wait is microseconds.
type Busy struct{}

func (Busy) Reset()             {}
func (Busy) Spin() (int, error) { return 0, nil }

// Backoff busy-waits for DelayCycles iterations, then ramps
// geometrically from MinMS to MaxMS, doubling each iteration and
// clamping at MaxMS.
type Backoff struct {
	DelayCycles int
	MinMS       int
	MaxMS       int

	calls   int
	current int
}

// NewBackoff constructs a Backoff with the given ramp parameters.
func NewBackoff(delayCycles, minMS, maxMS int) *Backoff {
	return &Backoff{DelayCycles: delayCycles, MinMS: minMS, MaxMS: maxMS}
}

func (b *Backoff) Reset() {
	b.calls = 0
	b.current = 0
}

func (b *Backoff) Spin() (int, error) {
	b.calls++
	if b.calls <= b.DelayCycles {
		return 0, nil
	}
	if b.current == 0 {
		b.current = b.MinMS
	} else {
		b.current *= 2
	}
	if b.current > b.MaxMS {
		b.current = b.MaxMS
	}
	return b.current, nil
}

// Deadline wraps a Backoff with a wall-clock timeout: once the
// elapsed time since Reset exceeds TimeoutMS, Spin returns
// wasmerr.ErrTimeout instead of a delay. Callers (the canvas event
// loop, in particular) treat this as a clean end-of-stream signal.
type Deadline struct {
	Backoff
	TimeoutMS int

	start   time.Time
	started bool
}

// NewDeadline constructs a Deadline strategy. A TimeoutMS of 0 means
// no timeout (behaves exactly like the embedded Backoff).
func NewDeadline(delayCycles, minMS, maxMS, timeoutMS int) *Deadline {
	return &Deadline{
		Backoff:   Backoff{DelayCycles: delayCycles, MinMS: minMS, MaxMS: maxMS},
		TimeoutMS: timeoutMS,
	}
}

func (d *Deadline) Reset() {
	d.Backoff.Reset()
	d.start = time.Now()
	d.started = true
}

func (d *Deadline) Spin() (int, error) {
	if !d.started {
		d.Reset()
	}
	if d.TimeoutMS > 0 && time.Since(d.start) > time.Duration(d.TimeoutMS)*time.Millisecond {
		return 0, wasmerr.ErrTimeout
	}
	return d.Backoff.Spin()
}
