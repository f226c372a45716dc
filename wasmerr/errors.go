// Package wasmerr defines the sentinel error taxonomy shared by every
// subsystem in wasmcore. Callers wrap these with github.com/pkg/errors
// at call boundaries to attach position context without losing
// errors.Is/errors.As matchability.
package wasmerr

import "errors"

var (
	// ErrBadReservation is raised by bipstream.Reserve when count <= 0,
	// or when count exceeds half capacity with flexible=false.
	ErrBadReservation = errors.New("wasmcore: bad reservation")

	// ErrBadConsume is raised by bipstream.Consume when count is
	// negative or exceeds what remains of the last Valid() slice
	// returned to the consumer.
	ErrBadConsume = errors.New("wasmcore: bad consume")

	// ErrReentrantIO is raised when an async read or write is attempted
	// while one is already in flight on the same stream.
	ErrReentrantIO = errors.New("wasmcore: reentrant async io")

	// ErrTimeout is signaled by a lock strategy once its deadline has
	// elapsed; the canvas event loop treats it as clean shutdown.
	ErrTimeout = errors.New("wasmcore: timeout")

	// ErrBadEvent covers unknown opcodes, malformed payloads, and
	// FillText argc outside {3,4}.
	ErrBadEvent = errors.New("wasmcore: bad event")

	// ErrNoContext is returned by canvasengine when a Commit, Remove or
	// other dispatched event targets a global id with no registration.
	// canvasengine.Engine.Create does not return it: a steal request
	// naming an unknown context id allocates a fresh surface instead.
	ErrNoContext = errors.New("wasmcore: no matching context")

	// ErrHostError wraps a host-side failure routed back to the worker.
	ErrHostError = errors.New("wasmcore: host error")
)
