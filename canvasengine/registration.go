// Package canvasengine implements the worker-side canvas state
// machine (C5): per-canvas front/back/state buffers, commit/render,
// theme-change replay, and reuse-by-context-id-steal, driven by the
// event loop that reads canvasproto.Event records off a bip-stream.
package canvasengine

import (
	"sync"

	"github.com/fiddlecore/wasmcore/canvasproto"
)

// GlobalID identifies one canvas registration: (local_id + instance_id) << 8
// per spec.md §4. Construction of the id is the caller's
// responsibility (the worker assigns instance_id once per connected
// invocation); this package only stores and looks registrations up by
// it.
type GlobalID uint64

// Surface is the rendering backend a registration drives. A real
// worker would bind this to a 2D canvas context (via syscall/js in a
// wasm build); tests and headless tooling use a recording
// implementation.
type Surface interface {
	// Apply executes one event against the surface's current state.
	Apply(canvasproto.Event)
	// Clear resets the surface to a blank canvas of its current size.
	Clear()
}

// Registration is one live (or removed-but-still-rendered) canvas.
type Registration struct {
	GlobalID  GlobalID
	ContextID uint64
	Surface   Surface

	mu          sync.Mutex
	backBuffer  []canvasproto.Event
	frontBuffer []canvasproto.Event
	stateBuffer map[canvasproto.Opcode]canvasproto.Event
	removed     bool
	width       int16
	height      int16
	theme       map[string]string
}

// NewRegistration creates a fresh registration bound to surf, in the
// canonical post-Create baseline.
func NewRegistration(id GlobalID, contextID uint64, surf Surface) *Registration {
	return &Registration{
		GlobalID:    id,
		ContextID:   contextID,
		Surface:     surf,
		stateBuffer: make(map[canvasproto.Opcode]canvasproto.Event),
	}
}

// Removed reports whether Remove has been applied to this
// registration. Removed registrations are still rendered on theme
// change but accept no further events.
func (r *Registration) Removed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removed
}

// Dimensions returns the registration's current width/height.
func (r *Registration) Dimensions() (int16, int16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.width, r.height
}

// Resize updates the registration's stored dimensions; it does not by
// itself touch the surface. Engine.Dispatch follows it by appending
// the Width/Height event, which Append routes into backBuffer and
// stateBuffer like any other stateful setter; Engine.Create calls it
// with no accompanying event.
func (r *Registration) Resize(w, h int16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.width, r.height = w, h
}

// Append queues ev into the back buffer (and, if it is a stateful
// setter, into the state buffer for future theme replay). Create,
// Remove, and Commit are handled by the event loop directly and must
// not be passed here.
func (r *Registration) Append(ev canvasproto.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.removed {
		return
	}
	r.backBuffer = append(r.backBuffer, ev)
	if ev.Type.Stateful() {
		r.stateBuffer[ev.Type] = ev
	}
}

// MarkRemoved flags the registration as removed. The caller is
// expected to force a final Commit immediately afterward per
// spec.md §4.5.
func (r *Registration) MarkRemoved() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = true
}

// Commit atomically swaps the back buffer into the front buffer,
// refreshes the state buffer from the buffer that is about to become
// current, and renders without a state refresh (the context is
// already live, so only the new front buffer needs to play).
func (r *Registration) Commit() {
	r.mu.Lock()
	front := r.backBuffer
	r.backBuffer = nil
	r.frontBuffer = front
	for _, ev := range front {
		if ev.Type.Stateful() {
			r.stateBuffer[ev.Type] = ev
		}
	}
	r.mu.Unlock()
	r.render(false)
}

// Render re-renders the registration's current front buffer,
// optionally replaying the full state buffer first (used on theme
// change, where context state may have been invalidated).
func (r *Registration) Render(refresh bool) { r.render(refresh) }

// SetTheme installs theme as the registration's color-name to
// replacement-color mapping. It takes effect on the next render; the
// caller is expected to follow with Render(true) to replay the
// state buffer under the new mapping immediately, per spec.md §4.5's
// theme-change rule.
func (r *Registration) SetTheme(theme map[string]string) {
	r.mu.Lock()
	r.theme = theme
	r.mu.Unlock()
}

func (r *Registration) render(refresh bool) {
	r.mu.Lock()
	front := append([]canvasproto.Event(nil), r.frontBuffer...)
	var state []canvasproto.Event
	if refresh {
		state = make([]canvasproto.Event, 0, len(r.stateBuffer))
		for _, ev := range r.stateBuffer {
			state = append(state, ev)
		}
	}
	theme := r.theme
	r.mu.Unlock()

	r.Surface.Clear()
	for _, ev := range state {
		r.Surface.Apply(themedEvent(theme, ev))
	}
	for _, ev := range front {
		r.Surface.Apply(themedEvent(theme, ev))
	}
}

// themedEvent substitutes ev's color-bearing fields (flat fill/stroke
// color, shadow color, gradient stops) through theme, a color-name to
// replacement-color map. Colors with no entry in theme pass through
// unchanged. ev is never mutated in place — a themed copy is returned
// so the original buffered event survives for the next theme change.
func themedEvent(theme map[string]string, ev canvasproto.Event) canvasproto.Event {
	if len(theme) == 0 {
		return ev
	}
	if repl, ok := theme[ev.Color]; ok {
		ev.Color = repl
	}
	if ev.Type == canvasproto.OpShadowColor {
		if repl, ok := theme[ev.Str]; ok {
			ev.Str = repl
		}
	}
	if ev.Gradient != nil {
		stops := append([]canvasproto.GradientStop(nil), ev.Gradient.Stops...)
		for i, s := range stops {
			if repl, ok := theme[s.Color]; ok {
				stops[i].Color = repl
			}
		}
		themed := *ev.Gradient
		themed.Stops = stops
		ev.Gradient = &themed
	}
	return ev
}

// StealContext transfers this registration's Surface and ContextID to
// a fresh registration under newID, per the Create(reuse) branch of
// spec.md §4.5's state machine. The receiver is left with a nil
// Surface and must be discarded by the caller.
func (r *Registration) StealContext(newID GlobalID) *Registration {
	r.mu.Lock()
	surf, ctxID := r.Surface, r.ContextID
	r.Surface = nil
	r.mu.Unlock()
	return NewRegistration(newID, ctxID, surf)
}
