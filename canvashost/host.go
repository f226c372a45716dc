// Package canvashost implements the host/UI-side facade (C6): canvas
// allocation and free-list reuse, context-id assignment, theme
// forwarding, and a stale-canvas sweep. It mirrors xtaci-kcptun's
// client-side scavenger goroutine (a channel of timed entries drained
// by a ticker) applied to canvases instead of smux sessions.
package canvashost

import (
	"log"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// DOMNode is the host's handle on a drawable surface outside this
// package's control (an actual <canvas> element in a wasm build; a
// fake in tests). canvashost only tracks bookkeeping around it.
type DOMNode interface {
	Resize(w, h int16)
	Remove()
}

// DOMNodeFactory allocates a fresh DOMNode of the given size.
type DOMNodeFactory func(w, h int16) DOMNode

// canvasEntry is one allocated canvas: its DOM node, assigned
// context id, and whether it has ever had its offscreen handle
// transferred to a worker.
type canvasEntry struct {
	node       DOMNode
	contextID  uint64
	transferred bool
	stale      bool
}

// timedEntry pairs a context id with the wall-clock time its stale
// window expires, the same shape as xtaci-kcptun's timedSession.
type timedEntry struct {
	contextID  uint64
	expiryDate time.Time
}

// Host is the canvas allocation/free-list facade. One Host instance
// serves one connected worker.
type Host struct {
	mu            sync.Mutex
	newNode       DOMNodeFactory
	entries       map[uint64]*canvasEntry
	nextContextID uint64

	scavengeCh chan timedEntry
	staleTTL   time.Duration

	ctl   *Channel
	theme map[string]string
}

// New constructs a Host. staleTTL is the window within which a marked
// stale canvas remains eligible for create_canvas() to revive rather
// than allocate fresh; a staleTTL of 0 disables the sweep goroutine.
func New(newNode DOMNodeFactory, staleTTL time.Duration) *Host {
	h := &Host{
		newNode:    newNode,
		entries:    make(map[uint64]*canvasEntry),
		scavengeCh: make(chan timedEntry, 64),
		staleTTL:   staleTTL,
		theme:      make(map[string]string),
	}
	if staleTTL > 0 {
		go h.scavenge()
	}
	return h
}

// scavenge is the stale-canvas sweep goroutine: a ticker drains
// expired timedEntry records and removes any canvas still marked
// stale at that point, freeing its DOM node. Grounded directly on
// xtaci-kcptun/client/main.go's scavenger().
func (h *Host) scavenge() {
	const period = 1 * time.Second
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	var pending []timedEntry
	for {
		select {
		case item := <-h.scavengeCh:
			pending = append(pending, item)
		case <-ticker.C:
			var remaining []timedEntry
			now := time.Now()
			for _, p := range pending {
				h.mu.Lock()
				entry, ok := h.entries[p.contextID]
				if !ok {
					h.mu.Unlock()
					continue
				}
				if !entry.stale {
					// revived since being marked — drop the pending sweep
					h.mu.Unlock()
					continue
				}
				if now.After(p.expiryDate) {
					entry.node.Remove()
					delete(h.entries, p.contextID)
					log.Println("canvashost: stale canvas expired, context", p.contextID)
					h.mu.Unlock()
					continue
				}
				h.mu.Unlock()
				remaining = append(remaining, p)
			}
			pending = remaining
		}
	}
}

// CreateCanvas implements create_canvas(): it first looks for a stale
// entry to revive, then falls back to allocating a fresh node.
// Returns the assigned context id and whether this is the node's
// first-ever transfer (callers use that to decide whether to move an
// offscreen handle).
func (h *Host) CreateCanvas(w, h16 int16) (contextID uint64, firstTransfer bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ctxID, entry := range h.entries {
		if entry.stale {
			entry.stale = false
			entry.node.Resize(w, h16)
			return ctxID, false
		}
	}

	h.nextContextID++
	ctxID := h.nextContextID
	entry := &canvasEntry{node: h.newNode(w, h16)}
	h.entries[ctxID] = entry
	return ctxID, true
}

// MarkTransferred records that contextID's offscreen handle has now
// been moved to the worker, so future CreateCanvas/reuse calls for
// the same context never transfer it again.
func (h *Host) MarkTransferred(contextID uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if e, ok := h.entries[contextID]; ok {
		e.transferred = true
	}
}

// Resize applies a ResizeCanvas host-side.
func (h *Host) Resize(contextID uint64, w, h16 int16) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if e, ok := h.entries[contextID]; ok {
		e.node.Resize(w, h16)
	}
}

// RemoveCanvas applies a RemoveCanvas host-side, dropping the node
// immediately rather than waiting for the stale sweep.
func (h *Host) RemoveCanvas(contextID uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if e, ok := h.entries[contextID]; ok {
		e.node.Remove()
		delete(h.entries, contextID)
	}
}

// StaleReset marks every currently live canvas stale and schedules
// its removal after the host's staleTTL, per spec.md §4.6 "On stale
// reset". A CreateCanvas call inside the window revives the entry
// instead of allocating fresh.
func (h *Host) StaleReset() {
	h.mu.Lock()
	now := time.Now()
	var toSchedule []timedEntry
	for ctxID, e := range h.entries {
		e.stale = true
		toSchedule = append(toSchedule, timedEntry{contextID: ctxID, expiryDate: now.Add(h.staleTTL)})
	}
	h.mu.Unlock()

	for _, t := range toSchedule {
		h.scavengeCh <- t
	}
}

// Live reports the number of currently tracked canvases, stale or
// not.
func (h *Host) Live() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// BindChannel attaches the control channel SetTheme forwards messages
// over. It is separate from New because the Host is typically
// constructed before the worker dials in and the channel exists.
func (h *Host) BindChannel(ctl *Channel) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ctl = ctl
}

// SetTheme records one color-name to replacement-color mapping entry
// and forwards it to the connected worker as a Theme message, per
// spec.md §4.6 "On theme change: forward a Theme message to the
// worker." If no channel has been bound yet, the entry is still
// recorded and an error is returned instead of sending.
func (h *Host) SetTheme(name, color string) error {
	h.mu.Lock()
	h.theme[name] = color
	ctl := h.ctl
	h.mu.Unlock()

	if ctl == nil {
		return errors.New("canvashost: SetTheme called before a control channel was bound")
	}
	return ctl.Send(Envelope{
		Type:       MsgTheme,
		To:         "worker",
		ThemeName:  name,
		ThemeColor: color,
	})
}

// CurrentTheme returns a copy of the host's accumulated color mapping,
// for reporting (the console's "stats" command) or for resending on a
// fresh Connection.
func (h *Host) CurrentTheme() map[string]string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]string, len(h.theme))
	for k, v := range h.theme {
		out[k] = v
	}
	return out
}
