package canvasengine

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"sync"

	"github.com/natefinch/atomic"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/crypto/blake2b"

	"github.com/fiddlecore/wasmcore/canvasproto"
	"github.com/fiddlecore/wasmcore/wasmerr"
)

// Prometheus metrics — global only, registered once at package init,
// matching the metrics-module pattern of registering a fixed
// collector set rather than per-instance collectors.
var (
	commitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wasmcore_canvas_commits_total",
		Help: "Total number of canvas registration commits processed.",
	})
	badEventsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wasmcore_canvas_bad_events_total",
		Help: "Total number of events rejected as malformed or unknown.",
	})
	liveRegistrations = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "wasmcore_canvas_live_registrations",
		Help: "Current number of live (non-removed) canvas registrations.",
	})
)

func init() {
	prometheus.MustRegister(commitsTotal, badEventsTotal, liveRegistrations)
}

// SurfaceFactory builds a fresh Surface for a newly created canvas of
// the given size.
type SurfaceFactory func(w, h int16) Surface

// Engine owns the worker-side registration map (C5). It is not
// goroutine-safe for concurrent event dispatch from multiple callers;
// per spec.md §5 the worker's event loop is single-threaded.
type Engine struct {
	mu            sync.RWMutex
	byGlobalID    map[GlobalID]*Registration
	byContextID   map[uint64]*Registration
	newSurface    SurfaceFactory
	nextContextID uint64

	imageCache map[string][]byte // content hash -> decoded bytes, keyed by blake2b digest
	theme      map[string]string // color name -> replacement color, per spec.md §3 "Theme"
}

// New constructs an empty engine. newSurface is invoked once per
// Create event that does not resolve to a steal.
func New(newSurface SurfaceFactory) *Engine {
	return &Engine{
		byGlobalID:  make(map[GlobalID]*Registration),
		byContextID: make(map[uint64]*Registration),
		imageCache:  make(map[string][]byte),
		newSurface:  newSurface,
	}
}

// Create handles a Create(w,h) event. If stealFromContext is nonzero
// and names a live registration, that registration's surface is
// stolen (spec.md §4.5's reuse branch) instead of allocating a fresh
// one.
func (e *Engine) Create(id GlobalID, w, h int16, stealFromContext uint64) (*Registration, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if stealFromContext != 0 {
		if old, ok := e.byContextID[stealFromContext]; ok {
			delete(e.byGlobalID, old.GlobalID)
			delete(e.byContextID, old.ContextID)
			reg := old.StealContext(id)
			reg.Resize(w, h)
			e.insertLocked(reg)
			return reg, nil
		}
	}

	e.nextContextID++
	ctxID := e.nextContextID
	surf := e.newSurface(w, h)
	reg := NewRegistration(id, ctxID, surf)
	reg.Resize(w, h)
	e.insertLocked(reg)
	return reg, nil
}

func (e *Engine) insertLocked(reg *Registration) {
	reg.SetTheme(e.theme)
	e.byGlobalID[reg.GlobalID] = reg
	e.byContextID[reg.ContextID] = reg
	liveRegistrations.Set(float64(len(e.byGlobalID)))
}

// Lookup returns the registration for id, if live.
func (e *Engine) Lookup(id GlobalID) (*Registration, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	reg, ok := e.byGlobalID[id]
	return reg, ok
}

// Remove marks id's registration removed and forces a final commit,
// per spec.md §4.5. The registration stays addressable (for theme
// replay) until the process that owns the engine discards it.
func (e *Engine) Remove(id GlobalID) error {
	reg, ok := e.Lookup(id)
	if !ok {
		return wasmerr.ErrNoContext
	}
	reg.MarkRemoved()
	e.Commit(id)
	return nil
}

// Commit swaps id's buffers and renders. Returns ErrNoContext if id
// has no live registration.
func (e *Engine) Commit(id GlobalID) error {
	reg, ok := e.Lookup(id)
	if !ok {
		return wasmerr.ErrNoContext
	}
	reg.Commit()
	commitsTotal.Inc()
	return nil
}

// Dispatch applies one decoded event to the registration it targets,
// handling Commit, Remove, and Width/Height directly (Create and
// ConnectionClosed are the caller's responsibility; Create needs host
// round-trip data not carried by the event alone) and routing
// everything else through Append.
// BadEvent-classified failures are counted but not fatal, matching
// spec.md §4.5's failure semantics.
func (e *Engine) Dispatch(id GlobalID, ev canvasproto.Event) error {
	switch ev.Type {
	case canvasproto.OpCommit:
		return e.Commit(id)
	case canvasproto.OpRemove:
		return e.Remove(id)
	case canvasproto.OpWidth, canvasproto.OpHeight:
		reg, ok := e.Lookup(id)
		if !ok {
			return wasmerr.ErrNoContext
		}
		w, h := reg.Dimensions()
		if ev.Type == canvasproto.OpWidth {
			w = ev.V
		} else {
			h = ev.V
		}
		reg.Resize(w, h)
		reg.Append(ev)
		return nil
	default:
		reg, ok := e.Lookup(id)
		if !ok {
			badEventsTotal.Inc()
			return wasmerr.ErrNoContext
		}
		reg.Append(ev)
		return nil
	}
}

// ThemeChange installs theme as the color-name to replacement-color
// mapping and replays every registration (live and removed) with
// refresh=true, per spec.md §4.5's "Theme change" rule. Gradient stops
// and fill/stroke/shadow colors run through theme at draw time
// (spec.md §3's "Theme").
func (e *Engine) ThemeChange(theme map[string]string) {
	snapshot := make(map[string]string, len(theme))
	for k, v := range theme {
		snapshot[k] = v
	}

	e.mu.Lock()
	e.theme = snapshot
	regs := make([]*Registration, 0, len(e.byGlobalID))
	for _, reg := range e.byGlobalID {
		reg.SetTheme(snapshot)
		regs = append(regs, reg)
	}
	e.mu.Unlock()
	for _, reg := range regs {
		reg.Render(true)
	}
}

// manifestEntry is one registration's durable-snapshot row.
type manifestEntry struct {
	GlobalID  GlobalID `json:"global_id"`
	ContextID uint64   `json:"context_id"`
	Width     int16    `json:"width"`
	Height    int16    `json:"height"`
	Removed   bool     `json:"removed"`
}

// SnapshotManifest durably writes the engine's registration roster to
// path, for crash-recovery diagnostics. The write is atomic
// (write-to-temp then rename) via natefinch/atomic, matching the
// durable-cache-write idiom it is grounded on.
func (e *Engine) SnapshotManifest(path string) error {
	e.mu.RLock()
	entries := make([]manifestEntry, 0, len(e.byGlobalID))
	for _, reg := range e.byGlobalID {
		w, h := reg.Dimensions()
		entries = append(entries, manifestEntry{
			GlobalID:  reg.GlobalID,
			ContextID: reg.ContextID,
			Width:     w,
			Height:    h,
			Removed:   reg.Removed(),
		})
	}
	e.mu.RUnlock()

	buf, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	return atomic.WriteFile(path, bytes.NewReader(buf))
}

// CacheImage stores raw decoded image bytes keyed by their blake2b
// content hash, returning the hash's hex digest. A subsequent
// CreateImage event carrying byte-identical content resolves to the
// same cache entry without a second decode — callers decide what
// "decode" means for their surface implementation; this cache only
// dedups by content.
func (e *Engine) CacheImage(raw []byte) (string, error) {
	sum := blake2b.Sum256(raw)
	key := hex.EncodeToString(sum[:])

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.imageCache[key]; !ok {
		e.imageCache[key] = append([]byte(nil), raw...)
	}
	return key, nil
}

// LookupImage returns previously cached image bytes by content hash.
func (e *Engine) LookupImage(key string) ([]byte, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	b, ok := e.imageCache[key]
	return b, ok
}

