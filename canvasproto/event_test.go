package canvasproto

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/fiddlecore/wasmcore/bipstream"
	"github.com/fiddlecore/wasmcore/codec"
	"github.com/fiddlecore/wasmcore/lockstrategy"
	"github.com/fiddlecore/wasmcore/wasmerr"
)

func newCodecPair(t *testing.T, capacity int) (*codec.Writer, *codec.Reader) {
	t.Helper()
	s, err := bipstream.CreateBuffer(capacity)
	if err != nil {
		t.Fatalf("CreateBuffer: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return codec.NewWriter(s, lockstrategy.NewBackoff(0, 1, 5)),
		codec.NewReader(s, lockstrategy.NewBackoff(0, 1, 5))
}

func roundTrip(t *testing.T, e Event) Event {
	t.Helper()
	w, r := newCodecPair(t, 256)
	done := make(chan error, 1)
	go func() { done <- Pack(w, e) }()
	got, err := Unpack(r)
	if err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	if packErr := <-done; packErr != nil {
		t.Fatalf("Pack: %v", packErr)
	}
	return got
}

func TestRoundTripNoPayloadOpcodes(t *testing.T) {
	for _, op := range []Opcode{OpRemove, OpCommit, OpBeginPath, OpClosePath,
		OpSave, OpRestore, OpReset, OpStroke, OpResetTransform, OpConnectionClosed} {
		got := roundTrip(t, Event{Type: op, CanvasID: 7})
		if got.Type != op || got.CanvasID != 7 {
			t.Fatalf("opcode %d: got %+v", op, got)
		}
	}
}

func TestRoundTripCreate(t *testing.T) {
	got := roundTrip(t, Event{Type: OpCreate, CanvasID: 1, W: 800, H: 600})
	if got.W != 800 || got.H != 600 {
		t.Fatalf("got %+v", got)
	}
}

func TestRoundTripRect(t *testing.T) {
	got := roundTrip(t, Event{Type: OpFillRect, CanvasID: 2, X: -10, Y: 20, W: 30, H: 40})
	if got.X != -10 || got.Y != 20 || got.W != 30 || got.H != 40 {
		t.Fatalf("got %+v", got)
	}
}

func TestRoundTripArc(t *testing.T) {
	got := roundTrip(t, Event{
		Type: OpArc, CanvasID: 3, X: 5, Y: 6, R: 7,
		StartAngle: 0.0, EndAngle: 6.283, U8: 1,
	})
	if got.X != 5 || got.Y != 6 || got.R != 7 || got.EndAngle != 6.283 || got.U8 != 1 {
		t.Fatalf("got %+v", got)
	}
}

func TestRoundTripRoundRect(t *testing.T) {
	got := roundTrip(t, Event{
		Type: OpRoundRect, CanvasID: 4, X: 1, Y: 2, W: 3, H: 4,
		Radii: []uint16{5, 10, 15, 20},
	})
	if len(got.Radii) != 4 || got.Radii[2] != 15 {
		t.Fatalf("got %+v", got)
	}
}

func TestRoundTripRoundRectRejectsBadRadiiCount(t *testing.T) {
	w, _ := newCodecPair(t, 256)
	err := Pack(w, Event{Type: OpRoundRect, CanvasID: 1, Radii: []uint16{1, 2, 3, 4, 5}})
	if !errors.Is(err, wasmerr.ErrBadEvent) {
		t.Fatalf("Pack with 5 radii: got %v, want ErrBadEvent", err)
	}
}

func TestRoundTripFillTextVariants(t *testing.T) {
	got := roundTrip(t, Event{Type: OpFillText, CanvasID: 1, Variant: 0, Text: "hello", X: 1, Y: 2})
	if got.Text != "hello" || got.MaxWidth != nil {
		t.Fatalf("variant 0: got %+v", got)
	}

	mw := int16(120)
	got2 := roundTrip(t, Event{Type: OpStrokeText, CanvasID: 1, Variant: 1, Text: "world", X: 3, Y: 4, MaxWidth: &mw})
	if got2.Text != "world" || got2.MaxWidth == nil || *got2.MaxWidth != 120 {
		t.Fatalf("variant 1: got %+v", got2)
	}
}

func TestRoundTripSetLineDash(t *testing.T) {
	dashes := []byte{1, 2, 3, 4, 5}
	got := roundTrip(t, Event{Type: OpSetLineDash, CanvasID: 1, Dashes: dashes})
	if len(got.Dashes) != len(dashes) {
		t.Fatalf("got %v, want %v", got.Dashes, dashes)
	}
}

func TestRoundTripFillStyleColor(t *testing.T) {
	got := roundTrip(t, Event{Type: OpFillStyle, CanvasID: 1, Variant: 0, Color: "#ff0000"})
	if got.Color != "#ff0000" {
		t.Fatalf("got %+v", got)
	}
}

func TestRoundTripFillStyleGradient(t *testing.T) {
	g := &Gradient{
		Type: GradientLinear,
		Args: []float32{0, 0, 10, 10},
		Stops: []GradientStop{
			{Offset: 0, Color: "#000"},
			{Offset: 1, Color: "#fff"},
		},
	}
	got := roundTrip(t, Event{Type: OpStrokeStyle, CanvasID: 1, Variant: 1, Gradient: g})
	if got.Gradient == nil || len(got.Gradient.Stops) != 2 || got.Gradient.Stops[1].Color != "#fff" {
		t.Fatalf("got %+v", got.Gradient)
	}
}

func TestPackRejectsBadGradientArgc(t *testing.T) {
	w, _ := newCodecPair(t, 256)
	g := &Gradient{Type: GradientRadial, Args: []float32{1, 2}}
	err := Pack(w, Event{Type: OpFillStyle, CanvasID: 1, Variant: 1, Gradient: g})
	if !errors.Is(err, wasmerr.ErrBadEvent) {
		t.Fatalf("got %v, want ErrBadEvent", err)
	}
}

func TestRoundTripTransform(t *testing.T) {
	got := roundTrip(t, Event{Type: OpSetTransform, CanvasID: 1, M11: 1, M12: 0, M21: 0, M22: 1, M31: 5, M32: 6})
	if got.M31 != 5 || got.M32 != 6 {
		t.Fatalf("got %+v", got)
	}
}

func TestRoundTripCreateImage(t *testing.T) {
	buf := []byte{0x89, 'P', 'N', 'G', 1, 2, 3}
	got := roundTrip(t, Event{Type: OpCreateImage, CanvasID: 1, ImageID: 42, ImageFmt: 0, ImageBuf: buf})
	if got.ImageID != 42 || string(got.ImageBuf) != string(buf) {
		t.Fatalf("got %+v", got)
	}
}

func TestRoundTripDrawImageVariants(t *testing.T) {
	for variant, argc := range drawImageArgc {
		params := make([]int16, argc)
		for i := range params {
			params[i] = int16(i + 1)
		}
		got := roundTrip(t, Event{Type: OpDrawImage, CanvasID: 1, Variant: variant, ImageID: 9, Params: params})
		if len(got.Params) != argc || got.ImageID != 9 {
			t.Fatalf("variant %d: got %+v", variant, got)
		}
	}
}

func TestUnpackRejectsUnknownOpcode(t *testing.T) {
	w, r := newCodecPair(t, 256)
	if err := w.WriteUint8(255); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.WriteUint16(1); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := Unpack(r)
	if !errors.Is(err, wasmerr.ErrBadEvent) {
		t.Fatalf("got %v, want ErrBadEvent", err)
	}
}

func TestRoundTripGradientFullStructMatch(t *testing.T) {
	want := Event{
		Type: OpStrokeStyle, CanvasID: 5, Variant: 1,
		Gradient: &Gradient{
			Type: GradientConic,
			Args: []float32{1.5, -2, 0},
			Stops: []GradientStop{
				{Offset: 0, Color: "#123456"},
				{Offset: 0.5, Color: "#abcdef"},
				{Offset: 1, Color: "#000000"},
			},
		},
	}
	got := roundTrip(t, want)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("gradient event round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestUnpackTimesOutCleanlyWhenStreamStaysIdle(t *testing.T) {
	s, err := bipstream.CreateBuffer(256)
	if err != nil {
		t.Fatalf("CreateBuffer: %v", err)
	}
	defer s.Close()

	r := codec.NewReader(s, lockstrategy.NewDeadline(4, 1, 2, 20))
	_, err = Unpack(r)
	if !errors.Is(err, wasmerr.ErrTimeout) {
		t.Fatalf("Unpack on an idle stream: got %v, want ErrTimeout", err)
	}
}

func TestStatefulOpcodeClassification(t *testing.T) {
	if !OpFillStyle.Stateful() {
		t.Fatalf("OpFillStyle should be stateful")
	}
	if OpMoveTo.Stateful() {
		t.Fatalf("OpMoveTo should not be stateful")
	}
}
