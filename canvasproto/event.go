package canvasproto

import (
	"fmt"

	"github.com/fiddlecore/wasmcore/codec"
	"github.com/fiddlecore/wasmcore/wasmerr"
)

// GradientStop is one (offset, color) pair in a gradient fill/stroke
// style.
type GradientStop struct {
	Offset float32
	Color  string
}

// Gradient is the sub-record embedded in a FillStyle/StrokeStyle
// event when Variant selects a gradient rather than a flat color.
type Gradient struct {
	Type  uint8 // 0=Linear, 1=Radial, 2=Conic
	Args  []float32
	Stops []GradientStop
}

const (
	GradientLinear uint8 = 0
	GradientRadial uint8 = 1
	GradientConic  uint8 = 2
)

// gradientArgc is the fixed argument count per gradient type, per
// spec.md §9's open-question resolution (c): linear=4, radial=6,
// conic=3. The source material never names these explicitly.
var gradientArgc = map[uint8]int{
	GradientLinear: 4,
	GradientRadial: 6,
	GradientConic:  3,
}

// Event is a tagged canvas record: (type, canvas_id, payload). Only
// the fields relevant to Type are meaningful for a given instance,
// mirroring smux's Frame (a cmd byte plus an opaque payload whose
// shape the cmd determines).
type Event struct {
	Type     Opcode
	CanvasID uint16

	// geometry, shared across many opcodes
	X, Y, W, H             int16
	CP1X, CP1Y, CP2X, CP2Y int16
	RX, RY, R              int16
	X1, Y1, X2, Y2         int16
	V                      int16 // single-value Width/Height

	// angles and float scalars
	StartAngle, EndAngle, Rotation float32
	F32                            float32 // LineWidth/MiterLimit/etc single float payload
	ScaleX, ScaleY                 float32 // Scale/Translate payload

	// enum byte payloads (LineCap, TextAlign, ...) and booleans (ccw)
	U8 uint8

	// text
	Variant   uint8
	Text      string
	MaxWidth  *int16
	Str       string // Font/LetterSpacing/WordSpacing/ShadowColor/Filter string payload

	// RoundRect
	Radii []uint16

	// SetLineDash
	Dashes []byte

	// style
	Color    string
	Gradient *Gradient

	// transform
	M11, M12, M21, M22, M31, M32 float32

	// image
	ImageID  uint16
	ImageFmt uint8
	ImageBuf []byte
	Params   []int16
}

func int16Tuple(r *codec.Reader, n int) ([]int16, error) {
	out := make([]int16, n)
	for i := range out {
		v, err := r.ReadInt16()
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func writeInt16Tuple(w *codec.Writer, vs []int16) error {
	for _, v := range vs {
		if err := w.WriteInt16(v); err != nil {
			return err
		}
	}
	return nil
}

func packGradient(w *codec.Writer, g *Gradient) error {
	if g == nil {
		return fmt.Errorf("%w: nil gradient", wasmerr.ErrBadEvent)
	}
	argc, ok := gradientArgc[g.Type]
	if !ok || len(g.Args) != argc {
		return fmt.Errorf("%w: gradient type %d wants %d args, got %d", wasmerr.ErrBadEvent, g.Type, argc, len(g.Args))
	}
	if err := w.WriteUint8(g.Type); err != nil {
		return err
	}
	if err := w.WriteUint8(uint8(len(g.Stops))); err != nil {
		return err
	}
	for _, a := range g.Args {
		if err := w.WriteFloat32(a); err != nil {
			return err
		}
	}
	for _, s := range g.Stops {
		if err := w.WriteFloat32(s.Offset); err != nil {
			return err
		}
		if err := w.WriteString(s.Color); err != nil {
			return err
		}
	}
	return nil
}

func unpackGradient(r *codec.Reader) (*Gradient, error) {
	gtype, err := r.ReadUint8()
	if err != nil {
		return nil, err
	}
	stops, err := r.ReadUint8()
	if err != nil {
		return nil, err
	}
	argc, ok := gradientArgc[gtype]
	if !ok {
		return nil, fmt.Errorf("%w: unknown gradient type %d", wasmerr.ErrBadEvent, gtype)
	}
	g := &Gradient{Type: gtype, Args: make([]float32, argc), Stops: make([]GradientStop, stops)}
	for i := range g.Args {
		v, err := r.ReadFloat32()
		if err != nil {
			return nil, err
		}
		g.Args[i] = v
	}
	for i := range g.Stops {
		offset, err := r.ReadFloat32()
		if err != nil {
			return nil, err
		}
		color, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		g.Stops[i] = GradientStop{Offset: offset, Color: color}
	}
	return g, nil
}

// drawImageArgc is the parameter-tuple length per DrawImage variant:
// 0 = (x, y), 1 = (x, y, w, h), 2 = (sx, sy, sw, sh, dx, dy, dw, dh) —
// the three canvas drawImage overloads, widest first unnamed in the
// source beyond "i16 tuple".
var drawImageArgc = map[uint8]int{0: 2, 1: 4, 2: 8}

// Pack writes e to w in the wire layout fixed by e.Type, validating
// bounds along the way; an unrecognized opcode or an out-of-range
// payload raises wasmerr.ErrBadEvent.
func Pack(w *codec.Writer, e Event) error {
	if !e.Type.Valid() {
		return fmt.Errorf("%w: opcode %d", wasmerr.ErrBadEvent, e.Type)
	}
	if err := w.WriteUint8(uint8(e.Type)); err != nil {
		return err
	}
	if err := w.WriteUint16(e.CanvasID); err != nil {
		return err
	}

	switch e.Type {
	case OpCreate:
		return writeInt16Tuple(w, []int16{e.W, e.H})
	case OpRemove, OpCommit, OpBeginPath, OpClosePath, OpSave, OpRestore,
		OpReset, OpStroke, OpResetTransform, OpConnectionClosed:
		return nil
	case OpWidth, OpHeight:
		return w.WriteInt16(e.V)
	case OpClearRect, OpFillRect, OpStrokeRect, OpRect:
		return writeInt16Tuple(w, []int16{e.X, e.Y, e.W, e.H})
	case OpMoveTo, OpLineTo:
		return writeInt16Tuple(w, []int16{e.X, e.Y})
	case OpBezierCurveTo:
		return writeInt16Tuple(w, []int16{e.CP1X, e.CP1Y, e.CP2X, e.CP2Y, e.X, e.Y})
	case OpQuadraticCurveTo:
		return writeInt16Tuple(w, []int16{e.CP1X, e.CP1Y, e.X, e.Y})
	case OpArc:
		if err := writeInt16Tuple(w, []int16{e.X, e.Y, e.R}); err != nil {
			return err
		}
		if err := w.WriteFloat32(e.StartAngle); err != nil {
			return err
		}
		if err := w.WriteFloat32(e.EndAngle); err != nil {
			return err
		}
		return w.WriteUint8(e.U8)
	case OpArcTo:
		return writeInt16Tuple(w, []int16{e.X1, e.Y1, e.X2, e.Y2, e.R})
	case OpEllipse:
		if err := writeInt16Tuple(w, []int16{e.X, e.Y, e.RX, e.RY}); err != nil {
			return err
		}
		if err := w.WriteFloat32(e.Rotation); err != nil {
			return err
		}
		if err := w.WriteFloat32(e.StartAngle); err != nil {
			return err
		}
		if err := w.WriteFloat32(e.EndAngle); err != nil {
			return err
		}
		return w.WriteUint8(e.U8)
	case OpRoundRect:
		if err := writeInt16Tuple(w, []int16{e.X, e.Y, e.W, e.H}); err != nil {
			return err
		}
		n := len(e.Radii)
		if n < 1 || n > 4 {
			return fmt.Errorf("%w: RoundRect radii count %d outside {1,2,3,4}", wasmerr.ErrBadEvent, n)
		}
		if err := w.WriteUint8(uint8(n)); err != nil {
			return err
		}
		for _, rad := range e.Radii {
			if err := w.WriteUint16(rad); err != nil {
				return err
			}
		}
		return nil
	case OpFillText, OpStrokeText:
		if e.Variant != 0 && e.Variant != 1 {
			return fmt.Errorf("%w: FillText/StrokeText variant %d outside {0,1}", wasmerr.ErrBadEvent, e.Variant)
		}
		if err := w.WriteUint8(e.Variant); err != nil {
			return err
		}
		if err := w.WriteString(e.Text); err != nil {
			return err
		}
		if err := writeInt16Tuple(w, []int16{e.X, e.Y}); err != nil {
			return err
		}
		if e.Variant == 1 {
			if e.MaxWidth == nil {
				return fmt.Errorf("%w: FillText/StrokeText variant 1 requires maxWidth", wasmerr.ErrBadEvent)
			}
			return w.WriteInt16(*e.MaxWidth)
		}
		return nil
	case OpLineWidth, OpMiterLimit, OpLineDashOffset, OpShadowBlur,
		OpShadowOffsetX, OpShadowOffsetY, OpGlobalAlpha:
		return w.WriteFloat32(e.F32)
	case OpLineCap, OpLineJoin, OpTextAlign, OpTextBaseline, OpDirection,
		OpFontKerning, OpFontStretch, OpFontVariantCaps, OpTextRendering,
		OpFill, OpClip, OpGlobalCompositeOperation:
		return w.WriteUint8(e.U8)
	case OpSetLineDash:
		return w.WriteBytes(e.Dashes)
	case OpFont, OpLetterSpacing, OpWordSpacing, OpShadowColor, OpFilter:
		return w.WriteString(e.Str)
	case OpFillStyle, OpStrokeStyle:
		if e.Variant != 0 && e.Variant != 1 {
			return fmt.Errorf("%w: FillStyle/StrokeStyle variant %d outside {0,1}", wasmerr.ErrBadEvent, e.Variant)
		}
		if err := w.WriteUint8(e.Variant); err != nil {
			return err
		}
		if e.Variant == 0 {
			return w.WriteString(e.Color)
		}
		return packGradient(w, e.Gradient)
	case OpRotate:
		return w.WriteFloat32(e.F32)
	case OpScale, OpTranslate:
		if err := w.WriteFloat32(e.ScaleX); err != nil {
			return err
		}
		return w.WriteFloat32(e.ScaleY)
	case OpTransform, OpSetTransform:
		for _, v := range []float32{e.M11, e.M12, e.M21, e.M22, e.M31, e.M32} {
			if err := w.WriteFloat32(v); err != nil {
				return err
			}
		}
		return nil
	case OpCreateImage:
		if err := w.WriteUint16(e.ImageID); err != nil {
			return err
		}
		if err := w.WriteUint8(e.ImageFmt); err != nil {
			return err
		}
		return w.WriteBytes(e.ImageBuf)
	case OpDrawImage:
		argc, ok := drawImageArgc[e.Variant]
		if !ok {
			return fmt.Errorf("%w: DrawImage variant %d outside {0,1,2}", wasmerr.ErrBadEvent, e.Variant)
		}
		if len(e.Params) != argc {
			return fmt.Errorf("%w: DrawImage variant %d wants %d params, got %d", wasmerr.ErrBadEvent, e.Variant, argc, len(e.Params))
		}
		if err := w.WriteUint8(e.Variant); err != nil {
			return err
		}
		if err := w.WriteUint16(e.ImageID); err != nil {
			return err
		}
		return writeInt16Tuple(w, e.Params)
	default:
		return fmt.Errorf("%w: opcode %d", wasmerr.ErrBadEvent, e.Type)
	}
}

// Unpack reads one event from r, dispatching on the opcode byte the
// same way Pack writes it. An unrecognized opcode raises
// wasmerr.ErrBadEvent.
func Unpack(r *codec.Reader) (Event, error) {
	typByte, err := r.ReadUint8()
	if err != nil {
		return Event{}, err
	}
	op := Opcode(typByte)
	if !op.Valid() {
		return Event{}, fmt.Errorf("%w: opcode %d", wasmerr.ErrBadEvent, typByte)
	}
	canvasID, err := r.ReadUint16()
	if err != nil {
		return Event{}, err
	}
	e := Event{Type: op, CanvasID: canvasID}

	switch op {
	case OpCreate:
		t, err := int16Tuple(r, 2)
		if err != nil {
			return Event{}, err
		}
		e.W, e.H = t[0], t[1]
		return e, nil
	case OpRemove, OpCommit, OpBeginPath, OpClosePath, OpSave, OpRestore,
		OpReset, OpStroke, OpResetTransform, OpConnectionClosed:
		return e, nil
	case OpWidth, OpHeight:
		v, err := r.ReadInt16()
		if err != nil {
			return Event{}, err
		}
		e.V = v
		return e, nil
	case OpClearRect, OpFillRect, OpStrokeRect, OpRect:
		t, err := int16Tuple(r, 4)
		if err != nil {
			return Event{}, err
		}
		e.X, e.Y, e.W, e.H = t[0], t[1], t[2], t[3]
		return e, nil
	case OpMoveTo, OpLineTo:
		t, err := int16Tuple(r, 2)
		if err != nil {
			return Event{}, err
		}
		e.X, e.Y = t[0], t[1]
		return e, nil
	case OpBezierCurveTo:
		t, err := int16Tuple(r, 6)
		if err != nil {
			return Event{}, err
		}
		e.CP1X, e.CP1Y, e.CP2X, e.CP2Y, e.X, e.Y = t[0], t[1], t[2], t[3], t[4], t[5]
		return e, nil
	case OpQuadraticCurveTo:
		t, err := int16Tuple(r, 4)
		if err != nil {
			return Event{}, err
		}
		e.CP1X, e.CP1Y, e.X, e.Y = t[0], t[1], t[2], t[3]
		return e, nil
	case OpArc:
		t, err := int16Tuple(r, 3)
		if err != nil {
			return Event{}, err
		}
		e.X, e.Y, e.R = t[0], t[1], t[2]
		if e.StartAngle, err = r.ReadFloat32(); err != nil {
			return Event{}, err
		}
		if e.EndAngle, err = r.ReadFloat32(); err != nil {
			return Event{}, err
		}
		if e.U8, err = r.ReadUint8(); err != nil {
			return Event{}, err
		}
		return e, nil
	case OpArcTo:
		t, err := int16Tuple(r, 5)
		if err != nil {
			return Event{}, err
		}
		e.X1, e.Y1, e.X2, e.Y2, e.R = t[0], t[1], t[2], t[3], t[4]
		return e, nil
	case OpEllipse:
		t, err := int16Tuple(r, 4)
		if err != nil {
			return Event{}, err
		}
		e.X, e.Y, e.RX, e.RY = t[0], t[1], t[2], t[3]
		if e.Rotation, err = r.ReadFloat32(); err != nil {
			return Event{}, err
		}
		if e.StartAngle, err = r.ReadFloat32(); err != nil {
			return Event{}, err
		}
		if e.EndAngle, err = r.ReadFloat32(); err != nil {
			return Event{}, err
		}
		if e.U8, err = r.ReadUint8(); err != nil {
			return Event{}, err
		}
		return e, nil
	case OpRoundRect:
		t, err := int16Tuple(r, 4)
		if err != nil {
			return Event{}, err
		}
		e.X, e.Y, e.W, e.H = t[0], t[1], t[2], t[3]
		n, err := r.ReadUint8()
		if err != nil {
			return Event{}, err
		}
		if n < 1 || n > 4 {
			return Event{}, fmt.Errorf("%w: RoundRect radii count %d outside {1,2,3,4}", wasmerr.ErrBadEvent, n)
		}
		radii := make([]uint16, n)
		for i := range radii {
			if radii[i], err = r.ReadUint16(); err != nil {
				return Event{}, err
			}
		}
		e.Radii = radii
		return e, nil
	case OpFillText, OpStrokeText:
		variant, err := r.ReadUint8()
		if err != nil {
			return Event{}, err
		}
		if variant != 0 && variant != 1 {
			return Event{}, fmt.Errorf("%w: FillText/StrokeText variant %d outside {0,1}", wasmerr.ErrBadEvent, variant)
		}
		e.Variant = variant
		if e.Text, err = r.ReadString(); err != nil {
			return Event{}, err
		}
		t, err := int16Tuple(r, 2)
		if err != nil {
			return Event{}, err
		}
		e.X, e.Y = t[0], t[1]
		if variant == 1 {
			mw, err := r.ReadInt16()
			if err != nil {
				return Event{}, err
			}
			e.MaxWidth = &mw
		}
		return e, nil
	case OpLineWidth, OpMiterLimit, OpLineDashOffset, OpShadowBlur,
		OpShadowOffsetX, OpShadowOffsetY, OpGlobalAlpha:
		v, err := r.ReadFloat32()
		if err != nil {
			return Event{}, err
		}
		e.F32 = v
		return e, nil
	case OpLineCap, OpLineJoin, OpTextAlign, OpTextBaseline, OpDirection,
		OpFontKerning, OpFontStretch, OpFontVariantCaps, OpTextRendering,
		OpFill, OpClip, OpGlobalCompositeOperation:
		v, err := r.ReadUint8()
		if err != nil {
			return Event{}, err
		}
		e.U8 = v
		return e, nil
	case OpSetLineDash:
		dashes, err := r.ReadBytes()
		if err != nil {
			return Event{}, err
		}
		e.Dashes = append([]byte(nil), dashes...)
		return e, nil
	case OpFont, OpLetterSpacing, OpWordSpacing, OpShadowColor, OpFilter:
		s, err := r.ReadString()
		if err != nil {
			return Event{}, err
		}
		e.Str = s
		return e, nil
	case OpFillStyle, OpStrokeStyle:
		variant, err := r.ReadUint8()
		if err != nil {
			return Event{}, err
		}
		if variant != 0 && variant != 1 {
			return Event{}, fmt.Errorf("%w: FillStyle/StrokeStyle variant %d outside {0,1}", wasmerr.ErrBadEvent, variant)
		}
		e.Variant = variant
		if variant == 0 {
			color, err := r.ReadString()
			if err != nil {
				return Event{}, err
			}
			e.Color = color
			return e, nil
		}
		g, err := unpackGradient(r)
		if err != nil {
			return Event{}, err
		}
		e.Gradient = g
		return e, nil
	case OpRotate:
		v, err := r.ReadFloat32()
		if err != nil {
			return Event{}, err
		}
		e.F32 = v
		return e, nil
	case OpScale, OpTranslate:
		x, err := r.ReadFloat32()
		if err != nil {
			return Event{}, err
		}
		y, err := r.ReadFloat32()
		if err != nil {
			return Event{}, err
		}
		e.ScaleX, e.ScaleY = x, y
		return e, nil
	case OpTransform, OpSetTransform:
		vals := make([]float32, 6)
		for i := range vals {
			v, err := r.ReadFloat32()
			if err != nil {
				return Event{}, err
			}
			vals[i] = v
		}
		e.M11, e.M12, e.M21, e.M22, e.M31, e.M32 = vals[0], vals[1], vals[2], vals[3], vals[4], vals[5]
		return e, nil
	case OpCreateImage:
		id, err := r.ReadUint16()
		if err != nil {
			return Event{}, err
		}
		fmtByte, err := r.ReadUint8()
		if err != nil {
			return Event{}, err
		}
		buf, err := r.ReadBytes()
		if err != nil {
			return Event{}, err
		}
		e.ImageID, e.ImageFmt = id, fmtByte
		e.ImageBuf = append([]byte(nil), buf...)
		return e, nil
	case OpDrawImage:
		variant, err := r.ReadUint8()
		if err != nil {
			return Event{}, err
		}
		argc, ok := drawImageArgc[variant]
		if !ok {
			return Event{}, fmt.Errorf("%w: DrawImage variant %d outside {0,1,2}", wasmerr.ErrBadEvent, variant)
		}
		id, err := r.ReadUint16()
		if err != nil {
			return Event{}, err
		}
		params, err := int16Tuple(r, argc)
		if err != nil {
			return Event{}, err
		}
		e.Variant, e.ImageID, e.Params = variant, id, params
		return e, nil
	default:
		return Event{}, fmt.Errorf("%w: opcode %d", wasmerr.ErrBadEvent, typByte)
	}
}

