// Package canvasproto packs and unpacks the tagged binary canvas
// event records (C4) carried over a bip-stream: each record is
// (type: u8, canvas_id: u16, ...opcode-specific payload), all
// integers big-endian, grounded on smux's fixed (ver, cmd, sid,
// length) frame header shape (see xtaci-kcptun's vendored
// smux/frame.go) generalized to a ~60-member opcode menu.
package canvasproto

// Opcode identifies the shape of an event's payload. The numeric
// values are this module's own assignment — nothing upstream fixes a
// canonical numbering — but must stay stable across a running
// instance's lifetime once hosts and workers share a build.
type Opcode uint8

const (
	OpCreate Opcode = iota
	OpRemove
	OpCommit
	OpBeginPath
	OpClosePath
	OpSave
	OpRestore
	OpReset
	OpStroke
	OpResetTransform
	OpConnectionClosed
	OpWidth
	OpHeight
	OpClearRect
	OpFillRect
	OpStrokeRect
	OpRect
	OpMoveTo
	OpLineTo
	OpBezierCurveTo
	OpQuadraticCurveTo
	OpArc
	OpArcTo
	OpEllipse
	OpRoundRect
	OpFillText
	OpStrokeText
	OpLineWidth
	OpMiterLimit
	OpLineDashOffset
	OpShadowBlur
	OpShadowOffsetX
	OpShadowOffsetY
	OpGlobalAlpha
	OpLineCap
	OpLineJoin
	OpTextAlign
	OpTextBaseline
	OpDirection
	OpFontKerning
	OpFontStretch
	OpFontVariantCaps
	OpTextRendering
	OpFill
	OpClip
	OpGlobalCompositeOperation
	OpSetLineDash
	OpFont
	OpLetterSpacing
	OpWordSpacing
	OpShadowColor
	OpFilter
	OpFillStyle
	OpStrokeStyle
	OpRotate
	OpScale
	OpTranslate
	OpTransform
	OpSetTransform
	OpCreateImage
	OpDrawImage
	opcodeCount
)

// Valid reports whether op is a recognized opcode.
func (op Opcode) Valid() bool { return op < opcodeCount }

// stateful lists the opcodes whose value is mirrored into a canvas's
// state_buffer for theme-change replay (C5). Geometry and one-shot
// draw calls are excluded; persistent style/text/line state is kept.
var stateful = map[Opcode]bool{
	OpWidth: true, OpHeight: true,
	OpLineWidth: true, OpMiterLimit: true, OpLineDashOffset: true,
	OpShadowBlur: true, OpShadowOffsetX: true, OpShadowOffsetY: true,
	OpGlobalAlpha: true, OpLineCap: true, OpLineJoin: true,
	OpTextAlign: true, OpTextBaseline: true, OpDirection: true,
	OpFontKerning: true, OpFontStretch: true, OpFontVariantCaps: true,
	OpTextRendering: true, OpGlobalCompositeOperation: true,
	OpSetLineDash: true, OpFont: true, OpLetterSpacing: true,
	OpWordSpacing: true, OpShadowColor: true, OpFilter: true,
	OpFillStyle: true, OpStrokeStyle: true,
}

// Stateful reports whether op's most recent payload should be
// remembered for theme-change replay.
func (op Opcode) Stateful() bool { return stateful[op] }
