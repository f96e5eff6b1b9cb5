package dataset

import (
	"encoding/binary"
	"fmt"
)

// AnimationType tags an animation record.
type AnimationType uint8

const (
	AnimationUnknown AnimationType = iota
	AnimationSimple
	AnimationRainbow
	AnimationKeyframed
	AnimationGradientPattern
	AnimationGradient
)

func (t AnimationType) String() string {
	switch t {
	case AnimationSimple:
		return "simple"
	case AnimationRainbow:
		return "rainbow"
	case AnimationKeyframed:
		return "keyframed"
	case AnimationGradientPattern:
		return "gradient_pattern"
	case AnimationGradient:
		return "gradient"
	default:
		return fmt.Sprintf("animation(%d)", uint8(t))
	}
}

// Animation is one of the animation record variants. Every record starts
// with type u8, padding u8, duration u16.
type Animation interface {
	Type() AnimationType
	Duration() uint16
	// Size is the encoded size in bytes, always a multiple of four.
	Size() int
	// Append appends the encoded record to b.
	Append(b []byte) []byte
}

const animationHeaderSize = 4

// AllFaces lights every face of a twenty-sided die.
const AllFaces = 0xFFFFF

// Simple lights FaceMask in Color, Count times, with fade.
type Simple struct {
	DurationMs uint16
	FaceMask   uint32
	Color      Color
	Count      uint8
	Fade       uint8
}

func (Simple) Type() AnimationType { return AnimationSimple }
func (a Simple) Duration() uint16  { return a.DurationMs }
func (Simple) Size() int           { return 16 }

func (a Simple) Append(b []byte) []byte {
	b = appendAnimationHeader(b, a)
	b = binary.LittleEndian.AppendUint32(b, a.FaceMask)
	b = binary.LittleEndian.AppendUint32(b, uint32(a.Color))
	return append(b, a.Count, a.Fade, 0, 0)
}

// Rainbow cycles the color wheel over FaceMask.
type Rainbow struct {
	DurationMs uint16
	FaceMask   uint32
	Count      uint8
	Fade       uint8
}

func (Rainbow) Type() AnimationType { return AnimationRainbow }
func (a Rainbow) Duration() uint16  { return a.DurationMs }
func (Rainbow) Size() int           { return 12 }

func (a Rainbow) Append(b []byte) []byte {
	b = appendAnimationHeader(b, a)
	b = binary.LittleEndian.AppendUint32(b, a.FaceMask)
	return append(b, a.Count, a.Fade, 0, 0)
}

// Keyframed plays RGB tracks.
type Keyframed struct {
	DurationMs         uint16
	SpeedMultiplier256 uint16
	TracksOffset       uint16
	TrackCount         uint16
}

func (Keyframed) Type() AnimationType { return AnimationKeyframed }
func (a Keyframed) Duration() uint16  { return a.DurationMs }
func (Keyframed) Size() int           { return 12 }

func (a Keyframed) Append(b []byte) []byte {
	b = appendAnimationHeader(b, a)
	b = binary.LittleEndian.AppendUint16(b, a.SpeedMultiplier256)
	b = binary.LittleEndian.AppendUint16(b, a.TracksOffset)
	b = binary.LittleEndian.AppendUint16(b, a.TrackCount)
	return append(b, 0, 0)
}

// GradientPattern modulates a gradient track with intensity tracks.
type GradientPattern struct {
	DurationMs          uint16
	TracksOffset        uint16
	TrackCount          uint16
	GradientTrackOffset uint16
	OverrideWithFace    bool
}

func (GradientPattern) Type() AnimationType { return AnimationGradientPattern }
func (a GradientPattern) Duration() uint16  { return a.DurationMs }
func (GradientPattern) Size() int           { return 12 }

func (a GradientPattern) Append(b []byte) []byte {
	b = appendAnimationHeader(b, a)
	b = binary.LittleEndian.AppendUint16(b, a.TracksOffset)
	b = binary.LittleEndian.AppendUint16(b, a.TrackCount)
	b = binary.LittleEndian.AppendUint16(b, a.GradientTrackOffset)
	return append(b, boolByte(a.OverrideWithFace), 0)
}

// Gradient sweeps a gradient track over FaceMask.
type Gradient struct {
	DurationMs          uint16
	FaceMask            uint32
	GradientTrackOffset uint16
}

func (Gradient) Type() AnimationType { return AnimationGradient }
func (a Gradient) Duration() uint16  { return a.DurationMs }
func (Gradient) Size() int           { return 12 }

func (a Gradient) Append(b []byte) []byte {
	b = appendAnimationHeader(b, a)
	b = binary.LittleEndian.AppendUint32(b, a.FaceMask)
	b = binary.LittleEndian.AppendUint16(b, a.GradientTrackOffset)
	return append(b, 0, 0)
}

func appendAnimationHeader(b []byte, a Animation) []byte {
	b = append(b, byte(a.Type()), 0)
	return binary.LittleEndian.AppendUint16(b, a.Duration())
}

// DecodeAnimation decodes the animation record at the start of b. b must
// extend at least to the end of the record.
func DecodeAnimation(b []byte) (Animation, error) {
	if len(b) < animationHeaderSize {
		return nil, fmt.Errorf("%w: animation header", ErrTruncated)
	}
	t := AnimationType(b[0])
	dur := binary.LittleEndian.Uint16(b[2:])
	le := binary.LittleEndian

	need := func(n int) error {
		if len(b) < n {
			return fmt.Errorf("%w: %s animation needs %d bytes, have %d", ErrTruncated, t, n, len(b))
		}
		return nil
	}

	switch t {
	case AnimationSimple:
		if err := need(16); err != nil {
			return nil, err
		}
		return Simple{
			DurationMs: dur,
			FaceMask:   le.Uint32(b[4:]),
			Color:      Color(le.Uint32(b[8:])),
			Count:      b[12],
			Fade:       b[13],
		}, nil
	case AnimationRainbow:
		if err := need(12); err != nil {
			return nil, err
		}
		return Rainbow{DurationMs: dur, FaceMask: le.Uint32(b[4:]), Count: b[8], Fade: b[9]}, nil
	case AnimationKeyframed:
		if err := need(12); err != nil {
			return nil, err
		}
		return Keyframed{
			DurationMs:         dur,
			SpeedMultiplier256: le.Uint16(b[4:]),
			TracksOffset:       le.Uint16(b[6:]),
			TrackCount:         le.Uint16(b[8:]),
		}, nil
	case AnimationGradientPattern:
		if err := need(12); err != nil {
			return nil, err
		}
		return GradientPattern{
			DurationMs:          dur,
			TracksOffset:        le.Uint16(b[4:]),
			TrackCount:          le.Uint16(b[6:]),
			GradientTrackOffset: le.Uint16(b[8:]),
			OverrideWithFace:    b[10] != 0,
		}, nil
	case AnimationGradient:
		if err := need(12); err != nil {
			return nil, err
		}
		return Gradient{DurationMs: dur, FaceMask: le.Uint32(b[4:]), GradientTrackOffset: le.Uint16(b[8:])}, nil
	default:
		return nil, fmt.Errorf("%w: animation type %d", ErrUnknownType, b[0])
	}
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}
