package dataset

import (
	"encoding/binary"
	"fmt"
)

// Keyframe times are stored in 20ms units in the top nine bits.
const (
	keyframeTimeUnit = 20
	keyframeTimeMask = 0x1FF
	keyframeLowMask  = 0x7F
)

// Color is a 0xRRGGBB value.
type Color uint32

// RGB builds a color from its components.
func RGB(r, g, b uint8) Color {
	return Color(uint32(r)<<16 | uint32(g)<<8 | uint32(b))
}

func (c Color) R() uint8 { return uint8(c >> 16) }
func (c Color) G() uint8 { return uint8(c >> 8) }
func (c Color) B() uint8 { return uint8(c) }

// RGBKeyframe packs a time and a palette index.
type RGBKeyframe struct {
	TimeAndColor uint16
}

// NewRGBKeyframe packs timeMs (20ms resolution, up to 10.22s) and a 7-bit
// palette index.
func NewRGBKeyframe(timeMs int, colorIndex int) RGBKeyframe {
	t := uint16(timeMs/keyframeTimeUnit) & keyframeTimeMask
	return RGBKeyframe{TimeAndColor: t<<7 | uint16(colorIndex)&keyframeLowMask}
}

// Time returns the keyframe time in milliseconds.
func (k RGBKeyframe) Time() int {
	return int(k.TimeAndColor>>7) * keyframeTimeUnit
}

// ColorIndex returns the palette index.
func (k RGBKeyframe) ColorIndex() int {
	return int(k.TimeAndColor & keyframeLowMask)
}

// Keyframe packs a time and an intensity.
type Keyframe struct {
	TimeAndIntensity uint16
}

// NewKeyframe packs timeMs and an intensity; intensity keeps 7 bits.
func NewKeyframe(timeMs int, intensity uint8) Keyframe {
	t := uint16(timeMs/keyframeTimeUnit) & keyframeTimeMask
	return Keyframe{TimeAndIntensity: t<<7 | uint16(intensity/2)&keyframeLowMask}
}

func (k Keyframe) Time() int {
	return int(k.TimeAndIntensity>>7) * keyframeTimeUnit
}

// Intensity returns the intensity scaled back to 0..254.
func (k Keyframe) Intensity() uint8 {
	return uint8(k.TimeAndIntensity&keyframeLowMask) * 2
}

// RGBTrack is a run of RGB keyframes driving a set of LEDs.
type RGBTrack struct {
	KeyframesOffset uint16
	KeyFrameCount   uint8
	Padding         uint8
	LEDMask         uint32
}

// Track is a run of intensity keyframes driving a set of LEDs.
type Track struct {
	KeyframesOffset uint16
	KeyFrameCount   uint8
	Padding         uint8
	LEDMask         uint32
}

// Rule pairs a condition with an action by index.
type Rule struct {
	Condition uint16
	Action    uint16
}

// Behavior is a contiguous run of rules.
type Behavior struct {
	RulesOffset uint16
	RulesCount  uint16
}

// appendFixed encodes a fixed-size record.
func appendFixed(b []byte, v any) []byte {
	out, err := binary.Append(b, binary.LittleEndian, v)
	if err != nil {
		panic(fmt.Sprintf("dataset: encoding %T: %v", v, err))
	}
	return out
}

// decodeFixed decodes a fixed-size record from the start of b.
func decodeFixed(b []byte, v any) error {
	if _, err := binary.Decode(b, binary.LittleEndian, v); err != nil {
		return fmt.Errorf("%w: %T: %v", ErrTruncated, v, err)
	}
	return nil
}
