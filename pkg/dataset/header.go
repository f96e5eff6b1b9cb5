package dataset

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	// Magic marks both ends of a committed header.
	Magic uint32 = 0x600DF00D
	// Version is the only layout this package reads and writes.
	Version uint32 = 1
	// HeaderSize is the encoded size of Header.
	HeaderSize = 124
)

// Header is the fixed descriptor stored at the data set base address. All
// pointers are absolute flash addresses.
type Header struct {
	HeadMarker uint32
	Version    uint32

	Palette     uint32
	PaletteSize uint32

	RGBKeyframes     uint32
	RGBKeyFrameCount uint32
	RGBTracks        uint32
	RGBTrackCount    uint32

	Keyframes     uint32
	KeyFrameCount uint32
	Tracks        uint32
	TrackCount    uint32

	AnimationOffsets uint32
	AnimationCount   uint32
	Animations       uint32
	AnimationsSize   uint32

	ConditionOffsets uint32
	ConditionCount   uint32
	Conditions       uint32
	ConditionsSize   uint32

	ActionOffsets uint32
	ActionCount   uint32
	Actions       uint32
	ActionsSize   uint32

	Rules         uint32
	RuleCount     uint32
	Behaviors     uint32
	BehaviorCount uint32

	CurrentBehaviorIndex uint16
	Padding              uint16
	HeatTrackIndex       uint32

	TailMarker uint32
}

// Valid reports whether the header was completely committed: both markers
// equal Magic and the version matches.
func (h Header) Valid() bool {
	return h.HeadMarker == Magic && h.TailMarker == Magic && h.Version == Version
}

// Counts recovers the category sizes recorded in the header.
func (h Header) Counts() Counts {
	return Counts{
		PaletteSize:          int(h.PaletteSize),
		RGBKeyFrameCount:     int(h.RGBKeyFrameCount),
		RGBTrackCount:        int(h.RGBTrackCount),
		KeyFrameCount:        int(h.KeyFrameCount),
		TrackCount:           int(h.TrackCount),
		AnimationCount:       int(h.AnimationCount),
		AnimationsSize:       int(h.AnimationsSize),
		ConditionCount:       int(h.ConditionCount),
		ConditionsSize:       int(h.ConditionsSize),
		ActionCount:          int(h.ActionCount),
		ActionsSize:          int(h.ActionsSize),
		RuleCount:            int(h.RuleCount),
		BehaviorCount:        int(h.BehaviorCount),
		CurrentBehaviorIndex: int(h.CurrentBehaviorIndex),
		HeatTrackIndex:       int(h.HeatTrackIndex),
	}
}

// MarshalBinary encodes the header little-endian.
func (h Header) MarshalBinary() ([]byte, error) {
	return binary.Append(make([]byte, 0, HeaderSize), binary.LittleEndian, h)
}

// UnmarshalBinary decodes a little-endian header.
func (h *Header) UnmarshalBinary(b []byte) error {
	if len(b) < HeaderSize {
		return fmt.Errorf("%w: header needs %d bytes, got %d", ErrTruncated, HeaderSize, len(b))
	}
	_, err := binary.Decode(b[:HeaderSize], binary.LittleEndian, h)
	return err
}

// ReadHeader reads the header stored at base.
func ReadHeader(r io.ReaderAt, base uint32) (Header, error) {
	var h Header
	b := make([]byte, HeaderSize)
	if _, err := r.ReadAt(b, int64(base)); err != nil {
		return h, fmt.Errorf("failed to read header: %w", err)
	}
	err := h.UnmarshalBinary(b)
	return h, err
}

// CheckValid reads the header at base and reports whether it is valid. Read
// errors count as invalid.
func CheckValid(r io.ReaderAt, base uint32) bool {
	h, err := ReadHeader(r, base)
	return err == nil && h.Valid()
}
