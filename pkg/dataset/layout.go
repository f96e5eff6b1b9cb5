package dataset

import (
	"fmt"

	"github.com/itohio/godice/pkg/message"
)

// Fixed record sizes in bytes.
const (
	RGBKeyframeSize = 2
	RGBTrackSize    = 8
	KeyframeSize    = 2
	TrackSize       = 8
	RuleSize        = 4
	BehaviorSize    = 4
	offsetEntrySize = 2
)

// Counts describes the size of every category of a data set, as announced by
// TransferDataSet.
type Counts struct {
	PaletteSize          int // bytes, three per color
	RGBKeyFrameCount     int
	RGBTrackCount        int
	KeyFrameCount        int
	TrackCount           int
	AnimationCount       int
	AnimationsSize       int
	ConditionCount       int
	ConditionsSize       int
	ActionCount          int
	ActionsSize          int
	RuleCount            int
	BehaviorCount        int
	CurrentBehaviorIndex int
	HeatTrackIndex       int
}

// CountsFromMessage converts a TransferDataSet announcement.
func CountsFromMessage(m message.TransferDataSet) Counts {
	return Counts{
		PaletteSize:          int(m.PaletteSize),
		RGBKeyFrameCount:     int(m.RGBKeyFrameCount),
		RGBTrackCount:        int(m.RGBTrackCount),
		KeyFrameCount:        int(m.KeyFrameCount),
		TrackCount:           int(m.TrackCount),
		AnimationCount:       int(m.AnimationCount),
		AnimationsSize:       int(m.AnimationsByteSize),
		ConditionCount:       int(m.ConditionCount),
		ConditionsSize:       int(m.ConditionsByteSize),
		ActionCount:          int(m.ActionCount),
		ActionsSize:          int(m.ActionsByteSize),
		RuleCount:            int(m.RuleCount),
		BehaviorCount:        int(m.BehaviorCount),
		CurrentBehaviorIndex: int(m.CurrentBehaviorIndex),
		HeatTrackIndex:       int(m.HeatTrackIndex),
	}
}

// Message returns the TransferDataSet announcement for c.
func (c Counts) Message() message.TransferDataSet {
	return message.TransferDataSet{
		PaletteSize:          uint16(c.PaletteSize),
		RGBKeyFrameCount:     uint16(c.RGBKeyFrameCount),
		RGBTrackCount:        uint16(c.RGBTrackCount),
		KeyFrameCount:        uint16(c.KeyFrameCount),
		TrackCount:           uint16(c.TrackCount),
		AnimationCount:       uint16(c.AnimationCount),
		AnimationsByteSize:   uint16(c.AnimationsSize),
		ConditionCount:       uint16(c.ConditionCount),
		ConditionsByteSize:   uint16(c.ConditionsSize),
		ActionCount:          uint16(c.ActionCount),
		ActionsByteSize:      uint16(c.ActionsSize),
		RuleCount:            uint16(c.RuleCount),
		BehaviorCount:        uint16(c.BehaviorCount),
		CurrentBehaviorIndex: uint8(c.CurrentBehaviorIndex),
		HeatTrackIndex:       uint16(c.HeatTrackIndex),
	}
}

// Validate rejects counts that cannot describe a data set.
func (c Counts) Validate() error {
	for _, v := range []int{
		c.PaletteSize, c.RGBKeyFrameCount, c.RGBTrackCount, c.KeyFrameCount, c.TrackCount,
		c.AnimationCount, c.AnimationsSize, c.ConditionCount, c.ConditionsSize,
		c.ActionCount, c.ActionsSize, c.RuleCount, c.BehaviorCount,
	} {
		if v < 0 || v > 0xFFFF {
			return fmt.Errorf("%w: count %d out of range", ErrLayout, v)
		}
	}
	if c.PaletteSize%3 != 0 {
		return fmt.Errorf("%w: palette size %d is not a multiple of 3", ErrLayout, c.PaletteSize)
	}
	if c.BehaviorCount > 0 && c.CurrentBehaviorIndex >= c.BehaviorCount {
		return fmt.Errorf("%w: current behavior %d of %d", ErrLayout, c.CurrentBehaviorIndex, c.BehaviorCount)
	}
	return nil
}

// PayloadSize is the number of bytes following the header.
func (c Counts) PayloadSize() int {
	return Plan(0, c).PayloadSize()
}

// Section identifies one contiguous region of the payload.
type Section int

const (
	SectionPalette Section = iota
	SectionRGBKeyframes
	SectionRGBTracks
	SectionKeyframes
	SectionTracks
	SectionAnimationOffsets
	SectionAnimations
	SectionConditionOffsets
	SectionConditions
	SectionActionOffsets
	SectionActions
	SectionRules
	SectionBehaviors
	sectionCount
)

var sectionNames = [sectionCount]string{
	"palette", "rgb keyframes", "rgb tracks", "keyframes", "tracks",
	"animation offsets", "animations", "condition offsets", "conditions",
	"action offsets", "actions", "rules", "behaviors",
}

func (s Section) String() string {
	if s >= 0 && s < sectionCount {
		return sectionNames[s]
	}
	return fmt.Sprintf("Section(%d)", int(s))
}

// Sections lists every section in layout order.
func Sections() []Section {
	out := make([]Section, sectionCount)
	for i := range out {
		out[i] = Section(i)
	}
	return out
}

// Span is where a section will live in flash.
type Span struct {
	Address uint32
	Count   int
	Size    int
}

// End is the first address after the span.
func (s Span) End() uint32 { return s.Address + uint32(s.Size) }

// Layout assigns a flash address to every section. It holds addresses only;
// nothing is read or written while planning.
type Layout struct {
	Base  uint32
	Spans [sectionCount]Span
}

// Plan computes the layout of a data set whose header sits at base. Sections
// follow the header in a fixed order, each starting where the previous ended.
// Offset tables take roundUp4(count*2) bytes.
func Plan(base uint32, c Counts) Layout {
	l := Layout{Base: base}
	cursor := base + HeaderSize

	add := func(s Section, count, size int) {
		l.Spans[s] = Span{Address: cursor, Count: count, Size: size}
		cursor += uint32(size)
	}

	add(SectionPalette, c.PaletteSize, c.PaletteSize)
	add(SectionRGBKeyframes, c.RGBKeyFrameCount, c.RGBKeyFrameCount*RGBKeyframeSize)
	add(SectionRGBTracks, c.RGBTrackCount, c.RGBTrackCount*RGBTrackSize)
	add(SectionKeyframes, c.KeyFrameCount, c.KeyFrameCount*KeyframeSize)
	add(SectionTracks, c.TrackCount, c.TrackCount*TrackSize)
	add(SectionAnimationOffsets, c.AnimationCount, OffsetTableSize(c.AnimationCount))
	add(SectionAnimations, c.AnimationCount, c.AnimationsSize)
	add(SectionConditionOffsets, c.ConditionCount, OffsetTableSize(c.ConditionCount))
	add(SectionConditions, c.ConditionCount, c.ConditionsSize)
	add(SectionActionOffsets, c.ActionCount, OffsetTableSize(c.ActionCount))
	add(SectionActions, c.ActionCount, c.ActionsSize)
	add(SectionRules, c.RuleCount, c.RuleCount*RuleSize)
	add(SectionBehaviors, c.BehaviorCount, c.BehaviorCount*BehaviorSize)
	return l
}

// Span returns the placement of section s.
func (l Layout) Span(s Section) Span {
	return l.Spans[s]
}

// DataAddress is the first payload address, right after the header.
func (l Layout) DataAddress() uint32 {
	return l.Base + HeaderSize
}

// End is the first address after the payload.
func (l Layout) End() uint32 {
	return l.Spans[sectionCount-1].End()
}

// PayloadSize is the number of payload bytes following the header.
func (l Layout) PayloadSize() int {
	return int(l.End() - l.DataAddress())
}

// Header builds the header describing this layout.
func (l Layout) Header(c Counts) Header {
	span := l.Span
	return Header{
		HeadMarker:           Magic,
		Version:              Version,
		Palette:              span(SectionPalette).Address,
		PaletteSize:          uint32(c.PaletteSize),
		RGBKeyframes:         span(SectionRGBKeyframes).Address,
		RGBKeyFrameCount:     uint32(c.RGBKeyFrameCount),
		RGBTracks:            span(SectionRGBTracks).Address,
		RGBTrackCount:        uint32(c.RGBTrackCount),
		Keyframes:            span(SectionKeyframes).Address,
		KeyFrameCount:        uint32(c.KeyFrameCount),
		Tracks:               span(SectionTracks).Address,
		TrackCount:           uint32(c.TrackCount),
		AnimationOffsets:     span(SectionAnimationOffsets).Address,
		AnimationCount:       uint32(c.AnimationCount),
		Animations:           span(SectionAnimations).Address,
		AnimationsSize:       uint32(c.AnimationsSize),
		ConditionOffsets:     span(SectionConditionOffsets).Address,
		ConditionCount:       uint32(c.ConditionCount),
		Conditions:           span(SectionConditions).Address,
		ConditionsSize:       uint32(c.ConditionsSize),
		ActionOffsets:        span(SectionActionOffsets).Address,
		ActionCount:          uint32(c.ActionCount),
		Actions:              span(SectionActions).Address,
		ActionsSize:          uint32(c.ActionsSize),
		Rules:                span(SectionRules).Address,
		RuleCount:            uint32(c.RuleCount),
		Behaviors:            span(SectionBehaviors).Address,
		BehaviorCount:        uint32(c.BehaviorCount),
		CurrentBehaviorIndex: uint16(c.CurrentBehaviorIndex),
		HeatTrackIndex:       uint32(c.HeatTrackIndex),
		TailMarker:           Magic,
	}
}

// OffsetTableSize is the padded size of an offset table with count entries.
func OffsetTableSize(count int) int {
	return RoundUp4(count * offsetEntrySize)
}

// RoundUp4 rounds n up to a multiple of four.
func RoundUp4(n int) int {
	return (n + 3) &^ 3
}
