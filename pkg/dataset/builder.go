package dataset

import (
	"encoding/binary"
	"fmt"
)

// MaxPaletteColors is the number of colors a 7-bit keyframe index can reach.
const MaxPaletteColors = 128

// Image is a data set payload together with the counts that describe it. It
// is what travels over the link; the header is rebuilt on the die.
type Image struct {
	Counts  Counts
	Payload []byte
}

// Builder assembles an Image from typed records.
type Builder struct {
	palette         []Color
	rgbKeyframes    []RGBKeyframe
	rgbTracks       []RGBTrack
	keyframes       []Keyframe
	tracks          []Track
	animations      []Animation
	conditions      []Condition
	actions         []Action
	rules           []Rule
	behaviors       []Behavior
	currentBehavior int
	heatTrack       int
}

func NewBuilder() *Builder {
	return &Builder{}
}

// AddColor appends a palette color and returns its index.
func (b *Builder) AddColor(c Color) int {
	b.palette = append(b.palette, c)
	return len(b.palette) - 1
}

func (b *Builder) AddRGBKeyframe(k RGBKeyframe) int {
	b.rgbKeyframes = append(b.rgbKeyframes, k)
	return len(b.rgbKeyframes) - 1
}

// AddRGBTrack appends a track over the given keyframes, which are added to
// the keyframe table.
func (b *Builder) AddRGBTrack(ledMask uint32, keyframes ...RGBKeyframe) int {
	b.rgbTracks = append(b.rgbTracks, RGBTrack{
		KeyframesOffset: uint16(len(b.rgbKeyframes)),
		KeyFrameCount:   uint8(len(keyframes)),
		LEDMask:         ledMask,
	})
	b.rgbKeyframes = append(b.rgbKeyframes, keyframes...)
	return len(b.rgbTracks) - 1
}

func (b *Builder) AddKeyframe(k Keyframe) int {
	b.keyframes = append(b.keyframes, k)
	return len(b.keyframes) - 1
}

// AddTrack appends an intensity track over the given keyframes.
func (b *Builder) AddTrack(ledMask uint32, keyframes ...Keyframe) int {
	b.tracks = append(b.tracks, Track{
		KeyframesOffset: uint16(len(b.keyframes)),
		KeyFrameCount:   uint8(len(keyframes)),
		LEDMask:         ledMask,
	})
	b.keyframes = append(b.keyframes, keyframes...)
	return len(b.tracks) - 1
}

func (b *Builder) AddAnimation(a Animation) int {
	b.animations = append(b.animations, a)
	return len(b.animations) - 1
}

func (b *Builder) AddCondition(c Condition) int {
	b.conditions = append(b.conditions, c)
	return len(b.conditions) - 1
}

func (b *Builder) AddAction(a Action) int {
	b.actions = append(b.actions, a)
	return len(b.actions) - 1
}

// AddRule pairs condition and action indexes.
func (b *Builder) AddRule(condition, action int) int {
	b.rules = append(b.rules, Rule{Condition: uint16(condition), Action: uint16(action)})
	return len(b.rules) - 1
}

// AddBehavior appends a behavior spanning rules [offset, offset+count).
func (b *Builder) AddBehavior(rulesOffset, rulesCount int) int {
	b.behaviors = append(b.behaviors, Behavior{RulesOffset: uint16(rulesOffset), RulesCount: uint16(rulesCount)})
	return len(b.behaviors) - 1
}

func (b *Builder) SetCurrentBehavior(i int) { b.currentBehavior = i }
func (b *Builder) SetHeatTrack(i int)       { b.heatTrack = i }

// Build validates cross references and encodes the payload in layout order.
func (b *Builder) Build() (Image, error) {
	if err := b.validate(); err != nil {
		return Image{}, err
	}

	animOffsets, animBlob := encodeIndexed(len(b.animations), func(i int, dst []byte) []byte {
		return b.animations[i].Append(dst)
	})
	condOffsets, condBlob := encodeIndexed(len(b.conditions), func(i int, dst []byte) []byte {
		return b.conditions[i].Append(dst)
	})
	actOffsets, actBlob := encodeIndexed(len(b.actions), func(i int, dst []byte) []byte {
		return b.actions[i].Append(dst)
	})

	c := Counts{
		PaletteSize:          len(b.palette) * 3,
		RGBKeyFrameCount:     len(b.rgbKeyframes),
		RGBTrackCount:        len(b.rgbTracks),
		KeyFrameCount:        len(b.keyframes),
		TrackCount:           len(b.tracks),
		AnimationCount:       len(b.animations),
		AnimationsSize:       len(animBlob),
		ConditionCount:       len(b.conditions),
		ConditionsSize:       len(condBlob),
		ActionCount:          len(b.actions),
		ActionsSize:          len(actBlob),
		RuleCount:            len(b.rules),
		BehaviorCount:        len(b.behaviors),
		CurrentBehaviorIndex: b.currentBehavior,
		HeatTrackIndex:       b.heatTrack,
	}
	if err := c.Validate(); err != nil {
		return Image{}, err
	}
	size := c.PayloadSize()
	if size > 0xFFFF {
		return Image{}, fmt.Errorf("%w: payload of %d bytes exceeds transfer limit", ErrLayout, size)
	}

	p := make([]byte, 0, size)
	for _, col := range b.palette {
		p = append(p, col.R(), col.G(), col.B())
	}
	for _, k := range b.rgbKeyframes {
		p = appendFixed(p, k)
	}
	for _, t := range b.rgbTracks {
		p = appendFixed(p, t)
	}
	for _, k := range b.keyframes {
		p = appendFixed(p, k)
	}
	for _, t := range b.tracks {
		p = appendFixed(p, t)
	}
	p = append(append(p, animOffsets...), animBlob...)
	p = append(append(p, condOffsets...), condBlob...)
	p = append(append(p, actOffsets...), actBlob...)
	for _, r := range b.rules {
		p = appendFixed(p, r)
	}
	for _, bh := range b.behaviors {
		p = appendFixed(p, bh)
	}

	if len(p) != size {
		return Image{}, fmt.Errorf("%w: encoded %d bytes, layout expects %d", ErrLayout, len(p), size)
	}
	return Image{Counts: c, Payload: p}, nil
}

func (b *Builder) validate() error {
	if len(b.palette) > MaxPaletteColors {
		return fmt.Errorf("%w: %d palette colors, max %d", ErrLayout, len(b.palette), MaxPaletteColors)
	}
	for i, k := range b.rgbKeyframes {
		if k.ColorIndex() >= len(b.palette) {
			return fmt.Errorf("%w: rgb keyframe %d uses color %d of %d", ErrIndex, i, k.ColorIndex(), len(b.palette))
		}
	}
	for i, r := range b.rules {
		if int(r.Condition) >= len(b.conditions) || int(r.Action) >= len(b.actions) {
			return fmt.Errorf("%w: rule %d references condition %d, action %d", ErrIndex, i, r.Condition, r.Action)
		}
	}
	for i, bh := range b.behaviors {
		if int(bh.RulesOffset)+int(bh.RulesCount) > len(b.rules) {
			return fmt.Errorf("%w: behavior %d spans rules %d+%d of %d", ErrIndex, i, bh.RulesOffset, bh.RulesCount, len(b.rules))
		}
	}
	for i, a := range b.actions {
		if pa, ok := a.(PlayAnimation); ok && int(pa.AnimIndex) >= len(b.animations) {
			return fmt.Errorf("%w: action %d plays animation %d of %d", ErrIndex, i, pa.AnimIndex, len(b.animations))
		}
	}
	if len(b.rgbTracks) > 0 && b.heatTrack >= len(b.rgbTracks) {
		return fmt.Errorf("%w: heat track %d of %d", ErrIndex, b.heatTrack, len(b.rgbTracks))
	}
	return nil
}

// encodeIndexed encodes n records back to back and returns the padded
// offset table alongside the blob.
func encodeIndexed(n int, appendRecord func(i int, dst []byte) []byte) (offsets, blob []byte) {
	offsets = make([]byte, OffsetTableSize(n))
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(offsets[i*offsetEntrySize:], uint16(len(blob)))
		blob = appendRecord(i, blob)
	}
	return offsets, blob
}
