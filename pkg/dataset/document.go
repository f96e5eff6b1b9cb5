package dataset

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Document is the editable YAML form of a data set.
type Document struct {
	Palette         []string       `yaml:"palette,omitempty"`
	RGBTracks       []RGBTrackDoc  `yaml:"rgb_tracks,omitempty"`
	Tracks          []TrackDoc     `yaml:"tracks,omitempty"`
	Animations      []AnimationDoc `yaml:"animations"`
	Conditions      []ConditionDoc `yaml:"conditions"`
	Actions         []ActionDoc    `yaml:"actions"`
	Rules           []RuleDoc      `yaml:"rules"`
	Behaviors       []BehaviorDoc  `yaml:"behaviors"`
	CurrentBehavior int            `yaml:"current_behavior"`
	HeatTrack       int            `yaml:"heat_track"`
}

type RGBKeyframeDoc struct {
	Time  int `yaml:"time"`
	Color int `yaml:"color"`
}

type RGBTrackDoc struct {
	LEDMask   uint32           `yaml:"led_mask"`
	Keyframes []RGBKeyframeDoc `yaml:"keyframes"`
}

type KeyframeDoc struct {
	Time      int   `yaml:"time"`
	Intensity uint8 `yaml:"intensity"`
}

type TrackDoc struct {
	LEDMask   uint32        `yaml:"led_mask"`
	Keyframes []KeyframeDoc `yaml:"keyframes"`
}

type AnimationDoc struct {
	Type                string `yaml:"type"`
	Duration            uint16 `yaml:"duration"`
	FaceMask            uint32 `yaml:"face_mask,omitempty"`
	Color               string `yaml:"color,omitempty"`
	Count               uint8  `yaml:"count,omitempty"`
	Fade                uint8  `yaml:"fade,omitempty"`
	SpeedMultiplier256  uint16 `yaml:"speed_multiplier,omitempty"`
	TracksOffset        uint16 `yaml:"tracks_offset,omitempty"`
	TrackCount          uint16 `yaml:"track_count,omitempty"`
	GradientTrackOffset uint16 `yaml:"gradient_track,omitempty"`
	OverrideWithFace    bool   `yaml:"override_with_face,omitempty"`
}

type ConditionDoc struct {
	Type           string `yaml:"type"`
	Flags          uint8  `yaml:"flags,omitempty"`
	FaceIndex      uint8  `yaml:"face,omitempty"`
	RepeatPeriodMs uint16 `yaml:"repeat_period,omitempty"`
}

type ActionDoc struct {
	Type      string `yaml:"type"`
	Animation uint8  `yaml:"animation,omitempty"`
	Face      uint8  `yaml:"face,omitempty"`
	LoopCount uint8  `yaml:"loop_count,omitempty"`
	PlayCount uint8  `yaml:"play_count,omitempty"`
	SoundID   uint32 `yaml:"sound_id,omitempty"`
}

type RuleDoc struct {
	Condition int `yaml:"condition"`
	Action    int `yaml:"action"`
}

type BehaviorDoc struct {
	RulesOffset int `yaml:"rules_offset"`
	RulesCount  int `yaml:"rules_count"`
}

// LoadDocument reads a YAML data set document.
func LoadDocument(filename string) (*Document, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read data set file: %w", err)
	}
	return ParseDocument(data)
}

// ParseDocument parses a YAML data set document.
func ParseDocument(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse data set: %w", err)
	}
	return &doc, nil
}

// Marshal encodes the document as YAML.
func (d *Document) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal data set: %w", err)
	}
	return data, nil
}

// Save writes the document as YAML.
func (d *Document) Save(filename string) error {
	data, err := d.Marshal()
	if err != nil {
		return err
	}
	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("failed to write data set file: %w", err)
	}
	return nil
}

// Build converts the document into a binary image.
func (d *Document) Build() (Image, error) {
	b := NewBuilder()

	for i, s := range d.Palette {
		c, err := ParseColor(s)
		if err != nil {
			return Image{}, fmt.Errorf("palette[%d]: %w", i, err)
		}
		b.AddColor(c)
	}
	for _, t := range d.RGBTracks {
		kfs := make([]RGBKeyframe, 0, len(t.Keyframes))
		for _, k := range t.Keyframes {
			kfs = append(kfs, NewRGBKeyframe(k.Time, k.Color))
		}
		b.AddRGBTrack(t.LEDMask, kfs...)
	}
	for _, t := range d.Tracks {
		kfs := make([]Keyframe, 0, len(t.Keyframes))
		for _, k := range t.Keyframes {
			kfs = append(kfs, NewKeyframe(k.Time, k.Intensity))
		}
		b.AddTrack(t.LEDMask, kfs...)
	}
	for i, a := range d.Animations {
		anim, err := a.animation()
		if err != nil {
			return Image{}, fmt.Errorf("animations[%d]: %w", i, err)
		}
		b.AddAnimation(anim)
	}
	for i, c := range d.Conditions {
		cond, err := c.condition()
		if err != nil {
			return Image{}, fmt.Errorf("conditions[%d]: %w", i, err)
		}
		b.AddCondition(cond)
	}
	for i, a := range d.Actions {
		act, err := a.action()
		if err != nil {
			return Image{}, fmt.Errorf("actions[%d]: %w", i, err)
		}
		b.AddAction(act)
	}
	for _, r := range d.Rules {
		b.AddRule(r.Condition, r.Action)
	}
	for _, bh := range d.Behaviors {
		b.AddBehavior(bh.RulesOffset, bh.RulesCount)
	}
	b.SetCurrentBehavior(d.CurrentBehavior)
	b.SetHeatTrack(d.HeatTrack)
	return b.Build()
}

func (a AnimationDoc) animation() (Animation, error) {
	switch a.Type {
	case AnimationSimple.String():
		c, err := ParseColor(a.Color)
		if err != nil {
			return nil, err
		}
		return Simple{DurationMs: a.Duration, FaceMask: a.FaceMask, Color: c, Count: a.Count, Fade: a.Fade}, nil
	case AnimationRainbow.String():
		return Rainbow{DurationMs: a.Duration, FaceMask: a.FaceMask, Count: a.Count, Fade: a.Fade}, nil
	case AnimationKeyframed.String():
		return Keyframed{
			DurationMs:         a.Duration,
			SpeedMultiplier256: a.SpeedMultiplier256,
			TracksOffset:       a.TracksOffset,
			TrackCount:         a.TrackCount,
		}, nil
	case AnimationGradientPattern.String():
		return GradientPattern{
			DurationMs:          a.Duration,
			TracksOffset:        a.TracksOffset,
			TrackCount:          a.TrackCount,
			GradientTrackOffset: a.GradientTrackOffset,
			OverrideWithFace:    a.OverrideWithFace,
		}, nil
	case AnimationGradient.String():
		return Gradient{DurationMs: a.Duration, FaceMask: a.FaceMask, GradientTrackOffset: a.GradientTrackOffset}, nil
	default:
		return nil, fmt.Errorf("%w: animation %q", ErrUnknownType, a.Type)
	}
}

func (c ConditionDoc) condition() (Condition, error) {
	switch c.Type {
	case ConditionHelloGoodbye.String():
		return HelloGoodbye{Flags: c.Flags}, nil
	case ConditionHandling.String():
		return Handling{}, nil
	case ConditionRolling.String():
		return Rolling{RepeatPeriodMs: c.RepeatPeriodMs}, nil
	case ConditionFaceCompare.String():
		return FaceCompare{FaceIndex: c.FaceIndex, Flags: c.Flags}, nil
	case ConditionCrooked.String():
		return Crooked{}, nil
	case ConditionConnectionState.String():
		return ConnectionState{Flags: c.Flags}, nil
	case ConditionBatteryState.String():
		return BatteryState{Flags: c.Flags}, nil
	case ConditionIdle.String():
		return Idle{RepeatPeriodMs: c.RepeatPeriodMs}, nil
	default:
		return nil, fmt.Errorf("%w: condition %q", ErrUnknownType, c.Type)
	}
}

func (a ActionDoc) action() (Action, error) {
	switch a.Type {
	case ActionPlayAnimation.String():
		return PlayAnimation{AnimIndex: a.Animation, FaceIndex: a.Face, LoopCount: a.LoopCount}, nil
	case ActionPlaySound.String():
		return PlaySound{PlayCount: a.PlayCount, SoundID: a.SoundID}, nil
	default:
		return nil, fmt.Errorf("%w: action %q", ErrUnknownType, a.Type)
	}
}

// DocumentFrom converts a valid data set back into its YAML form. Keyframes
// are regrouped under the tracks that reference them.
func DocumentFrom(ds *DataSet) (*Document, error) {
	if !ds.CheckValid() {
		return nil, ErrInvalid
	}
	c := ds.Counts()
	doc := &Document{CurrentBehavior: c.CurrentBehaviorIndex, HeatTrack: c.HeatTrackIndex}

	palette, err := ds.Palette()
	if err != nil {
		return nil, err
	}
	for _, col := range palette {
		doc.Palette = append(doc.Palette, FormatColor(col))
	}

	for i := 0; i < c.RGBTrackCount; i++ {
		t, err := ds.RGBTrack(i)
		if err != nil {
			return nil, err
		}
		td := RGBTrackDoc{LEDMask: t.LEDMask}
		for k := 0; k < int(t.KeyFrameCount); k++ {
			kf, err := ds.RGBKeyframe(int(t.KeyframesOffset) + k)
			if err != nil {
				return nil, err
			}
			td.Keyframes = append(td.Keyframes, RGBKeyframeDoc{Time: kf.Time(), Color: kf.ColorIndex()})
		}
		doc.RGBTracks = append(doc.RGBTracks, td)
	}

	for i := 0; i < c.TrackCount; i++ {
		t, err := ds.Track(i)
		if err != nil {
			return nil, err
		}
		td := TrackDoc{LEDMask: t.LEDMask}
		for k := 0; k < int(t.KeyFrameCount); k++ {
			kf, err := ds.Keyframe(int(t.KeyframesOffset) + k)
			if err != nil {
				return nil, err
			}
			td.Keyframes = append(td.Keyframes, KeyframeDoc{Time: kf.Time(), Intensity: kf.Intensity()})
		}
		doc.Tracks = append(doc.Tracks, td)
	}

	for i := 0; i < c.AnimationCount; i++ {
		a, err := ds.Animation(i)
		if err != nil {
			return nil, err
		}
		doc.Animations = append(doc.Animations, animationDoc(a))
	}
	for i := 0; i < c.ConditionCount; i++ {
		cond, err := ds.Condition(i)
		if err != nil {
			return nil, err
		}
		doc.Conditions = append(doc.Conditions, conditionDoc(cond))
	}
	for i := 0; i < c.ActionCount; i++ {
		a, err := ds.Action(i)
		if err != nil {
			return nil, err
		}
		doc.Actions = append(doc.Actions, actionDoc(a))
	}
	for i := 0; i < c.RuleCount; i++ {
		r, err := ds.Rule(i)
		if err != nil {
			return nil, err
		}
		doc.Rules = append(doc.Rules, RuleDoc{Condition: int(r.Condition), Action: int(r.Action)})
	}
	for i := 0; i < c.BehaviorCount; i++ {
		bh, err := ds.Behavior(i)
		if err != nil {
			return nil, err
		}
		doc.Behaviors = append(doc.Behaviors, BehaviorDoc{RulesOffset: int(bh.RulesOffset), RulesCount: int(bh.RulesCount)})
	}
	return doc, nil
}

func animationDoc(a Animation) AnimationDoc {
	d := AnimationDoc{Type: a.Type().String(), Duration: a.Duration()}
	switch v := a.(type) {
	case Simple:
		d.FaceMask, d.Color, d.Count, d.Fade = v.FaceMask, FormatColor(v.Color), v.Count, v.Fade
	case Rainbow:
		d.FaceMask, d.Count, d.Fade = v.FaceMask, v.Count, v.Fade
	case Keyframed:
		d.SpeedMultiplier256, d.TracksOffset, d.TrackCount = v.SpeedMultiplier256, v.TracksOffset, v.TrackCount
	case GradientPattern:
		d.TracksOffset, d.TrackCount = v.TracksOffset, v.TrackCount
		d.GradientTrackOffset, d.OverrideWithFace = v.GradientTrackOffset, v.OverrideWithFace
	case Gradient:
		d.FaceMask, d.GradientTrackOffset = v.FaceMask, v.GradientTrackOffset
	}
	return d
}

func conditionDoc(c Condition) ConditionDoc {
	d := ConditionDoc{Type: c.Type().String()}
	switch v := c.(type) {
	case HelloGoodbye:
		d.Flags = v.Flags
	case Rolling:
		d.RepeatPeriodMs = v.RepeatPeriodMs
	case FaceCompare:
		d.FaceIndex, d.Flags = v.FaceIndex, v.Flags
	case ConnectionState:
		d.Flags = v.Flags
	case BatteryState:
		d.Flags = v.Flags
	case Idle:
		d.RepeatPeriodMs = v.RepeatPeriodMs
	}
	return d
}

func actionDoc(a Action) ActionDoc {
	d := ActionDoc{Type: a.Type().String()}
	switch v := a.(type) {
	case PlayAnimation:
		d.Animation, d.Face, d.LoopCount = v.AnimIndex, v.FaceIndex, v.LoopCount
	case PlaySound:
		d.PlayCount, d.SoundID = v.PlayCount, v.SoundID
	}
	return d
}

// ParseColor parses "#RRGGBB" or "RRGGBB".
func ParseColor(s string) (Color, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) != 6 {
		return 0, fmt.Errorf("invalid color %q", s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid color %q: %w", s, err)
	}
	return Color(v), nil
}

// FormatColor renders c as "#rrggbb".
func FormatColor(c Color) string {
	return fmt.Sprintf("#%06x", uint32(c))
}
