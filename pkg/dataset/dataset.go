package dataset

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// DataSet reads a data set in place. Nothing is dereferenced unless the
// header is valid.
type DataSet struct {
	r      io.ReaderAt
	base   uint32
	header Header
}

// Open reads the header at base. The returned data set may be invalid; use
// CheckValid before relying on it.
func Open(r io.ReaderAt, base uint32) (*DataSet, error) {
	d := &DataSet{r: r, base: base}
	h, err := ReadHeader(r, base)
	if err != nil {
		return nil, err
	}
	d.header = h
	return d, nil
}

// FromImage wraps a header-less image, as produced by Builder or received by
// a host download, in a DataSet based at address 0.
func FromImage(img Image) (*DataSet, error) {
	if err := img.Counts.Validate(); err != nil {
		return nil, err
	}
	l := Plan(0, img.Counts)
	if len(img.Payload) < l.PayloadSize() {
		return nil, fmt.Errorf("%w: payload is %d bytes, layout needs %d", ErrTruncated, len(img.Payload), l.PayloadSize())
	}
	hdr, err := l.Header(img.Counts).MarshalBinary()
	if err != nil {
		return nil, err
	}
	buf := append(hdr, img.Payload[:l.PayloadSize()]...)
	return Open(bytes.NewReader(buf), 0)
}

// Base returns the header address.
func (d *DataSet) Base() uint32 { return d.base }

// Header returns the header as last read.
func (d *DataSet) Header() Header { return d.header }

// Counts returns the category sizes recorded in the header.
func (d *DataSet) Counts() Counts { return d.header.Counts() }

// CheckValid re-reads the header and reports whether it is valid.
func (d *DataSet) CheckValid() bool {
	h, err := ReadHeader(d.r, d.base)
	if err != nil {
		return false
	}
	d.header = h
	return h.Valid()
}

// Layout returns the layout implied by the header counts.
func (d *DataSet) Layout() Layout {
	return Plan(d.base, d.header.Counts())
}

// Consistent checks that every header pointer matches the layout planned
// from its counts, which keeps all lookups inside the committed region.
func (d *DataSet) Consistent() error {
	if !d.header.Valid() {
		return ErrInvalid
	}
	want := d.Layout().Header(d.header.Counts())
	want.Padding = d.header.Padding
	if want != d.header {
		return fmt.Errorf("%w: header pointers do not match layout", ErrLayout)
	}
	return nil
}

// Size is the payload size in bytes.
func (d *DataSet) Size() int {
	return d.Layout().PayloadSize()
}

// Payload reads the raw bytes that follow the header.
func (d *DataSet) Payload() ([]byte, error) {
	if !d.header.Valid() {
		return nil, ErrInvalid
	}
	l := d.Layout()
	return d.read(l.DataAddress(), l.PayloadSize())
}

// Hash hashes the payload.
func (d *DataSet) Hash() (uint32, error) {
	p, err := d.Payload()
	if err != nil {
		return 0, err
	}
	return Hash(p), nil
}

// Image returns the counts and payload, ready to be sent to another die.
func (d *DataSet) Image() (Image, error) {
	p, err := d.Payload()
	if err != nil {
		return Image{}, err
	}
	return Image{Counts: d.Counts(), Payload: p}, nil
}

// PaletteColor returns palette entry i.
func (d *DataSet) PaletteColor(i int) (Color, error) {
	b, err := d.fixed(d.header.Palette, int(d.header.PaletteSize)/3, 3, i)
	if err != nil {
		return 0, err
	}
	return RGB(b[0], b[1], b[2]), nil
}

// Palette returns every palette color.
func (d *DataSet) Palette() ([]Color, error) {
	n := int(d.header.PaletteSize) / 3
	out := make([]Color, 0, n)
	for i := 0; i < n; i++ {
		c, err := d.PaletteColor(i)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (d *DataSet) RGBKeyframe(i int) (RGBKeyframe, error) {
	var k RGBKeyframe
	err := d.fixedInto(d.header.RGBKeyframes, int(d.header.RGBKeyFrameCount), RGBKeyframeSize, i, &k)
	return k, err
}

func (d *DataSet) RGBTrack(i int) (RGBTrack, error) {
	var t RGBTrack
	err := d.fixedInto(d.header.RGBTracks, int(d.header.RGBTrackCount), RGBTrackSize, i, &t)
	return t, err
}

func (d *DataSet) Keyframe(i int) (Keyframe, error) {
	var k Keyframe
	err := d.fixedInto(d.header.Keyframes, int(d.header.KeyFrameCount), KeyframeSize, i, &k)
	return k, err
}

func (d *DataSet) Track(i int) (Track, error) {
	var t Track
	err := d.fixedInto(d.header.Tracks, int(d.header.TrackCount), TrackSize, i, &t)
	return t, err
}

// HeatTrack returns the RGB track used to show how hot the die is.
func (d *DataSet) HeatTrack() (RGBTrack, error) {
	return d.RGBTrack(int(d.header.HeatTrackIndex))
}

func (d *DataSet) Rule(i int) (Rule, error) {
	var r Rule
	err := d.fixedInto(d.header.Rules, int(d.header.RuleCount), RuleSize, i, &r)
	return r, err
}

func (d *DataSet) Behavior(i int) (Behavior, error) {
	var b Behavior
	err := d.fixedInto(d.header.Behaviors, int(d.header.BehaviorCount), BehaviorSize, i, &b)
	return b, err
}

// CurrentBehavior returns the behavior selected in the header.
func (d *DataSet) CurrentBehavior() (Behavior, error) {
	return d.Behavior(int(d.header.CurrentBehaviorIndex))
}

// Rules returns the rules of behavior b.
func (d *DataSet) Rules(b Behavior) ([]Rule, error) {
	out := make([]Rule, 0, b.RulesCount)
	for i := 0; i < int(b.RulesCount); i++ {
		r, err := d.Rule(int(b.RulesOffset) + i)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// Animation decodes animation i through the animation offset table.
func (d *DataSet) Animation(i int) (Animation, error) {
	b, err := d.indexed(d.header.AnimationOffsets, d.header.AnimationCount, d.header.Animations, d.header.AnimationsSize, i)
	if err != nil {
		return nil, err
	}
	return DecodeAnimation(b)
}

// Condition decodes condition i through the condition offset table.
func (d *DataSet) Condition(i int) (Condition, error) {
	b, err := d.indexed(d.header.ConditionOffsets, d.header.ConditionCount, d.header.Conditions, d.header.ConditionsSize, i)
	if err != nil {
		return nil, err
	}
	return DecodeCondition(b)
}

// Action decodes action i through the action offset table.
func (d *DataSet) Action(i int) (Action, error) {
	b, err := d.indexed(d.header.ActionOffsets, d.header.ActionCount, d.header.Actions, d.header.ActionsSize, i)
	if err != nil {
		return nil, err
	}
	return DecodeAction(b)
}

func (d *DataSet) fixed(addr uint32, count, size, i int) ([]byte, error) {
	if !d.header.Valid() {
		return nil, ErrInvalid
	}
	if i < 0 || i >= count {
		return nil, fmt.Errorf("%w: %d of %d", ErrIndex, i, count)
	}
	return d.read(addr+uint32(i*size), size)
}

func (d *DataSet) fixedInto(addr uint32, count, size, i int, v any) error {
	b, err := d.fixed(addr, count, size, i)
	if err != nil {
		return err
	}
	return decodeFixed(b, v)
}

// indexed returns the bytes from the start of record i to the end of its
// category blob.
func (d *DataSet) indexed(offsets, count, blob, blobSize uint32, i int) ([]byte, error) {
	b, err := d.fixed(offsets, int(count), offsetEntrySize, i)
	if err != nil {
		return nil, err
	}
	off := uint32(binary.LittleEndian.Uint16(b))
	if off >= blobSize {
		return nil, fmt.Errorf("%w: record %d at offset %d past blob of %d bytes", ErrTruncated, i, off, blobSize)
	}
	return d.read(blob+off, int(blobSize-off))
}

func (d *DataSet) read(addr uint32, n int) ([]byte, error) {
	b := make([]byte, n)
	if n == 0 {
		return b, nil
	}
	if _, err := d.r.ReadAt(b, int64(addr)); err != nil {
		return nil, fmt.Errorf("failed to read 0x%08x+%d: %w", addr, n, err)
	}
	return b, nil
}
