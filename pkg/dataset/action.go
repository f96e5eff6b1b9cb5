package dataset

import (
	"encoding/binary"
	"fmt"
)

// ActionType tags an action record.
type ActionType uint8

const (
	ActionUnknown ActionType = iota
	ActionPlayAnimation
	ActionPlaySound
)

func (t ActionType) String() string {
	switch t {
	case ActionPlayAnimation:
		return "play_animation"
	case ActionPlaySound:
		return "play_sound"
	default:
		return fmt.Sprintf("action(%d)", uint8(t))
	}
}

// CurrentFace makes PlayAnimation remap onto whatever face is up.
const CurrentFace = 0xFF

// Action is one of the action record variants.
type Action interface {
	Type() ActionType
	Size() int
	Append(b []byte) []byte
}

// PlayAnimation plays animation AnimIndex on FaceIndex LoopCount times.
type PlayAnimation struct {
	AnimIndex uint8
	FaceIndex uint8
	LoopCount uint8
}

func (PlayAnimation) Type() ActionType { return ActionPlayAnimation }
func (PlayAnimation) Size() int        { return 4 }

func (a PlayAnimation) Append(b []byte) []byte {
	return append(b, byte(a.Type()), a.AnimIndex, a.FaceIndex, a.LoopCount)
}

// PlaySound asks the connected host to play SoundID.
type PlaySound struct {
	PlayCount uint8
	SoundID   uint32
}

func (PlaySound) Type() ActionType { return ActionPlaySound }
func (PlaySound) Size() int        { return 8 }

func (a PlaySound) Append(b []byte) []byte {
	b = append(b, byte(a.Type()), a.PlayCount, 0, 0)
	return binary.LittleEndian.AppendUint32(b, a.SoundID)
}

// DecodeAction decodes the action record at the start of b.
func DecodeAction(b []byte) (Action, error) {
	if len(b) < 1 {
		return nil, fmt.Errorf("%w: action tag", ErrTruncated)
	}
	switch t := ActionType(b[0]); t {
	case ActionPlayAnimation:
		if len(b) < 4 {
			return nil, fmt.Errorf("%w: %s needs 4 bytes, have %d", ErrTruncated, t, len(b))
		}
		return PlayAnimation{AnimIndex: b[1], FaceIndex: b[2], LoopCount: b[3]}, nil
	case ActionPlaySound:
		if len(b) < 8 {
			return nil, fmt.Errorf("%w: %s needs 8 bytes, have %d", ErrTruncated, t, len(b))
		}
		return PlaySound{PlayCount: b[1], SoundID: binary.LittleEndian.Uint32(b[4:])}, nil
	default:
		return nil, fmt.Errorf("%w: action type %d", ErrUnknownType, b[0])
	}
}
