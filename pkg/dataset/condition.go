package dataset

import (
	"encoding/binary"
	"fmt"
)

// ConditionType tags a condition record.
type ConditionType uint8

const (
	ConditionUnknown ConditionType = iota
	ConditionHelloGoodbye
	ConditionHandling
	ConditionRolling
	ConditionFaceCompare
	ConditionCrooked
	ConditionConnectionState
	ConditionBatteryState
	ConditionIdle
)

var conditionNames = map[ConditionType]string{
	ConditionHelloGoodbye:    "hello_goodbye",
	ConditionHandling:        "handling",
	ConditionRolling:         "rolling",
	ConditionFaceCompare:     "face_compare",
	ConditionCrooked:         "crooked",
	ConditionConnectionState: "connection_state",
	ConditionBatteryState:    "battery_state",
	ConditionIdle:            "idle",
}

func (t ConditionType) String() string {
	if n, ok := conditionNames[t]; ok {
		return n
	}
	return fmt.Sprintf("condition(%d)", uint8(t))
}

// Condition flag bits.
const (
	FaceLess    uint8 = 1 << 0
	FaceEqual   uint8 = 1 << 1
	FaceGreater uint8 = 1 << 2

	Hello   uint8 = 1 << 0
	Goodbye uint8 = 1 << 1

	Connected    uint8 = 1 << 0
	Disconnected uint8 = 1 << 1

	BatteryOk       uint8 = 1 << 0
	BatteryLow      uint8 = 1 << 1
	BatteryCharging uint8 = 1 << 2
	BatteryDone     uint8 = 1 << 3
)

// ConditionSize is the encoded size of every condition variant.
const ConditionSize = 4

// Condition is one of the condition record variants.
type Condition interface {
	Type() ConditionType
	Append(b []byte) []byte
}

type HelloGoodbye struct{ Flags uint8 }

type Handling struct{}

// Rolling fires while the die rolls. A zero period does not repeat.
type Rolling struct{ RepeatPeriodMs uint16 }

// FaceCompare fires when the landed face compares to FaceIndex per Flags.
type FaceCompare struct {
	FaceIndex uint8
	Flags     uint8
}

type Crooked struct{}

type ConnectionState struct{ Flags uint8 }

type BatteryState struct{ Flags uint8 }

type Idle struct{ RepeatPeriodMs uint16 }

func (HelloGoodbye) Type() ConditionType    { return ConditionHelloGoodbye }
func (Handling) Type() ConditionType        { return ConditionHandling }
func (Rolling) Type() ConditionType         { return ConditionRolling }
func (FaceCompare) Type() ConditionType     { return ConditionFaceCompare }
func (Crooked) Type() ConditionType         { return ConditionCrooked }
func (ConnectionState) Type() ConditionType { return ConditionConnectionState }
func (BatteryState) Type() ConditionType    { return ConditionBatteryState }
func (Idle) Type() ConditionType            { return ConditionIdle }

func (c HelloGoodbye) Append(b []byte) []byte    { return append(b, byte(c.Type()), c.Flags, 0, 0) }
func (c Handling) Append(b []byte) []byte        { return append(b, byte(c.Type()), 0, 0, 0) }
func (c Crooked) Append(b []byte) []byte         { return append(b, byte(c.Type()), 0, 0, 0) }
func (c ConnectionState) Append(b []byte) []byte { return append(b, byte(c.Type()), c.Flags, 0, 0) }
func (c BatteryState) Append(b []byte) []byte    { return append(b, byte(c.Type()), c.Flags, 0, 0) }

func (c FaceCompare) Append(b []byte) []byte {
	return append(b, byte(c.Type()), c.FaceIndex, c.Flags, 0)
}

func (c Rolling) Append(b []byte) []byte {
	return binary.LittleEndian.AppendUint16(append(b, byte(c.Type()), 0), c.RepeatPeriodMs)
}

func (c Idle) Append(b []byte) []byte {
	return binary.LittleEndian.AppendUint16(append(b, byte(c.Type()), 0), c.RepeatPeriodMs)
}

// DecodeCondition decodes the condition record at the start of b.
func DecodeCondition(b []byte) (Condition, error) {
	if len(b) < ConditionSize {
		return nil, fmt.Errorf("%w: condition needs %d bytes, have %d", ErrTruncated, ConditionSize, len(b))
	}
	switch t := ConditionType(b[0]); t {
	case ConditionHelloGoodbye:
		return HelloGoodbye{Flags: b[1]}, nil
	case ConditionHandling:
		return Handling{}, nil
	case ConditionRolling:
		return Rolling{RepeatPeriodMs: binary.LittleEndian.Uint16(b[2:])}, nil
	case ConditionFaceCompare:
		return FaceCompare{FaceIndex: b[1], Flags: b[2]}, nil
	case ConditionCrooked:
		return Crooked{}, nil
	case ConditionConnectionState:
		return ConnectionState{Flags: b[1]}, nil
	case ConditionBatteryState:
		return BatteryState{Flags: b[1]}, nil
	case ConditionIdle:
		return Idle{RepeatPeriodMs: binary.LittleEndian.Uint16(b[2:])}, nil
	default:
		return nil, fmt.Errorf("%w: condition type %d", ErrUnknownType, b[0])
	}
}
