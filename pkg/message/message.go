// Package message implements the die wire messages: one type byte followed by
// a little-endian payload.
package message

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Type identifies a message on the wire.
type Type uint8

const (
	TypeNone Type = iota
	TypeWhoAreYou
	TypeIAmADie
	TypeState
	TypeTelemetry
	TypeBulkSetup
	TypeBulkSetupAck
	TypeBulkData
	TypeBulkDataAck
	TypeTransferDataSet
	TypeTransferDataSetAck
	TypeTransferDataSetFinished
	TypeRequestDataSet
	typeCount
)

// MaxChunk is the largest data payload carried by one BulkData message.
const MaxChunk = 100

// MaxSize is the largest message produced by this package.
const MaxSize = 1 + bulkDataHeader + MaxChunk

const bulkDataHeader = 3

var (
	ErrEmpty       = errors.New("message: empty")
	ErrUnknownType = errors.New("message: unknown type")
	ErrShort       = errors.New("message: payload too short")
	ErrChunkSize   = errors.New("message: chunk too large")
)

var typeNames = [...]string{
	TypeNone:                    "None",
	TypeWhoAreYou:               "WhoAreYou",
	TypeIAmADie:                 "IAmADie",
	TypeState:                   "State",
	TypeTelemetry:               "Telemetry",
	TypeBulkSetup:               "BulkSetup",
	TypeBulkSetupAck:            "BulkSetupAck",
	TypeBulkData:                "BulkData",
	TypeBulkDataAck:             "BulkDataAck",
	TypeTransferDataSet:         "TransferDataSet",
	TypeTransferDataSetAck:      "TransferDataSetAck",
	TypeTransferDataSetFinished: "TransferDataSetFinished",
	TypeRequestDataSet:          "RequestDataSet",
}

func (t Type) String() string {
	if t < typeCount {
		return typeNames[t]
	}
	return fmt.Sprintf("Type(%d)", uint8(t))
}

// Message is implemented by every wire message.
type Message interface {
	Type() Type
	// AppendPayload appends the little-endian payload (without the type byte).
	AppendPayload(b []byte) []byte
}

// Empty is a message with no payload, such as BulkSetupAck or WhoAreYou.
type Empty struct {
	Kind Type
}

func (m Empty) Type() Type                    { return m.Kind }
func (m Empty) AppendPayload(b []byte) []byte { return b }

// IAmADie answers WhoAreYou.
type IAmADie struct {
	ID          uint8
	DataSetHash uint32
}

func (IAmADie) Type() Type { return TypeIAmADie }

func (m IAmADie) AppendPayload(b []byte) []byte {
	b = append(b, m.ID)
	return binary.LittleEndian.AppendUint32(b, m.DataSetHash)
}

// BulkSetup announces the total size of a bulk transfer.
type BulkSetup struct {
	Size uint16
}

func (BulkSetup) Type() Type { return TypeBulkSetup }

func (m BulkSetup) AppendPayload(b []byte) []byte {
	return binary.LittleEndian.AppendUint16(b, m.Size)
}

// BulkData carries one chunk. Only len(Data) bytes travel on the wire.
type BulkData struct {
	Offset uint16
	Data   []byte
}

func (BulkData) Type() Type { return TypeBulkData }

func (m BulkData) AppendPayload(b []byte) []byte {
	b = append(b, uint8(len(m.Data)))
	b = binary.LittleEndian.AppendUint16(b, m.Offset)
	return append(b, m.Data...)
}

// BulkDataAck acknowledges the chunk starting at Offset.
type BulkDataAck struct {
	Offset uint16
}

func (BulkDataAck) Type() Type { return TypeBulkDataAck }

func (m BulkDataAck) AppendPayload(b []byte) []byte {
	return binary.LittleEndian.AppendUint16(b, m.Offset)
}

// TransferDataSet announces the per-category sizes of an incoming data set.
type TransferDataSet struct {
	PaletteSize          uint16
	RGBKeyFrameCount     uint16
	RGBTrackCount        uint16
	KeyFrameCount        uint16
	TrackCount           uint16
	AnimationCount       uint16
	AnimationsByteSize   uint16
	ConditionCount       uint16
	ConditionsByteSize   uint16
	ActionCount          uint16
	ActionsByteSize      uint16
	RuleCount            uint16
	BehaviorCount        uint16
	CurrentBehaviorIndex uint8
	HeatTrackIndex       uint16
}

const transferDataSetSize = 13*2 + 1 + 2

func (TransferDataSet) Type() Type { return TypeTransferDataSet }

func (m TransferDataSet) AppendPayload(b []byte) []byte {
	for _, v := range m.words() {
		b = binary.LittleEndian.AppendUint16(b, v)
	}
	b = append(b, m.CurrentBehaviorIndex)
	return binary.LittleEndian.AppendUint16(b, m.HeatTrackIndex)
}

func (m *TransferDataSet) fields() []*uint16 {
	return []*uint16{
		&m.PaletteSize, &m.RGBKeyFrameCount, &m.RGBTrackCount, &m.KeyFrameCount,
		&m.TrackCount, &m.AnimationCount, &m.AnimationsByteSize, &m.ConditionCount,
		&m.ConditionsByteSize, &m.ActionCount, &m.ActionsByteSize, &m.RuleCount,
		&m.BehaviorCount,
	}
}

func (m TransferDataSet) words() []uint16 {
	f := m.fields()
	w := make([]uint16, len(f))
	for i, p := range f {
		w[i] = *p
	}
	return w
}

// TransferDataSetAck answers TransferDataSet. Result is 1 when the device
// accepted the transfer and erased storage for it, 0 when it refused.
type TransferDataSetAck struct {
	Result uint8
}

func (TransferDataSetAck) Type() Type { return TypeTransferDataSetAck }

func (m TransferDataSetAck) AppendPayload(b []byte) []byte {
	return append(b, m.Result)
}

// Accepted reports whether the device agreed to receive the data set.
func (m TransferDataSetAck) Accepted() bool { return m.Result != 0 }

// Encode serializes m into a fresh buffer.
func Encode(m Message) []byte {
	b := make([]byte, 1, MaxSize)
	b[0] = byte(m.Type())
	return m.AppendPayload(b)
}

// EncodeBulkData validates the chunk size before encoding.
func EncodeBulkData(offset uint16, data []byte) ([]byte, error) {
	if len(data) > MaxChunk {
		return nil, fmt.Errorf("%w: %d bytes", ErrChunkSize, len(data))
	}
	return Encode(BulkData{Offset: offset, Data: data}), nil
}

// Peek returns the type byte without decoding the payload.
func Peek(b []byte) (Type, error) {
	if len(b) == 0 {
		return TypeNone, ErrEmpty
	}
	t := Type(b[0])
	if t >= typeCount {
		return t, fmt.Errorf("%w: %d", ErrUnknownType, b[0])
	}
	return t, nil
}

// Decode parses a wire message. BulkData.Data aliases b.
func Decode(b []byte) (Message, error) {
	t, err := Peek(b)
	if err != nil {
		return nil, err
	}
	p := b[1:]

	switch t {
	case TypeIAmADie:
		if len(p) < 5 {
			return nil, short(t, 5, len(p))
		}
		return IAmADie{ID: p[0], DataSetHash: binary.LittleEndian.Uint32(p[1:])}, nil

	case TypeBulkSetup:
		if len(p) < 2 {
			return nil, short(t, 2, len(p))
		}
		return BulkSetup{Size: binary.LittleEndian.Uint16(p)}, nil

	case TypeBulkData:
		if len(p) < bulkDataHeader {
			return nil, short(t, bulkDataHeader, len(p))
		}
		size := int(p[0])
		if size > MaxChunk {
			return nil, fmt.Errorf("%w: %d bytes", ErrChunkSize, size)
		}
		if len(p) < bulkDataHeader+size {
			return nil, short(t, bulkDataHeader+size, len(p))
		}
		return BulkData{
			Offset: binary.LittleEndian.Uint16(p[1:]),
			Data:   p[bulkDataHeader : bulkDataHeader+size],
		}, nil

	case TypeBulkDataAck:
		if len(p) < 2 {
			return nil, short(t, 2, len(p))
		}
		return BulkDataAck{Offset: binary.LittleEndian.Uint16(p)}, nil

	case TypeTransferDataSet:
		if len(p) < transferDataSetSize {
			return nil, short(t, transferDataSetSize, len(p))
		}
		var m TransferDataSet
		for i, f := range m.fields() {
			*f = binary.LittleEndian.Uint16(p[i*2:])
		}
		m.CurrentBehaviorIndex = p[26]
		m.HeatTrackIndex = binary.LittleEndian.Uint16(p[27:])
		return m, nil

	case TypeTransferDataSetAck:
		if len(p) < 1 {
			return nil, short(t, 1, len(p))
		}
		return TransferDataSetAck{Result: p[0]}, nil

	default:
		return Empty{Kind: t}, nil
	}
}

func short(t Type, want, got int) error {
	return fmt.Errorf("%w: %s needs %d bytes, got %d", ErrShort, t, want, got)
}
