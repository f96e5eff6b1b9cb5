// Package die connects the host tool to a die, over a serial bridge, over
// BLE, or to a simulated die running in the same process.
package die

import (
	"context"
	"fmt"
	"sync"

	"tinygo.org/x/bluetooth"

	"github.com/itohio/godice/pkg/event"
	"github.com/itohio/godice/pkg/link"
	"github.com/itohio/godice/pkg/link/ble"
	"github.com/itohio/godice/pkg/link/serialport"
)

// Device defines the interface for dice (real or mocked).
type Device interface {
	Connect(ctx context.Context) error
	Close() error
	// Channel is the message channel to the die. It is nil until connected.
	Channel() link.Channel
	IsConnected() bool
	// Transport names the connection kind for the journal.
	Transport() string
	// Endpoint names the port, address or image the device is bound to.
	Endpoint() string
}

var (
	_ Device = (*Serial)(nil)
	_ Device = (*BLE)(nil)
	_ Device = (*Mock)(nil)
)

// Serial reaches a die through a SLIP-framed serial bridge.
type Serial struct {
	port     string
	baudRate int
	sched    event.Scheduler

	mu     sync.RWMutex
	stream *link.Stream
}

// NewSerial creates a serial device. A zero baudRate uses the default.
func NewSerial(port string, baudRate int, sched event.Scheduler) *Serial {
	if baudRate == 0 {
		baudRate = serialport.DefaultBaudRate
	}
	return &Serial{port: port, baudRate: baudRate, sched: sched}
}

func (s *Serial) Connect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream != nil {
		return fmt.Errorf("already connected")
	}
	stream, err := serialport.Open(s.port, s.baudRate, s.sched)
	if err != nil {
		return err
	}
	s.stream = stream
	return nil
}

func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream == nil {
		return nil
	}
	err := s.stream.Close()
	s.stream = nil
	return err
}

func (s *Serial) Channel() link.Channel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stream == nil {
		return nil
	}
	return s.stream
}

func (s *Serial) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stream != nil
}

func (s *Serial) Transport() string { return "serial" }
func (s *Serial) Endpoint() string  { return s.port }

// BLE reaches a die directly over Bluetooth LE.
type BLE struct {
	cfg   ble.Config
	sched event.Scheduler

	mu   sync.RWMutex
	conn *ble.Conn
}

func NewBLE(cfg ble.Config, sched event.Scheduler) *BLE {
	return &BLE{cfg: cfg, sched: sched}
}

func (b *BLE) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil {
		return fmt.Errorf("already connected")
	}
	conn, err := ble.Dial(ctx, bluetooth.DefaultAdapter, b.cfg, b.sched)
	if err != nil {
		return err
	}
	b.conn = conn
	return nil
}

func (b *BLE) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return nil
	}
	err := b.conn.Close()
	b.conn = nil
	return err
}

func (b *BLE) Channel() link.Channel {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.conn == nil {
		return nil
	}
	return b.conn
}

func (b *BLE) IsConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.conn != nil
}

func (b *BLE) Transport() string { return "ble" }

func (b *BLE) Endpoint() string {
	if b.cfg.Address == "" {
		return "first advertising die"
	}
	return b.cfg.Address
}
