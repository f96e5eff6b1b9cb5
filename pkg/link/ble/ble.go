// Package ble connects to a die as a BLE central. Messages are written to
// the die's RX characteristic and arrive as notifications on its TX
// characteristic.
package ble

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"tinygo.org/x/bluetooth"

	"github.com/itohio/godice/pkg/event"
	"github.com/itohio/godice/pkg/link"
	"github.com/itohio/godice/pkg/logging"
	"github.com/itohio/godice/pkg/message"
)

// Nordic UART service layout, the default die GATT profile.
const (
	DefaultService = "6E400001-B5A3-F393-E0A9-E50E24DCCA9E"
	DefaultRX      = "6E400002-B5A3-F393-E0A9-E50E24DCCA9E"
	DefaultTX      = "6E400003-B5A3-F393-E0A9-E50E24DCCA9E"
)

// attOverhead is the ATT opcode and handle preceding a written value.
const attOverhead = 3

var (
	ErrNotFound = errors.New("ble: characteristic not found")
	ErrMTU      = errors.New("ble: MTU too small for a full message")
)

// Config selects the die and its GATT layout.
type Config struct {
	// Address or advertised local name of the die. Empty matches the first
	// device advertising Service.
	Address string
	Service string
	RX      string
	TX      string
}

type uuids struct {
	service, rx, tx bluetooth.UUID
}

func (c Config) parse() (uuids, error) {
	var u uuids
	var err error
	if u.service, err = bluetooth.ParseUUID(orDefault(c.Service, DefaultService)); err != nil {
		return u, fmt.Errorf("invalid service uuid: %w", err)
	}
	if u.rx, err = bluetooth.ParseUUID(orDefault(c.RX, DefaultRX)); err != nil {
		return u, fmt.Errorf("invalid rx uuid: %w", err)
	}
	if u.tx, err = bluetooth.ParseUUID(orDefault(c.TX, DefaultTX)); err != nil {
		return u, fmt.Errorf("invalid tx uuid: %w", err)
	}
	return u, nil
}

func (c Config) matches(r bluetooth.ScanResult, service bluetooth.UUID) bool {
	if c.Address == "" {
		return r.HasServiceUUID(service)
	}
	return strings.EqualFold(r.Address.String(), c.Address) || r.LocalName() == c.Address
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// Conn is a link.Channel over a BLE connection.
type Conn struct {
	sched  event.Scheduler
	device bluetooth.Device
	rx     bluetooth.DeviceCharacteristic
	log    zerolog.Logger

	mu   sync.RWMutex
	recv func([]byte)
}

var _ link.Channel = (*Conn)(nil)

// Dial scans for the die described by cfg, connects and subscribes to its
// TX characteristic. The scan is aborted when ctx is done.
func Dial(ctx context.Context, adapter *bluetooth.Adapter, cfg Config, sched event.Scheduler) (*Conn, error) {
	u, err := cfg.parse()
	if err != nil {
		return nil, err
	}
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("failed to enable adapter: %w", err)
	}

	found := make(chan bluetooth.ScanResult, 1)
	scanErr := make(chan error, 1)
	go func() {
		scanErr <- adapter.Scan(func(a *bluetooth.Adapter, r bluetooth.ScanResult) {
			if !cfg.matches(r, u.service) {
				return
			}
			select {
			case found <- r:
				a.StopScan()
			default:
			}
		})
	}()

	var result bluetooth.ScanResult
	select {
	case result = <-found:
	case err := <-scanErr:
		if err == nil {
			err = errors.New("scan stopped")
		}
		return nil, fmt.Errorf("failed to scan: %w", err)
	case <-ctx.Done():
		adapter.StopScan()
		return nil, ctx.Err()
	}

	device, err := adapter.Connect(result.Address, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", result.Address.String(), err)
	}

	c := &Conn{sched: sched, device: device, log: logging.For("ble")}
	if err := c.setup(u); err != nil {
		device.Disconnect()
		return nil, err
	}
	c.log.Info().Str("address", result.Address.String()).Str("name", result.LocalName()).Msg("connected")
	return c, nil
}

func (c *Conn) setup(u uuids) error {
	services, err := c.device.DiscoverServices([]bluetooth.UUID{u.service})
	if err != nil {
		return fmt.Errorf("failed to discover services: %w", err)
	}
	if len(services) == 0 {
		return fmt.Errorf("%w: service %s", ErrNotFound, u.service.String())
	}

	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{u.rx, u.tx})
	if err != nil {
		return fmt.Errorf("failed to discover characteristics: %w", err)
	}
	if len(chars) < 2 {
		return fmt.Errorf("%w: want rx and tx, got %d", ErrNotFound, len(chars))
	}
	c.rx = chars[0]

	mtu, err := c.rx.GetMTU()
	if err != nil {
		c.log.Warn().Err(err).Msg("failed to read MTU, assuming it fits a full message")
	} else {
		c.log.Info().Uint16("mtu", mtu).Msg("negotiated MTU")
		if err := checkMTU(mtu); err != nil {
			return err
		}
	}

	return chars[1].EnableNotifications(func(buf []byte) {
		msg := append([]byte(nil), buf...)
		c.sched.Post(func() {
			c.mu.RLock()
			fn := c.recv
			c.mu.RUnlock()
			if fn != nil {
				fn(msg)
			}
		})
	})
}

// checkMTU fails when one BulkData message does not fit a single write.
func checkMTU(mtu uint16) error {
	if int(mtu)-attOverhead < message.MaxSize {
		return fmt.Errorf("%w: %d byte MTU carries %d bytes, need %d", ErrMTU, mtu, int(mtu)-attOverhead, message.MaxSize)
	}
	return nil
}

func (c *Conn) SetReceiver(fn func(b []byte)) {
	c.mu.Lock()
	c.recv = fn
	c.mu.Unlock()
}

func (c *Conn) Send(b []byte) bool {
	if _, err := c.rx.WriteWithoutResponse(b); err != nil {
		c.log.Debug().Err(err).Msg("write failed")
		return false
	}
	return true
}

// Close disconnects from the die.
func (c *Conn) Close() error {
	return c.device.Disconnect()
}
