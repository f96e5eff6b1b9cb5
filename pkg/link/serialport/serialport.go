// Package serialport opens a die link over a serial port, typically a USB
// bridge to the radio or a development board running the firmware.
package serialport

import (
	"fmt"

	"go.bug.st/serial"

	"github.com/itohio/godice/pkg/event"
	"github.com/itohio/godice/pkg/link"
)

// DefaultBaudRate matches the firmware UART configuration.
const DefaultBaudRate = 115200

// Port represents a serial port.
type Port struct {
	Name        string
	Description string
}

// Ports returns a list of available serial ports.
func Ports() ([]Port, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}

	result := make([]Port, 0, len(ports))
	for _, p := range ports {
		result = append(result, Port{Name: p, Description: p})
	}
	return result, nil
}

// Open opens the named port and returns a framed message channel on it.
// Close the returned stream to release the port.
func Open(name string, baudRate int, sched event.Scheduler) (*link.Stream, error) {
	if name == "" {
		return nil, fmt.Errorf("no serial port specified")
	}
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}

	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	conn, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", name, err)
	}
	if err := conn.ResetInputBuffer(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to reset input buffer: %w", err)
	}

	return link.NewStream(conn, sched), nil
}
