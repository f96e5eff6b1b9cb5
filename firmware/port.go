//go:build tinygo

package main

import (
	"machine"

	"github.com/itohio/godice/pkg/event"
	"github.com/itohio/godice/pkg/flash"
)

// uartPort drains the UART receive buffer without blocking.
type uartPort struct {
	uart *machine.UART
}

func (p uartPort) Read(b []byte) (int, error) {
	n := 0
	for n < len(b) && p.uart.Buffered() > 0 {
		c, err := p.uart.ReadByte()
		if err != nil {
			return n, err
		}
		b[n] = c
		n++
	}
	return n, nil
}

func (p uartPort) Write(b []byte) (int, error) {
	return p.uart.Write(b)
}

// blockDevice is the subset of machine.Flash the data set needs.
type blockDevice interface {
	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)
	Size() int64
	EraseBlockSize() int64
	EraseBlocks(start, length int64) error
}

// chipFlash exposes the on-chip flash as a flash.Flash. Addresses are offsets
// into the user flash area. Erase and write complete synchronously, the
// callback is still posted so callers see the same ordering as on the host.
type chipFlash struct {
	dev   blockDevice
	sched event.Scheduler
}

var _ flash.Flash = (*chipFlash)(nil)

func newChipFlash(dev blockDevice, sched event.Scheduler) *chipFlash {
	return &chipFlash{dev: dev, sched: sched}
}

func (c *chipFlash) Base() uint32  { return 0 }
func (c *chipFlash) Size() int     { return int(c.dev.Size()) }
func (c *chipFlash) PageSize() int { return int(c.dev.EraseBlockSize()) }

func (c *chipFlash) ReadAt(p []byte, off int64) (int, error) {
	if err := flash.CheckRange(c, uint32(off), len(p)); err != nil {
		return 0, err
	}
	return c.dev.ReadAt(p, off)
}

func (c *chipFlash) Erase(addr uint32, pages int, done func(error)) {
	err := flash.CheckRange(c, addr, pages*c.PageSize())
	if err == nil && int(addr)%c.PageSize() != 0 {
		err = flash.ErrAlign
	}
	if err == nil {
		err = c.dev.EraseBlocks(int64(addr)/c.dev.EraseBlockSize(), int64(pages))
	}
	c.sched.Post(func() { done(err) })
}

func (c *chipFlash) Write(addr uint32, data []byte, done func(error)) {
	err := flash.CheckRange(c, addr, len(data))
	if err == nil && (addr%flash.WordSize != 0 || len(data)%flash.WordSize != 0) {
		err = flash.ErrAlign
	}
	if err == nil {
		_, err = c.dev.WriteAt(data, int64(addr))
	}
	c.sched.Post(func() { done(err) })
}
