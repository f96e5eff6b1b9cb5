//go:build tinygo

//go:generate tinygo flash -target=xiao-ble

package main

import (
	"io"
	"machine"
	"time"

	"github.com/rs/zerolog"

	"github.com/itohio/godice/pkg/bulk"
	"github.com/itohio/godice/pkg/event"
	"github.com/itohio/godice/pkg/link"
	"github.com/itohio/godice/pkg/logging"
	"github.com/itohio/godice/pkg/programmer"
	"github.com/itohio/godice/pkg/storage"
)

var uart = machine.UART0

func main() {
	// The UART carries frames, so nothing else may be written to it.
	logging.Apply(logging.Config{Level: zerolog.Disabled, JSON: true, Out: io.Discard})

	uart.Configure(machine.UARTConfig{
		BaudRate: UART_BAUD_RATE,
		TX:       machine.UART_TX_PIN,
		RX:       machine.UART_RX_PIN,
	})
	PIN_LED.Configure(machine.PinConfig{Mode: machine.PinOutput})
	PIN_LED.Low()

	loop := event.NewLoop()
	loop.Start()

	chip := newChipFlash(machine.Flash, loop)
	capacity := DATASET_PAGES * chip.PageSize()
	region, err := storage.NewRegion(chip, uint32(chip.Size()-capacity), capacity)
	if err != nil {
		halt()
	}

	stream := link.NewStream(uartPort{uart}, loop)
	svc := link.NewService(stream)

	loop.Post(func() {
		prog := programmer.New(svc, loop, region, bulk.DefaultConfig(), DIE_ID)
		prog.OnProgrammingBegin(func() { PIN_LED.High() })
		prog.OnProgrammingEnd(func(error) { PIN_LED.Low() })
		prog.Init(func(err error) {
			if err != nil {
				halt()
			}
		})
	})

	<-loop.Done()
}

// halt blinks the LED forever.
func halt() {
	for {
		PIN_LED.Set(!PIN_LED.Get())
		time.Sleep(100 * time.Millisecond)
	}
}
