// Command diectl uploads, downloads and inspects die data sets over a serial
// bridge, BLE, or a simulated die.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/itohio/godice/pkg/config"
	"github.com/itohio/godice/pkg/logging"
)

const usage = `usage: diectl [flags] <command> [args]

commands:
  ports                  list serial ports
  identify               ask the die for its id and data set hash
  upload <file.yaml>     program the die with a data set document
  download [file.yaml]   read the die's data set (stdout when no file)
  defaults [file.yaml]   write the built-in data set document
  info <file.yaml>       show the layout of a data set document
  history [n]            show the last n journaled transfers

flags:
`

func main() {
	var (
		portFlag    = flag.String("p", "", "Serial port override (e.g., COM3 or /dev/ttyACM0)")
		configFlag  = flag.String("config", "diectl.yaml", "Configuration file path")
		mockFlag    = flag.Bool("mock", false, "Use a simulated die instead of a real one")
		bleFlag     = flag.Bool("ble", false, "Connect over Bluetooth LE instead of serial")
		addressFlag = flag.String("address", "", "BLE address or name override")
		levelFlag   = flag.String("log-level", "", "Log level override (trace, debug, info, warn, error)")
		timeoutFlag = flag.Duration("timeout", time.Minute, "Overall command timeout")
	)
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := config.Load(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *levelFlag != "" {
		cfg.Log.Level = *levelFlag
	}
	logging.ConfigureLevel(cfg.Log.Level, cfg.Log.JSON)

	if *portFlag != "" {
		cfg.Serial.Port = *portFlag
	}
	if *addressFlag != "" {
		cfg.BLE.Address = *addressFlag
	}

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeoutFlag)
	defer cancel()

	a := &app{
		cfg:       cfg,
		out:       os.Stdout,
		transport: transportSerial,
	}
	switch {
	case *mockFlag:
		a.transport = transportMock
	case *bleFlag:
		a.transport = transportBLE
	}

	if err := a.run(ctx, flag.Arg(0), flag.Args()[1:]); err != nil {
		log.Error().Err(err).Str("command", flag.Arg(0)).Msg("command failed")
		os.Exit(1)
	}
}
