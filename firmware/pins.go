//go:build tinygo

package main

import "machine"

const (
	// Host link. The bridge on the other side of the UART speaks SLIP at this rate.
	UART_BAUD_RATE = 115200

	// Flash pages reserved for the data set at the end of the user flash area.
	DATASET_PAGES = 4

	// Reported in IAmADie.
	DIE_ID = 1

	// Lit while a data set is being programmed.
	PIN_LED = machine.LED
)
