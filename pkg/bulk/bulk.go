// Package bulk moves byte blobs over a best-effort message channel using a
// stop-and-wait protocol: a setup message announcing the size, then
// fixed-size chunks, each acknowledged by offset. Unacknowledged messages
// are resent on a timer with a bounded number of attempts.
package bulk

import (
	"errors"
	"fmt"
	"time"

	"github.com/itohio/godice/pkg/flash"
	"github.com/itohio/godice/pkg/message"
)

const (
	// ChunkSize is the data carried by one BulkData message.
	ChunkSize = message.MaxChunk
	// RetryInterval is how long to wait for an ack before resending.
	RetryInterval = 300 * time.Millisecond
	// Timeout bounds a single protocol step.
	Timeout = 3000 * time.Millisecond
	// MaxRetries is how many times one message is transmitted before the
	// transfer fails.
	MaxRetries = 5
	// SendTick is how soon a message refused by the channel is re-attempted.
	SendTick = 20 * time.Millisecond
	// MaxTransfer is the largest blob a u16 size field can announce.
	MaxTransfer = 0xFFFF
)

var (
	ErrBusy       = errors.New("bulk: transfer already in progress")
	ErrTimeout    = errors.New("bulk: transfer timed out")
	ErrAllocation = errors.New("bulk: allocation failed")
	ErrTooLarge   = errors.New("bulk: transfer too large")
	ErrEmpty      = errors.New("bulk: empty transfer")
)

// Config tunes the protocol timing. The zero value is not usable; start
// from DefaultConfig.
type Config struct {
	ChunkSize     int
	RetryInterval time.Duration
	Timeout       time.Duration
	MaxRetries    int
	SendTick      time.Duration
	// StrictOffsets makes the receiver check that every chunk starts where
	// the previous one ended. Chunks already received are re-acked, chunks
	// from the future are dropped.
	StrictOffsets bool
}

// DefaultConfig returns the protocol constants.
func DefaultConfig() Config {
	return Config{
		ChunkSize:     ChunkSize,
		RetryInterval: RetryInterval,
		Timeout:       Timeout,
		MaxRetries:    MaxRetries,
		SendTick:      SendTick,
	}
}

// Validate checks that the configuration can drive a transfer.
func (c Config) Validate() error {
	switch {
	case c.ChunkSize <= 0 || c.ChunkSize > message.MaxChunk:
		return fmt.Errorf("chunk size must be in 1..%d, got %d", message.MaxChunk, c.ChunkSize)
	case c.ChunkSize%flash.WordSize != 0:
		// chunks land at offsets that are multiples of the chunk size
		return fmt.Errorf("chunk size must be a multiple of %d, got %d", flash.WordSize, c.ChunkSize)
	case c.RetryInterval <= 0:
		return fmt.Errorf("retry interval must be positive")
	case c.Timeout < c.RetryInterval:
		return fmt.Errorf("timeout %v shorter than retry interval %v", c.Timeout, c.RetryInterval)
	case c.MaxRetries <= 0:
		return fmt.Errorf("max retries must be positive")
	case c.SendTick <= 0:
		return fmt.Errorf("send tick must be positive")
	}
	return nil
}

// Slot allows one transfer, in either direction, at a time.
type Slot struct {
	owner string
}

// Acquire claims the slot for owner or fails with ErrBusy.
func (s *Slot) Acquire(owner string) error {
	if s.owner != "" {
		return fmt.Errorf("%w: held by %s", ErrBusy, s.owner)
	}
	s.owner = owner
	return nil
}

// Release frees the slot.
func (s *Slot) Release() { s.owner = "" }

// Busy reports whether a transfer holds the slot.
func (s *Slot) Busy() bool { return s.owner != "" }

// State is a transfer state machine position.
type State int

const (
	StateIdle State = iota
	StateSendingSetup
	StateWaitingForSetupAck
	StateSendingChunk
	StateWaitingForChunkAck
	StateWaitingForSetup
	StateWaitingForData
	StateDone
	StateFailed
)

var stateNames = [...]string{
	"idle", "sending setup", "waiting for setup ack", "sending chunk",
	"waiting for chunk ack", "waiting for setup", "waiting for data", "done", "failed",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}
