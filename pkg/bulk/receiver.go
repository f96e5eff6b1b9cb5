package bulk

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/itohio/godice/pkg/event"
	"github.com/itohio/godice/pkg/link"
	"github.com/itohio/godice/pkg/logging"
	"github.com/itohio/godice/pkg/message"
)

// Target is where a Receiver puts incoming data.
type Target interface {
	// Begin prepares room for size bytes.
	Begin(size int) error
	// Write stores data at offset and calls done once it is durable. The
	// data slice is only valid for the duration of the call.
	Write(offset int, data []byte, done func(error))
}

// Receiver accepts a blob from a peer Sender.
type Receiver struct {
	svc   *link.Service
	sched event.Scheduler
	slot  *Slot
	cfg   Config
	log   zerolog.Logger

	state    State
	id       uuid.UUID
	target   Target
	size     int
	next     int
	writing  bool
	ack      []byte
	deadline time.Time
	timer    event.Timer
	done     func(size int, err error)

	// last ack of a completed transfer, replayed if the sender missed it
	finalAck    []byte
	finalOffset int

	onProgress func(received, total int)
}

// NewReceiver registers the setup and data handlers on svc.
func NewReceiver(svc *link.Service, sched event.Scheduler, slot *Slot, cfg Config) *Receiver {
	r := &Receiver{
		svc:   svc,
		sched: sched,
		slot:  slot,
		cfg:   cfg,
		log:   logging.For("bulk.receiver"),
	}
	svc.Handle(message.TypeBulkSetup, func(m message.Message) { r.onSetup(m.(message.BulkSetup)) })
	svc.Handle(message.TypeBulkData, func(m message.Message) { r.onData(m.(message.BulkData)) })
	return r
}

// OnProgress installs a callback invoked after each stored chunk.
func (r *Receiver) OnProgress(fn func(received, total int)) {
	r.onProgress = fn
}

func (r *Receiver) State() State { return r.state }

// ID identifies the current or last transfer.
func (r *Receiver) ID() uuid.UUID { return r.id }

// Receive waits for a peer to start a transfer into target. done runs
// exactly once with the number of bytes stored and the outcome.
func (r *Receiver) Receive(target Target, done func(size int, err error)) error {
	if err := r.slot.Acquire("receiver"); err != nil {
		return err
	}

	r.id = uuid.New()
	r.target = target
	r.size = 0
	r.next = 0
	r.writing = false
	r.ack = nil
	r.finalAck = nil
	r.done = done
	r.state = StateWaitingForSetup
	r.touch()
	r.arm()
	r.log.Debug().Str("transfer", r.id.String()).Msg("waiting for setup")
	return nil
}

func (r *Receiver) onSetup(m message.BulkSetup) {
	switch r.state {
	case StateWaitingForSetup:
	case StateWaitingForData:
		// sender did not see our ack yet
		if r.next == 0 && int(m.Size) == r.size && r.ack != nil {
			r.svc.SendRaw(r.ack)
		}
		return
	default:
		return
	}

	if m.Size == 0 {
		r.finish(0, ErrEmpty)
		return
	}
	if err := r.target.Begin(int(m.Size)); err != nil {
		r.finish(0, err)
		return
	}
	r.size = int(m.Size)
	r.state = StateWaitingForData
	r.ack = message.Encode(message.Empty{Kind: message.TypeBulkSetupAck})
	r.touch()
	r.svc.SendRaw(r.ack)
	r.log.Debug().Str("transfer", r.id.String()).Int("size", r.size).Msg("setup accepted")
}

func (r *Receiver) onData(m message.BulkData) {
	off, n := int(m.Offset), len(m.Data)

	if r.state != StateWaitingForData {
		if r.finalAck != nil && off == r.finalOffset {
			r.svc.SendRaw(r.finalAck)
		}
		return
	}
	if r.writing {
		r.log.Debug().Int("offset", off).Msg("dropping chunk while writing")
		return
	}
	if n == 0 || off+n > r.size {
		r.log.Warn().Str("transfer", r.id.String()).Int("offset", off).Int("len", n).Int("size", r.size).Msg("dropping chunk out of range")
		return
	}
	if r.cfg.StrictOffsets {
		switch {
		case off+n <= r.next:
			r.svc.SendRaw(message.Encode(message.BulkDataAck{Offset: m.Offset}))
			return
		case off > r.next:
			r.log.Debug().Int("offset", off).Int("want", r.next).Msg("dropping chunk ahead of sequence")
			return
		}
	}

	r.writing = true
	r.target.Write(off, m.Data, func(err error) { r.onWritten(off, n, err) })
}

func (r *Receiver) onWritten(off, n int, err error) {
	r.writing = false
	if r.state != StateWaitingForData {
		return
	}
	if err != nil {
		r.finish(r.next, fmt.Errorf("write at %d: %w", off, err))
		return
	}

	ack := message.Encode(message.BulkDataAck{Offset: uint16(off)})
	if off+n >= r.next {
		r.ack = ack
	}
	r.next = max(r.next, off+n)
	r.touch()
	r.svc.SendRaw(ack)
	if r.onProgress != nil {
		r.onProgress(r.next, r.size)
	}

	if off+n >= r.size {
		r.finalAck = r.ack
		r.finalOffset = off
		r.finish(r.size, nil)
	}
}

func (r *Receiver) touch() {
	r.deadline = r.sched.Now().Add(r.cfg.Timeout)
}

func (r *Receiver) arm() {
	event.Stop(r.timer)
	r.timer = r.sched.After(r.cfg.RetryInterval, r.tick)
}

// tick resends the last ack and fails the transfer once nothing progressed
// for a whole step timeout.
func (r *Receiver) tick() {
	r.timer = nil
	if r.state != StateWaitingForSetup && r.state != StateWaitingForData {
		return
	}
	if !r.sched.Now().Before(r.deadline) {
		r.finish(r.next, fmt.Errorf("%w: %s at %d/%d", ErrTimeout, r.state, r.next, r.size))
		return
	}
	if r.ack != nil && !r.writing {
		r.svc.SendRaw(r.ack)
	}
	r.arm()
}

func (r *Receiver) finish(size int, err error) {
	event.Stop(r.timer)
	r.timer = nil
	r.target = nil
	r.ack = nil
	r.slot.Release()

	if err != nil {
		r.state = StateFailed
		r.log.Warn().Err(err).Str("transfer", r.id.String()).Int("received", size).Msg("receive failed")
	} else {
		r.state = StateDone
		r.log.Debug().Str("transfer", r.id.String()).Int("size", size).Msg("receive complete")
	}

	done := r.done
	r.done = nil
	if done != nil {
		done(size, err)
	}
}
