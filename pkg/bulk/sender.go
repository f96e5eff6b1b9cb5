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

// Sender pushes a blob to a peer Receiver.
type Sender struct {
	svc   *link.Service
	sched event.Scheduler
	slot  *Slot
	cfg   Config
	log   zerolog.Logger

	state      State
	id         uuid.UUID
	data       []byte
	offset     int
	chunk      int
	msg        []byte
	attempts   int
	stepStart  time.Time
	timer      event.Timer
	done       func(error)
	onProgress func(sent, total int)
}

// NewSender registers the ack handlers on svc. slot is shared with the
// Receiver of the same endpoint.
func NewSender(svc *link.Service, sched event.Scheduler, slot *Slot, cfg Config) *Sender {
	s := &Sender{
		svc:   svc,
		sched: sched,
		slot:  slot,
		cfg:   cfg,
		log:   logging.For("bulk.sender"),
	}
	svc.Handle(message.TypeBulkSetupAck, func(message.Message) { s.onSetupAck() })
	svc.Handle(message.TypeBulkDataAck, func(m message.Message) { s.onDataAck(m.(message.BulkDataAck)) })
	return s
}

// OnProgress installs a callback invoked after each acknowledged chunk.
func (s *Sender) OnProgress(fn func(sent, total int)) {
	s.onProgress = fn
}

func (s *Sender) State() State { return s.state }

// ID identifies the current or last transfer.
func (s *Sender) ID() uuid.UUID { return s.id }

// Send starts transferring data. done runs exactly once with the outcome.
// A second Send while any transfer holds the slot fails with ErrBusy.
func (s *Sender) Send(data []byte, done func(error)) error {
	if len(data) == 0 {
		return ErrEmpty
	}
	if len(data) > MaxTransfer {
		return fmt.Errorf("%w: %d bytes", ErrTooLarge, len(data))
	}
	if err := s.slot.Acquire("sender"); err != nil {
		return err
	}

	s.id = uuid.New()
	s.data = data
	s.offset = 0
	s.chunk = 0
	s.done = done
	s.log.Debug().Str("transfer", s.id.String()).Int("size", len(data)).Msg("sending")

	s.startStep(StateSendingSetup, message.Encode(message.BulkSetup{Size: uint16(len(data))}))
	return nil
}

func (s *Sender) onSetupAck() {
	if s.state != StateSendingSetup && s.state != StateWaitingForSetupAck {
		return
	}
	s.sendChunk()
}

func (s *Sender) onDataAck(m message.BulkDataAck) {
	if s.state != StateSendingChunk && s.state != StateWaitingForChunkAck {
		return
	}
	if int(m.Offset) != s.offset {
		s.log.Debug().Str("transfer", s.id.String()).Uint16("ack", m.Offset).Int("want", s.offset).Msg("ignoring stale ack")
		return
	}

	s.offset += s.chunk
	if s.onProgress != nil {
		s.onProgress(s.offset, len(s.data))
	}
	if s.offset >= len(s.data) {
		s.finish(nil)
		return
	}
	s.sendChunk()
}

func (s *Sender) sendChunk() {
	s.chunk = min(s.cfg.ChunkSize, len(s.data)-s.offset)
	b, err := message.EncodeBulkData(uint16(s.offset), s.data[s.offset:s.offset+s.chunk])
	if err != nil {
		s.finish(err)
		return
	}
	s.startStep(StateSendingChunk, b)
}

func (s *Sender) startStep(state State, msg []byte) {
	s.state = state
	s.msg = msg
	s.attempts = 0
	s.stepStart = s.sched.Now()
	s.transmit()
}

// transmit sends the current step's message, or fails the transfer once the
// step ran out of attempts or time. A refused send is re-attempted on the
// next tick without counting as an attempt.
func (s *Sender) transmit() {
	if s.attempts >= s.cfg.MaxRetries {
		s.finish(fmt.Errorf("%w: no ack after %d attempts (%s)", ErrTimeout, s.attempts, s.state))
		return
	}
	if s.sched.Now().Sub(s.stepStart) >= s.cfg.Timeout {
		s.finish(fmt.Errorf("%w: step exceeded %v (%s)", ErrTimeout, s.cfg.Timeout, s.state))
		return
	}

	if !s.svc.SendRaw(s.msg) {
		s.arm(s.cfg.SendTick)
		return
	}
	s.attempts++
	if s.attempts > 1 {
		s.log.Debug().Str("transfer", s.id.String()).Int("attempt", s.attempts).Int("offset", s.offset).Msg("resending")
	}
	switch s.state {
	case StateSendingSetup:
		s.state = StateWaitingForSetupAck
	case StateSendingChunk:
		s.state = StateWaitingForChunkAck
	}
	s.arm(s.cfg.RetryInterval)
}

func (s *Sender) arm(d time.Duration) {
	event.Stop(s.timer)
	s.timer = s.sched.After(d, s.transmit)
}

func (s *Sender) finish(err error) {
	event.Stop(s.timer)
	s.timer = nil
	s.data = nil
	s.msg = nil
	s.slot.Release()

	if err != nil {
		s.state = StateFailed
		s.log.Warn().Err(err).Str("transfer", s.id.String()).Int("offset", s.offset).Msg("send failed")
	} else {
		s.state = StateDone
		s.log.Debug().Str("transfer", s.id.String()).Int("size", s.offset).Msg("send complete")
	}

	done := s.done
	s.done = nil
	if done != nil {
		done(err)
	}
}
