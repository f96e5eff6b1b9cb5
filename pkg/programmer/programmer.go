// Package programmer drives data-set transfers on both ends of the link. The
// device side (Programmer) owns the flash region: it accepts new data sets,
// commits them and serves the stored one on request. The host side (Host)
// uploads, downloads and identifies dice.
package programmer

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/itohio/godice/pkg/bulk"
	"github.com/itohio/godice/pkg/dataset"
	"github.com/itohio/godice/pkg/event"
	"github.com/itohio/godice/pkg/link"
	"github.com/itohio/godice/pkg/logging"
	"github.com/itohio/godice/pkg/message"
	"github.com/itohio/godice/pkg/storage"
)

// DefaultFinishTimeout bounds how long a host waits for the die to commit an
// uploaded data set.
const DefaultFinishTimeout = 5 * time.Second

var (
	ErrRefused = errors.New("programmer: transfer refused")
	// ErrRegenerated means the stored data set was unusable after
	// programming and the defaults were written instead.
	ErrRegenerated = errors.New("programmer: data set invalid, defaults restored")
)

// Programmer is the device end. All methods and callbacks run on the
// scheduler's execution context.
type Programmer struct {
	svc      *link.Service
	sched    event.Scheduler
	region   *storage.Region
	slot     *bulk.Slot
	sender   *bulk.Sender
	receiver *bulk.Receiver
	id       uint8
	log      zerolog.Logger

	ds *dataset.DataSet

	onBegin []func()
	onEnd   []func(error)

	programming bool
	incoming    message.TransferDataSet
	counts      dataset.Counts

	sending        bool
	req            request
	pendingPayload []byte
	sendDone       func(error)
}

// New wires a Programmer to svc. Call Init before serving requests.
func New(svc *link.Service, sched event.Scheduler, region *storage.Region, cfg bulk.Config, id uint8) *Programmer {
	slot := &bulk.Slot{}
	p := &Programmer{
		svc:      svc,
		sched:    sched,
		region:   region,
		slot:     slot,
		sender:   bulk.NewSender(svc, sched, slot, cfg),
		receiver: bulk.NewReceiver(svc, sched, slot, cfg),
		id:       id,
		log:      logging.For("programmer"),
		req:      request{svc: svc, sched: sched, cfg: cfg},
	}

	svc.Handle(message.TypeWhoAreYou, func(message.Message) { p.identify() })
	svc.Handle(message.TypeTransferDataSet, func(m message.Message) { p.onTransferDataSet(m.(message.TransferDataSet)) })
	svc.Handle(message.TypeTransferDataSetAck, func(m message.Message) { p.onTransferDataSetAck(m.(message.TransferDataSetAck)) })
	svc.Handle(message.TypeRequestDataSet, func(message.Message) {
		if err := p.SendDataSet(nil); err != nil {
			p.log.Warn().Err(err).Msg("cannot serve data set request")
		}
	})
	return p
}

// OnProgrammingBegin registers fn to run when a new data set is accepted,
// before the stored one is erased.
func (p *Programmer) OnProgrammingBegin(fn func()) {
	p.onBegin = append(p.onBegin, fn)
}

// OnProgrammingEnd registers fn to run when programming finishes.
func (p *Programmer) OnProgrammingEnd(fn func(error)) {
	p.onEnd = append(p.onEnd, fn)
}

// DataSet returns the stored data set, or nil while none is valid.
func (p *Programmer) DataSet() *dataset.DataSet {
	if p.programming {
		return nil
	}
	return p.ds
}

func (p *Programmer) Programming() bool { return p.programming }

// Init opens the stored data set and programs the defaults when it is
// missing or corrupt.
func (p *Programmer) Init(done func(error)) {
	if p.open() {
		p.log.Info().Int("size", p.ds.Size()).Msg("data set loaded")
		done(nil)
		return
	}
	p.log.Warn().Msg("stored data set invalid, programming defaults")
	p.restoreDefaults(done)
}

// open reads the header and reports whether the stored data set is usable.
func (p *Programmer) open() bool {
	p.ds = nil
	ds, err := dataset.Open(p.region.Flash(), p.region.Base())
	if err != nil {
		p.log.Warn().Err(err).Msg("failed to read data set header")
		return false
	}
	if !ds.CheckValid() {
		return false
	}
	if err := ds.Consistent(); err != nil {
		p.log.Warn().Err(err).Msg("data set header inconsistent")
		return false
	}
	if !p.region.Fits(ds.Size()) {
		p.log.Warn().Int("size", ds.Size()).Msg("data set exceeds region")
		return false
	}
	p.ds = ds
	return true
}

func (p *Programmer) restoreDefaults(done func(error)) {
	p.region.Program(dataset.Defaults(), func(err error) {
		if err != nil {
			p.log.Error().Err(err).Msg("failed to program defaults")
			done(err)
			return
		}
		if !p.open() {
			done(fmt.Errorf("%w: defaults did not validate", dataset.ErrInvalid))
			return
		}
		done(nil)
	})
}

func (p *Programmer) identify() {
	var hash uint32
	if ds := p.DataSet(); ds != nil {
		h, err := ds.Hash()
		if err != nil {
			p.log.Warn().Err(err).Msg("failed to hash data set")
		}
		hash = h
	}
	p.svc.Send(message.IAmADie{ID: p.id, DataSetHash: hash})
}

func (p *Programmer) onTransferDataSet(m message.TransferDataSet) {
	if p.programming {
		// our ack was lost, the host is still asking
		if m == p.incoming && p.receiver.State() == bulk.StateWaitingForSetup {
			p.svc.Send(message.TransferDataSetAck{Result: 1})
		}
		return
	}
	if p.slot.Busy() {
		p.log.Debug().Msg("ignoring data set transfer while busy")
		return
	}

	counts := dataset.CountsFromMessage(m)
	if err := counts.Validate(); err != nil {
		p.log.Warn().Err(err).Msg("refusing data set")
		p.svc.Send(message.TransferDataSetAck{Result: 0})
		return
	}
	size := counts.PayloadSize()
	if size == 0 || size > bulk.MaxTransfer || !p.region.Fits(size) {
		p.log.Warn().Int("size", size).Int("capacity", p.region.Capacity()).Msg("refusing data set that does not fit")
		p.svc.Send(message.TransferDataSetAck{Result: 0})
		return
	}

	p.programming = true
	p.incoming = m
	p.counts = counts
	for _, fn := range p.onBegin {
		fn()
	}
	p.log.Info().Int("size", size).Msg("programming data set")

	p.region.Prepare(size, func(err error) {
		if err != nil {
			p.svc.Send(message.TransferDataSetAck{Result: 0})
			p.endProgramming(err)
			return
		}
		if err := p.receiver.Receive(bulk.NewFlashTarget(p.region), p.onReceived); err != nil {
			p.svc.Send(message.TransferDataSetAck{Result: 0})
			p.endProgramming(err)
			return
		}
		p.svc.Send(message.TransferDataSetAck{Result: 1})
	})
}

func (p *Programmer) onReceived(n int, err error) {
	if err != nil {
		p.endProgramming(fmt.Errorf("receive failed after %d bytes: %w", n, err))
		return
	}

	l := dataset.Plan(p.region.Base(), p.counts)
	p.region.Commit(l.Header(p.counts), func(err error) {
		if err != nil {
			p.endProgramming(err)
			return
		}
		if p.open() {
			p.svc.Send(message.Empty{Kind: message.TypeTransferDataSetFinished})
			p.endProgramming(nil)
			return
		}
		p.log.Warn().Msg("committed data set invalid, programming defaults")
		p.restoreDefaults(func(err error) {
			if err == nil {
				err = ErrRegenerated
			}
			p.endProgramming(err)
		})
	})
}

func (p *Programmer) endProgramming(err error) {
	p.programming = false
	if err != nil {
		p.log.Error().Err(err).Msg("programming failed")
		// whatever was erased is gone; forget the old header
		p.open()
	} else {
		p.log.Info().Int("size", p.ds.Size()).Msg("programming finished")
	}
	for _, fn := range p.onEnd {
		fn(err)
	}
}

// SendDataSet offers the stored data set to the peer and streams it once the
// peer accepts. done may be nil.
func (p *Programmer) SendDataSet(done func(error)) error {
	if p.sending || p.programming || p.slot.Busy() {
		return bulk.ErrBusy
	}
	ds := p.DataSet()
	if ds == nil {
		return dataset.ErrInvalid
	}
	payload, err := ds.Payload()
	if err != nil {
		return err
	}

	p.sending = true
	p.sendDone = done
	p.pendingPayload = payload
	p.log.Debug().Int("size", len(payload)).Msg("offering data set")
	p.req.send(ds.Counts().Message(), p.finishSend)
	return nil
}

func (p *Programmer) onTransferDataSetAck(m message.TransferDataSetAck) {
	if !p.sending || !p.req.active() {
		return
	}
	p.req.stop()
	if !m.Accepted() {
		p.finishSend(ErrRefused)
		return
	}
	payload := p.pendingPayload
	p.pendingPayload = nil
	if err := p.sender.Send(payload, p.finishSend); err != nil {
		p.finishSend(err)
	}
}

func (p *Programmer) finishSend(err error) {
	p.req.stop()
	p.sending = false
	p.pendingPayload = nil
	if err != nil {
		p.log.Warn().Err(err).Msg("sending data set failed")
	} else {
		p.log.Info().Msg("data set sent")
	}
	done := p.sendDone
	p.sendDone = nil
	if done != nil {
		done(err)
	}
}
