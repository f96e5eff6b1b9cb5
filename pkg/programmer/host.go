package programmer

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/itohio/godice/pkg/bulk"
	"github.com/itohio/godice/pkg/dataset"
	"github.com/itohio/godice/pkg/event"
	"github.com/itohio/godice/pkg/link"
	"github.com/itohio/godice/pkg/logging"
	"github.com/itohio/godice/pkg/message"
)

type operation int

const (
	opNone operation = iota
	opUpload
	opDownload
	opIdentify
)

// Host is the phone or desktop end. It runs one operation at a time; all
// callbacks run on the scheduler's execution context.
type Host struct {
	svc           *link.Service
	sched         event.Scheduler
	sender        *bulk.Sender
	receiver      *bulk.Receiver
	finishTimeout time.Duration
	log           zerolog.Logger

	op       operation
	req      request
	transfer uuid.UUID

	// upload
	payload     []byte
	uploaded    bool
	finished    bool
	finishTimer event.Timer
	uploadDone  func(error)

	// download
	counts       dataset.Counts
	target       *bulk.BufferTarget
	downloadDone func(*dataset.DataSet, error)

	identifyDone func(message.IAmADie, error)
}

// NewHost wires a Host to svc. A zero finishTimeout uses
// DefaultFinishTimeout.
func NewHost(svc *link.Service, sched event.Scheduler, cfg bulk.Config, finishTimeout time.Duration) *Host {
	if finishTimeout <= 0 {
		finishTimeout = DefaultFinishTimeout
	}
	slot := &bulk.Slot{}
	h := &Host{
		svc:           svc,
		sched:         sched,
		sender:        bulk.NewSender(svc, sched, slot, cfg),
		receiver:      bulk.NewReceiver(svc, sched, slot, cfg),
		finishTimeout: finishTimeout,
		log:           logging.For("host"),
		req:           request{svc: svc, sched: sched, cfg: cfg},
	}

	svc.Handle(message.TypeIAmADie, func(m message.Message) { h.onIAmADie(m.(message.IAmADie)) })
	svc.Handle(message.TypeTransferDataSetAck, func(m message.Message) { h.onTransferDataSetAck(m.(message.TransferDataSetAck)) })
	svc.Handle(message.TypeTransferDataSetFinished, func(message.Message) { h.onFinished() })
	svc.Handle(message.TypeTransferDataSet, func(m message.Message) { h.onTransferDataSet(m.(message.TransferDataSet)) })
	return h
}

// OnProgress reports upload and download progress in bytes.
func (h *Host) OnProgress(fn func(done, total int)) {
	h.sender.OnProgress(fn)
	h.receiver.OnProgress(fn)
}

// TransferID returns the id of the last bulk transfer started by an upload
// or download.
func (h *Host) TransferID() uuid.UUID { return h.transfer }

func (h *Host) begin(op operation) error {
	if h.op != opNone {
		return bulk.ErrBusy
	}
	h.op = op
	return nil
}

// Upload sends img to the die and waits until the die reports it committed.
func (h *Host) Upload(img dataset.Image, done func(error)) error {
	if err := img.Counts.Validate(); err != nil {
		return err
	}
	if len(img.Payload) != img.Counts.PayloadSize() {
		return fmt.Errorf("%w: payload is %d bytes, counts need %d", dataset.ErrLayout, len(img.Payload), img.Counts.PayloadSize())
	}
	if err := h.begin(opUpload); err != nil {
		return err
	}

	h.payload = img.Payload
	h.uploaded = false
	h.finished = false
	h.uploadDone = done
	h.log.Info().Int("size", len(img.Payload)).Msg("uploading data set")
	h.req.send(img.Counts.Message(), h.endUpload)
	return nil
}

func (h *Host) onTransferDataSetAck(m message.TransferDataSetAck) {
	if h.op != opUpload || !h.req.active() {
		return
	}
	h.req.stop()
	if !m.Accepted() {
		h.endUpload(ErrRefused)
		return
	}
	if err := h.sender.Send(h.payload, h.onUploaded); err != nil {
		h.endUpload(err)
		return
	}
	h.transfer = h.sender.ID()
}

func (h *Host) onUploaded(err error) {
	if err != nil {
		h.endUpload(err)
		return
	}
	h.uploaded = true
	if h.finished {
		h.endUpload(nil)
		return
	}
	h.finishTimer = h.sched.After(h.finishTimeout, func() {
		h.finishTimer = nil
		h.endUpload(fmt.Errorf("%w: die did not confirm programming within %v", bulk.ErrTimeout, h.finishTimeout))
	})
}

func (h *Host) onFinished() {
	if h.op != opUpload {
		return
	}
	h.finished = true
	if h.uploaded {
		h.endUpload(nil)
	}
}

func (h *Host) endUpload(err error) {
	h.req.stop()
	event.Stop(h.finishTimer)
	h.finishTimer = nil
	h.payload = nil
	h.op = opNone

	if err != nil {
		h.log.Warn().Err(err).Msg("upload failed")
	} else {
		h.log.Info().Msg("upload finished")
	}
	done := h.uploadDone
	h.uploadDone = nil
	if done != nil {
		done(err)
	}
}

// Download asks the die for its data set. The result is based at address 0.
func (h *Host) Download(done func(*dataset.DataSet, error)) error {
	if err := h.begin(opDownload); err != nil {
		return err
	}
	h.downloadDone = done
	h.target = nil
	h.req.send(message.Empty{Kind: message.TypeRequestDataSet}, func(err error) { h.endDownload(nil, err) })
	return nil
}

func (h *Host) onTransferDataSet(m message.TransferDataSet) {
	if h.op != opDownload {
		return
	}
	if h.target != nil {
		// the die missed our ack
		if m == h.counts.Message() && h.receiver.State() == bulk.StateWaitingForSetup {
			h.svc.Send(message.TransferDataSetAck{Result: 1})
		}
		return
	}
	h.req.stop()

	counts := dataset.CountsFromMessage(m)
	if err := counts.Validate(); err != nil {
		h.svc.Send(message.TransferDataSetAck{Result: 0})
		h.endDownload(nil, err)
		return
	}
	size := counts.PayloadSize()
	h.counts = counts
	h.target = &bulk.BufferTarget{Alloc: func(n int) []byte {
		if n != size {
			return nil
		}
		return make([]byte, n)
	}}
	if err := h.receiver.Receive(h.target, h.onDownloaded); err != nil {
		h.svc.Send(message.TransferDataSetAck{Result: 0})
		h.endDownload(nil, err)
		return
	}
	h.transfer = h.receiver.ID()
	h.svc.Send(message.TransferDataSetAck{Result: 1})
}

func (h *Host) onDownloaded(n int, err error) {
	if err != nil {
		h.endDownload(nil, err)
		return
	}
	ds, err := dataset.FromImage(dataset.Image{Counts: h.counts, Payload: h.target.Bytes()})
	h.endDownload(ds, err)
}

func (h *Host) endDownload(ds *dataset.DataSet, err error) {
	h.req.stop()
	h.target = nil
	h.op = opNone
	if err != nil {
		h.log.Warn().Err(err).Msg("download failed")
	}
	done := h.downloadDone
	h.downloadDone = nil
	if done != nil {
		done(ds, err)
	}
}

// Identify asks the die who it is.
func (h *Host) Identify(done func(message.IAmADie, error)) error {
	if err := h.begin(opIdentify); err != nil {
		return err
	}
	h.identifyDone = done
	h.req.send(message.Empty{Kind: message.TypeWhoAreYou}, func(err error) { h.endIdentify(message.IAmADie{}, err) })
	return nil
}

func (h *Host) onIAmADie(m message.IAmADie) {
	if h.op != opIdentify {
		return
	}
	h.endIdentify(m, nil)
}

func (h *Host) endIdentify(m message.IAmADie, err error) {
	h.req.stop()
	h.op = opNone
	done := h.identifyDone
	h.identifyDone = nil
	if done != nil {
		done(m, err)
	}
}
