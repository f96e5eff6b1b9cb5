package link

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/itohio/godice/pkg/event"
	"github.com/itohio/godice/pkg/logging"
	"github.com/itohio/godice/pkg/message"
)

// idlePoll is how long the reader sleeps when a non-blocking port has no data.
const idlePoll = 2 * time.Millisecond

// Stream is a Channel over a byte stream, each message SLIP framed.
type Stream struct {
	sched event.Scheduler
	rw    io.ReadWriter
	log   zerolog.Logger

	wmu  sync.Mutex
	wbuf []byte

	mu     sync.RWMutex
	recv   func([]byte)
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

var _ Channel = (*Stream)(nil)

// NewStream starts reading frames from rw. Received messages are posted to
// sched.
func NewStream(rw io.ReadWriter, sched event.Scheduler) *Stream {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Stream{
		sched:  sched,
		rw:     rw,
		log:    logging.For("stream"),
		wbuf:   make([]byte, 0, 2*message.MaxSize+2),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go s.readLoop()
	return s
}

func (s *Stream) SetReceiver(fn func(b []byte)) {
	s.mu.Lock()
	s.recv = fn
	s.mu.Unlock()
}

func (s *Stream) Send(b []byte) bool {
	if s.ctx.Err() != nil {
		return false
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()

	s.wbuf = AppendFrame(s.wbuf[:0], b)
	if _, err := s.rw.Write(s.wbuf); err != nil {
		s.log.Debug().Err(err).Msg("write failed")
		return false
	}
	return true
}

// Close stops the reader and closes the underlying stream if it is a Closer.
func (s *Stream) Close() error {
	s.cancel()
	var err error
	if c, ok := s.rw.(io.Closer); ok {
		err = c.Close()
	}
	<-s.done
	return err
}

// Err returns the error that stopped the reader, if any.
func (s *Stream) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// Done is closed when the reader exits.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

func (s *Stream) readLoop() {
	defer close(s.done)

	d := NewDeframer(message.MaxSize)
	buf := make([]byte, 256)
	for {
		if s.ctx.Err() != nil {
			return
		}
		n, err := s.rw.Read(buf)
		for _, c := range buf[:n] {
			frame, ferr := d.Feed(c)
			if ferr != nil {
				s.log.Warn().Err(ferr).Msg("frame discarded")
				continue
			}
			if frame != nil {
				s.deliver(frame)
			}
		}
		if err != nil {
			if s.ctx.Err() == nil && !errors.Is(err, io.EOF) {
				s.log.Warn().Err(err).Msg("read failed")
			}
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
			return
		}
		if n == 0 {
			time.Sleep(idlePoll)
		}
	}
}

func (s *Stream) deliver(frame []byte) {
	s.sched.Post(func() {
		s.mu.RLock()
		fn := s.recv
		s.mu.RUnlock()
		if fn != nil {
			fn(frame)
		}
	})
}
