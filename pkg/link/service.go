package link

import (
	"github.com/rs/zerolog"

	"github.com/itohio/godice/pkg/logging"
	"github.com/itohio/godice/pkg/message"
)

// Handler processes one decoded message.
type Handler func(m message.Message)

// Service decodes incoming messages and routes them to per-type handlers.
type Service struct {
	ch       Channel
	handlers map[message.Type]Handler
	log      zerolog.Logger
}

// NewService attaches a dispatcher to ch.
func NewService(ch Channel) *Service {
	s := &Service{
		ch:       ch,
		handlers: make(map[message.Type]Handler),
		log:      logging.For("link"),
	}
	ch.SetReceiver(s.dispatch)
	return s
}

// Handle registers h for messages of type t, replacing any previous handler.
// A nil handler unregisters.
func (s *Service) Handle(t message.Type, h Handler) {
	if h == nil {
		delete(s.handlers, t)
		return
	}
	s.handlers[t] = h
}

// Send encodes and sends m.
func (s *Service) Send(m message.Message) bool {
	ok := s.ch.Send(message.Encode(m))
	if !ok {
		s.log.Debug().Stringer("type", m.Type()).Msg("send refused")
	}
	return ok
}

// SendRaw sends an already encoded message.
func (s *Service) SendRaw(b []byte) bool {
	return s.ch.Send(b)
}

func (s *Service) dispatch(b []byte) {
	m, err := message.Decode(b)
	if err != nil {
		s.log.Warn().Err(err).Int("len", len(b)).Msg("dropping malformed message")
		return
	}
	h, ok := s.handlers[m.Type()]
	if !ok {
		s.log.Debug().Stringer("type", m.Type()).Msg("no handler")
		return
	}
	h(m)
}
