package link

import (
	"math/rand/v2"
	"sync"

	"github.com/itohio/godice/pkg/event"
)

// Fault decides what happens to a single outgoing message on a Loopback.
type Fault int

const (
	Deliver Fault = iota
	Drop
	Duplicate
	Refuse
)

// Loopback is one end of an in-process channel pair. It is used by tests and
// by the simulated die in diectl.
type Loopback struct {
	sched event.Scheduler
	peer  *Loopback

	mu      sync.Mutex
	recv    func([]byte)
	fault   func(b []byte) Fault
	sent    [][]byte
	dropped int
}

var _ Channel = (*Loopback)(nil)

// NewLoopbackPair returns two connected endpoints sharing sched.
func NewLoopbackPair(sched event.Scheduler) (*Loopback, *Loopback) {
	a := &Loopback{sched: sched}
	b := &Loopback{sched: sched}
	a.peer = b
	b.peer = a
	return a, b
}

// SetFault installs a per-message fault injector. nil delivers everything.
func (l *Loopback) SetFault(fn func(b []byte) Fault) {
	l.mu.Lock()
	l.fault = fn
	l.mu.Unlock()
}

func (l *Loopback) SetReceiver(fn func(b []byte)) {
	l.mu.Lock()
	l.recv = fn
	l.mu.Unlock()
}

func (l *Loopback) Send(b []byte) bool {
	l.mu.Lock()
	f := Deliver
	if l.fault != nil {
		f = l.fault(b)
	}
	if f == Refuse {
		l.mu.Unlock()
		return false
	}
	msg := append([]byte(nil), b...)
	l.sent = append(l.sent, msg)
	if f == Drop {
		l.dropped++
	}
	l.mu.Unlock()

	switch f {
	case Drop:
	case Duplicate:
		l.peer.deliver(msg)
		l.peer.deliver(append([]byte(nil), msg...))
	default:
		l.peer.deliver(msg)
	}
	return true
}

// Sent returns copies of every message accepted by Send, dropped ones included.
func (l *Loopback) Sent() [][]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([][]byte, len(l.sent))
	copy(out, l.sent)
	return out
}

// Dropped returns how many accepted messages were discarded by the fault hook.
func (l *Loopback) Dropped() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dropped
}

func (l *Loopback) deliver(b []byte) {
	l.sched.Post(func() {
		l.mu.Lock()
		fn := l.recv
		l.mu.Unlock()
		if fn != nil {
			fn(b)
		}
	})
}

// RandomFault drops or duplicates messages with the given probabilities.
func RandomFault(rng *rand.Rand, dropRate, duplicateRate float64) func(b []byte) Fault {
	return func([]byte) Fault {
		r := rng.Float64()
		switch {
		case r < dropRate:
			return Drop
		case r < dropRate+duplicateRate:
			return Duplicate
		default:
			return Deliver
		}
	}
}
