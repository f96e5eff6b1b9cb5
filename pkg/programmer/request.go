package programmer

import (
	"fmt"
	"time"

	"github.com/itohio/godice/pkg/bulk"
	"github.com/itohio/godice/pkg/event"
	"github.com/itohio/godice/pkg/link"
	"github.com/itohio/godice/pkg/message"
)

// request repeats a message on the bulk retry schedule until the caller stops
// it, usually from the handler of the expected reply.
type request struct {
	svc   *link.Service
	sched event.Scheduler
	cfg   bulk.Config

	msg      []byte
	attempts int
	start    time.Time
	timer    event.Timer
	fail     func(error)
}

func (r *request) send(m message.Message, fail func(error)) {
	r.stop()
	r.msg = message.Encode(m)
	r.attempts = 0
	r.start = r.sched.Now()
	r.fail = fail
	r.transmit()
}

func (r *request) active() bool { return r.msg != nil }

func (r *request) stop() {
	event.Stop(r.timer)
	r.timer = nil
	r.msg = nil
	r.fail = nil
}

func (r *request) transmit() {
	r.timer = nil
	if r.msg == nil {
		return
	}
	if r.attempts >= r.cfg.MaxRetries || r.sched.Now().Sub(r.start) >= r.cfg.Timeout {
		t, _ := message.Peek(r.msg)
		fail := r.fail
		r.stop()
		fail(fmt.Errorf("%w: no reply to %s after %d attempts", bulk.ErrTimeout, t, r.attempts))
		return
	}

	d := r.cfg.SendTick
	if r.svc.SendRaw(r.msg) {
		r.attempts++
		d = r.cfg.RetryInterval
	}
	r.timer = r.sched.After(d, r.transmit)
}
