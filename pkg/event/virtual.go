package event

import (
	"container/heap"
	"time"
)

// Virtual is a deterministic Scheduler for tests. Time only moves when the
// test calls Advance, and callbacks only run inside Drain or Advance on the
// caller's goroutine.
type Virtual struct {
	now    time.Time
	seq    uint64
	posted []func()
	timers timerHeap
}

var _ Scheduler = (*Virtual)(nil)

// NewVirtual returns a virtual clock starting at a fixed epoch.
func NewVirtual() *Virtual {
	return &Virtual{now: time.Unix(0, 0).UTC()}
}

func (v *Virtual) Now() time.Time {
	return v.now
}

// Elapsed returns the virtual time passed since creation.
func (v *Virtual) Elapsed() time.Duration {
	return v.now.Sub(time.Unix(0, 0).UTC())
}

func (v *Virtual) Post(fn func()) {
	if fn != nil {
		v.posted = append(v.posted, fn)
	}
}

func (v *Virtual) After(d time.Duration, fn func()) Timer {
	if d < 0 {
		d = 0
	}
	v.seq++
	t := &virtualTimer{at: v.now.Add(d), seq: v.seq, fn: fn}
	heap.Push(&v.timers, t)
	return t
}

// Drain runs posted callbacks until none are left, including those posted by
// the callbacks themselves. It returns how many ran.
func (v *Virtual) Drain() int {
	n := 0
	for len(v.posted) > 0 {
		fn := v.posted[0]
		v.posted[0] = nil
		v.posted = v.posted[1:]
		fn()
		n++
	}
	return n
}

// Advance moves the clock forward by d, firing every timer that falls due in
// order and draining posted work after each one.
func (v *Virtual) Advance(d time.Duration) {
	target := v.now.Add(d)
	v.Drain()
	for {
		t := v.nextDue(target)
		if t == nil {
			break
		}
		v.now = t.at
		t.fired = true
		t.fn()
		v.Drain()
	}
	v.now = target
}

// AdvanceUntil steps the clock by step until cond holds or max has elapsed.
// It reports whether cond became true.
func (v *Virtual) AdvanceUntil(cond func() bool, step, max time.Duration) bool {
	v.Drain()
	for elapsed := time.Duration(0); ; elapsed += step {
		if cond() {
			return true
		}
		if elapsed >= max {
			return false
		}
		v.Advance(step)
	}
}

// Pending returns the number of armed timers.
func (v *Virtual) Pending() int {
	n := 0
	for _, t := range v.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

func (v *Virtual) nextDue(target time.Time) *virtualTimer {
	for v.timers.Len() > 0 {
		t := v.timers[0]
		if t.stopped {
			heap.Pop(&v.timers)
			continue
		}
		if t.at.After(target) {
			return nil
		}
		heap.Pop(&v.timers)
		return t
	}
	return nil
}

type virtualTimer struct {
	at      time.Time
	seq     uint64
	fn      func()
	stopped bool
	fired   bool
}

func (t *virtualTimer) Stop() bool {
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

type timerHeap []*virtualTimer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].at.Equal(h[j].at) {
		return h[i].seq < h[j].seq
	}
	return h[i].at.Before(h[j].at)
}

func (h timerHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *timerHeap) Push(x any) { *h = append(*h, x.(*virtualTimer)) }

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}
