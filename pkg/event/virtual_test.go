package event

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestVirtualPostRunsInOrder(t *testing.T) {
	v := NewVirtual()
	var got []int
	v.Post(func() {
		got = append(got, 1)
		v.Post(func() { got = append(got, 3) })
	})
	v.Post(func() { got = append(got, 2) })

	assert.Equal(t, 3, v.Drain())
	assert.Equal(t, []int{1, 2, 3}, got)
	assert.Equal(t, 0, v.Drain())
}

func TestVirtualTimersFireInDueOrder(t *testing.T) {
	v := NewVirtual()
	var got []string
	v.After(300*time.Millisecond, func() { got = append(got, "c") })
	v.After(100*time.Millisecond, func() { got = append(got, "a") })
	v.After(100*time.Millisecond, func() { got = append(got, "b") })

	v.Advance(99 * time.Millisecond)
	assert.Empty(t, got)

	v.Advance(time.Millisecond)
	assert.Equal(t, []string{"a", "b"}, got)

	v.Advance(time.Second)
	assert.Equal(t, []string{"a", "b", "c"}, got)
	assert.Equal(t, 1100*time.Millisecond, v.Elapsed())
}

func TestVirtualTimerStop(t *testing.T) {
	v := NewVirtual()
	fired := false
	tm := v.After(time.Second, func() { fired = true })
	assert.Equal(t, 1, v.Pending())

	assert.True(t, tm.Stop())
	assert.False(t, tm.Stop())
	assert.Equal(t, 0, v.Pending())

	v.Advance(2 * time.Second)
	assert.False(t, fired)
}

func TestVirtualTimerRearmFromCallback(t *testing.T) {
	v := NewVirtual()
	var at []time.Duration
	var tick func()
	tick = func() {
		at = append(at, v.Elapsed())
		if len(at) < 3 {
			v.After(300*time.Millisecond, tick)
		}
	}
	v.After(300*time.Millisecond, tick)

	v.Advance(5 * time.Second)
	assert.Equal(t, []time.Duration{300 * time.Millisecond, 600 * time.Millisecond, 900 * time.Millisecond}, at)
}

func TestVirtualTimerSeesClockAtDueTime(t *testing.T) {
	v := NewVirtual()
	var seen time.Duration
	v.After(250*time.Millisecond, func() { seen = v.Elapsed() })
	v.Advance(time.Second)
	assert.Equal(t, 250*time.Millisecond, seen)
}

func TestVirtualAdvanceUntil(t *testing.T) {
	v := NewVirtual()
	done := false
	v.After(700*time.Millisecond, func() { done = true })

	assert.True(t, v.AdvanceUntil(func() bool { return done }, 100*time.Millisecond, time.Second))
	assert.Equal(t, 700*time.Millisecond, v.Elapsed())

	assert.False(t, v.AdvanceUntil(func() bool { return false }, 100*time.Millisecond, 300*time.Millisecond))
}

func TestStopNilTimer(t *testing.T) {
	assert.NotPanics(t, func() { Stop(nil) })
}
