package flash

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/itohio/godice/pkg/event"
)

// Op names a flash operation for fault injection.
type Op int

const (
	OpErase Op = iota
	OpWrite
)

func (o Op) String() string {
	if o == OpErase {
		return "erase"
	}
	return "write"
}

// Memory is an in-RAM Flash. Writes can only clear bits, like real NOR
// flash, so writing without erasing first corrupts data.
type Memory struct {
	sched    event.Scheduler
	base     uint32
	pageSize int

	mu           sync.RWMutex
	data         []byte
	busy         bool
	eraseLatency time.Duration
	writeLatency time.Duration
	fault        func(op Op, addr uint32, n int) error
	erases       int
	writes       int
}

var _ Flash = (*Memory)(nil)

// NewMemory returns an erased flash of size bytes starting at base.
func NewMemory(sched event.Scheduler, base uint32, size, pageSize int) *Memory {
	m := &Memory{
		sched:    sched,
		base:     base,
		pageSize: pageSize,
		data:     make([]byte, size),
	}
	fill(m.data, 0xFF)
	return m
}

// SetLatency sets how long erase (per call) and write completions take.
func (m *Memory) SetLatency(erase, write time.Duration) {
	m.mu.Lock()
	m.eraseLatency = erase
	m.writeLatency = write
	m.mu.Unlock()
}

// SetFault installs a hook that can fail operations when they complete.
func (m *Memory) SetFault(fn func(op Op, addr uint32, n int) error) {
	m.mu.Lock()
	m.fault = fn
	m.mu.Unlock()
}

func (m *Memory) Base() uint32  { return m.base }
func (m *Memory) Size() int     { return len(m.data) }
func (m *Memory) PageSize() int { return m.pageSize }

// Stats returns the number of completed erase and write operations.
func (m *Memory) Stats() (erases, writes int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.erases, m.writes
}

// Busy reports whether an operation is outstanding.
func (m *Memory) Busy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.busy
}

func (m *Memory) ReadAt(p []byte, off int64) (int, error) {
	if err := CheckRange(m, uint32(off), len(p)); err != nil || off < 0 {
		return 0, fmt.Errorf("%w: read 0x%x+%d", ErrRange, off, len(p))
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	i := int(off - int64(m.base))
	return copy(p, m.data[i:i+len(p)]), nil
}

func (m *Memory) Erase(addr uint32, pages int, done func(error)) {
	n := pages * m.pageSize
	if err := m.validate(addr, n, m.pageSize); err != nil {
		m.sched.Post(func() { done(err) })
		return
	}
	if err := m.acquire(); err != nil {
		m.sched.Post(func() { done(err) })
		return
	}

	m.complete(m.eraseLatency, func() error {
		if err := m.injected(OpErase, addr, n); err != nil {
			return err
		}
		i := int(addr - m.base)
		fill(m.data[i:i+n], 0xFF)
		m.erases++
		return nil
	}, done)
}

func (m *Memory) Write(addr uint32, data []byte, done func(error)) {
	if err := m.validate(addr, len(data), WordSize); err != nil {
		m.sched.Post(func() { done(err) })
		return
	}
	if err := m.acquire(); err != nil {
		m.sched.Post(func() { done(err) })
		return
	}

	src := append([]byte(nil), data...)
	m.complete(m.writeLatency, func() error {
		if err := m.injected(OpWrite, addr, len(src)); err != nil {
			return err
		}
		i := int(addr - m.base)
		for j, b := range src {
			m.data[i+j] &= b
		}
		m.writes++
		return nil
	}, done)
}

// Bytes returns a copy of the whole flash content.
func (m *Memory) Bytes() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]byte(nil), m.data...)
}

// Save writes the flash image to path.
func (m *Memory) Save(path string) error {
	if err := os.WriteFile(path, m.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to save flash image: %w", err)
	}
	return nil
}

// Load replaces the flash content with the image at path. A missing file
// leaves the flash erased.
func (m *Memory) Load(path string) error {
	img, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to load flash image: %w", err)
	}
	if len(img) != len(m.data) {
		return fmt.Errorf("flash image %s is %d bytes, want %d", path, len(img), len(m.data))
	}
	m.mu.Lock()
	copy(m.data, img)
	m.mu.Unlock()
	return nil
}

func (m *Memory) validate(addr uint32, n, align int) error {
	if err := CheckRange(m, addr, n); err != nil {
		return err
	}
	if int(addr-m.base)%align != 0 || n%align != 0 {
		return fmt.Errorf("%w: 0x%08x+%d not %d-byte aligned", ErrAlign, addr, n, align)
	}
	return nil
}

func (m *Memory) acquire() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.busy {
		return ErrBusy
	}
	m.busy = true
	return nil
}

func (m *Memory) injected(op Op, addr uint32, n int) error {
	if m.fault == nil {
		return nil
	}
	if err := m.fault(op, addr, n); err != nil {
		return fmt.Errorf("%s at 0x%08x: %w", op, addr, err)
	}
	return nil
}

func (m *Memory) complete(latency time.Duration, apply func() error, done func(error)) {
	run := func() {
		m.mu.Lock()
		err := apply()
		m.busy = false
		m.mu.Unlock()
		done(err)
	}
	if latency <= 0 {
		m.sched.Post(run)
		return
	}
	m.sched.After(latency, run)
}

func fill(b []byte, v byte) {
	for i := range b {
		b[i] = v
	}
}
