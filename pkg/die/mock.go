package die

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/itohio/godice/pkg/config"
	"github.com/itohio/godice/pkg/event"
	"github.com/itohio/godice/pkg/flash"
	"github.com/itohio/godice/pkg/link"
	"github.com/itohio/godice/pkg/programmer"
	"github.com/itohio/godice/pkg/storage"
)

// Mock simulates a die for testing and development: a Programmer on
// in-memory flash, reached through a loopback channel that can lose and
// duplicate messages. The flash content optionally persists in an image
// file between runs.
type Mock struct {
	cfg   *config.Config
	sched event.Scheduler

	mu        sync.RWMutex
	connected bool
	host      *link.Loopback
	mem       *flash.Memory
}

// NewMock creates a simulated die. cfg.Flash describes its memory,
// cfg.Mock its link and cfg.Transfer its protocol timing.
func NewMock(cfg *config.Config, sched event.Scheduler) *Mock {
	if cfg == nil {
		cfg = config.Default()
	}
	return &Mock{cfg: cfg, sched: sched}
}

// Connect powers the die up. It returns once the die validated its stored
// data set, programming the defaults if needed.
func (m *Mock) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.connected {
		m.mu.Unlock()
		return fmt.Errorf("already connected")
	}

	fc := m.cfg.Flash
	mem := flash.NewMemory(m.sched, fc.BaseAddress, fc.Size, fc.PageSize)
	mem.SetLatency(fc.EraseLatency, fc.WriteLatency)
	if fc.Image != "" {
		if err := mem.Load(fc.Image); err != nil {
			m.mu.Unlock()
			return err
		}
	}
	region, err := storage.NewRegion(mem, fc.BaseAddress, fc.Size)
	if err != nil {
		m.mu.Unlock()
		return err
	}

	host, die := link.NewLoopbackPair(m.sched)
	if mc := m.cfg.Mock; mc.DropRate > 0 || mc.DuplicateRate > 0 {
		host.SetFault(link.RandomFault(rand.New(rand.NewPCG(mc.Seed, 1)), mc.DropRate, mc.DuplicateRate))
		die.SetFault(link.RandomFault(rand.New(rand.NewPCG(mc.Seed, 2)), mc.DropRate, mc.DuplicateRate))
	}
	m.host = host
	m.mem = mem
	m.mu.Unlock()

	err = event.Await(ctx, m.sched, func(done func(error)) {
		prog := programmer.New(link.NewService(die), m.sched, region, m.cfg.Bulk(), m.cfg.Mock.DieID)
		prog.Init(done)
	})
	if err != nil {
		return fmt.Errorf("failed to initialize simulated die: %w", err)
	}

	m.mu.Lock()
	m.connected = true
	m.mu.Unlock()
	return nil
}

// Close stops the simulated die and persists its flash image.
func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return nil
	}
	m.connected = false
	if m.cfg.Flash.Image != "" {
		return m.mem.Save(m.cfg.Flash.Image)
	}
	return nil
}

func (m *Mock) Channel() link.Channel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.host == nil {
		return nil
	}
	return m.host
}

func (m *Mock) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

func (m *Mock) Transport() string { return "mock" }

func (m *Mock) Endpoint() string {
	if m.cfg.Flash.Image == "" {
		return "memory"
	}
	return m.cfg.Flash.Image
}
