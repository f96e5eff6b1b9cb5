package programmer

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/godice/pkg/bulk"
	"github.com/itohio/godice/pkg/dataset"
	"github.com/itohio/godice/pkg/event"
	"github.com/itohio/godice/pkg/flash"
	"github.com/itohio/godice/pkg/link"
	"github.com/itohio/godice/pkg/message"
	"github.com/itohio/godice/pkg/storage"
)

const (
	flashBase = 0x26000
	pageSize  = 256
	dieID     = 7
)

type rig struct {
	v        *event.Virtual
	dieLink  *link.Loopback
	hostLink *link.Loopback
	mem      *flash.Memory
	region   *storage.Region
	die      *Programmer
	host     *Host
	begins   int
	ends     []error
}

func newRig(t *testing.T, pages int, cfg bulk.Config) *rig {
	t.Helper()
	v := event.NewVirtual()
	dieLink, hostLink := link.NewLoopbackPair(v)
	mem := flash.NewMemory(v, flashBase, pages*pageSize, pageSize)
	mem.SetLatency(4*time.Millisecond, time.Millisecond)
	region, err := storage.NewRegion(mem, flashBase, pages*pageSize)
	require.NoError(t, err)

	r := &rig{
		v:        v,
		dieLink:  dieLink,
		hostLink: hostLink,
		mem:      mem,
		region:   region,
		die:      New(link.NewService(dieLink), v, region, cfg, dieID),
		host:     NewHost(link.NewService(hostLink), v, cfg, time.Second),
	}
	r.die.OnProgrammingBegin(func() { r.begins++ })
	r.die.OnProgrammingEnd(func(err error) { r.ends = append(r.ends, err) })
	return r
}

func (r *rig) wait(t *testing.T, cond func() bool) {
	t.Helper()
	require.True(t, r.v.AdvanceUntil(cond, 5*time.Millisecond, 60*time.Second), "operation never completed")
}

func (r *rig) init(t *testing.T) {
	t.Helper()
	var got error
	called := false
	r.die.Init(func(err error) { got, called = err, true })
	r.wait(t, func() bool { return called })
	require.NoError(t, got)
}

func (r *rig) program(t *testing.T, img dataset.Image) {
	t.Helper()
	called := false
	r.region.Program(img, func(err error) {
		require.NoError(t, err)
		called = true
	})
	r.wait(t, func() bool { return called })
}

func (r *rig) upload(t *testing.T, img dataset.Image) error {
	t.Helper()
	var got error
	called := false
	require.NoError(t, r.host.Upload(img, func(err error) { got, called = err, true }))
	r.wait(t, func() bool { return called })
	return got
}

func customImage(t *testing.T) dataset.Image {
	t.Helper()
	b := dataset.NewBuilder()
	red := b.AddColor(dataset.RGB(255, 0, 0))
	white := b.AddColor(dataset.RGB(255, 255, 255))
	b.AddRGBTrack(0xFFFFF, dataset.NewRGBKeyframe(0, red), dataset.NewRGBKeyframe(400, white), dataset.NewRGBKeyframe(800, red))
	for i := 0; i < 12; i++ {
		b.AddAnimation(dataset.Rainbow{DurationMs: uint16(500 + i*100), FaceMask: 1 << i, Count: 1, Fade: 64})
	}
	b.AddAnimation(dataset.Gradient{DurationMs: 1500, FaceMask: dataset.AllFaces})
	hello := b.AddCondition(dataset.HelloGoodbye{Flags: dataset.Hello})
	rolling := b.AddCondition(dataset.Rolling{RepeatPeriodMs: 500})
	play := b.AddAction(dataset.PlayAnimation{AnimIndex: 12, FaceIndex: dataset.CurrentFace, LoopCount: 2})
	sound := b.AddAction(dataset.PlaySound{PlayCount: 1, SoundID: 42})
	b.AddRule(hello, play)
	b.AddRule(rolling, sound)
	b.AddBehavior(0, 2)
	img, err := b.Build()
	require.NoError(t, err)
	require.Greater(t, len(img.Payload), 2*bulk.ChunkSize)
	return img
}

func TestInitProgramsDefaultsOnErasedFlash(t *testing.T) {
	r := newRig(t, 8, bulk.DefaultConfig())
	r.init(t)

	ds := r.die.DataSet()
	require.NotNil(t, ds)
	img, err := ds.Image()
	require.NoError(t, err)
	assert.Equal(t, dataset.Defaults(), img)
}

func TestInitKeepsValidDataSet(t *testing.T) {
	r := newRig(t, 8, bulk.DefaultConfig())
	custom := customImage(t)
	r.program(t, custom)
	erases, _ := r.mem.Stats()

	r.init(t)

	after, _ := r.mem.Stats()
	assert.Equal(t, erases, after)
	img, err := r.die.DataSet().Image()
	require.NoError(t, err)
	assert.Equal(t, custom, img)
}

func TestInitRegeneratesOnCorruptTailMarker(t *testing.T) {
	r := newRig(t, 8, bulk.DefaultConfig())
	r.program(t, customImage(t))
	require.True(t, dataset.CheckValid(r.mem, flashBase))

	written := false
	r.mem.Write(flashBase+dataset.HeaderSize-4, []byte{0x0D, 0x00, 0x0D, 0x00}, func(err error) {
		require.NoError(t, err)
		written = true
	})
	r.wait(t, func() bool { return written })

	h, err := dataset.ReadHeader(r.mem, flashBase)
	require.NoError(t, err)
	assert.Equal(t, dataset.Magic, h.HeadMarker)
	assert.NotEqual(t, dataset.Magic, h.TailMarker)
	assert.False(t, dataset.CheckValid(r.mem, flashBase))

	r.init(t)

	assert.True(t, dataset.CheckValid(r.mem, flashBase))
	img, err := r.die.DataSet().Image()
	require.NoError(t, err)
	assert.Equal(t, dataset.Defaults(), img)
}

func TestUploadProgramsDie(t *testing.T) {
	r := newRig(t, 8, bulk.DefaultConfig())
	r.init(t)
	custom := customImage(t)

	var progress []int
	r.host.OnProgress(func(n, _ int) { progress = append(progress, n) })
	require.NoError(t, r.upload(t, custom))

	assert.Equal(t, 1, r.begins)
	assert.Equal(t, []error{nil}, r.ends)
	assert.False(t, r.die.Programming())
	assert.Equal(t, len(custom.Payload), progress[len(progress)-1])
	assert.NotEqual(t, uuid.Nil, r.host.TransferID())

	ds := r.die.DataSet()
	require.NotNil(t, ds)
	img, err := ds.Image()
	require.NoError(t, err)
	assert.Equal(t, custom, img)
}

func TestUploadWithLossyBulkPhase(t *testing.T) {
	r := newRig(t, 8, bulk.DefaultConfig())
	r.init(t)

	n := 0
	lossy := func(b []byte) link.Fault {
		kind, _ := message.Peek(b)
		if kind != message.TypeBulkData && kind != message.TypeBulkDataAck {
			return link.Deliver
		}
		n++
		switch n % 5 {
		case 1:
			return link.Drop
		case 3:
			return link.Duplicate
		}
		return link.Deliver
	}
	r.hostLink.SetFault(lossy)
	r.dieLink.SetFault(lossy)

	custom := customImage(t)
	require.NoError(t, r.upload(t, custom))
	img, err := r.die.DataSet().Image()
	require.NoError(t, err)
	assert.Equal(t, custom, img)
}

func TestUploadRefusedWhenTooLarge(t *testing.T) {
	r := newRig(t, 1, bulk.DefaultConfig())
	small := dataset.NewBuilder()
	small.AddColor(dataset.RGB(1, 2, 3))
	img, err := small.Build()
	require.NoError(t, err)
	r.program(t, img)
	r.init(t)
	erases, _ := r.mem.Stats()

	err = r.upload(t, customImage(t))
	assert.ErrorIs(t, err, ErrRefused)

	after, _ := r.mem.Stats()
	assert.Equal(t, erases, after)
	assert.Zero(t, r.begins)
	assert.NotNil(t, r.die.DataSet())
}

func TestInterruptedUploadLeavesNoValidDataSet(t *testing.T) {
	r := newRig(t, 8, bulk.DefaultConfig())
	r.init(t)
	r.hostLink.SetFault(func(b []byte) link.Fault {
		if m, err := message.Decode(b); err == nil {
			if d, ok := m.(message.BulkData); ok && d.Offset >= 100 {
				return link.Drop
			}
		}
		return link.Deliver
	})

	err := r.upload(t, customImage(t))
	assert.ErrorIs(t, err, bulk.ErrTimeout)
	r.wait(t, func() bool { return len(r.ends) > 0 })
	assert.ErrorIs(t, r.ends[0], bulk.ErrTimeout)
	assert.Nil(t, r.die.DataSet())
	assert.False(t, dataset.CheckValid(r.mem, flashBase))

	r.hostLink.SetFault(nil)
	r.init(t)
	assert.NotNil(t, r.die.DataSet())
}

func TestUploadRefusedWhenEraseFails(t *testing.T) {
	r := newRig(t, 8, bulk.DefaultConfig())
	r.init(t)
	boom := errors.New("erase stuck")
	r.mem.SetFault(func(op flash.Op, addr uint32, n int) error {
		if op == flash.OpErase {
			return boom
		}
		return nil
	})

	err := r.upload(t, customImage(t))
	assert.ErrorIs(t, err, ErrRefused)

	require.Len(t, r.ends, 1)
	assert.ErrorIs(t, r.ends[0], boom)
	assert.Equal(t, 1, r.begins)
	assert.False(t, r.die.Programming())

	// nothing was erased, the defaults are still there
	ds := r.die.DataSet()
	require.NotNil(t, ds)
	img, err := ds.Image()
	require.NoError(t, err)
	assert.Equal(t, dataset.Defaults(), img)
}

func TestHeaderWriteFailureLeavesNoDataSet(t *testing.T) {
	r := newRig(t, 8, bulk.DefaultConfig())
	r.init(t)
	boom := errors.New("header cell dead")
	r.mem.SetFault(func(op flash.Op, addr uint32, n int) error {
		if op == flash.OpWrite && addr == flashBase {
			return boom
		}
		return nil
	})

	err := r.upload(t, customImage(t))
	assert.ErrorIs(t, err, bulk.ErrTimeout)

	require.Len(t, r.ends, 1)
	assert.ErrorIs(t, r.ends[0], boom)
	assert.Nil(t, r.die.DataSet())
	assert.False(t, dataset.CheckValid(r.mem, flashBase))
}

func TestInvalidCommitRegeneratesDefaults(t *testing.T) {
	r := newRig(t, 8, bulk.DefaultConfig())
	r.init(t)
	r.mem.SetLatency(0, 0)

	// Once the region is erased, clear the tail marker cells so the header
	// commit cannot make them valid.
	corrupted := false
	r.dieLink.SetFault(func(b []byte) link.Fault {
		m, err := message.Decode(b)
		if err != nil || corrupted {
			return link.Deliver
		}
		if ack, ok := m.(message.TransferDataSetAck); ok && ack.Accepted() {
			corrupted = true
			r.mem.Write(flashBase+dataset.HeaderSize-4, []byte{0, 0, 0, 0}, func(err error) {
				require.NoError(t, err)
			})
		}
		return link.Deliver
	})

	err := r.upload(t, customImage(t))
	assert.ErrorIs(t, err, bulk.ErrTimeout)
	require.True(t, corrupted)

	require.Len(t, r.ends, 1)
	assert.ErrorIs(t, r.ends[0], ErrRegenerated)
	assert.True(t, dataset.CheckValid(r.mem, flashBase))
	ds := r.die.DataSet()
	require.NotNil(t, ds)
	img, err := ds.Image()
	require.NoError(t, err)
	assert.Equal(t, dataset.Defaults(), img)
}

func TestDuplicateTransferDataSetIsReacked(t *testing.T) {
	r := newRig(t, 8, bulk.DefaultConfig())
	r.init(t)
	raw := link.NewService(r.hostLink)
	var acks []uint8
	raw.Handle(message.TypeTransferDataSetAck, func(m message.Message) {
		acks = append(acks, m.(message.TransferDataSetAck).Result)
	})

	setup := customImage(t).Counts.Message()
	raw.Send(setup)
	r.wait(t, func() bool { return len(acks) == 1 })
	raw.Send(setup)
	r.v.Drain()

	assert.Equal(t, []uint8{1, 1}, acks)
	assert.Equal(t, 1, r.begins)
	assert.True(t, r.die.Programming())
}

func TestDownloadReturnsStoredDataSet(t *testing.T) {
	r := newRig(t, 8, bulk.DefaultConfig())
	r.program(t, customImage(t))
	r.init(t)

	var got *dataset.DataSet
	var gotErr error
	called := false
	require.NoError(t, r.host.Download(func(ds *dataset.DataSet, err error) { got, gotErr, called = ds, err, true }))
	r.wait(t, func() bool { return called })

	require.NoError(t, gotErr)
	require.NotNil(t, got)
	img, err := got.Image()
	require.NoError(t, err)
	assert.Equal(t, customImage(t), img)

	a, err := got.Animation(12)
	require.NoError(t, err)
	assert.Equal(t, dataset.AnimationGradient, a.Type())
}

func TestDownloadWithoutDataSetTimesOut(t *testing.T) {
	r := newRig(t, 8, bulk.DefaultConfig())

	var gotErr error
	called := false
	require.NoError(t, r.host.Download(func(_ *dataset.DataSet, err error) { gotErr, called = err, true }))
	r.wait(t, func() bool { return called })
	assert.ErrorIs(t, gotErr, bulk.ErrTimeout)
}

func TestIdentify(t *testing.T) {
	r := newRig(t, 8, bulk.DefaultConfig())
	r.init(t)

	var got message.IAmADie
	called := false
	require.NoError(t, r.host.Identify(func(m message.IAmADie, err error) {
		require.NoError(t, err)
		got, called = m, true
	}))
	r.wait(t, func() bool { return called })

	assert.EqualValues(t, dieID, got.ID)
	assert.Equal(t, dataset.Hash(dataset.Defaults().Payload), got.DataSetHash)
}

func TestHostRunsOneOperationAtATime(t *testing.T) {
	r := newRig(t, 8, bulk.DefaultConfig())
	require.NoError(t, r.host.Identify(func(message.IAmADie, error) {}))
	assert.ErrorIs(t, r.host.Download(func(*dataset.DataSet, error) {}), bulk.ErrBusy)
	assert.ErrorIs(t, r.host.Upload(dataset.Defaults(), func(error) {}), bulk.ErrBusy)
}

func TestSendDataSetRequiresValidData(t *testing.T) {
	r := newRig(t, 8, bulk.DefaultConfig())
	assert.ErrorIs(t, r.die.SendDataSet(nil), dataset.ErrInvalid)
}
