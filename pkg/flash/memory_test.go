package flash

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/godice/pkg/event"
)

const (
	testBase = 0x27000
	testPage = 256
)

func newTestMemory() (*Memory, *event.Virtual) {
	v := event.NewVirtual()
	return NewMemory(v, testBase, 4*testPage, testPage), v
}

func result(v *event.Virtual) (func(error), func() (error, bool)) {
	var got error
	called := false
	return func(err error) {
			got = err
			called = true
		}, func() (error, bool) {
			v.Advance(time.Second)
			return got, called
		}
}

func read(t *testing.T, m *Memory, addr uint32, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	_, err := m.ReadAt(b, int64(addr))
	require.NoError(t, err)
	return b
}

func TestMemoryStartsErased(t *testing.T) {
	m, _ := newTestMemory()
	assert.Equal(t, []byte{0xFF, 0xFF, 0xFF, 0xFF}, read(t, m, testBase, 4))
}

func TestMemoryWriteClearsBits(t *testing.T) {
	m, v := newTestMemory()

	done, wait := result(v)
	m.Write(testBase, []byte{0x0F, 0xF0, 0x00, 0xAA}, done)
	err, called := wait()
	require.True(t, called)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x0F, 0xF0, 0x00, 0xAA}, read(t, m, testBase, 4))

	done, wait = result(v)
	m.Write(testBase, []byte{0xFF, 0x0F, 0xFF, 0x55}, done)
	err, _ = wait()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x0F, 0x00, 0x00, 0x00}, read(t, m, testBase, 4), "write without erase ANDs bits")

	done, wait = result(v)
	m.Erase(testBase, 1, done)
	err, _ = wait()
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFF, 0xFF, 0xFF, 0xFF}, read(t, m, testBase, 4))

	erases, writes := m.Stats()
	assert.Equal(t, 1, erases)
	assert.Equal(t, 2, writes)
}

func TestMemoryValidation(t *testing.T) {
	tests := []struct {
		name string
		op   func(m *Memory, done func(error))
		err  error
	}{
		{"write below base", func(m *Memory, d func(error)) { m.Write(testBase-4, make([]byte, 4), d) }, ErrRange},
		{"write past end", func(m *Memory, d func(error)) { m.Write(testBase+4*testPage-4, make([]byte, 8), d) }, ErrRange},
		{"unaligned address", func(m *Memory, d func(error)) { m.Write(testBase+2, make([]byte, 4), d) }, ErrAlign},
		{"unaligned length", func(m *Memory, d func(error)) { m.Write(testBase, make([]byte, 3), d) }, ErrAlign},
		{"erase not page aligned", func(m *Memory, d func(error)) { m.Erase(testBase+4, 1, d) }, ErrAlign},
		{"erase too many pages", func(m *Memory, d func(error)) { m.Erase(testBase, 5, d) }, ErrRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, v := newTestMemory()
			done, wait := result(v)
			tt.op(m, done)
			err, called := wait()
			require.True(t, called)
			assert.ErrorIs(t, err, tt.err)
			assert.False(t, m.Busy())
		})
	}
}

func TestMemorySingleOutstandingOperation(t *testing.T) {
	m, v := newTestMemory()
	m.SetLatency(10*time.Millisecond, 5*time.Millisecond)

	var first, second error
	firstDone, secondDone := false, false
	m.Write(testBase, []byte{1, 2, 3, 4}, func(err error) { first, firstDone = err, true })
	m.Write(testBase+4, []byte{1, 2, 3, 4}, func(err error) { second, secondDone = err, true })
	assert.True(t, m.Busy())

	v.Drain()
	require.True(t, secondDone)
	assert.ErrorIs(t, second, ErrBusy)
	assert.False(t, firstDone, "write completes after its latency")

	v.Advance(5 * time.Millisecond)
	require.True(t, firstDone)
	assert.NoError(t, first)
	assert.False(t, m.Busy())
}

func TestMemoryFaultInjection(t *testing.T) {
	m, v := newTestMemory()
	m.SetFault(func(op Op, addr uint32, n int) error {
		if op == OpWrite && addr == testBase+8 {
			return ErrFault
		}
		return nil
	})

	done, wait := result(v)
	m.Write(testBase+8, []byte{0, 0, 0, 0}, done)
	err, _ := wait()
	assert.ErrorIs(t, err, ErrFault)
	assert.Equal(t, []byte{0xFF, 0xFF, 0xFF, 0xFF}, read(t, m, testBase+8, 4), "failed write leaves flash untouched")
	assert.False(t, m.Busy())
}

func TestMemorySaveLoad(t *testing.T) {
	m, v := newTestMemory()
	done, wait := result(v)
	m.Write(testBase+testPage, []byte{0xDE, 0xAD, 0xBE, 0xEF}, done)
	err, _ := wait()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "flash.bin")
	require.NoError(t, m.Save(path))

	m2, _ := newTestMemory()
	require.NoError(t, m2.Load(path))
	assert.Equal(t, m.Bytes(), m2.Bytes())

	m3, _ := newTestMemory()
	require.NoError(t, m3.Load(filepath.Join(t.TempDir(), "missing.bin")))
	assert.Equal(t, []byte{0xFF, 0xFF, 0xFF, 0xFF}, read(t, m3, testBase+testPage, 4))

	small := NewMemory(event.NewVirtual(), testBase, testPage, testPage)
	assert.Error(t, small.Load(path))
}

func TestReadOutOfRange(t *testing.T) {
	m, _ := newTestMemory()
	_, err := m.ReadAt(make([]byte, 8), testBase+4*testPage-4)
	assert.ErrorIs(t, err, ErrRange)
}

func TestPages(t *testing.T) {
	assert.Equal(t, 0, Pages(0, 4096))
	assert.Equal(t, 1, Pages(1, 4096))
	assert.Equal(t, 1, Pages(4096, 4096))
	assert.Equal(t, 2, Pages(4097, 4096))
}
