package journal

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "journal", "diectl.db"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	return s
}

func TestBeginFinishGet(t *testing.T) {
	s := newTestStore(t)
	now := time.UnixMilli(1_700_000_000_000)
	s.now = func() time.Time { return now }

	id, err := s.Begin(Entry{Direction: DirectionUpload, Transport: "serial", Endpoint: "/dev/ttyUSB0", Size: 176})
	require.NoError(t, err)
	_, err = uuid.Parse(id)
	require.NoError(t, err)

	e, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, e.Status)
	assert.Equal(t, now, e.StartedAt)
	assert.True(t, e.FinishedAt.IsZero())

	now = now.Add(2 * time.Second)
	require.NoError(t, s.Finish(id, 0, 0xCAFEBABE, nil))
	require.NoError(t, s.SetDieID(id, 3))

	e, err = s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, e.Status)
	assert.Equal(t, 176, e.Size)
	assert.Equal(t, uint32(0xCAFEBABE), e.Hash)
	assert.Equal(t, uint8(3), e.DieID)
	assert.Equal(t, now, e.FinishedAt)
	assert.Empty(t, e.Error)
}

func TestFinishRecordsFailure(t *testing.T) {
	s := newTestStore(t)
	id, err := s.Begin(Entry{ID: uuid.NewString(), Direction: DirectionDownload, Transport: "ble"})
	require.NoError(t, err)

	require.NoError(t, s.Finish(id, 40, 0, errors.New("bulk: transfer timed out")))

	e, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, e.Status)
	assert.Equal(t, "bulk: transfer timed out", e.Error)
	assert.Equal(t, 40, e.Size)
}

func TestBeginValidation(t *testing.T) {
	s := newTestStore(t)
	tests := []struct {
		name  string
		entry Entry
	}{
		{"bad id", Entry{ID: "nope", Direction: DirectionUpload, Transport: "mock"}},
		{"no transport", Entry{Direction: DirectionUpload}},
		{"bad direction", Entry{Direction: "sideways", Transport: "mock"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Begin(tt.entry)
			assert.Error(t, err)
		})
	}
}

func TestMissingEntry(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(uuid.NewString())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Finish(uuid.NewString(), 0, 0, nil), ErrNotFound)
}

func TestListNewestFirst(t *testing.T) {
	s := newTestStore(t)
	base := time.UnixMilli(1_700_000_000_000)
	var ids []string
	for i := 0; i < 3; i++ {
		id, err := s.Begin(Entry{Direction: DirectionIdentify, Transport: "mock", StartedAt: base.Add(time.Duration(i) * time.Minute)})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	all, err := s.List(0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, ids[2], all[0].ID)
	assert.Equal(t, ids[0], all[2].ID)

	two, err := s.List(2)
	require.NoError(t, err)
	assert.Len(t, two, 2)
}

func TestReopenKeepsHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "diectl.db")
	s, err := Open(path)
	require.NoError(t, err)
	id, err := s.Begin(Entry{Direction: DirectionUpload, Transport: "mock"})
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	_, err = s.Get(id)
	assert.NoError(t, err)
}
