package die

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/godice/pkg/config"
	"github.com/itohio/godice/pkg/dataset"
	"github.com/itohio/godice/pkg/event"
	"github.com/itohio/godice/pkg/link"
	"github.com/itohio/godice/pkg/message"
	"github.com/itohio/godice/pkg/programmer"
)

func fastConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	cfg.Flash.Image = filepath.Join(t.TempDir(), "die.bin")
	cfg.Flash.EraseLatency = time.Millisecond
	cfg.Flash.WriteLatency = 0
	return cfg
}

func connectHost(t *testing.T, ctx context.Context, loop *event.Loop, d Device) *programmer.Host {
	t.Helper()
	require.NoError(t, d.Connect(ctx))
	var host *programmer.Host
	require.NoError(t, event.Await(ctx, loop, func(done func(error)) {
		host = programmer.NewHost(link.NewService(d.Channel()), loop, config.Default().Bulk(), time.Second)
		done(nil)
	}))
	return host
}

// TestMock_PersistsUploadAcrossRestarts uploads a data set, closes the die
// and checks that a new die on the same image reports the same hash.
func TestMock_PersistsUploadAcrossRestarts(t *testing.T) {
	loop := event.NewLoop()
	loop.Start()
	defer loop.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg := fastConfig(t)
	b := dataset.NewBuilder()
	b.AddColor(dataset.RGB(10, 20, 30))
	b.AddAnimation(dataset.Rainbow{DurationMs: 3000, FaceMask: dataset.AllFaces, Count: 3, Fade: 200})
	img, err := b.Build()
	require.NoError(t, err)

	mock := NewMock(cfg, loop)
	host := connectHost(t, ctx, loop, mock)
	assert.True(t, mock.IsConnected())
	assert.Equal(t, "mock", mock.Transport())
	assert.Equal(t, cfg.Flash.Image, mock.Endpoint())

	require.NoError(t, event.Await(ctx, loop, func(done func(error)) {
		if err := host.Upload(img, done); err != nil {
			done(err)
		}
	}))
	require.NoError(t, mock.Close())
	assert.False(t, mock.IsConnected())
	assert.NoError(t, mock.Close())

	restarted := NewMock(cfg, loop)
	host = connectHost(t, ctx, loop, restarted)
	defer restarted.Close()

	var who message.IAmADie
	require.NoError(t, event.Await(ctx, loop, func(done func(error)) {
		err := host.Identify(func(m message.IAmADie, err error) {
			who = m
			done(err)
		})
		if err != nil {
			done(err)
		}
	}))
	assert.Equal(t, cfg.Mock.DieID, who.ID)
	assert.Equal(t, dataset.Hash(img.Payload), who.DataSetHash)
}

func TestMock_ConnectTwice(t *testing.T) {
	loop := event.NewLoop()
	loop.Start()
	defer loop.Stop()

	mock := NewMock(fastConfig(t), loop)
	require.NoError(t, mock.Connect(context.Background()))
	defer mock.Close()
	assert.Error(t, mock.Connect(context.Background()))
}

func TestMock_ConnectHonorsContext(t *testing.T) {
	// a loop that never runs cannot initialize the die
	loop := event.NewLoop()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	mock := NewMock(fastConfig(t), loop)
	assert.ErrorIs(t, mock.Connect(ctx), context.DeadlineExceeded)
	assert.False(t, mock.IsConnected())
}

func TestSerial_ConnectMissingPort(t *testing.T) {
	s := NewSerial("/dev/does-not-exist-godice", 0, event.NewLoop())
	assert.Error(t, s.Connect(context.Background()))
	assert.False(t, s.IsConnected())
	assert.Nil(t, s.Channel())
	assert.NoError(t, s.Close())
	assert.Equal(t, "serial", s.Transport())
}
