package link

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/godice/pkg/event"
	"github.com/itohio/godice/pkg/message"
)

func TestLoopbackDeliversOnScheduler(t *testing.T) {
	v := event.NewVirtual()
	a, b := NewLoopbackPair(v)

	var got [][]byte
	b.SetReceiver(func(m []byte) { got = append(got, m) })

	msg := []byte{1, 2, 3}
	require.True(t, a.Send(msg))
	msg[0] = 9
	assert.Empty(t, got, "delivery must wait for the scheduler")

	v.Drain()
	assert.Equal(t, [][]byte{{1, 2, 3}}, got)
}

func TestLoopbackFaults(t *testing.T) {
	tests := []struct {
		name      string
		fault     Fault
		sendOK    bool
		delivered int
		sent      int
		dropped   int
	}{
		{"deliver", Deliver, true, 1, 1, 0},
		{"drop", Drop, true, 0, 1, 1},
		{"duplicate", Duplicate, true, 2, 1, 0},
		{"refuse", Refuse, false, 0, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := event.NewVirtual()
			a, b := NewLoopbackPair(v)
			a.SetFault(func([]byte) Fault { return tt.fault })

			delivered := 0
			b.SetReceiver(func([]byte) { delivered++ })

			assert.Equal(t, tt.sendOK, a.Send([]byte{5}))
			v.Drain()
			assert.Equal(t, tt.delivered, delivered)
			assert.Len(t, a.Sent(), tt.sent)
			assert.Equal(t, tt.dropped, a.Dropped())
		})
	}
}

func TestRandomFaultRates(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	assert.Equal(t, Deliver, RandomFault(rng, 0, 0)(nil))
	assert.Equal(t, Drop, RandomFault(rng, 1, 0)(nil))
	assert.Equal(t, Duplicate, RandomFault(rng, 0, 1)(nil))
}

func TestServiceDispatch(t *testing.T) {
	v := event.NewVirtual()
	a, b := NewLoopbackPair(v)
	host := NewService(a)
	die := NewService(b)

	var setups []message.BulkSetup
	die.Handle(message.TypeBulkSetup, func(m message.Message) {
		setups = append(setups, m.(message.BulkSetup))
	})

	require.True(t, host.Send(message.BulkSetup{Size: 250}))
	require.True(t, host.SendRaw([]byte{0xFF}))
	require.True(t, host.Send(message.Empty{Kind: message.TypeWhoAreYou}))
	v.Drain()
	assert.Equal(t, []message.BulkSetup{{Size: 250}}, setups)

	die.Handle(message.TypeBulkSetup, nil)
	host.Send(message.BulkSetup{Size: 1})
	v.Drain()
	assert.Len(t, setups, 1)
}
