package client

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fundraisely/quizsync/internal/config"
	"github.com/fundraisely/quizsync/internal/wire"
)

func TestBackoffDoublesAndCaps(t *testing.T) {
	m := newConnManager("ws://unused", config.ReconnectConfig{
		BaseDelay: 500 * time.Millisecond,
		MaxDelay:  4 * time.Second,
	}, clockwork.NewRealClock(), nil)

	want := []time.Duration{
		500 * time.Millisecond,
		time.Second,
		2 * time.Second,
		4 * time.Second,
		4 * time.Second, // capped
		4 * time.Second,
	}
	for i, w := range want {
		m.attempt = i + 1
		assert.Equal(t, w, m.backoffLocked(), "attempt %d", i+1)
	}
}

func TestSendWhileDisconnected(t *testing.T) {
	m := newConnManager("ws://unused", testReconnect(), clockwork.NewRealClock(), nil)
	env, err := wire.NewEnvelope(wire.TypeRequestSnapshot, "room-1", wire.RequestSnapshot{RoomID: "room-1"})
	require.NoError(t, err)
	assert.ErrorIs(t, m.Send(env), ErrNotConnected)
}

func TestRunGivesUpAfterRetryBudget(t *testing.T) {
	eng, err := New(Options{
		URL:     "ws://127.0.0.1:1", // nothing listens here
		Nav:     NavContext{RoomID: "room-1", ParticipantID: "p-1"},
		DataDir: t.TempDir(),
		Reconnect: config.ReconnectConfig{
			MaxAttempts: 2,
			BaseDelay:   10 * time.Millisecond,
			MaxDelay:    20 * time.Millisecond,
		},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- eng.Run(ctx) }()

	upd := waitForUpdate[ConnectionChanged](t, eng, 4*time.Second)
	for upd.Status != StatusDisconnected {
		upd = waitForUpdate[ConnectionChanged](t, eng, 4*time.Second)
	}
	assert.Error(t, upd.Err)

	select {
	case err := <-runErr:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "reconnect attempts exhausted")
	case <-time.After(4 * time.Second):
		t.Fatal("Run did not return after exhausting the retry budget")
	}
	assert.Equal(t, StatusDisconnected, eng.ConnectionState())
}
