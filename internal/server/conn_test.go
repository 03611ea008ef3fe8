package server

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fundraisely/quizsync/internal/wire"
)

// Enqueue can race a room-initiated close: the reply path runs on the read
// goroutine while Cancel, slow-drop, or join replacement closes the
// connection from another. The send channel is closed under the same mutex
// that guards the closed flag, so the pair must never panic.
func TestConnEnqueueDuringCloseNeverPanics(t *testing.T) {
	env, err := wire.NewEnvelope(wire.TypeSessionError, "room-1", wire.SessionError{Message: "x"})
	require.NoError(t, err)

	for i := 0; i < 500; i++ {
		c := &clientConn{id: "c", send: make(chan []byte, 1)}

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			c.enqueue(env)
		}()
		go func() {
			defer wg.Done()
			c.closeConn("superseded by a newer connection")
		}()
		wg.Wait()

		assert.False(t, c.enqueue(env), "a closed connection refuses new sends")
	}
}

func TestConnCloseIsIdempotent(t *testing.T) {
	c := &clientConn{id: "c", send: make(chan []byte, 1)}
	c.closeConn("first")
	c.closeConn("second")
}
