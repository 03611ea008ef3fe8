package server

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/fundraisely/quizsync/internal/wire"
)

const (
	connWriteTimeout   = 10 * time.Second
	connReadTimeout    = 60 * time.Second
	connPingInterval   = 30 * time.Second
	connMaxMessageSize = 64 * 1024
	connSendBuffer     = 32
)

// clientConn is one websocket connection to a participant. It implements
// sender.
type clientConn struct {
	id  string
	srv *Server
	ws  *websocket.Conn

	send chan []byte

	mu            sync.Mutex
	closed        bool
	room          *Room
	participantID string
}

func newClientConn(srv *Server, ws *websocket.Conn) *clientConn {
	return &clientConn{
		id:   uuid.New().String(),
		srv:  srv,
		ws:   ws,
		send: make(chan []byte, connSendBuffer),
	}
}

func (c *clientConn) enqueue(env wire.Envelope) bool {
	data, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Msg("marshal envelope for send")
		return true
	}
	// The send must stay inside the critical section: closeConn closes the
	// channel under the same mutex, so a concurrent close can never land
	// between the closed check and the send.
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *clientConn) closeConn(reason string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()
	log.Debug().Str("connection_id", c.id).Str("reason", reason).Msg("closing connection")
}

func (c *clientConn) attach(rm *Room, participantID string) {
	c.mu.Lock()
	c.room = rm
	c.participantID = participantID
	c.mu.Unlock()
}

func (c *clientConn) attached() (*Room, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room, c.participantID
}

// writePump drains the send buffer onto the wire and keeps the connection
// alive with periodic pings.
func (c *clientConn) writePump() {
	ticker := time.NewTicker(connPingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(connWriteTimeout))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debug().Err(err).Str("connection_id", c.id).Msg("write failed")
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(connWriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads envelopes off the wire and dispatches them.
func (c *clientConn) readPump() {
	defer func() {
		if rm, pid := c.attached(); rm != nil {
			rm.Leave(pid, c)
		}
		c.closeConn("read loop ended")
		c.ws.Close()
	}()

	c.ws.SetReadLimit(connMaxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(connReadTimeout))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(connReadTimeout))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("connection_id", c.id).Msg("unexpected close")
			}
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(connReadTimeout))

		var env wire.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.sendError("malformed envelope")
			continue
		}
		c.srv.handleEnvelope(c, env)
	}
}

func (c *clientConn) sendError(msg string) {
	env, err := wire.NewEnvelope(wire.TypeSessionError, "", wire.SessionError{Message: msg})
	if err != nil {
		return
	}
	c.enqueue(env)
}

func (c *clientConn) reply(req wire.Envelope, t wire.MessageType, payload any) {
	env, err := wire.Reply(req, t, payload)
	if err != nil {
		log.Error().Err(err).Str("type", string(t)).Msg("building reply envelope")
		return
	}
	c.enqueue(env)
}
