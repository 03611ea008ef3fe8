// Package server implements the authoritative room server the sync engine
// talks to: websocket connection handling, the join/verify protocol, the
// phase driver, and the host HTTP API.
package server

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/fundraisely/quizsync/internal/ledger"
	"github.com/fundraisely/quizsync/internal/wire"
)

// Server ties the room registry to the websocket and HTTP surfaces.
type Server struct {
	registry *Registry
	clock    clockwork.Clock
	ledger   ledger.Store // nil when running without a ledger database
	upgrader websocket.Upgrader
}

// New creates a server. ledgerStore and relay may be nil.
func New(clock clockwork.Clock, ledgerStore ledger.Store, relay EventPublisher) *Server {
	return &Server{
		registry: NewRegistry(clock, relay),
		clock:    clock,
		ledger:   ledgerStore,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Registry exposes the room registry.
func (s *Server) Registry() *Registry { return s.registry }

// HandleWS upgrades an HTTP request to the session channel. Identity is not
// established here; the client proves it through the verify/join protocol on
// the channel itself.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	c := newClientConn(s, ws)
	log.Info().Str("connection_id", c.id).Str("remote", r.RemoteAddr).Msg("channel established")
	go c.writePump()
	go c.readPump()
}

// handleEnvelope dispatches one inbound envelope from a connection.
func (s *Server) handleEnvelope(c *clientConn, env wire.Envelope) {
	payload, err := wire.ParsePayload(env)
	if err != nil {
		log.Warn().Err(err).Str("connection_id", c.id).Msg("rejecting client message")
		c.sendError("unrecognized message")
		return
	}

	switch pl := payload.(type) {
	case *wire.VerifyParticipant:
		rm := s.registry.Get(pl.RoomID)
		if rm == nil {
			c.reply(env, wire.TypeVerifyResult, wire.VerifyResult{RoomExists: false})
			return
		}
		c.reply(env, wire.TypeVerifyResult, rm.Verify(pl.ParticipantID))

	case *wire.CheckActiveParticipant:
		rm := s.registry.Get(pl.RoomID)
		active := rm != nil && rm.ActiveCheck(pl.ParticipantID)
		c.reply(env, wire.TypeActiveCheckResult, wire.ActiveCheckResult{IsInActiveSession: active})

	case *wire.JoinRoom:
		rm := s.registry.Get(pl.RoomID)
		if rm == nil {
			c.reply(env, wire.TypeJoinAck, wire.JoinAck{Accepted: false, Reason: "room not found"})
			return
		}
		ack := rm.Join(pl.Participant.ID, pl.Participant.Name, pl.Role, c)
		c.reply(env, wire.TypeJoinAck, ack)
		if ack.Accepted {
			c.attach(rm, pl.Participant.ID)
			rm.SendSnapshot(c)
		}

	case *wire.RequestSnapshot:
		rm, pid := c.attached()
		if rm == nil || rm.ID != pl.RoomID {
			c.sendError("not joined to this room")
			return
		}
		log.Debug().Str("room_id", pl.RoomID).Str("participant_id", pid).Msg("snapshot requested")
		rm.SendSnapshot(c)

	default:
		c.sendError("unexpected message direction")
	}
}
