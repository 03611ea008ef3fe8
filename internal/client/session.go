package client

import (
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fundraisely/quizsync/internal/room"
	"github.com/fundraisely/quizsync/internal/wire"
)

const (
	rejectRoomNotFound  = "room not found"
	rejectNotRegistered = "you are not registered for this room"
)

// startRecovery begins the Idle -> Verifying transition. It is triggered by
// both the initial kickoff and every connect event, and guarded so only one
// verification is in flight per identity: the armed latch is consumed here
// and re-armed only by a genuine new connect event.
func (e *Engine) startRecovery() {
	if e.cancelled || e.joinState == JoinRejected {
		return
	}
	if !e.identity.Known() {
		return
	}
	if !e.joinArmed || e.inFlight {
		return
	}
	if e.conn.Status() != StatusConnected {
		return
	}

	e.joinArmed = false
	e.inFlight = true
	e.joinState = JoinVerifying
	log.Info().
		Str("room_id", e.identity.RoomID).
		Str("participant_id", e.identity.ParticipantID).
		Msg("verifying participant")
	e.sendRequest(wire.TypeVerifyParticipant, wire.VerifyParticipant{
		RoomID:        e.identity.RoomID,
		ParticipantID: e.identity.ParticipantID,
	})
}

func (e *Engine) sendRequest(t wire.MessageType, payload any) {
	env, err := wire.NewEnvelope(t, e.identity.RoomID, payload)
	if err != nil {
		log.Error().Err(err).Str("type", string(t)).Msg("building request envelope")
		e.inFlight = false
		return
	}
	if err := e.conn.Send(env); err != nil {
		// Transient: the request is retried on the next connect event.
		log.Warn().Err(err).Str("type", string(t)).Msg("sending request")
		e.inFlight = false
		return
	}
	id := env.ID
	timer := e.clock.AfterFunc(requestTimeout, func() {
		e.postAsync(evtReqTimeout{id: id})
	})
	e.pending[id] = &pendingRequest{
		kind:     t,
		identity: e.identity,
		epoch:    e.epoch,
		timer:    timer,
	}
}

func (e *Engine) sendFireAndForget(t wire.MessageType, payload any) {
	env, err := wire.NewEnvelope(t, e.identity.RoomID, payload)
	if err != nil {
		log.Error().Err(err).Str("type", string(t)).Msg("building envelope")
		return
	}
	if err := e.conn.Send(env); err != nil {
		log.Warn().Err(err).Str("type", string(t)).Msg("sending message")
	}
}

func (e *Engine) handleReply(env wire.Envelope) {
	p, ok := e.pending[env.ID]
	if !ok {
		log.Debug().Str("type", string(env.Type)).Msg("discarding uncorrelated reply")
		return
	}
	p.timer.Stop()
	delete(e.pending, env.ID)

	// A late reply issued for a different identity, room, or connection must
	// never act on the current session.
	if p.epoch != e.epoch || p.identity != e.identity {
		log.Debug().Str("type", string(env.Type)).Msg("discarding reply for superseded identity")
		return
	}

	payload, err := wire.ParsePayload(env)
	if err != nil {
		log.Warn().Err(err).Msg("malformed reply payload")
		e.inFlight = false
		return
	}

	switch pl := payload.(type) {
	case *wire.VerifyResult:
		e.handleVerifyResult(pl)
	case *wire.ActiveCheckResult:
		e.handleActiveCheckResult(pl)
	case *wire.JoinAck:
		e.handleJoinAck(pl)
	}
}

func (e *Engine) handleVerifyResult(res *wire.VerifyResult) {
	if e.joinState != JoinVerifying {
		return
	}
	if !res.RoomExists {
		e.reject(rejectRoomNotFound)
		return
	}
	if res.CurrentSnapshot != nil {
		e.applySnapshot(res.CurrentSnapshot)
		if e.cancelled {
			return
		}
	}
	if res.ParticipantApproved {
		e.sendJoin()
		return
	}
	// Not on the approved roster: the participant may still be mid-game
	// under a superseded connection (reload during a live round).
	log.Info().Str("participant_id", e.identity.ParticipantID).Msg("participant unapproved, checking for active session")
	e.sendRequest(wire.TypeCheckActiveParticipant, wire.CheckActiveParticipant{
		RoomID:        e.identity.RoomID,
		ParticipantID: e.identity.ParticipantID,
	})
}

func (e *Engine) handleActiveCheckResult(res *wire.ActiveCheckResult) {
	if e.joinState != JoinVerifying {
		return
	}
	if !res.IsInActiveSession {
		e.reject(rejectNotRegistered)
		return
	}
	e.sendJoin()
}

// sendJoin issues the idempotent join request. The server treats a repeated
// join for the same participant as a connection replacement, never a
// duplicate registration.
func (e *Engine) sendJoin() {
	e.joinState = JoinJoining
	name := ""
	if cached, ok := e.cache.Get(e.identity.RoomID, e.identity.ParticipantID); ok {
		name = cached.Name
	}
	log.Info().
		Str("room_id", e.identity.RoomID).
		Str("participant_id", e.identity.ParticipantID).
		Str("role", string(e.identity.Role)).
		Msg("joining room")
	e.sendRequest(wire.TypeJoinRoom, wire.JoinRoom{
		RoomID:      e.identity.RoomID,
		Participant: wire.JoinIdent{ID: e.identity.ParticipantID, Name: name},
		Role:        e.identity.Role,
	})
}

func (e *Engine) handleJoinAck(ack *wire.JoinAck) {
	if e.joinState != JoinJoining {
		return
	}
	if !ack.Accepted {
		e.reject(ack.Reason)
		return
	}
	e.joinState = JoinJoined
	e.inFlight = false
	log.Info().Str("room_id", e.identity.RoomID).Msg("joined, requesting snapshot")
	e.sendFireAndForget(wire.TypeRequestSnapshot, wire.RequestSnapshot{RoomID: e.identity.RoomID})
}

func (e *Engine) reject(reason string) {
	e.joinState = JoinRejected
	e.inFlight = false
	e.clearPending()
	log.Warn().Str("reason", reason).Msg("session rejected")
	e.emit(SessionRejected{Reason: reason})
}

// handleRequestTimeout drops a request that never got its correlated reply.
// Not fatal: the handler stays in its current protocol state and recovery
// re-runs on the next connect event.
func (e *Engine) handleRequestTimeout(id uuid.UUID) {
	p, ok := e.pending[id]
	if !ok {
		return
	}
	p.timer.Stop()
	delete(e.pending, id)
	if p.epoch != e.epoch {
		return
	}
	e.inFlight = false
	log.Warn().
		Str("type", string(p.kind)).
		Str("state", string(e.joinState)).
		Msg("request timed out, will retry on next connect")
}

func (e *Engine) handlePush(env wire.Envelope) {
	payload, err := wire.ParsePayload(env)
	if err != nil {
		// Malformed or unknown updates are logged and skipped; the handler
		// stays Joined and waits for the next well-formed update.
		log.Warn().Err(err).Msg("rejecting unrecognized update payload")
		return
	}

	// Cancellation tears down from any protocol state.
	if pl, ok := payload.(*wire.SessionCancelled); ok {
		e.teardown(pl.Reason)
		return
	}

	if e.joinState != JoinJoined {
		// An incremental update for a room not yet joined is meaningless,
		// except snapshots delivered during verification which are handled
		// on the reply path.
		log.Debug().Str("type", string(env.Type)).Str("state", string(e.joinState)).Msg("ignoring update before join")
		return
	}

	switch pl := payload.(type) {
	case *room.Snapshot:
		e.applySnapshot(pl)
	case *wire.PlayerListChanged:
		e.snapshot.Players = pl.Players
		e.cacheOwnRecord()
		e.emit(PlayersChanged{Players: pl.Players})
	case *wire.AdminListChanged:
		e.snapshot.Admins = pl.Admins
		e.emit(AdminsChanged{Admins: pl.Admins})
	case *wire.PhaseChanged:
		e.applyPhase(pl.Phase, pl.CurrentRound)
	case *wire.RoundTimeRemaining:
		e.timer.Tick(pl.RemainingSeconds)
	case *wire.SessionError:
		log.Warn().Str("message", pl.Message).Msg("server reported session error")
		e.emit(SessionErrorReported{Message: pl.Message})
	}
}

// applySnapshot replaces local session state wholesale. Recovery snapshots
// are authoritative: the tracker is force-seeded rather than consulted, so a
// snapshot can legitimately rewind the phase and later forward updates are
// judged against the snapshot's phase, not a stale higher one.
func (e *Engine) applySnapshot(s *room.Snapshot) {
	tr := e.tracker.Force(s.Phase, s.CurrentRound)
	if tr == room.TransitionCancelled {
		e.teardown("session cancelled")
		return
	}
	if s.CurrentRound != e.timerRound {
		e.timer.Reset(s.CurrentRound)
		e.timerRound = s.CurrentRound
	}
	e.snapshot = *s
	if s.Phase == room.PhaseAsking && !s.RoundStartedAt.IsZero() && s.RoundDurationSec > 0 {
		// Seed the countdown from the snapshot's round clock; the next
		// authoritative tick supersedes the estimate.
		e.timer.Bridge(s.RoundStartedAt, s.RoundDurationSec)
	}
	e.cacheOwnRecord()
	if s.Config.LedgerBacked() {
		if err := e.idStore.Persist(e.identity); err != nil {
			log.Warn().Err(err).Msg("persisting identity for ledger-backed room")
		}
	}
	e.emit(SnapshotApplied{Snapshot: *s, RouteLive: tr == room.TransitionLive})
}

func (e *Engine) applyPhase(phase room.Phase, round int) {
	tr := e.tracker.Apply(phase, round)
	switch tr {
	case room.TransitionRejected:
		log.Debug().
			Str("phase", string(phase)).
			Int("round", round).
			Str("current", string(e.tracker.Phase())).
			Msg("dropping phase regression")
		return
	case room.TransitionCancelled:
		e.teardown("session cancelled")
		return
	}
	if round != e.timerRound {
		e.timer.Reset(round)
		e.timerRound = round
	}
	e.snapshot.Phase = phase
	e.snapshot.CurrentRound = round
	e.emit(PhaseChanged{Phase: phase, Round: round, RouteLive: tr == room.TransitionLive})
}

func (e *Engine) cacheOwnRecord() {
	if p, ok := e.snapshot.FindPlayer(e.identity.ParticipantID); ok {
		e.cache.Put(e.identity.RoomID, e.identity.ParticipantID, p)
	}
}

// teardown atomically discards every cached player/admin/config entity and
// all pending correlations, regardless of protocol state. Late replies to
// requests issued before teardown are ignored.
func (e *Engine) teardown(reason string) {
	e.cancelled = true
	e.joinState = JoinIdle
	e.inFlight = false
	e.joinArmed = false
	e.clearPending()
	e.timer.Stop()
	e.snapshot = room.Snapshot{}
	e.timerRound = 0
	e.tracker.Reset()
	e.cache.Delete(e.identity.RoomID, e.identity.ParticipantID)
	e.idStore.Delete(e.identity.RoomID)
	log.Info().Str("reason", reason).Msg("session cancelled, local state torn down")
	e.emit(SessionEnded{Reason: reason})
}
