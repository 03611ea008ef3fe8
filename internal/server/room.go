package server

import (
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/fundraisely/quizsync/internal/clockutil"
	"github.com/fundraisely/quizsync/internal/room"
	"github.com/fundraisely/quizsync/internal/wire"
)

// sender is one connected participant endpoint. The websocket connection
// implements it; tests substitute channel-backed fakes.
type sender interface {
	// enqueue buffers one envelope for delivery; false means the client is
	// too slow and will be dropped.
	enqueue(env wire.Envelope) bool
	// closeConn asks the endpoint to shut down with a reason.
	closeConn(reason string)
}

// EventPublisher relays room lifecycle events to external collaborators
// (the prize reconciliation ledger consumes distributing_prizes/complete).
type EventPublisher interface {
	Publish(roomID string, env wire.Envelope)
}

const defaultRoundSeconds = 60

// Room is one authoritative live quiz session. The roster (players, admins)
// survives disconnects; at most one live connection exists per participant,
// and a repeated join replaces the prior connection.
type Room struct {
	ID string

	mu           sync.Mutex
	cfg          room.Config
	rounds       []room.RoundDefinition
	phase        room.Phase
	currentRound int
	players      map[string]*room.Player
	playerOrder  []string
	admins       map[string]room.Admin
	conns        map[string]sender

	clock            clockwork.Clock
	relay            EventPublisher
	tickerCancel     clockutil.CancelFunc
	roundStartedAt   time.Time
	roundEndsAt      time.Time
	roundDurationSec int
}

// NewRoom creates a room in the waiting phase.
func NewRoom(id string, cfg room.Config, rounds []room.RoundDefinition, clock clockwork.Clock, relay EventPublisher) *Room {
	return &Room{
		ID:      id,
		cfg:     cfg,
		rounds:  rounds,
		phase:   room.PhaseWaiting,
		players: make(map[string]*room.Player),
		admins:  make(map[string]room.Admin),
		conns:   make(map[string]sender),
		clock:   clock,
		relay:   relay,
	}
}

// RegisterPlayer pre-approves a player for the room roster.
func (r *Room) RegisterPlayer(p room.Player) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.players[p.ID]; !ok {
		r.playerOrder = append(r.playerOrder, p.ID)
	}
	if p.JoinedAt.IsZero() {
		p.JoinedAt = r.clock.Now().UTC()
	}
	r.players[p.ID] = &p
}

// RegisterAdmin pre-approves an admin.
func (r *Room) RegisterAdmin(a room.Admin) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.admins[a.ID] = a
}

// Snapshot returns a full point-in-time copy of room state.
func (r *Room) Snapshot() room.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Room) snapshotLocked() room.Snapshot {
	players := make([]room.Player, 0, len(r.players))
	for _, id := range r.playerOrder {
		if p, ok := r.players[id]; ok {
			players = append(players, *p)
		}
	}
	admins := make([]room.Admin, 0, len(r.admins))
	for _, a := range r.admins {
		admins = append(admins, a)
	}
	snap := room.Snapshot{
		RoomID:       r.ID,
		Phase:        r.phase,
		CurrentRound: r.currentRound,
		Rounds:       r.rounds,
		Players:      players,
		Admins:       admins,
		Config:       r.cfg,
	}
	if r.phase == room.PhaseAsking {
		snap.RoundStartedAt = r.roundStartedAt
		snap.RoundDurationSec = r.roundDurationSec
	}
	return snap
}

// Verify answers a verify_participant request. The host is approved by the
// room config, never by a roster entry.
func (r *Room) Verify(participantID string) wire.VerifyResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, isPlayer := r.players[participantID]
	_, isAdmin := r.admins[participantID]
	snap := r.snapshotLocked()
	return wire.VerifyResult{
		RoomExists:          true,
		ParticipantApproved: isPlayer || isAdmin || r.isHostLocked(participantID),
		CurrentSnapshot:     &snap,
	}
}

// ActiveCheck reports whether the participant is already active in this
// session under another (possibly dead) connection.
func (r *Room) ActiveCheck(participantID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, live := r.conns[participantID]; live {
		return true
	}
	if !r.phase.Live() {
		return false
	}
	_, registered := r.players[participantID]
	return registered || r.isHostLocked(participantID)
}

func (r *Room) isHostLocked(participantID string) bool {
	return r.cfg.HostID != "" && participantID == r.cfg.HostID
}

// Join registers the participant's connection. A repeated join for the same
// participant supersedes the prior connection; it never duplicates the
// registration.
func (r *Room) Join(participantID, name string, role room.Role, s sender) wire.JoinAck {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.phase == room.PhaseCancelled || r.phase == room.PhaseComplete {
		return wire.JoinAck{Accepted: false, Reason: "room is closed"}
	}

	switch role {
	case room.RoleAdmin:
		if _, ok := r.admins[participantID]; !ok {
			r.admins[participantID] = room.Admin{ID: participantID, Name: name}
			defer r.broadcastAdminsLocked()
		}
	case room.RoleHost:
		// The single active host needs no roster entry.
	default:
		p, registered := r.players[participantID]
		if !registered {
			if r.phase != room.PhaseWaiting {
				return wire.JoinAck{Accepted: false, Reason: "registration is closed"}
			}
			if r.cfg.MaxPlayers > 0 && len(r.players) >= r.cfg.MaxPlayers {
				return wire.JoinAck{Accepted: false, Reason: "room is full"}
			}
			p = &room.Player{ID: participantID, Name: name, JoinedAt: r.clock.Now().UTC()}
			r.players[participantID] = p
			r.playerOrder = append(r.playerOrder, participantID)
		}
		if name != "" && p.Name == "" {
			p.Name = name
		}
		p.LastSeenAt = r.clock.Now().UTC()
	}

	if old, ok := r.conns[participantID]; ok && old != s {
		log.Info().
			Str("room_id", r.ID).
			Str("participant_id", participantID).
			Msg("replacing superseded connection")
		old.closeConn("superseded by a newer connection")
	}
	r.conns[participantID] = s
	r.broadcastPlayersLocked()
	return wire.JoinAck{Accepted: true}
}

// Leave detaches a connection. The roster entry survives so the participant
// can recover after a reload.
func (r *Room) Leave(participantID string, s sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.conns[participantID]; ok && cur == s {
		delete(r.conns, participantID)
	}
}

// SendSnapshot pushes a room_snapshot to one endpoint.
func (r *Room) SendSnapshot(s sender) {
	snap := r.Snapshot()
	env, err := wire.NewEnvelope(wire.TypeRoomSnapshot, r.ID, snap)
	if err != nil {
		log.Error().Err(err).Msg("building snapshot envelope")
		return
	}
	s.enqueue(env)
}

// ConnectedCount returns the number of live connections.
func (r *Room) ConnectedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// Phase returns the current phase and round.
func (r *Room) Phase() (room.Phase, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase, r.currentRound
}

func (r *Room) broadcastPlayersLocked() {
	snap := r.snapshotLocked()
	r.broadcastLocked(wire.TypePlayerListChanged, wire.PlayerListChanged{Players: snap.Players})
}

func (r *Room) broadcastAdminsLocked() {
	snap := r.snapshotLocked()
	r.broadcastLocked(wire.TypeAdminListChanged, wire.AdminListChanged{Admins: snap.Admins})
}

func (r *Room) broadcastLocked(t wire.MessageType, payload any) {
	env, err := wire.NewEnvelope(t, r.ID, payload)
	if err != nil {
		log.Error().Err(err).Str("type", string(t)).Msg("building broadcast envelope")
		return
	}
	for id, s := range r.conns {
		if !s.enqueue(env) {
			log.Warn().
				Str("room_id", r.ID).
				Str("participant_id", id).
				Msg("send buffer full, dropping connection")
			delete(r.conns, id)
			s.closeConn("too slow")
		}
	}
	if r.relay != nil {
		switch t {
		case wire.TypePhaseChanged, wire.TypeSessionCancelled:
			r.relay.Publish(r.ID, env)
		}
	}
}

// Host phase driver. Transitions are validated against the session lifecycle
// order; out-of-order host commands are rejected.

// Launch moves waiting -> launched and opens round 1.
func (r *Room) Launch() error {
	return r.advance(room.PhaseLaunched)
}

// OpenRound moves launched -> asking and starts the authoritative round
// clock.
func (r *Room) OpenRound() error {
	return r.advance(room.PhaseAsking)
}

// StartReview moves asking -> reviewing and stops the round clock.
func (r *Room) StartReview() error {
	return r.advance(room.PhaseReviewing)
}

// ShowLeaderboard moves reviewing -> leaderboard.
func (r *Room) ShowLeaderboard() error {
	return r.advance(room.PhaseLeaderboard)
}

// NextRound moves leaderboard -> launched for the next round.
func (r *Room) NextRound() error {
	return r.advance(room.PhaseLaunched)
}

// StartTiebreaker moves leaderboard -> tiebreaker.
func (r *Room) StartTiebreaker() error {
	return r.advance(room.PhaseTiebreaker)
}

// DistributePrizes moves leaderboard/tiebreaker -> distributing_prizes.
func (r *Room) DistributePrizes() error {
	return r.advance(room.PhaseDistributingPrizes)
}

// Complete moves distributing_prizes -> complete.
func (r *Room) Complete() error {
	return r.advance(room.PhaseComplete)
}

var allowedTransitions = map[room.Phase][]room.Phase{
	room.PhaseWaiting:            {room.PhaseLaunched},
	room.PhaseLaunched:           {room.PhaseAsking},
	room.PhaseAsking:             {room.PhaseReviewing},
	room.PhaseReviewing:          {room.PhaseLeaderboard},
	room.PhaseLeaderboard:        {room.PhaseLaunched, room.PhaseTiebreaker, room.PhaseDistributingPrizes},
	room.PhaseTiebreaker:         {room.PhaseDistributingPrizes},
	room.PhaseDistributingPrizes: {room.PhaseComplete},
}

func (r *Room) advance(to room.Phase) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	allowed := false
	for _, p := range allowedTransitions[r.phase] {
		if p == to {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("illegal phase transition %s -> %s", r.phase, to)
	}

	round := r.currentRound
	if to == room.PhaseLaunched {
		round++ // waiting -> round 1, leaderboard -> next round
	}

	r.stopTickerLocked()
	r.phase = to
	r.currentRound = round

	if to == room.PhaseAsking {
		r.startRoundTickerLocked()
	}

	log.Info().
		Str("room_id", r.ID).
		Str("phase", string(to)).
		Int("round", round).
		Msg("phase advanced")
	r.broadcastLocked(wire.TypePhaseChanged, wire.PhaseChanged{Phase: to, CurrentRound: round})
	return nil
}

// Cancel terminates the session from any state, notifies every participant,
// and drops all connections.
func (r *Room) Cancel(reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.phase.Terminal() {
		return fmt.Errorf("room already %s", r.phase)
	}
	r.stopTickerLocked()
	r.phase = room.PhaseCancelled
	log.Info().Str("room_id", r.ID).Str("reason", reason).Msg("room cancelled")
	r.broadcastLocked(wire.TypeSessionCancelled, wire.SessionCancelled{Reason: reason})
	for id, s := range r.conns {
		delete(r.conns, id)
		s.closeConn("session cancelled")
	}
	return nil
}

func (r *Room) roundDurationLocked() time.Duration {
	for _, rd := range r.rounds {
		if rd.Number == r.currentRound {
			secs := rd.SecondsPerQuest * rd.QuestionCount
			if secs > 0 {
				return time.Duration(secs) * time.Second
			}
		}
	}
	return defaultRoundSeconds * time.Second
}

func (r *Room) startRoundTickerLocked() {
	dur := r.roundDurationLocked()
	r.roundStartedAt = r.clock.Now()
	r.roundDurationSec = int(dur / time.Second)
	r.roundEndsAt = r.roundStartedAt.Add(dur)
	r.tickerCancel = clockutil.StartPeriodic(r.clock, time.Second, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.phase != room.PhaseAsking {
			return false
		}
		ms := r.roundEndsAt.Sub(r.clock.Now()).Milliseconds()
		if ms < 0 {
			ms = 0
		}
		remaining := int((ms + 999) / 1000)
		r.broadcastLocked(wire.TypeRoundTimeRemaining, wire.RoundTimeRemaining{RemainingSeconds: remaining})
		return remaining > 0
	})
}

func (r *Room) stopTickerLocked() {
	if r.tickerCancel != nil {
		r.tickerCancel()
		r.tickerCancel = nil
	}
}
