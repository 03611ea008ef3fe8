// Package client implements the real-time session synchronization engine: it
// owns the single channel to the room server, resolves and recovers the
// participant's session after disconnects and reloads, tracks the room phase
// state machine, and interpolates the round countdown.
package client

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/fundraisely/quizsync/internal/config"
	"github.com/fundraisely/quizsync/internal/room"
	"github.com/fundraisely/quizsync/internal/wire"
)

const requestTimeout = 8 * time.Second

// JoinState is the join/recovery protocol state.
type JoinState string

const (
	JoinIdle      JoinState = "idle"
	JoinVerifying JoinState = "verifying"
	JoinJoining   JoinState = "joining"
	JoinJoined    JoinState = "joined"
	JoinRejected  JoinState = "rejected"
)

// Update is the tagged union delivered on Engine.Updates. Consumers switch on
// the concrete type.
type Update interface{ isUpdate() }

// ConnectionChanged reports connectivity state transitions.
type ConnectionChanged struct {
	Status ConnStatus
	Err    error
}

// SnapshotApplied reports a wholesale snapshot replacement. RouteLive is set
// when the snapshot revealed a mid-game session while the local view still
// believed it was pre-launch.
type SnapshotApplied struct {
	Snapshot  room.Snapshot
	RouteLive bool
}

// PlayersChanged carries the replaced player list.
type PlayersChanged struct{ Players []room.Player }

// AdminsChanged carries the replaced admin list.
type AdminsChanged struct{ Admins []room.Admin }

// PhaseChanged reports an accepted phase transition.
type PhaseChanged struct {
	Phase     room.Phase
	Round     int
	RouteLive bool
}

// TimerUpdated carries the interpolated countdown.
type TimerUpdated struct {
	Round        int
	SecondsLeft  int
	FractionLeft float64
}

// SessionEnded reports a cancellation; all local session state has already
// been torn down and the participant must be routed to a neutral entry point.
type SessionEnded struct{ Reason string }

// SessionRejected reports a terminal join rejection; the participant must be
// redirected away with the given operator-facing reason.
type SessionRejected struct{ Reason string }

// SessionErrorReported surfaces a non-fatal server-reported error.
type SessionErrorReported struct{ Message string }

func (ConnectionChanged) isUpdate()    {}
func (SnapshotApplied) isUpdate()      {}
func (PlayersChanged) isUpdate()       {}
func (AdminsChanged) isUpdate()        {}
func (PhaseChanged) isUpdate()         {}
func (TimerUpdated) isUpdate()         {}
func (SessionEnded) isUpdate()         {}
func (SessionRejected) isUpdate()      {}
func (SessionErrorReported) isUpdate() {}

// loopEvent is anything feeding the engine's single event loop: channel
// lifecycle events, inbound envelopes, request timeouts, and user actions.
// All mutation of protocol state happens in the loop, in arrival order.
type loopEvent interface{ isLoopEvent() }

type evtConnected struct{ epoch int }
type evtDisconnected struct {
	epoch int
	err   error
}
type evtGaveUp struct{ err error }
type evtEnvelope struct {
	epoch int
	env   wire.Envelope
}
type evtReqTimeout struct{ id uuid.UUID }
type evtKickoff struct{}
type evtRefreshSnapshot struct{}

func (evtConnected) isLoopEvent()       {}
func (evtDisconnected) isLoopEvent()    {}
func (evtGaveUp) isLoopEvent()          {}
func (evtEnvelope) isLoopEvent()        {}
func (evtReqTimeout) isLoopEvent()      {}
func (evtKickoff) isLoopEvent()         {}
func (evtRefreshSnapshot) isLoopEvent() {}

type pendingRequest struct {
	kind     wire.MessageType
	identity Identity
	epoch    int
	timer    clockwork.Timer
}

// Options configures an Engine.
type Options struct {
	// URL of the room server websocket endpoint.
	URL string
	// Nav carries the navigation-supplied identity values.
	Nav NavContext
	// DataDir roots the snapshot cache and identity persistence.
	DataDir string
	// Reconnect bounds automatic reconnection. Zero value uses defaults.
	Reconnect config.ReconnectConfig
	// Clock defaults to the real clock; tests inject a fake.
	Clock clockwork.Clock
}

// Engine is one client instance of the synchronization engine. Create with
// New, drive with Run, consume Updates.
type Engine struct {
	clock   clockwork.Clock
	conn    *connManager
	inbox   chan loopEvent
	updates chan Update

	identity Identity
	idStore  *IdentityStore
	cache    *SnapshotCache
	timer    *RoundTimer
	tracker  *room.PhaseTracker

	// Everything below is owned by the event loop.
	joinState  JoinState
	joinArmed  bool
	cancelled  bool
	epoch      int
	inFlight   bool
	pending    map[uuid.UUID]*pendingRequest
	snapshot   room.Snapshot
	timerRound int
}

// New resolves the session identity and builds an engine. It does not
// connect; call Run.
func New(opts Options) (*Engine, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("url is required")
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	rc := opts.Reconnect
	if rc.MaxAttempts == 0 {
		rc = config.Default().Reconnect
	}

	idStore, err := NewIdentityStore(opts.DataDir)
	if err != nil {
		return nil, err
	}
	cache, err := NewSnapshotCache(opts.DataDir)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		clock:     clock,
		inbox:     make(chan loopEvent, 64),
		updates:   make(chan Update, 64),
		identity:  ResolveIdentity(opts.Nav, idStore),
		idStore:   idStore,
		cache:     cache,
		tracker:   room.NewPhaseTracker(),
		joinState: JoinIdle,
		pending:   make(map[uuid.UUID]*pendingRequest),
	}
	e.conn = newConnManager(opts.URL, rc, clock, e.inbox)
	e.timer = NewRoundTimer(clock, func(u TimerUpdate) {
		e.emit(TimerUpdated{Round: u.Round, SecondsLeft: u.SecondsLeft, FractionLeft: u.FractionLeft})
	})
	return e, nil
}

// Identity returns the resolved session identity.
func (e *Engine) Identity() Identity { return e.identity }

// ConnectionState returns the current connectivity status.
func (e *Engine) ConnectionState() ConnStatus { return e.conn.Status() }

// LastError returns the most recent connection error.
func (e *Engine) LastError() error { return e.conn.LastError() }

// Updates is the downstream stream of state changes. The channel is never
// closed; consumers should also select on their own context.
func (e *Engine) Updates() <-chan Update { return e.updates }

// CachedPlayer returns the locally cached player record for instant paint
// before live data arrives. Never authoritative.
func (e *Engine) CachedPlayer() (room.Player, bool) {
	return e.cache.Get(e.identity.RoomID, e.identity.ParticipantID)
}

// RefreshSnapshot asks the server to push a fresh room snapshot.
func (e *Engine) RefreshSnapshot() { e.postAsync(evtRefreshSnapshot{}) }

// Run connects and processes events until ctx is cancelled or the reconnect
// budget is exhausted.
func (e *Engine) Run(ctx context.Context) error {
	defer e.timer.Stop()

	connErr := make(chan error, 1)
	go func() { connErr <- e.conn.Run(ctx) }()
	e.postAsync(evtKickoff{})

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-connErr:
			// Drain events posted before the connection loop exited, so the
			// terminal status update is not lost.
			for {
				select {
				case ev := <-e.inbox:
					e.handleEvent(ev)
				default:
					return err
				}
			}
		case ev := <-e.inbox:
			e.handleEvent(ev)
		}
	}
}

func (e *Engine) handleEvent(ev loopEvent) {
	switch ev := ev.(type) {
	case evtConnected:
		if ev.epoch <= e.epoch {
			// Duplicate delivery of an already-seen connect event; the latch
			// re-arms only on a genuine new connection.
			return
		}
		e.epoch = ev.epoch
		e.joinArmed = true
		e.inFlight = false
		e.clearPending()
		e.emit(ConnectionChanged{Status: StatusConnected})
		e.startRecovery()

	case evtDisconnected:
		if ev.epoch != e.epoch {
			return
		}
		e.clearPending()
		e.inFlight = false
		e.joinArmed = false
		e.emit(ConnectionChanged{Status: StatusReconnecting, Err: ev.err})

	case evtGaveUp:
		e.emit(ConnectionChanged{Status: StatusDisconnected, Err: ev.err})

	case evtEnvelope:
		if ev.epoch != e.epoch {
			log.Debug().Str("type", string(ev.env.Type)).Msg("dropping envelope from stale connection")
			return
		}
		if ev.env.Type.IsReply() {
			e.handleReply(ev.env)
		} else {
			e.handlePush(ev.env)
		}

	case evtReqTimeout:
		e.handleRequestTimeout(ev.id)

	case evtKickoff:
		e.startRecovery()

	case evtRefreshSnapshot:
		if e.joinState != JoinJoined {
			return
		}
		e.sendFireAndForget(wire.TypeRequestSnapshot, wire.RequestSnapshot{RoomID: e.identity.RoomID})
	}
}

// emit delivers an update without ever blocking the loop; a saturated
// consumer loses the oldest-style delivery and gets a warning in the log.
func (e *Engine) emit(u Update) {
	select {
	case e.updates <- u:
	default:
		log.Warn().Type("update", u).Msg("updates channel full, dropping update")
	}
}

func (e *Engine) postAsync(ev loopEvent) {
	select {
	case e.inbox <- ev:
	default:
		log.Warn().Msg("engine inbox full, dropping event")
	}
}

func (e *Engine) clearPending() {
	for id, p := range e.pending {
		p.timer.Stop()
		delete(e.pending, id)
	}
}
