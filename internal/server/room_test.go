package server

import (
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fundraisely/quizsync/internal/room"
	"github.com/fundraisely/quizsync/internal/wire"
)

type fakeSender struct {
	mu     sync.Mutex
	full   bool
	envs   []wire.Envelope
	closed string
}

func (f *fakeSender) enqueue(env wire.Envelope) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.full {
		return false
	}
	f.envs = append(f.envs, env)
	return true
}

func (f *fakeSender) closeConn(reason string) {
	f.mu.Lock()
	f.closed = reason
	f.mu.Unlock()
}

func (f *fakeSender) typed(typ wire.MessageType) []wire.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []wire.Envelope
	for _, env := range f.envs {
		if env.Type == typ {
			out = append(out, env)
		}
	}
	return out
}

func (f *fakeSender) closedReason() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakePublisher struct {
	mu   sync.Mutex
	envs []wire.Envelope
}

func (p *fakePublisher) Publish(roomID string, env wire.Envelope) {
	p.mu.Lock()
	p.envs = append(p.envs, env)
	p.mu.Unlock()
}

func (p *fakePublisher) types() []wire.MessageType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]wire.MessageType, len(p.envs))
	for i, env := range p.envs {
		out[i] = env.Type
	}
	return out
}

func newTestRoom(cfg room.Config, rounds []room.RoundDefinition) *Room {
	return NewRoom("room-1", cfg, rounds, clockwork.NewRealClock(), nil)
}

func TestRoomJoinReplacesSupersededConnection(t *testing.T) {
	rm := newTestRoom(room.Config{}, nil)
	rm.RegisterPlayer(room.Player{ID: "p-1", Name: "Ada"})

	s1 := &fakeSender{}
	ack := rm.Join("p-1", "Ada", room.RolePlayer, s1)
	require.True(t, ack.Accepted)

	// A reload joins again with a fresh connection; the old one is dropped
	// and the roster is unchanged.
	s2 := &fakeSender{}
	ack = rm.Join("p-1", "Ada", room.RolePlayer, s2)
	require.True(t, ack.Accepted)

	assert.Contains(t, s1.closedReason(), "superseded")
	assert.Equal(t, 1, rm.ConnectedCount())
	assert.Len(t, rm.Snapshot().Players, 1)
}

func TestRoomOpenJoinOnlyWhileWaiting(t *testing.T) {
	rm := newTestRoom(room.Config{}, nil)

	ack := rm.Join("walk-in", "Cal", room.RolePlayer, &fakeSender{})
	require.True(t, ack.Accepted, "unregistered players may join while waiting")
	assert.Len(t, rm.Snapshot().Players, 1)

	rm.RegisterPlayer(room.Player{ID: "p-1", Name: "Ada"})
	require.NoError(t, rm.Launch())

	ack = rm.Join("late-comer", "Dan", room.RolePlayer, &fakeSender{})
	assert.False(t, ack.Accepted)
	assert.Equal(t, "registration is closed", ack.Reason)

	// A registered player reconnecting mid-game is always let back in.
	ack = rm.Join("p-1", "Ada", room.RolePlayer, &fakeSender{})
	assert.True(t, ack.Accepted)
}

func TestRoomJoinRespectsMaxPlayers(t *testing.T) {
	rm := newTestRoom(room.Config{MaxPlayers: 1}, nil)

	require.True(t, rm.Join("p-1", "Ada", room.RolePlayer, &fakeSender{}).Accepted)
	ack := rm.Join("p-2", "Bea", room.RolePlayer, &fakeSender{})
	assert.False(t, ack.Accepted)
	assert.Equal(t, "room is full", ack.Reason)
}

func TestRoomAdminJoinBroadcastsAdminList(t *testing.T) {
	rm := newTestRoom(room.Config{}, nil)
	player := &fakeSender{}
	require.True(t, rm.Join("p-1", "Ada", room.RolePlayer, player).Accepted)

	require.True(t, rm.Join("a-1", "Moderator", room.RoleAdmin, &fakeSender{}).Accepted)

	envs := player.typed(wire.TypeAdminListChanged)
	require.NotEmpty(t, envs)
	payload, err := wire.ParsePayload(envs[0])
	require.NoError(t, err)
	admins := payload.(*wire.AdminListChanged).Admins
	require.Len(t, admins, 1)
	assert.Equal(t, "Moderator", admins[0].Name)
}

func TestRoomPhaseDriverEnforcesOrder(t *testing.T) {
	rm := newTestRoom(room.Config{}, nil)

	assert.Error(t, rm.OpenRound(), "cannot open a round before launch")
	assert.Error(t, rm.Complete())

	require.NoError(t, rm.Launch())
	phase, round := rm.Phase()
	assert.Equal(t, room.PhaseLaunched, phase)
	assert.Equal(t, 1, round)

	require.NoError(t, rm.OpenRound())
	assert.Error(t, rm.Launch(), "cannot relaunch mid-round")
	require.NoError(t, rm.StartReview())
	require.NoError(t, rm.ShowLeaderboard())

	require.NoError(t, rm.NextRound())
	phase, round = rm.Phase()
	assert.Equal(t, room.PhaseLaunched, phase)
	assert.Equal(t, 2, round, "next round increments the round counter")

	require.NoError(t, rm.OpenRound())
	require.NoError(t, rm.StartReview())
	require.NoError(t, rm.ShowLeaderboard())
	require.NoError(t, rm.StartTiebreaker())
	require.NoError(t, rm.DistributePrizes())
	require.NoError(t, rm.Complete())

	phase, _ = rm.Phase()
	assert.Equal(t, room.PhaseComplete, phase)
	assert.Error(t, rm.Launch(), "complete is terminal")
}

func TestRoomCancelNotifiesAndDropsEveryone(t *testing.T) {
	rm := newTestRoom(room.Config{}, nil)
	s := &fakeSender{}
	require.True(t, rm.Join("p-1", "Ada", room.RolePlayer, s).Accepted)
	require.NoError(t, rm.Launch())

	require.NoError(t, rm.Cancel("venue flooded"))

	envs := s.typed(wire.TypeSessionCancelled)
	require.Len(t, envs, 1)
	payload, err := wire.ParsePayload(envs[0])
	require.NoError(t, err)
	assert.Equal(t, "venue flooded", payload.(*wire.SessionCancelled).Reason)

	assert.Equal(t, "session cancelled", s.closedReason())
	assert.Equal(t, 0, rm.ConnectedCount())

	assert.Error(t, rm.Cancel("again"), "cancelled is terminal")
	assert.Error(t, rm.Launch())

	ack := rm.Join("p-2", "Bea", room.RolePlayer, &fakeSender{})
	assert.False(t, ack.Accepted)
	assert.Equal(t, "room is closed", ack.Reason)
}

func TestRoomRoundTickerBroadcastsRemainingSeconds(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rounds := []room.RoundDefinition{{Number: 1, QuestionCount: 2, SecondsPerQuest: 5}}
	rm := NewRoom("room-1", room.Config{}, rounds, clock, nil)
	s := &fakeSender{}
	require.True(t, rm.Join("p-1", "Ada", room.RolePlayer, s).Accepted)

	require.NoError(t, rm.Launch())
	require.NoError(t, rm.OpenRound())

	clock.BlockUntil(1)
	clock.Advance(time.Second)

	require.Eventually(t, func() bool {
		return len(s.typed(wire.TypeRoundTimeRemaining)) >= 1
	}, 2*time.Second, 10*time.Millisecond)

	payload, err := wire.ParsePayload(s.typed(wire.TypeRoundTimeRemaining)[0])
	require.NoError(t, err)
	assert.Equal(t, 9, payload.(*wire.RoundTimeRemaining).RemainingSeconds,
		"1s into a 2x5s round leaves 9s")
}

func TestRoomTickerStopsOutsideAsking(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rounds := []room.RoundDefinition{{Number: 1, QuestionCount: 1, SecondsPerQuest: 30}}
	rm := NewRoom("room-1", room.Config{}, rounds, clock, nil)
	s := &fakeSender{}
	require.True(t, rm.Join("p-1", "Ada", room.RolePlayer, s).Accepted)

	require.NoError(t, rm.Launch())
	require.NoError(t, rm.OpenRound())
	require.NoError(t, rm.StartReview())

	clock.Advance(5 * time.Second)
	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, s.typed(wire.TypeRoundTimeRemaining),
		"no countdown broadcasts once the round is under review")
}

func TestRoomDropsSlowConsumers(t *testing.T) {
	rm := newTestRoom(room.Config{}, nil)
	slow := &fakeSender{full: true}
	require.True(t, rm.Join("p-1", "Ada", room.RolePlayer, slow).Accepted)
	require.True(t, rm.Join("p-2", "Bea", room.RolePlayer, &fakeSender{}).Accepted)

	assert.Equal(t, "too slow", slow.closedReason())
	assert.Equal(t, 1, rm.ConnectedCount())
}

func TestRoomRelayPublishesLifecycleEvents(t *testing.T) {
	pub := &fakePublisher{}
	rm := NewRoom("room-1", room.Config{}, nil, clockwork.NewRealClock(), pub)

	require.NoError(t, rm.Launch())
	require.NoError(t, rm.Cancel("host ended"))

	types := pub.types()
	require.Len(t, types, 2)
	assert.Equal(t, wire.TypePhaseChanged, types[0])
	assert.Equal(t, wire.TypeSessionCancelled, types[1])
}

func TestRoomVerify(t *testing.T) {
	rm := newTestRoom(room.Config{Title: "Friday Quiz"}, nil)
	rm.RegisterPlayer(room.Player{ID: "p-1", Name: "Ada"})

	res := rm.Verify("p-1")
	assert.True(t, res.RoomExists)
	assert.True(t, res.ParticipantApproved)
	require.NotNil(t, res.CurrentSnapshot)
	assert.Equal(t, "Friday Quiz", res.CurrentSnapshot.Config.Title)

	res = rm.Verify("stranger")
	assert.True(t, res.RoomExists)
	assert.False(t, res.ParticipantApproved)
}

func TestRoomHostApprovedWithoutRosterEntry(t *testing.T) {
	rm := newTestRoom(room.Config{HostID: "h-1"}, nil)

	res := rm.Verify("h-1")
	assert.True(t, res.ParticipantApproved, "the host is approved by config, not roster")
	assert.Empty(t, res.CurrentSnapshot.Players)

	assert.False(t, rm.ActiveCheck("h-1"), "idle room, nothing to recover into")
	require.NoError(t, rm.Launch())
	assert.True(t, rm.ActiveCheck("h-1"), "host reloading mid-game counts as active")

	ack := rm.Join("h-1", "Host", room.RoleHost, &fakeSender{})
	assert.True(t, ack.Accepted)
	assert.Empty(t, rm.Snapshot().Players, "host join adds no player")
}

func TestRoomHostlessRoomApprovesNoHost(t *testing.T) {
	rm := newTestRoom(room.Config{}, nil)
	assert.False(t, rm.Verify("").ParticipantApproved)
	assert.False(t, rm.Verify("anyone").ParticipantApproved)
}

func TestRoomSnapshotCarriesRoundClockWhileAsking(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rounds := []room.RoundDefinition{{Number: 1, QuestionCount: 2, SecondsPerQuest: 5}}
	rm := NewRoom("room-1", room.Config{}, rounds, clock, nil)

	require.NoError(t, rm.Launch())
	assert.True(t, rm.Snapshot().RoundStartedAt.IsZero(), "no round clock before the round opens")

	require.NoError(t, rm.OpenRound())
	snap := rm.Snapshot()
	assert.Equal(t, clock.Now(), snap.RoundStartedAt)
	assert.Equal(t, 10, snap.RoundDurationSec)

	require.NoError(t, rm.StartReview())
	assert.True(t, rm.Snapshot().RoundStartedAt.IsZero(), "round clock is not exposed after the round closes")
}

func TestRoomActiveCheck(t *testing.T) {
	rm := newTestRoom(room.Config{}, nil)
	rm.RegisterPlayer(room.Player{ID: "p-1", Name: "Ada"})

	assert.False(t, rm.ActiveCheck("p-1"), "registered but idle room, not active")
	assert.False(t, rm.ActiveCheck("stranger"))

	require.NoError(t, rm.Launch())
	assert.True(t, rm.ActiveCheck("p-1"), "registered in a live phase counts as active")
	assert.False(t, rm.ActiveCheck("stranger"))

	s := &fakeSender{}
	require.True(t, rm.Join("p-1", "Ada", room.RolePlayer, s).Accepted)
	assert.True(t, rm.ActiveCheck("p-1"), "live connection counts as active")
}

func TestRegistryLifecycle(t *testing.T) {
	reg := NewRegistry(clockwork.NewRealClock(), nil)

	rm, err := reg.Create("room-1", room.Config{}, nil)
	require.NoError(t, err)
	require.NotNil(t, rm)

	_, err = reg.Create("room-1", room.Config{}, nil)
	assert.Error(t, err, "room IDs are unique")

	assert.Same(t, rm, reg.Get("room-1"))
	assert.Nil(t, reg.Get("missing"))
	assert.Equal(t, 1, reg.Count())

	reg.Remove("room-1")
	assert.Equal(t, 0, reg.Count())
}
