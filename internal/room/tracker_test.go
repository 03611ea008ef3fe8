package room

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPhaseLive(t *testing.T) {
	assert.False(t, PhaseWaiting.Live())
	assert.True(t, PhaseLaunched.Live())
	assert.True(t, PhaseAsking.Live())
	assert.True(t, PhaseReviewing.Live())
	assert.True(t, PhaseLeaderboard.Live())
	assert.True(t, PhaseTiebreaker.Live())
	assert.False(t, PhaseDistributingPrizes.Live())
	assert.False(t, PhaseComplete.Live())
	assert.False(t, PhaseCancelled.Live())
}

func TestTrackerDetectsLiveSessionOnFirstObservation(t *testing.T) {
	tests := []struct {
		phase Phase
		round int
		want  Transition
	}{
		{PhaseAsking, 2, TransitionLive},
		{PhaseReviewing, 1, TransitionLive},
		{PhaseLeaderboard, 3, TransitionLive},
		{PhaseLaunched, 1, TransitionLive},
		{PhaseTiebreaker, 4, TransitionLive},
		{PhaseWaiting, 0, TransitionAccepted},
	}
	for _, tc := range tests {
		tr := NewPhaseTracker()
		got := tr.Apply(tc.phase, tc.round)
		assert.Equal(t, tc.want, got, "phase %s round %d", tc.phase, tc.round)
	}
}

func TestTrackerRejectsSameRoundRegression(t *testing.T) {
	tr := NewPhaseTracker()
	require.Equal(t, TransitionLive, tr.Apply(PhaseReviewing, 2))

	got := tr.Apply(PhaseAsking, 2)
	assert.Equal(t, TransitionRejected, got)
	assert.Equal(t, PhaseReviewing, tr.Phase())
	assert.Equal(t, 2, tr.Round())
}

func TestTrackerRejectsOlderRound(t *testing.T) {
	tr := NewPhaseTracker()
	tr.Apply(PhaseAsking, 3)

	assert.Equal(t, TransitionRejected, tr.Apply(PhaseLeaderboard, 2))
	assert.Equal(t, 3, tr.Round())
}

func TestTrackerAllowsLaunchedMicroCycleBetweenRounds(t *testing.T) {
	tr := NewPhaseTracker()
	tr.Apply(PhaseAsking, 2)
	tr.Apply(PhaseReviewing, 2)
	tr.Apply(PhaseLeaderboard, 2)

	// The between-rounds micro-cycle drops back to launched but carries the
	// next round number, so it is a reset rather than a regression.
	got := tr.Apply(PhaseLaunched, 3)
	assert.Equal(t, TransitionRoundReset, got)
	assert.Equal(t, PhaseLaunched, tr.Phase())
	assert.Equal(t, 3, tr.Round())
}

func TestTrackerForwardProgressWithinRound(t *testing.T) {
	tr := NewPhaseTracker()
	require.Equal(t, TransitionLive, tr.Apply(PhaseLaunched, 1))
	assert.Equal(t, TransitionAccepted, tr.Apply(PhaseAsking, 1))
	assert.Equal(t, TransitionAccepted, tr.Apply(PhaseReviewing, 1))
	assert.Equal(t, TransitionAccepted, tr.Apply(PhaseLeaderboard, 1))
}

func TestTrackerCancelledFromAnyState(t *testing.T) {
	states := []struct {
		phase Phase
		round int
	}{
		{PhaseWaiting, 0},
		{PhaseAsking, 1},
		{PhaseLeaderboard, 5},
		{PhaseDistributingPrizes, 5},
	}
	for _, st := range states {
		tr := NewPhaseTracker()
		tr.Apply(st.phase, st.round)

		assert.Equal(t, TransitionCancelled, tr.Apply(PhaseCancelled, st.round))
		assert.True(t, tr.Cancelled())
		// Terminal: nothing moves the tracker afterwards.
		assert.Equal(t, TransitionRejected, tr.Apply(PhaseAsking, st.round+1))
	}
}

func TestTrackerForceOverridesSameRoundRegression(t *testing.T) {
	tr := NewPhaseTracker()
	require.Equal(t, TransitionLive, tr.Apply(PhaseReviewing, 2))

	// An authoritative snapshot may legitimately carry an earlier phase of
	// the same round; it reseeds the tracker instead of being rejected.
	got := tr.Force(PhaseAsking, 2)
	assert.Equal(t, TransitionAccepted, got)
	assert.Equal(t, PhaseAsking, tr.Phase())

	// Forward progress is then judged against the snapshot's phase.
	assert.Equal(t, TransitionAccepted, tr.Apply(PhaseReviewing, 2))
}

func TestTrackerForceVerdicts(t *testing.T) {
	tr := NewPhaseTracker()
	assert.Equal(t, TransitionLive, tr.Force(PhaseAsking, 1), "first live observation")
	assert.Equal(t, TransitionRoundReset, tr.Force(PhaseAsking, 2), "round advanced")
	assert.Equal(t, TransitionCancelled, tr.Force(PhaseCancelled, 2))
	assert.Equal(t, TransitionRejected, tr.Force(PhaseAsking, 3), "cancelled is terminal")
}

func TestTrackerResetReturnsToPreLaunch(t *testing.T) {
	tr := NewPhaseTracker()
	tr.Apply(PhaseCancelled, 3)
	tr.Reset()

	assert.False(t, tr.Cancelled())
	assert.Equal(t, PhaseWaiting, tr.Phase())
	assert.Equal(t, TransitionLive, tr.Apply(PhaseAsking, 1))
}
