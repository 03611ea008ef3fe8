package room

// Phase represents the discrete lifecycle stage of a quiz session.
type Phase string

const (
	PhaseWaiting            Phase = "waiting"
	PhaseLaunched           Phase = "launched"
	PhaseAsking             Phase = "asking"
	PhaseReviewing          Phase = "reviewing"
	PhaseLeaderboard        Phase = "leaderboard"
	PhaseTiebreaker         Phase = "tiebreaker"
	PhaseDistributingPrizes Phase = "distributing_prizes"
	PhaseComplete           Phase = "complete"
	PhaseCancelled          Phase = "cancelled"
)

// phaseRank orders phases within a single round so that regressions can be
// detected. Phases in later rounds always supersede earlier rounds regardless
// of rank.
var phaseRank = map[Phase]int{
	PhaseWaiting:            0,
	PhaseLaunched:           1,
	PhaseAsking:             2,
	PhaseReviewing:          3,
	PhaseLeaderboard:        4,
	PhaseTiebreaker:         5,
	PhaseDistributingPrizes: 6,
	PhaseComplete:           7,
	PhaseCancelled:          8,
}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	_, ok := phaseRank[p]
	return ok
}

// Live reports whether the session is mid-game for this phase. A participant
// whose snapshot arrives in a live phase must be routed straight into the
// active game view, never the pre-game waiting view.
func (p Phase) Live() bool {
	switch p {
	case PhaseLaunched, PhaseAsking, PhaseReviewing, PhaseLeaderboard, PhaseTiebreaker:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are possible.
func (p Phase) Terminal() bool {
	return p == PhaseComplete || p == PhaseCancelled
}

func (p Phase) rank() int { return phaseRank[p] }
