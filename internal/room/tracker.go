package room

// Transition is the verdict of applying an incoming phase update to the
// locally tracked phase.
type Transition int

const (
	// TransitionAccepted means the update moved the tracker forward within
	// the current round.
	TransitionAccepted Transition = iota
	// TransitionLive means the update additionally revealed that the session
	// is already mid-game while the local view still believed it was
	// pre-launch; the consumer must route into the active game view.
	TransitionLive
	// TransitionRoundReset means the round number advanced; per-round state
	// (timers, question caches) must be cleared before consuming the update.
	TransitionRoundReset
	// TransitionRejected means the update was a same-round regression and
	// must be ignored.
	TransitionRejected
	// TransitionCancelled means the session was cancelled; all cached domain
	// state must be torn down regardless of current phase.
	TransitionCancelled
)

// PhaseTracker is the room phase state machine. It consumes the phase from
// recovery snapshots and live phase_changed updates, rejecting regressions
// keyed by round number. The legitimate launched -> waiting micro-cycle
// between rounds is distinguished from an illegal cross-round regression by
// the round number alone.
type PhaseTracker struct {
	phase     Phase
	round     int
	seeded    bool
	cancelled bool
}

// NewPhaseTracker returns a tracker that believes the session is pre-launch.
func NewPhaseTracker() *PhaseTracker {
	return &PhaseTracker{phase: PhaseWaiting}
}

// Phase returns the currently tracked phase.
func (t *PhaseTracker) Phase() Phase { return t.phase }

// Round returns the currently tracked round number.
func (t *PhaseTracker) Round() int { return t.round }

// Cancelled reports whether a cancellation has been observed.
func (t *PhaseTracker) Cancelled() bool { return t.cancelled }

// Apply feeds one phase observation into the tracker and returns the verdict.
func (t *PhaseTracker) Apply(phase Phase, round int) Transition {
	if t.cancelled {
		return TransitionRejected
	}
	if phase == PhaseCancelled {
		t.cancelled = true
		t.phase = PhaseCancelled
		return TransitionCancelled
	}

	wasPreLaunch := !t.seeded || (t.phase == PhaseWaiting && t.round == 0)

	switch {
	case round > t.round:
		t.phase = phase
		t.round = round
		t.seeded = true
		if wasPreLaunch && phase.Live() {
			return TransitionLive
		}
		return TransitionRoundReset
	case round == t.round:
		if t.seeded && phase.rank() < t.phase.rank() {
			return TransitionRejected
		}
		t.phase = phase
		t.seeded = true
		if wasPreLaunch && phase.Live() {
			return TransitionLive
		}
		return TransitionAccepted
	default:
		return TransitionRejected
	}
}

// Force seeds the tracker from an authoritative snapshot. Unlike Apply it
// never rejects: a recovery snapshot outranks whatever phase was tracked
// before, including a same-round phase the tracker would otherwise score as a
// regression. Cancellation still tears down.
func (t *PhaseTracker) Force(phase Phase, round int) Transition {
	if t.cancelled {
		return TransitionRejected
	}
	if phase == PhaseCancelled {
		t.cancelled = true
		t.phase = PhaseCancelled
		return TransitionCancelled
	}

	wasPreLaunch := !t.seeded || (t.phase == PhaseWaiting && t.round == 0)
	roundAdvanced := round > t.round
	t.phase = phase
	t.round = round
	t.seeded = true
	if wasPreLaunch && phase.Live() {
		return TransitionLive
	}
	if roundAdvanced {
		return TransitionRoundReset
	}
	return TransitionAccepted
}

// Reset returns the tracker to its initial pre-launch belief. Used after a
// full session teardown.
func (t *PhaseTracker) Reset() {
	*t = PhaseTracker{phase: PhaseWaiting}
}
