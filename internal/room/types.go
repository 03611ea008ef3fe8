package room

import "time"

// Role identifies what a participant is allowed to do in a room.
type Role string

const (
	RoleHost   Role = "host"
	RolePlayer Role = "player"
	RoleAdmin  Role = "admin"
)

// Player is one registered participant in a room. The economy flags (Paid,
// Extras, Disqualified) are synchronized read-only; fund movement itself is
// handled by the on-chain ledger, not by this engine.
type Player struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Paid         bool              `json:"paid"`
	Extras       uint64            `json:"extras"`
	Disqualified bool              `json:"disqualified"`
	Credentials  map[string]string `json:"credentials,omitempty"`
	JoinedAt     time.Time         `json:"joined_at,omitzero"`
	LastSeenAt   time.Time         `json:"last_seen_at,omitzero"`
}

// Admin is a non-playing participant with host-delegated controls.
type Admin struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// RoundDefinition describes one configured round of the quiz.
type RoundDefinition struct {
	Number          int    `json:"number"`
	Title           string `json:"title"`
	Kind            string `json:"kind"` // e.g. "general", "picture", "tiebreaker"
	QuestionCount   int    `json:"question_count"`
	SecondsPerQuest int    `json:"seconds_per_question"`
}

// PrizeSplit is the percentage share of the prize pool for one place.
type PrizeSplit struct {
	Place int `json:"place"`
	Pct   int `json:"pct"`
}

// Config is the room configuration delivered inside every snapshot. HostID
// identifies the room's host, who needs no roster entry. The ledger fields
// mirror the on-chain room account for ledger-backed rooms and are
// zero-valued for ephemeral rooms.
type Config struct {
	Title           string       `json:"title"`
	HostID          string       `json:"host_id,omitempty"`
	MaxPlayers      int          `json:"max_players"`
	ContractAddress string       `json:"contract_address,omitempty"`
	EntryFee        uint64       `json:"entry_fee,omitempty"`
	Currency        string       `json:"currency,omitempty"`
	HostFeeBps      int          `json:"host_fee_bps,omitempty"`
	PrizePoolBps    int          `json:"prize_pool_bps,omitempty"`
	CharityName     string       `json:"charity_name,omitempty"`
	CharityMemo     string       `json:"charity_memo,omitempty"`
	PrizeSplits     []PrizeSplit `json:"prize_splits,omitempty"`
}

// LedgerBacked reports whether the room has an on-chain contract behind it.
// Identity persistence is only allowed for ledger-backed rooms.
func (c Config) LedgerBacked() bool {
	return c.ContractAddress != ""
}

// Snapshot is a full point-in-time copy of room state, replaced wholesale on
// every recovery and patched incrementally by live updates afterwards. While
// a round is open the snapshot also carries the round clock's start and
// duration, so a recovering view has a countdown before the first
// authoritative tick arrives.
type Snapshot struct {
	RoomID           string            `json:"room_id"`
	Phase            Phase             `json:"phase"`
	CurrentRound     int               `json:"current_round"`
	RoundStartedAt   time.Time         `json:"round_started_at,omitzero"`
	RoundDurationSec int               `json:"round_duration_seconds,omitempty"`
	Rounds           []RoundDefinition `json:"rounds"`
	Players          []Player          `json:"players"`
	Admins           []Admin           `json:"admins"`
	Config           Config            `json:"config"`
}

// FindPlayer returns the player record for id, if present.
func (s *Snapshot) FindPlayer(id string) (Player, bool) {
	for _, p := range s.Players {
		if p.ID == id {
			return p, true
		}
	}
	return Player{}, false
}
