package wire

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fundraisely/quizsync/internal/room"
)

// MessageType tags every envelope crossing the websocket channel.
type MessageType string

// Client -> server requests. Each expects exactly one correlated reply
// carrying the same envelope ID.
const (
	TypeVerifyParticipant      MessageType = "verify_participant"
	TypeCheckActiveParticipant MessageType = "check_active_participant"
	TypeJoinRoom               MessageType = "join_room"
	TypeRequestSnapshot        MessageType = "request_snapshot"
)

// Server -> client replies.
const (
	TypeVerifyResult      MessageType = "verify_result"
	TypeActiveCheckResult MessageType = "active_check_result"
	TypeJoinAck           MessageType = "join_ack"
)

// Server -> client pushes, delivered any time once joined.
const (
	TypeRoomSnapshot       MessageType = "room_snapshot"
	TypePlayerListChanged  MessageType = "player_list_changed"
	TypeAdminListChanged   MessageType = "admin_list_changed"
	TypePhaseChanged       MessageType = "phase_changed"
	TypeRoundTimeRemaining MessageType = "round_time_remaining"
	TypeSessionCancelled   MessageType = "session_cancelled"
	TypeSessionError       MessageType = "session_error"
)

// Envelope is the framing shared by every message on the channel. Replies to
// requests echo the request's ID; pushes carry a fresh ID.
type Envelope struct {
	ID        uuid.UUID       `json:"id"`
	Type      MessageType     `json:"type"`
	RoomID    string          `json:"room_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

type VerifyParticipant struct {
	RoomID        string `json:"room_id"`
	ParticipantID string `json:"participant_id"`
}

type VerifyResult struct {
	RoomExists          bool           `json:"room_exists"`
	ParticipantApproved bool           `json:"participant_approved"`
	CurrentSnapshot     *room.Snapshot `json:"current_snapshot,omitempty"`
}

type CheckActiveParticipant struct {
	RoomID        string `json:"room_id"`
	ParticipantID string `json:"participant_id"`
}

type ActiveCheckResult struct {
	IsInActiveSession bool `json:"is_in_active_session"`
}

type JoinRoom struct {
	RoomID      string    `json:"room_id"`
	Participant JoinIdent `json:"participant"`
	Role        room.Role `json:"role"`
}

type JoinIdent struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type JoinAck struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

type RequestSnapshot struct {
	RoomID string `json:"room_id"`
}

type PlayerListChanged struct {
	Players []room.Player `json:"players"`
}

type AdminListChanged struct {
	Admins []room.Admin `json:"admins"`
}

type PhaseChanged struct {
	Phase        room.Phase `json:"phase"`
	CurrentRound int        `json:"current_round"`
}

type RoundTimeRemaining struct {
	RemainingSeconds int `json:"remaining_seconds"`
}

type SessionCancelled struct {
	Reason string `json:"reason"`
}

type SessionError struct {
	Message string `json:"message"`
}

// NewEnvelope wraps a payload in a fresh envelope. Marshalling a known
// payload type cannot fail, so errors here indicate a programming bug and
// surface as such.
func NewEnvelope(t MessageType, roomID string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return Envelope{
		ID:        uuid.New(),
		Type:      t,
		RoomID:    roomID,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}, nil
}

// Reply builds an envelope correlated to a request by reusing its ID.
func Reply(req Envelope, t MessageType, payload any) (Envelope, error) {
	env, err := NewEnvelope(t, req.RoomID, payload)
	if err != nil {
		return Envelope{}, err
	}
	env.ID = req.ID
	return env, nil
}

// ParsePayload validates and decodes the envelope's data against the tagged
// union of known message types. Unknown types and malformed payloads are
// rejected with an error rather than trusted as untyped data.
func ParsePayload(env Envelope) (any, error) {
	var payload any
	switch env.Type {
	case TypeVerifyParticipant:
		payload = &VerifyParticipant{}
	case TypeVerifyResult:
		payload = &VerifyResult{}
	case TypeCheckActiveParticipant:
		payload = &CheckActiveParticipant{}
	case TypeActiveCheckResult:
		payload = &ActiveCheckResult{}
	case TypeJoinRoom:
		payload = &JoinRoom{}
	case TypeJoinAck:
		payload = &JoinAck{}
	case TypeRequestSnapshot:
		payload = &RequestSnapshot{}
	case TypeRoomSnapshot:
		payload = &room.Snapshot{}
	case TypePlayerListChanged:
		payload = &PlayerListChanged{}
	case TypeAdminListChanged:
		payload = &AdminListChanged{}
	case TypePhaseChanged:
		payload = &PhaseChanged{}
	case TypeRoundTimeRemaining:
		payload = &RoundTimeRemaining{}
	case TypeSessionCancelled:
		payload = &SessionCancelled{}
	case TypeSessionError:
		payload = &SessionError{}
	default:
		return nil, fmt.Errorf("unknown message type %q", env.Type)
	}
	if err := json.Unmarshal(env.Data, payload); err != nil {
		return nil, fmt.Errorf("unmarshal %s payload: %w", env.Type, err)
	}
	return payload, nil
}

// IsReply reports whether t is a correlated reply to a client request.
func (t MessageType) IsReply() bool {
	switch t {
	case TypeVerifyResult, TypeActiveCheckResult, TypeJoinAck:
		return true
	}
	return false
}
