package wire

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fundraisely/quizsync/internal/room"
)

func TestNewEnvelopeCarriesPayload(t *testing.T) {
	env, err := NewEnvelope(TypeVerifyParticipant, "room-1", VerifyParticipant{
		RoomID:        "room-1",
		ParticipantID: "p-1",
	})
	require.NoError(t, err)
	assert.Equal(t, TypeVerifyParticipant, env.Type)
	assert.Equal(t, "room-1", env.RoomID)
	assert.False(t, env.Timestamp.IsZero())

	payload, err := ParsePayload(env)
	require.NoError(t, err)
	vp, ok := payload.(*VerifyParticipant)
	require.True(t, ok)
	assert.Equal(t, "p-1", vp.ParticipantID)
}

func TestReplyEchoesRequestID(t *testing.T) {
	req, err := NewEnvelope(TypeJoinRoom, "room-1", JoinRoom{
		RoomID:      "room-1",
		Participant: JoinIdent{ID: "p-1", Name: "Ada"},
		Role:        room.RolePlayer,
	})
	require.NoError(t, err)

	resp, err := Reply(req, TypeJoinAck, JoinAck{Accepted: true})
	require.NoError(t, err)
	assert.Equal(t, req.ID, resp.ID)
	assert.Equal(t, TypeJoinAck, resp.Type)
	assert.Equal(t, "room-1", resp.RoomID)
}

func TestParsePayloadRejectsUnknownType(t *testing.T) {
	env, err := NewEnvelope(MessageType("teleport_participant"), "room-1", struct{}{})
	require.NoError(t, err)

	_, err = ParsePayload(env)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown message type")
}

func TestParsePayloadRejectsMalformedData(t *testing.T) {
	env, err := NewEnvelope(TypePhaseChanged, "room-1", PhaseChanged{Phase: room.PhaseAsking, CurrentRound: 2})
	require.NoError(t, err)
	env.Data = json.RawMessage(`{"phase": 42}`)

	_, err = ParsePayload(env)
	assert.Error(t, err)
}

func TestParsePayloadSnapshot(t *testing.T) {
	snap := room.Snapshot{
		RoomID:       "room-1",
		Phase:        room.PhaseReviewing,
		CurrentRound: 3,
		Players: []room.Player{
			{ID: "p-1", Name: "Ada", Paid: true},
		},
	}
	env, err := NewEnvelope(TypeRoomSnapshot, "room-1", snap)
	require.NoError(t, err)

	payload, err := ParsePayload(env)
	require.NoError(t, err)
	got, ok := payload.(*room.Snapshot)
	require.True(t, ok)
	assert.Equal(t, room.PhaseReviewing, got.Phase)
	assert.Equal(t, 3, got.CurrentRound)
	require.Len(t, got.Players, 1)
	assert.True(t, got.Players[0].Paid)
}

func TestIsReply(t *testing.T) {
	assert.True(t, TypeVerifyResult.IsReply())
	assert.True(t, TypeActiveCheckResult.IsReply())
	assert.True(t, TypeJoinAck.IsReply())
	assert.False(t, TypeRoomSnapshot.IsReply())
	assert.False(t, TypeJoinRoom.IsReply())
	assert.False(t, TypeSessionCancelled.IsReply())
}

func TestEnvelopeJSONRoundTrip(t *testing.T) {
	env, err := NewEnvelope(TypeSessionCancelled, "room-1", SessionCancelled{Reason: "host ended the quiz"})
	require.NoError(t, err)

	raw, err := json.Marshal(env)
	require.NoError(t, err)

	var got Envelope
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, env.ID, got.ID)
	assert.Equal(t, env.Type, got.Type)

	payload, err := ParsePayload(got)
	require.NoError(t, err)
	assert.Equal(t, "host ended the quiz", payload.(*SessionCancelled).Reason)
}
