package client

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fundraisely/quizsync/internal/room"
)

// Identity is the resolved {roomId, participantId, role} triple. It is
// resolved once per navigation and treated as read-only by everything except
// the resolver.
type Identity struct {
	RoomID        string    `json:"room_id"`
	ParticipantID string    `json:"participant_id"`
	Role          room.Role `json:"role"`
}

// Known reports whether the identity is complete enough to start the join
// protocol.
func (i Identity) Known() bool {
	return i.RoomID != "" && i.ParticipantID != ""
}

// NavContext carries the navigation-supplied path/query values.
type NavContext struct {
	RoomID        string
	ParticipantID string
	Role          room.Role
}

// ResolveIdentity derives the session identity from navigation context plus
// any previously persisted identity for the same room. Navigation-supplied
// values always win over persisted ones.
func ResolveIdentity(nav NavContext, store *IdentityStore) Identity {
	id := Identity{
		RoomID:        nav.RoomID,
		ParticipantID: nav.ParticipantID,
		Role:          nav.Role,
	}
	if store != nil && id.RoomID != "" {
		if persisted, ok := store.Load(id.RoomID); ok {
			if id.ParticipantID == "" {
				id.ParticipantID = persisted.ParticipantID
			}
			if id.Role == "" {
				id.Role = persisted.Role
			}
		}
	}
	if id.Role == "" {
		id.Role = room.RolePlayer
	}
	if id.ParticipantID == "" && id.RoomID != "" {
		id.ParticipantID = uuid.New().String()
	}
	return id
}

// IdentityStore persists identities to durable storage. The engine writes
// through it only for ledger-backed rooms, so identity never leaks across
// unrelated ephemeral rooms.
type IdentityStore struct {
	dir string
}

// NewIdentityStore creates the store rooted at dir, creating it if needed.
func NewIdentityStore(dir string) (*IdentityStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create identity dir: %w", err)
	}
	return &IdentityStore{dir: dir}, nil
}

// Persist writes the identity for its room.
func (s *IdentityStore) Persist(id Identity) error {
	data, err := json.Marshal(id)
	if err != nil {
		return fmt.Errorf("marshal identity: %w", err)
	}
	if err := os.WriteFile(s.path(id.RoomID), data, 0o644); err != nil {
		return fmt.Errorf("write identity: %w", err)
	}
	return nil
}

// Load returns the persisted identity for a room, if any.
func (s *IdentityStore) Load(roomID string) (Identity, bool) {
	data, err := os.ReadFile(s.path(roomID))
	if err != nil {
		return Identity{}, false
	}
	var id Identity
	if err := json.Unmarshal(data, &id); err != nil {
		log.Warn().Err(err).Str("room_id", roomID).Msg("discarding corrupt persisted identity")
		return Identity{}, false
	}
	return id, true
}

// Delete removes the persisted identity for a room.
func (s *IdentityStore) Delete(roomID string) {
	_ = os.Remove(s.path(roomID))
}

func (s *IdentityStore) path(roomID string) string {
	return filepath.Join(s.dir, "identity_"+sanitizeKey(roomID)+".json")
}

func sanitizeKey(k string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, k)
}
