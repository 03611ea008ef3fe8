package client

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/fundraisely/quizsync/internal/room"
)

// SnapshotCache persists the last known player record per (roomID,
// participantID) so a view can paint something immediately after a reload,
// before live data arrives. It is never authoritative: a fresher live or
// recovery snapshot always overwrites it.
type SnapshotCache struct {
	dir string
}

// NewSnapshotCache creates a cache rooted at dir, creating it if needed.
func NewSnapshotCache(dir string) (*SnapshotCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &SnapshotCache{dir: dir}, nil
}

// Put stores the player record for a participant in a room.
func (c *SnapshotCache) Put(roomID, participantID string, p room.Player) {
	data, err := json.Marshal(p)
	if err != nil {
		log.Warn().Err(err).Msg("marshal cached player record")
		return
	}
	if err := os.WriteFile(c.path(roomID, participantID), data, 0o644); err != nil {
		log.Warn().Err(err).Str("room_id", roomID).Msg("write cached player record")
	}
}

// Get returns the cached player record, if any.
func (c *SnapshotCache) Get(roomID, participantID string) (room.Player, bool) {
	data, err := os.ReadFile(c.path(roomID, participantID))
	if err != nil {
		return room.Player{}, false
	}
	var p room.Player
	if err := json.Unmarshal(data, &p); err != nil {
		log.Warn().Err(err).Str("room_id", roomID).Msg("discarding corrupt cached player record")
		return room.Player{}, false
	}
	return p, true
}

// Delete removes the cache entry for a participant in a room.
func (c *SnapshotCache) Delete(roomID, participantID string) {
	_ = os.Remove(c.path(roomID, participantID))
}

func (c *SnapshotCache) path(roomID, participantID string) string {
	name := "player_" + sanitizeKey(roomID) + "_" + sanitizeKey(participantID) + ".json"
	return filepath.Join(c.dir, name)
}
