package server

import (
	"fmt"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/fundraisely/quizsync/internal/room"
)

// Registry holds all live rooms.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*Room
	clock clockwork.Clock
	relay EventPublisher
}

// NewRegistry creates an empty registry. relay may be nil.
func NewRegistry(clock clockwork.Clock, relay EventPublisher) *Registry {
	return &Registry{
		rooms: make(map[string]*Room),
		clock: clock,
		relay: relay,
	}
}

// Create adds a new room or fails if the ID is taken.
func (g *Registry) Create(id string, cfg room.Config, rounds []room.RoundDefinition) (*Room, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.rooms[id]; exists {
		return nil, fmt.Errorf("room %s already exists", id)
	}
	rm := NewRoom(id, cfg, rounds, g.clock, g.relay)
	g.rooms[id] = rm
	return rm, nil
}

// Get returns the room or nil.
func (g *Registry) Get(id string) *Room {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.rooms[id]
}

// Remove deletes a room from the registry.
func (g *Registry) Remove(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.rooms, id)
}

// Count returns the number of live rooms.
func (g *Registry) Count() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.rooms)
}
