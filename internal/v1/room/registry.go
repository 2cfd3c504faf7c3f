package room

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/moli-green/relay/internal/v1/logging"
	"github.com/moli-green/relay/internal/v1/metrics"
)

// Registry is the process-wide mapping from room id to Room. Assign and Prune
// serialize under one lock, which is what upholds the capacity invariant.
type Registry struct {
	mu       sync.Mutex
	rooms    map[string]*Room
	capacity int64
}

// NewRegistry creates an empty registry with production room capacity.
func NewRegistry() *Registry {
	return NewRegistryWithCapacity(Capacity)
}

// NewRegistryWithCapacity creates a registry with an explicit room capacity.
func NewRegistryWithCapacity(capacity int64) *Registry {
	return &Registry{
		rooms:    make(map[string]*Room),
		capacity: capacity,
	}
}

// Assign places a joining connection into a room with free capacity, creating
// a fresh room when none exists. The occupancy increment happens under the
// registry lock, so two concurrent assigns cannot overfill a room. Scan order
// over the map is unspecified; any non-full room is a valid choice.
func (reg *Registry) Assign(connID string) *Room {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	for _, r := range reg.rooms {
		if r.occupancy.Load() < reg.capacity {
			r.occupancy.Add(1)
			return r
		}
	}

	r := newRoom(uuid.New().String())
	r.occupancy.Store(1)
	reg.rooms[r.id] = r
	metrics.ActiveRooms.Inc()
	logging.Info(context.Background(), "created room",
		zap.String("roomId", r.id), zap.String("connectionId", connID))
	return r
}

// Prune removes the room if it still exists and is observed empty under the
// registry lock. Idempotent; a no-op when the room is gone or occupied.
func (reg *Registry) Prune(roomID string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	r, ok := reg.rooms[roomID]
	if !ok || r.occupancy.Load() != 0 {
		return
	}
	delete(reg.rooms, roomID)
	metrics.ActiveRooms.Dec()
	logging.Info(context.Background(), "removed empty room", zap.String("roomId", roomID))
}

// Len returns the number of live rooms.
func (reg *Registry) Len() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.rooms)
}

// Snapshot returns the current rooms. Used by shutdown and diagnostics.
func (reg *Registry) Snapshot() []*Room {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	rooms := make([]*Room, 0, len(reg.rooms))
	for _, r := range reg.rooms {
		rooms = append(rooms, r)
	}
	return rooms
}
