package call

import (
	"context"
	"sync"
	"time"

	"medicall/models"
)

// DefaultRoomCapacity is the number of participants a call room admits.
const DefaultRoomCapacity = 2

type memoryRoom struct {
	members   map[string]Peer
	createdAt time.Time
	ready     bool
}

// MemoryRegistry is a RoomRegistry for a single process.
type MemoryRegistry struct {
	mu       sync.Mutex
	rooms    map[string]*memoryRoom
	capacity int
}

// NewMemoryRegistry creates an in-process registry. capacity <= 0 disables the cap.
func NewMemoryRegistry(capacity int) *MemoryRegistry {
	return &MemoryRegistry{
		rooms:    make(map[string]*memoryRoom),
		capacity: capacity,
	}
}

func (r *MemoryRegistry) Join(ctx context.Context, roomKey string, peer Peer) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomKey]
	if !ok {
		room = &memoryRoom{members: make(map[string]Peer), createdAt: time.Now()}
	}

	_, already := room.members[peer.ID()]
	if !already {
		if r.capacity > 0 && len(room.members) >= r.capacity {
			return len(room.members), ErrRoomFull
		}
		room.members[peer.ID()] = peer
		r.rooms[roomKey] = room
	}
	count := len(room.members)

	peer.Deliver(models.NewEvent(models.EventJoinOK, models.JoinOK{RoomKey: roomKey}))
	r.fanout(room, "", models.NewEvent(models.EventRoomUsers, models.RoomUsers{Count: count}))
	if !already && count == 2 && !room.ready {
		room.ready = true
		r.fanout(room, "", models.NewEvent(models.EventRoomReady, nil))
	}
	return count, nil
}

func (r *MemoryRegistry) Leave(ctx context.Context, roomKey, sessionID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomKey]
	if !ok {
		return 0, nil
	}
	if _, member := room.members[sessionID]; !member {
		return len(room.members), nil
	}
	delete(room.members, sessionID)

	count := len(room.members)
	if count == 0 {
		delete(r.rooms, roomKey)
		return 0, nil
	}
	r.fanout(room, "", models.NewEvent(models.EventPeerLeft, nil))
	r.fanout(room, "", models.NewEvent(models.EventRoomUsers, models.RoomUsers{Count: count}))
	return count, nil
}

func (r *MemoryRegistry) SizeOf(ctx context.Context, roomKey string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if room, ok := r.rooms[roomKey]; ok {
		return len(room.members), nil
	}
	return 0, nil
}

func (r *MemoryRegistry) Broadcast(ctx context.Context, roomKey, exceptSessionID string, ev models.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if room, ok := r.rooms[roomKey]; ok {
		r.fanout(room, exceptSessionID, ev)
	}
	return nil
}

// Exists reports whether roomKey currently has an entry.
func (r *MemoryRegistry) Exists(roomKey string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.rooms[roomKey]
	return ok
}

// RoomCount returns the number of live rooms.
func (r *MemoryRegistry) RoomCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

func (r *MemoryRegistry) Close() error { return nil }

// fanout must be called with r.mu held.
func (r *MemoryRegistry) fanout(room *memoryRoom, except string, ev models.Event) {
	for id, p := range room.members {
		if id == except {
			continue
		}
		p.Deliver(ev)
	}
}
