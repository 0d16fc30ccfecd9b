package call

import (
	"context"

	"medicall/models"
)

// RoomKeyPrefix namespaces call rooms by appointment.
const RoomKeyPrefix = "appointment:"

// RoomKey derives the room key for an appointment id.
func RoomKey(appointmentID string) string {
	return RoomKeyPrefix + appointmentID
}

// TokenVerifier validates a connection credential.
type TokenVerifier interface {
	Verify(token string) (models.Identity, error)
}

// Peer is a connected session as seen by a room.
type Peer interface {
	ID() string
	// Deliver enqueues ev for the peer without blocking. It returns false
	// when the peer is gone or could not keep up.
	Deliver(ev models.Event) bool
}

// RoomRegistry tracks which sessions are in which call room and fans room
// events out to them. Every room-scoped notification goes through the
// registry so that members see them in mutation order.
type RoomRegistry interface {
	// Join admits peer to roomKey. The joiner receives join-ok, then every
	// member receives room-users; room-ready follows the first time the room
	// reaches two members. Joining twice is a no-op apart from the notices.
	// Returns ErrRoomFull beyond capacity.
	Join(ctx context.Context, roomKey string, peer Peer) (int, error)
	// Leave removes a session. Remaining members receive peer-left and
	// room-users; an emptied room is deleted.
	Leave(ctx context.Context, roomKey, sessionID string) (int, error)
	// SizeOf returns the current occupancy, zero for unknown rooms.
	SizeOf(ctx context.Context, roomKey string) (int, error)
	// Broadcast delivers ev to every member except exceptSessionID.
	Broadcast(ctx context.Context, roomKey, exceptSessionID string, ev models.Event) error
	Close() error
}

// PresenceTracker records which users are online. One entry per user; the
// most recent session wins.
type PresenceTracker interface {
	Announce(ctx context.Context, userID, sessionID string) error
	// Remove deletes the entry only while it still points at sessionID.
	Remove(ctx context.Context, userID, sessionID string) (bool, error)
	Online(ctx context.Context) ([]string, error)
}
