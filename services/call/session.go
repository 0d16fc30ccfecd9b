package call

import (
	"sync"
	"time"

	"medicall/models"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Session states.
const (
	StateAuthenticated = "authenticated"
	StateInRoom        = "in-room"
	StateTerminated    = "terminated"
)

// DefaultOutboundBuffer is the number of events queued for a slow client
// before it is dropped.
const DefaultOutboundBuffer = 64

// Session is one authenticated live connection. It is created by
// Controller.Open and destroyed by Controller.Disconnect.
type Session struct {
	id        string
	identity  models.Identity
	createdAt time.Time
	limiter   *rate.Limiter

	// Lifecycle state, guarded by mu.
	mu        sync.Mutex
	room      string
	announced bool
	closed    bool

	// Outbound queue, guarded by sendMu.
	sendMu     sync.Mutex
	send       chan models.Event
	sendClosed bool

	disconnectOnce sync.Once
}

func newSession(identity models.Identity, buffer int, limiter *rate.Limiter) *Session {
	if buffer <= 0 {
		buffer = DefaultOutboundBuffer
	}
	return &Session{
		id:        uuid.New().String(),
		identity:  identity,
		createdAt: time.Now(),
		limiter:   limiter,
		send:      make(chan models.Event, buffer),
	}
}

func (s *Session) ID() string                { return s.id }
func (s *Session) UserID() string            { return s.identity.UserID }
func (s *Session) Role() string              { return s.identity.Role }
func (s *Session) Identity() models.Identity { return s.identity }

// CurrentRoom returns the room key the session is in, or "".
func (s *Session) CurrentRoom() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}

// State reports where the session is in its lifecycle.
func (s *Session) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.closed:
		return StateTerminated
	case s.room != "":
		return StateInRoom
	default:
		return StateAuthenticated
	}
}

// Outbound is drained by the transport's writer. It is closed when the
// session ends or falls too far behind.
func (s *Session) Outbound() <-chan models.Event {
	return s.send
}

// Deliver enqueues ev. A full queue closes the outbound channel so the
// transport tears the connection down.
func (s *Session) Deliver(ev models.Event) bool {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.sendClosed {
		return false
	}
	select {
	case s.send <- ev:
		return true
	default:
		s.sendClosed = true
		close(s.send)
		return false
	}
}

// Stalled reports whether the outbound queue has been shut.
func (s *Session) Stalled() bool {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return s.sendClosed
}

func (s *Session) closeOutbound() {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if !s.sendClosed {
		s.sendClosed = true
		close(s.send)
	}
}

func (s *Session) allow() bool {
	return s.limiter == nil || s.limiter.Allow()
}
