package call

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"medicall/models"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// cleanupTimeout bounds registry and presence calls made while a session
// is torn down, after its own context is already gone.
const cleanupTimeout = 5 * time.Second

// Options tune per-session limits.
type Options struct {
	EventsPerSecond int // 0 disables inbound rate limiting
	EventBurst      int
	OutboundBuffer  int
}

// Controller drives each connection through authentication, room
// admission, signaling and cleanup.
type Controller struct {
	Verifier TokenVerifier
	Gate     AppointmentGate
	Rooms    RoomRegistry
	Presence PresenceTracker
	Relay    *SignalRelay
	Metrics  *Metrics
	Logger   *zap.Logger
	Options  Options

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewController wires the collaborators together.
func NewController(verifier TokenVerifier, gate AppointmentGate, rooms RoomRegistry, presence PresenceTracker, metrics *Metrics, logger *zap.Logger, opts Options) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		Verifier: verifier,
		Gate:     gate,
		Rooms:    rooms,
		Presence: presence,
		Relay:    &SignalRelay{Rooms: rooms, Metrics: metrics},
		Metrics:  metrics,
		Logger:   logger,
		Options:  opts,
		sessions: make(map[string]*Session),
	}
}

// Authenticate verifies a handshake token. It runs before a session exists,
// so a refused connection never reaches any room logic.
func (c *Controller) Authenticate(token string) (models.Identity, error) {
	id, err := c.Verifier.Verify(token)
	if err != nil {
		c.Metrics.authFailed()
		c.Logger.Info("Socket handshake refused", zap.Error(err))
		return models.Identity{}, err
	}
	return id, nil
}

// Open registers a session for a verified identity.
func (c *Controller) Open(id models.Identity) *Session {
	var limiter *rate.Limiter
	if c.Options.EventsPerSecond > 0 {
		burst := c.Options.EventBurst
		if burst <= 0 {
			burst = c.Options.EventsPerSecond
		}
		limiter = rate.NewLimiter(rate.Limit(c.Options.EventsPerSecond), burst)
	}
	s := newSession(id, c.Options.OutboundBuffer, limiter)

	c.mu.Lock()
	c.sessions[s.ID()] = s
	c.mu.Unlock()

	c.Metrics.sessionOpened()
	c.Logger.Debug("Session opened",
		zap.String("sessionID", s.ID()),
		zap.String("userID", id.UserID),
		zap.String("role", id.Role))
	return s
}

// SessionCount returns the number of live sessions on this process.
func (c *Controller) SessionCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sessions)
}

// HandleEvent processes one inbound event to completion. A panic is
// contained to this event.
func (c *Controller) HandleEvent(ctx context.Context, s *Session, ev models.Event) {
	defer func() {
		if r := recover(); r != nil {
			c.Logger.Error("Recovered from panic in socket event",
				zap.String("sessionID", s.ID()),
				zap.String("event", ev.Name),
				zap.Any("panic", r))
		}
	}()

	if s.State() == StateTerminated {
		return
	}
	if !s.allow() {
		c.Logger.Warn("Socket event rate limit exceeded",
			zap.String("sessionID", s.ID()),
			zap.String("event", ev.Name))
		return
	}

	switch ev.Name {
	case models.EventAnnouncePresence:
		var req models.PresencePayload
		_ = decode(ev.Data, &req)
		c.announcePresence(ctx, s, req)
	case models.EventJoinRoom, models.EventJoinAppointment:
		var req models.RoomRequest
		if err := decode(ev.Data, &req); err != nil || req.AppointmentID == "" {
			c.deny(s, "", Deny(ReasonNotFound))
			return
		}
		c.joinRoom(ctx, s, req.AppointmentID)
	case models.EventSignal:
		var req models.SignalRequest
		if err := decode(ev.Data, &req); err != nil {
			c.Logger.Debug("Dropping undecodable signal", zap.String("sessionID", s.ID()), zap.Error(err))
			c.Metrics.signalDropped()
			return
		}
		c.signal(ctx, s, req)
	case models.EventLeaveRoom, models.EventLeaveAppointment:
		var req models.RoomRequest
		_ = decode(ev.Data, &req)
		c.leaveRoom(s, req.AppointmentID)
	default:
		c.Logger.Debug("Ignoring unknown socket event",
			zap.String("sessionID", s.ID()),
			zap.String("event", ev.Name))
	}
}

func decode(data json.RawMessage, v interface{}) error {
	if len(data) == 0 {
		return errors.New("empty payload")
	}
	return json.Unmarshal(data, v)
}

func (c *Controller) announcePresence(ctx context.Context, s *Session, req models.PresencePayload) {
	if req.UserID != "" && req.UserID != s.UserID() {
		c.Logger.Debug("Ignoring presence claim for another user",
			zap.String("sessionID", s.ID()),
			zap.String("claimed", req.UserID))
	}
	if err := c.Presence.Announce(ctx, s.UserID(), s.ID()); err != nil {
		c.Logger.Warn("Failed to record presence", zap.String("sessionID", s.ID()), zap.Error(err))
		return
	}

	s.mu.Lock()
	if s.closed {
		// Disconnect ran while the entry was being written and did not see it.
		s.mu.Unlock()
		cleanupCtx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()
		if _, err := c.Presence.Remove(cleanupCtx, s.UserID(), s.ID()); err != nil {
			c.Logger.Warn("Failed to clear presence", zap.String("sessionID", s.ID()), zap.Error(err))
		}
		return
	}
	s.announced = true
	s.mu.Unlock()

	c.broadcastOnline(ctx)
}

func (c *Controller) joinRoom(ctx context.Context, s *Session, appointmentID string) {
	roomKey := RoomKey(appointmentID)

	// The gate may suspend on lookups; no lock is held here.
	decision := c.Gate.Evaluate(ctx, appointmentID, s.Identity())
	if !decision.Admitted {
		c.deny(s, roomKey, decision)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	// A refused join leaves the session in its current room.
	count, err := c.Rooms.Join(ctx, roomKey, s)
	if err != nil {
		if errors.Is(err, ErrRoomFull) {
			c.deny(s, roomKey, Deny(ReasonRoomFull))
			return
		}
		c.deny(s, roomKey, Decision{Reason: ReasonJoinFailed, Err: err})
		return
	}
	if s.room != "" && s.room != roomKey {
		c.leaveLocked(s)
	}
	s.room = roomKey

	c.Metrics.joinOutcome("admitted")
	c.Logger.Info("Session joined call room",
		zap.String("sessionID", s.ID()),
		zap.String("userID", s.UserID()),
		zap.String("roomKey", roomKey),
		zap.Int("occupancy", count))
}

// deny reports a refused join to the requester only.
func (c *Controller) deny(s *Session, roomKey string, d Decision) {
	c.Metrics.joinOutcome(d.Reason)
	fields := []zap.Field{
		zap.String("sessionID", s.ID()),
		zap.String("userID", s.UserID()),
		zap.String("roomKey", roomKey),
		zap.String("reason", d.Reason),
	}
	if d.Err != nil {
		c.Logger.Warn("Join failed", append(fields, zap.Error(d.Err))...)
	} else {
		c.Logger.Info("Join denied", fields...)
	}
	s.Deliver(models.NewEvent(models.EventJoinDenied, models.JoinDenied{Reason: d.Reason, Message: d.Reason}))
}

func (c *Controller) signal(ctx context.Context, s *Session, req models.SignalRequest) {
	roomKey := RoomKey(req.AppointmentID)
	if s.CurrentRoom() != roomKey {
		c.Logger.Debug("Dropping signal for a room the session is not in",
			zap.String("sessionID", s.ID()),
			zap.String("roomKey", roomKey))
		c.Metrics.signalDropped()
		return
	}
	if err := c.Relay.Forward(ctx, roomKey, s.ID(), req.Body()); err != nil {
		c.Logger.Warn("Failed to relay signal",
			zap.String("sessionID", s.ID()),
			zap.String("roomKey", roomKey),
			zap.Error(err))
	}
}

// leaveRoom handles an explicit leave. An empty id means the current room.
func (c *Controller) leaveRoom(s *Session, appointmentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.room == "" {
		return
	}
	if appointmentID != "" && RoomKey(appointmentID) != s.room {
		return
	}
	c.leaveLocked(s)
}

// leaveLocked must be called with s.mu held.
func (c *Controller) leaveLocked(s *Session) {
	roomKey := s.room
	s.room = ""

	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	count, err := c.Rooms.Leave(ctx, roomKey, s.ID())
	if err != nil {
		c.Logger.Warn("Failed to leave call room",
			zap.String("sessionID", s.ID()),
			zap.String("roomKey", roomKey),
			zap.Error(err))
		return
	}
	c.Logger.Info("Session left call room",
		zap.String("sessionID", s.ID()),
		zap.String("roomKey", roomKey),
		zap.Int("occupancy", count))
}

// Disconnect tears a session down. It is safe to call any number of times;
// the cleanup runs once.
func (c *Controller) Disconnect(s *Session) {
	s.disconnectOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		if s.room != "" {
			c.leaveLocked(s)
		}
		announced := s.announced
		s.mu.Unlock()

		c.mu.Lock()
		delete(c.sessions, s.ID())
		c.mu.Unlock()

		s.closeOutbound()
		c.Metrics.sessionClosed()

		ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()
		if announced {
			removed, err := c.Presence.Remove(ctx, s.UserID(), s.ID())
			if err != nil {
				c.Logger.Warn("Failed to clear presence", zap.String("sessionID", s.ID()), zap.Error(err))
			}
			if removed {
				c.broadcastOnline(ctx)
			}
		}

		c.Logger.Debug("Session closed",
			zap.String("sessionID", s.ID()),
			zap.String("userID", s.UserID()),
			zap.Duration("age", time.Since(s.createdAt)))
	})
}

// broadcastOnline sends the presence snapshot to every local session.
func (c *Controller) broadcastOnline(ctx context.Context) {
	users, err := c.Presence.Online(ctx)
	if err != nil {
		c.Logger.Warn("Failed to list online users", zap.Error(err))
		return
	}
	if users == nil {
		users = []string{}
	}
	ev := models.NewEvent(models.EventOnlineUsers, users)

	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.sessions {
		s.Deliver(ev)
	}
}

// Shutdown disconnects every live session.
func (c *Controller) Shutdown() {
	c.mu.RLock()
	live := make([]*Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		live = append(live, s)
	}
	c.mu.RUnlock()

	for _, s := range live {
		c.Disconnect(s)
	}
	c.Logger.Info("Call controller closed sessions", zap.Int("count", len(live)))
}
