package call

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"medicall/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const (
	// RoomEventsChannel carries room notifications between processes.
	RoomEventsChannel = "call:room-events"

	roomKeyspace = "call:room:"
	// Membership of a crashed process expires instead of pinning rooms forever.
	defaultMembershipTTL = 12 * time.Hour
)

// joinScript adds a member, enforces capacity and publishes the join
// notices in the same atomic step so every process sees them in order.
//
// KEYS: members, ready flag
// ARGV: session, capacity, ttl ms, channel, join-ok msg, room-users prefix,
// room-users suffix, room-ready msg
var joinScript = redis.NewScript(`
local added = 0
if redis.call('SISMEMBER', KEYS[1], ARGV[1]) == 0 then
  local n = redis.call('SCARD', KEYS[1])
  local cap = tonumber(ARGV[2])
  if cap > 0 and n >= cap then
    return -1
  end
  redis.call('SADD', KEYS[1], ARGV[1])
  added = 1
end
local count = redis.call('SCARD', KEYS[1])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
redis.call('PUBLISH', ARGV[4], ARGV[5])
redis.call('PUBLISH', ARGV[4], ARGV[6] .. count .. ARGV[7])
if added == 1 and count == 2 and redis.call('SETNX', KEYS[2], '1') == 1 then
  redis.call('PEXPIRE', KEYS[2], ARGV[3])
  redis.call('PUBLISH', ARGV[4], ARGV[8])
end
return count
`)

// leaveScript removes a member and notifies whoever is left.
//
// KEYS: members, ready flag
// ARGV: session, channel, peer-left msg, room-users prefix, room-users suffix
var leaveScript = redis.NewScript(`
local removed = redis.call('SREM', KEYS[1], ARGV[1])
local count = redis.call('SCARD', KEYS[1])
if count == 0 then
  redis.call('DEL', KEYS[1], KEYS[2])
  return 0
end
if removed == 1 then
  redis.call('PUBLISH', ARGV[2], ARGV[3])
  redis.call('PUBLISH', ARGV[2], ARGV[4] .. count .. ARGV[5])
end
return count
`)

// roomMessage is the pub/sub envelope. To narrows delivery to one session.
type roomMessage struct {
	Room   string       `json:"room"`
	To     string       `json:"to,omitempty"`
	Except string       `json:"except,omitempty"`
	Event  models.Event `json:"event"`
}

// localPeer is a member held by this process. A joiner stays pending, and
// sees only messages addressed to it, until its own join-ok comes back
// through the channel; a join the script refuses never reaches the room.
type localPeer struct {
	peer     Peer
	admitted bool
}

// RedisRegistry is a RoomRegistry shared by several processes. Membership
// lives in redis sets; each process delivers pub/sub notifications to the
// members it holds locally.
type RedisRegistry struct {
	client   *redis.Client
	capacity int
	ttl      time.Duration
	channel  string
	logger   *zap.Logger

	mu    sync.RWMutex
	local map[string]map[string]*localPeer // roomKey -> sessionID

	pubsub *redis.PubSub
	done   chan struct{}
}

// NewRedisRegistry subscribes to the room channel and returns once the
// subscription is live.
func NewRedisRegistry(ctx context.Context, client *redis.Client, capacity int, logger *zap.Logger) (*RedisRegistry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &RedisRegistry{
		client:   client,
		capacity: capacity,
		ttl:      defaultMembershipTTL,
		channel:  RoomEventsChannel,
		logger:   logger,
		local:    make(map[string]map[string]*localPeer),
		done:     make(chan struct{}),
	}

	r.pubsub = client.Subscribe(ctx, r.channel)
	if _, err := r.pubsub.Receive(ctx); err != nil {
		_ = r.pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", r.channel, err)
	}
	go r.dispatch()
	return r, nil
}

func membersKey(roomKey string) string { return roomKeyspace + roomKey + ":members" }
func readyKey(roomKey string) string   { return roomKeyspace + roomKey + ":ready" }

func (r *RedisRegistry) Join(ctx context.Context, roomKey string, peer Peer) (int, error) {
	r.track(roomKey, peer)

	usersPrefix, usersSuffix := r.roomUsersTemplate(roomKey)
	joinOK, err := r.encode(roomMessage{Room: roomKey, To: peer.ID(), Event: models.NewEvent(models.EventJoinOK, models.JoinOK{RoomKey: roomKey})})
	if err != nil {
		r.untrack(roomKey, peer.ID())
		return 0, err
	}
	ready, err := r.encode(roomMessage{Room: roomKey, Event: models.NewEvent(models.EventRoomReady, nil)})
	if err != nil {
		r.untrack(roomKey, peer.ID())
		return 0, err
	}

	count, err := joinScript.Run(ctx, r.client,
		[]string{membersKey(roomKey), readyKey(roomKey)},
		peer.ID(), r.capacity, r.ttl.Milliseconds(), r.channel, joinOK, usersPrefix, usersSuffix, ready,
	).Int()
	if err != nil {
		r.untrack(roomKey, peer.ID())
		return 0, fmt.Errorf("failed to join room %s: %w", roomKey, err)
	}
	if count < 0 {
		r.untrack(roomKey, peer.ID())
		n, _ := r.SizeOf(ctx, roomKey)
		return n, ErrRoomFull
	}
	return count, nil
}

func (r *RedisRegistry) Leave(ctx context.Context, roomKey, sessionID string) (int, error) {
	r.untrack(roomKey, sessionID)

	usersPrefix, usersSuffix := r.roomUsersTemplate(roomKey)
	peerLeft, err := r.encode(roomMessage{Room: roomKey, Except: sessionID, Event: models.NewEvent(models.EventPeerLeft, nil)})
	if err != nil {
		return 0, err
	}

	count, err := leaveScript.Run(ctx, r.client,
		[]string{membersKey(roomKey), readyKey(roomKey)},
		sessionID, r.channel, peerLeft, usersPrefix, usersSuffix,
	).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to leave room %s: %w", roomKey, err)
	}
	return count, nil
}

func (r *RedisRegistry) SizeOf(ctx context.Context, roomKey string) (int, error) {
	n, err := r.client.SCard(ctx, membersKey(roomKey)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to size room %s: %w", roomKey, err)
	}
	return int(n), nil
}

func (r *RedisRegistry) Broadcast(ctx context.Context, roomKey, exceptSessionID string, ev models.Event) error {
	msg, err := r.encode(roomMessage{Room: roomKey, Except: exceptSessionID, Event: ev})
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.channel, msg).Err(); err != nil {
		return fmt.Errorf("failed to publish to room %s: %w", roomKey, err)
	}
	return nil
}

// Close stops the subscription. Memberships held by this process are left
// to their TTL; sessions remove themselves on disconnect before this runs.
func (r *RedisRegistry) Close() error {
	err := r.pubsub.Close()
	<-r.done
	return err
}

func (r *RedisRegistry) track(roomKey string, peer Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	peers, ok := r.local[roomKey]
	if !ok {
		peers = make(map[string]*localPeer)
		r.local[roomKey] = peers
	}
	if lp, ok := peers[peer.ID()]; ok {
		// A rejoin keeps its admission.
		lp.peer = peer
		return
	}
	peers[peer.ID()] = &localPeer{peer: peer}
}

func (r *RedisRegistry) untrack(roomKey, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if peers, ok := r.local[roomKey]; ok {
		delete(peers, sessionID)
		if len(peers) == 0 {
			delete(r.local, roomKey)
		}
	}
}

func (r *RedisRegistry) encode(msg roomMessage) (string, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("failed to encode room message: %w", err)
	}
	return string(b), nil
}

// roomUsersTemplate returns the room-users message split around the count,
// which only the script knows.
func (r *RedisRegistry) roomUsersTemplate(roomKey string) (string, string) {
	quoted, _ := json.Marshal(roomKey)
	prefix := `{"room":` + string(quoted) + `,"event":{"event":"` + models.EventRoomUsers + `","data":{"count":`
	return prefix, `}}}`
}

// dispatch delivers notifications in channel order to local members.
func (r *RedisRegistry) dispatch() {
	defer close(r.done)
	for msg := range r.pubsub.Channel() {
		var rm roomMessage
		if err := json.Unmarshal([]byte(msg.Payload), &rm); err != nil {
			r.logger.Warn("Dropping malformed room message", zap.Error(err))
			continue
		}

		r.mu.Lock()
		for id, lp := range r.local[rm.Room] {
			if id == rm.Except || (rm.To != "" && id != rm.To) {
				continue
			}
			if !lp.admitted {
				if rm.To != id {
					continue
				}
				if rm.Event.Name == models.EventJoinOK {
					lp.admitted = true
				}
			}
			lp.peer.Deliver(rm.Event)
		}
		r.mu.Unlock()
	}
}
