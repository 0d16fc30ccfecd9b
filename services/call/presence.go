package call

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MemoryPresence is a PresenceTracker for a single process.
type MemoryPresence struct {
	mu      sync.Mutex
	entries map[string]string // userID -> sessionID
}

func NewMemoryPresence() *MemoryPresence {
	return &MemoryPresence{entries: make(map[string]string)}
}

func (p *MemoryPresence) Announce(ctx context.Context, userID, sessionID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries[userID] = sessionID
	return nil
}

func (p *MemoryPresence) Remove(ctx context.Context, userID, sessionID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.entries[userID] != sessionID {
		return false, nil
	}
	delete(p.entries, userID)
	return true, nil
}

func (p *MemoryPresence) Online(ctx context.Context) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	users := make([]string, 0, len(p.entries))
	for u := range p.entries {
		users = append(users, u)
	}
	sort.Strings(users)
	return users, nil
}

const (
	// PresenceKeyPrefix names each process's userID -> sessionID hash.
	PresenceKeyPrefix = "call:presence:"
	// PresenceInstancesKey scores every presence hash by its last heartbeat.
	PresenceInstancesKey = PresenceKeyPrefix + "instances"

	// A process that stops heartbeating drops out of Online after this.
	defaultPresenceTTL = 2 * time.Minute
)

// removeIfOwner deletes the hash field only while it holds ARGV[2].
var removeIfOwner = redis.NewScript(`
if redis.call('HGET', KEYS[1], ARGV[1]) == ARGV[2] then
  return redis.call('HDEL', KEYS[1], ARGV[1])
end
return 0
`)

// RedisPresence is a PresenceTracker shared by several processes. Each
// process writes its own hash and keeps it alive with a heartbeat, so the
// users of a crashed process expire instead of staying online.
type RedisPresence struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	now    func() time.Time
}

func NewRedisPresence(client *redis.Client) *RedisPresence {
	return &RedisPresence{
		client: client,
		key:    PresenceKeyPrefix + uuid.New().String(),
		ttl:    defaultPresenceTTL,
		now:    time.Now,
	}
}

func (p *RedisPresence) Announce(ctx context.Context, userID, sessionID string) error {
	_, err := p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, p.key, userID, sessionID)
		p.refresh(ctx, pipe)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record presence for %s: %w", userID, err)
	}
	return nil
}

func (p *RedisPresence) Remove(ctx context.Context, userID, sessionID string) (bool, error) {
	n, err := removeIfOwner.Run(ctx, p.client, []string{p.key}, userID, sessionID).Int()
	if err != nil {
		return false, fmt.Errorf("failed to clear presence for %s: %w", userID, err)
	}
	return n == 1, nil
}

// Online merges the hashes of every process that heartbeat within the TTL.
func (p *RedisPresence) Online(ctx context.Context) ([]string, error) {
	cutoff := strconv.FormatInt(p.now().Add(-p.ttl).UnixMilli(), 10)
	if err := p.client.ZRemRangeByScore(ctx, PresenceInstancesKey, "-inf", "("+cutoff).Err(); err != nil {
		return nil, fmt.Errorf("failed to prune presence: %w", err)
	}
	keys, err := p.client.ZRangeByScore(ctx, PresenceInstancesKey, &redis.ZRangeBy{Min: cutoff, Max: "+inf"}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list presence: %w", err)
	}

	cmds := make([]*redis.StringSliceCmd, 0, len(keys))
	if _, err := p.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, key := range keys {
			cmds = append(cmds, pipe.HKeys(ctx, key))
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("failed to list presence: %w", err)
	}

	seen := make(map[string]bool)
	users := []string{}
	for _, cmd := range cmds {
		for _, u := range cmd.Val() {
			if !seen[u] {
				seen[u] = true
				users = append(users, u)
			}
		}
	}
	sort.Strings(users)
	return users, nil
}

// Touch extends this process's entries by another TTL.
func (p *RedisPresence) Touch(ctx context.Context) error {
	_, err := p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		p.refresh(ctx, pipe)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to refresh presence: %w", err)
	}
	return nil
}

// StartHeartbeat touches the entries every third of the TTL until ctx is
// cancelled.
func (p *RedisPresence) StartHeartbeat(ctx context.Context, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	go func() {
		ticker := time.NewTicker(p.ttl / 3)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := p.Touch(ctx); err != nil {
					logger.Warn("Presence heartbeat failed", zap.Error(err))
				}
			}
		}
	}()
}

// Close drops every entry this process wrote.
func (p *RedisPresence) Close(ctx context.Context) error {
	_, err := p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, p.key)
		pipe.ZRem(ctx, PresenceInstancesKey, p.key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to clear presence: %w", err)
	}
	return nil
}

func (p *RedisPresence) refresh(ctx context.Context, pipe redis.Pipeliner) {
	pipe.PExpire(ctx, p.key, p.ttl)
	pipe.ZAdd(ctx, PresenceInstancesKey, &redis.Z{Score: float64(p.now().UnixMilli()), Member: p.key})
}
