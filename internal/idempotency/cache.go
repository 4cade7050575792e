// Package idempotency replays the stored reply when the platform redelivers a
// webhook turn, so the turn's CRM writes happen once.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultTTL = 10 * time.Minute
	// claimTTL frees a turn whose owner died before storing a reply.
	claimTTL = 30 * time.Second
)

// pendingMarker holds a claimed key until the reply is stored. Replies are
// JSON objects, so they never equal it.
var pendingMarker = []byte("\x00pending")

// ErrInFlight is returned by Claim while another delivery of the same turn is
// being fulfilled.
var ErrInFlight = errors.New("idempotency: turn already in flight")

// Cache claims webhook turns by response id and stores their replies.
type Cache interface {
	// Claim reserves responseID for the caller. A turn that already completed
	// yields its stored reply and done=true; a turn held by another delivery
	// yields ErrInFlight.
	Claim(ctx context.Context, responseID string) (reply []byte, done bool, err error)
	// Complete stores the reply of a claimed turn.
	Complete(ctx context.Context, responseID string, reply []byte) error
	// Release drops an unfinished claim so a later delivery can fulfil the turn.
	Release(ctx context.Context, responseID string) error
}

// RedisCache keeps claims and replies in Redis with a TTL.
type RedisCache struct {
	redis    *redis.Client
	ttl      time.Duration
	claimTTL time.Duration
	tracer   trace.Tracer
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if client == nil {
		panic("idempotency: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisCache{
		redis:    client,
		ttl:      ttl,
		claimTTL: claimTTL,
		tracer:   otel.Tracer("claims.internal.idempotency"),
	}
}

func (c *RedisCache) Claim(ctx context.Context, responseID string) ([]byte, bool, error) {
	ctx, span := c.tracer.Start(ctx, "idempotency.claim")
	defer span.End()

	key := responseKey(responseID)
	// A second pass covers a claim released between SETNX and GET.
	for range 2 {
		claimed, err := c.redis.SetNX(ctx, key, pendingMarker, c.claimTTL).Result()
		if err != nil {
			span.RecordError(err)
			return nil, false, fmt.Errorf("idempotency: claim %s: %w", responseID, err)
		}
		if claimed {
			return nil, false, nil
		}
		data, err := c.redis.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			span.RecordError(err)
			return nil, false, fmt.Errorf("idempotency: get %s: %w", responseID, err)
		}
		if string(data) == string(pendingMarker) {
			return nil, false, ErrInFlight
		}
		return data, true, nil
	}
	return nil, false, ErrInFlight
}

func (c *RedisCache) Complete(ctx context.Context, responseID string, reply []byte) error {
	ctx, span := c.tracer.Start(ctx, "idempotency.complete")
	defer span.End()

	if err := c.redis.Set(ctx, responseKey(responseID), reply, c.ttl).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("idempotency: complete %s: %w", responseID, err)
	}
	return nil
}

// releaseScript deletes the key only while it still holds the pending marker.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func (c *RedisCache) Release(ctx context.Context, responseID string) error {
	ctx, span := c.tracer.Start(ctx, "idempotency.release")
	defer span.End()

	if err := releaseScript.Run(ctx, c.redis, []string{responseKey(responseID)}, pendingMarker).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("idempotency: release %s: %w", responseID, err)
	}
	return nil
}

func responseKey(responseID string) string {
	return fmt.Sprintf("webhook:response:%s", responseID)
}

// MemoryCache is an in-process Cache for single-instance and local runs.
type MemoryCache struct {
	mu       sync.Mutex
	ttl      time.Duration
	claimTTL time.Duration
	now      func() time.Time
	entries  map[string]memoryEntry
}

type memoryEntry struct {
	reply   []byte
	pending bool
	expires time.Time
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &MemoryCache{ttl: ttl, claimTTL: claimTTL, now: time.Now, entries: make(map[string]memoryEntry)}
}

func (c *MemoryCache) Claim(_ context.Context, responseID string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.evict(now)
	if e, ok := c.entries[responseID]; ok {
		if e.pending {
			return nil, false, ErrInFlight
		}
		return e.reply, true, nil
	}
	c.entries[responseID] = memoryEntry{pending: true, expires: now.Add(c.claimTTL)}
	return nil, false, nil
}

func (c *MemoryCache) Complete(_ context.Context, responseID string, reply []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[responseID] = memoryEntry{reply: append([]byte(nil), reply...), expires: c.now().Add(c.ttl)}
	return nil
}

func (c *MemoryCache) Release(_ context.Context, responseID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[responseID]; ok && e.pending {
		delete(c.entries, responseID)
	}
	return nil
}

func (c *MemoryCache) evict(now time.Time) {
	for id, e := range c.entries {
		if now.After(e.expires) {
			delete(c.entries, id)
		}
	}
}
