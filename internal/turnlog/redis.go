package turnlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const redisKeyPrefix = "turnlog:"

// RedisStore keeps each session as a hash of turn id to JSON plus a sorted set
// of turn ids scored by timestamp.
type RedisStore struct {
	redis  *redis.Client
	tracer trace.Tracer
	ttl    time.Duration
}

// NewRedisStore creates a store. A ttl of zero keeps sessions forever.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if client == nil {
		panic("turnlog: redis client cannot be nil")
	}
	return &RedisStore{
		redis:  client,
		tracer: otel.Tracer("claims.internal.turnlog.redis"),
		ttl:    ttl,
	}
}

func (s *RedisStore) Append(ctx context.Context, sessionID, turnID string, turn Turn) error {
	if err := validate(sessionID, turnID); err != nil {
		return err
	}
	turn = normalize(sessionID, turnID, turn)
	data, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("turnlog: marshal turn: %w", err)
	}

	ctx, span := s.tracer.Start(ctx, "turnlog.redis.append")
	defer span.End()

	turnsKey, orderKey := redisKeys(sessionID)
	score := turn.Timestamp.UnixMilli()
	if err := appendScript.Run(ctx, s.redis, []string{turnsKey, orderKey}, turnID, data, score, s.ttl.Milliseconds()).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("turnlog: store turn: %w", err)
	}
	return nil
}

// appendScript stores the turn and its order entry in one step. Both writes
// are no-ops for a turn already present, and a redelivered turn whose index
// entry is missing gets indexed.
var appendScript = redis.NewScript(`
redis.call("HSETNX", KEYS[1], ARGV[1], ARGV[2])
redis.call("ZADD", KEYS[2], "NX", ARGV[3], ARGV[1])
local ttl = tonumber(ARGV[4])
if ttl > 0 then
	redis.call("PEXPIRE", KEYS[1], ttl)
	redis.call("PEXPIRE", KEYS[2], ttl)
end
return 1
`)

func (s *RedisStore) ListOrdered(ctx context.Context, sessionID string) ([]Turn, error) {
	ctx, span := s.tracer.Start(ctx, "turnlog.redis.list")
	defer span.End()

	turnsKey, orderKey := redisKeys(sessionID)
	ids, err := s.redis.ZRange(ctx, orderKey, 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		span.RecordError(err)
		return nil, fmt.Errorf("turnlog: list turn ids: %w", err)
	}
	if len(ids) == 0 {
		return []Turn{}, nil
	}
	raw, err := s.redis.HMGet(ctx, turnsKey, ids...).Result()
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("turnlog: load turns: %w", err)
	}

	out := make([]Turn, 0, len(raw))
	for _, item := range raw {
		str, ok := item.(string)
		if !ok {
			continue
		}
		var turn Turn
		if err := json.Unmarshal([]byte(str), &turn); err != nil {
			span.RecordError(err)
			continue
		}
		out = append(out, turn)
	}
	sortTurns(out)
	return out, nil
}

func redisKeys(sessionID string) (string, string) {
	base := redisKeyPrefix + sessionID
	return base + ":turns", base + ":order"
}
