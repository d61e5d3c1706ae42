package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"live-ingest/entities"
)

var ErrSessionExists = errors.New("session store: session already exists")

const (
	sessionPrefix   = "session:"
	rateLimitPrefix = "ratelimit:"
	scanBatch       = 100
)

// SessionStore is the single source of truth for in-flight streams and
// per-owner rate counters. Every method may fail when the backend is down;
// callers decide whether that fails open or closed.
type SessionStore interface {
	Put(ctx context.Context, key string, session *entities.StreamSession, ttl time.Duration) error
	// Create writes session only when no record exists for key, else ErrSessionExists.
	Create(ctx context.Context, key string, session *entities.StreamSession, ttl time.Duration) error
	// Get returns (nil, nil) when no record exists.
	Get(ctx context.Context, key string) (*entities.StreamSession, error)
	Delete(ctx context.Context, key string) error
	ListActiveForOwner(ctx context.Context, ownerID string) ([]string, error)
	IncrementRateCounter(ctx context.Context, key string, window time.Duration) (int64, error)
	Ping(ctx context.Context) error
}

// incrWindow increments a counter and arms its expiry only on the first hit of a window.
var incrWindow = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return count
`)

type redisSessionStore struct {
	client redis.UniversalClient
}

func NewRedisSessionStore(client redis.UniversalClient) SessionStore {
	return &redisSessionStore{client: client}
}

func (r *redisSessionStore) Put(ctx context.Context, key string, session *entities.StreamSession, ttl time.Duration) error {
	data, err := encodeSession(key, session, ttl)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, sessionPrefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("session store: put %s: %w", key, err)
	}
	return nil
}

func (r *redisSessionStore) Create(ctx context.Context, key string, session *entities.StreamSession, ttl time.Duration) error {
	data, err := encodeSession(key, session, ttl)
	if err != nil {
		return err
	}
	ok, err := r.client.SetNX(ctx, sessionPrefix+key, data, ttl).Result()
	if err != nil {
		return fmt.Errorf("session store: create %s: %w", key, err)
	}
	if !ok {
		return ErrSessionExists
	}
	return nil
}

func encodeSession(key string, session *entities.StreamSession, ttl time.Duration) ([]byte, error) {
	if key == "" || session == nil {
		return nil, errors.New("session store: key and session are required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("session store: ttl must be positive, got %s", ttl)
	}
	data, err := json.Marshal(session)
	if err != nil {
		return nil, fmt.Errorf("session store: marshal %s: %w", key, err)
	}
	return data, nil
}

func (r *redisSessionStore) Get(ctx context.Context, key string) (*entities.StreamSession, error) {
	val, err := r.client.Get(ctx, sessionPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session store: get %s: %w", key, err)
	}
	var s entities.StreamSession
	if err := json.Unmarshal(val, &s); err != nil {
		return nil, fmt.Errorf("session store: unmarshal %s: %w", key, err)
	}
	return &s, nil
}

func (r *redisSessionStore) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, sessionPrefix+key).Err(); err != nil {
		return fmt.Errorf("session store: delete %s: %w", key, err)
	}
	return nil
}

// ListActiveForOwner scans session records rather than keeping an owner index;
// the live population is small.
func (r *redisSessionStore) ListActiveForOwner(ctx context.Context, ownerID string) ([]string, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, sessionPrefix+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("session store: scan: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("session store: mget: %w", err)
	}

	var active []string
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// expired between SCAN and MGET
			continue
		}
		var s entities.StreamSession
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			return nil, fmt.Errorf("session store: unmarshal %s: %w", keys[i], err)
		}
		if s.OwnerID == ownerID && s.Status.Live() {
			active = append(active, s.StreamKey)
		}
	}
	return active, nil
}

func (r *redisSessionStore) IncrementRateCounter(ctx context.Context, key string, window time.Duration) (int64, error) {
	if window <= 0 {
		return 0, fmt.Errorf("session store: window must be positive, got %s", window)
	}
	count, err := incrWindow.Run(ctx, r.client, []string{rateLimitPrefix + key}, window.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("session store: increment %s: %w", key, err)
	}
	return count, nil
}

func (r *redisSessionStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
