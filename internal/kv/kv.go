// Package kv is the presence & token store: a thin Redis-backed adapter over
// the key/value namespace described in the external interfaces — refresh
// token bindings, online markers, and the counters backing HTTP rate limits.
package kv

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"chatcore/internal/crypto"
)

// Store wraps a redis client with the handful of operations the rest of the
// application needs; nothing here leaks the redis client itself so the
// backing store could be swapped without touching callers.
type Store struct {
	rdb           *redis.Client
	encryptionKey string
}

// New connects to redis using the given URL (redis://... or rediss://...).
func New(url, encryptionKey string) (*Store, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse KV_URL: %w", err)
	}
	rdb := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping kv store: %w", err)
	}
	return &Store{rdb: rdb, encryptionKey: encryptionKey}, nil
}

func refreshKey(userID int64) string { return fmt.Sprintf("refresh:%d", userID) }
func onlineKey(userID int64) string  { return fmt.Sprintf("online:%d", userID) }

// BindRefreshToken stores (encrypted at rest) the refresh token currently
// valid for userID, with the given TTL. A later refresh call is rejected
// unless the presented token matches this binding (single-device-style
// rotation): storing a new token implicitly invalidates the prior one.
func (s *Store) BindRefreshToken(ctx context.Context, userID int64, token string, ttl time.Duration) error {
	enc, err := crypto.Encrypt(token, s.encryptionKey)
	if err != nil {
		return fmt.Errorf("encrypt refresh token: %w", err)
	}
	if err := s.rdb.Set(ctx, refreshKey(userID), enc, ttl).Err(); err != nil {
		return fmt.Errorf("bind refresh token: %w", err)
	}
	return nil
}

// CheckRefreshToken reports whether token matches the binding currently
// stored for userID.
func (s *Store) CheckRefreshToken(ctx context.Context, userID int64, token string) (bool, error) {
	enc, err := s.rdb.Get(ctx, refreshKey(userID)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get refresh token: %w", err)
	}
	stored, err := crypto.Decrypt(enc, s.encryptionKey)
	if err != nil {
		return false, fmt.Errorf("decrypt refresh token: %w", err)
	}
	return stored == token, nil
}

// DeleteRefreshToken removes a user's refresh-token binding (logout).
func (s *Store) DeleteRefreshToken(ctx context.Context, userID int64) error {
	if err := s.rdb.Del(ctx, refreshKey(userID)).Err(); err != nil {
		return fmt.Errorf("delete refresh token: %w", err)
	}
	return nil
}

// SetOnline marks a user present. Mirrors (does not replace) the Connection
// Registry's in-memory presence state, so other process instances can see a
// user's online marker without talking to the registry holder directly.
func (s *Store) SetOnline(ctx context.Context, userID int64) error {
	return s.rdb.Set(ctx, onlineKey(userID), "1", 0).Err()
}

// ClearOnline removes a user's online marker.
func (s *Store) ClearOnline(ctx context.Context, userID int64) error {
	return s.rdb.Del(ctx, onlineKey(userID)).Err()
}

// Incr increments a rate-limit counter keyed by name, setting an expiry on
// first increment within the window. Returns the counter's new value.
func (s *Store) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	n, err := s.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("incr rate counter: %w", err)
	}
	if n == 1 {
		if err := s.rdb.Expire(ctx, key, window).Err(); err != nil {
			return 0, fmt.Errorf("expire rate counter: %w", err)
		}
	}
	return n, nil
}

// Close releases the underlying redis connection.
func (s *Store) Close() error {
	return s.rdb.Close()
}
