package auth

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RevocationStore is the optional logout denylist. The default deployment
// runs without one: tokens stay valid until natural expiry and logout only
// clears the cookie. When a store is configured, logout records the token's
// jti and the auth gate rejects it for the remainder of its lifetime.
type RevocationStore interface {
	Revoke(ctx context.Context, jti string, ttl time.Duration) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// MemoryRevocations keeps revoked jtis in process memory with their
// natural-expiry deadline. Entries for expired tokens are dropped lazily
// on lookup and on each Revoke.
type MemoryRevocations struct {
	mu sync.RWMutex
	m  map[string]time.Time
}

func NewMemoryRevocations() *MemoryRevocations {
	return &MemoryRevocations{m: make(map[string]time.Time)}
}

func (r *MemoryRevocations) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	for k, exp := range r.m {
		if now.After(exp) {
			delete(r.m, k)
		}
	}

	r.m[jti] = now.Add(ttl)
	return nil
}

func (r *MemoryRevocations) IsRevoked(ctx context.Context, jti string) (bool, error) {
	r.mu.RLock()
	exp, ok := r.m[jti]
	r.mu.RUnlock()

	if !ok {
		return false, nil
	}

	if time.Now().After(exp) {
		r.mu.Lock()
		delete(r.m, jti)
		r.mu.Unlock()
		return false, nil
	}

	return true, nil
}

// RedisRevocations shares the denylist across processes. Keys carry the
// token TTL so Redis expires them together with the tokens they block.
type RedisRevocations struct {
	rdb *redis.Client
}

func NewRedisRevocations(addr, password string, db int) *RedisRevocations {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	return &RedisRevocations{rdb: rdb}
}

func revocationKey(jti string) string {
	return "authgate:revoked:" + jti
}

func (r *RedisRevocations) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	return r.rdb.Set(ctx, revocationKey(jti), "1", ttl).Err()
}

func (r *RedisRevocations) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := r.rdb.Exists(ctx, revocationKey(jti)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *RedisRevocations) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

func (r *RedisRevocations) Close() error {
	return r.rdb.Close()
}
