package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrCacheUnavailable is returned when the Redis tier cannot be reached.
// The engine treats it as a degradation signal, not a caller-visible failure.
var ErrCacheUnavailable = errors.New("cache unavailable")

// ErrCacheMiss is returned when no live entry exists for a token.
var ErrCacheMiss = errors.New("cache miss")

// Cache is the Redis-backed ephemeral mirror of the durable session store.
// Entries carry the durable row's TTL so a cache hit cannot outlive the
// durable expiry under synchronized clocks; readers still re-check expiry on
// every hit because clock skew between the cache process and the store
// process is possible. The cache is never authoritative.
//
// In addition to the token-keyed entries, a per-user set of tokens is
// maintained so that destroying all of a user's sessions can invalidate the
// mirror without scanning.
type Cache struct {
	redis  redis.UniversalClient
	prefix string
}

// NewCache creates a session [Cache] backed by the given Redis client.
// prefix sets the Redis key namespace.
func NewCache(client redis.UniversalClient, prefix string) *Cache {
	if prefix == "" {
		prefix = "sc"
	}
	return &Cache{redis: client, prefix: prefix}
}

func (c *Cache) key(token string) string {
	return c.prefix + ":s:" + token
}

func (c *Cache) userKey(userID string) string {
	return c.prefix + ":u:" + userID
}

// Put mirrors a session under its token with the given TTL and records the
// token in the user index.
//
//	Performance: 2 Redis commands in one transaction (SET + SADD).
func (c *Cache) Put(ctx context.Context, sess *Session, ttl time.Duration) error {
	if ttl <= 0 {
		// An already-expired row must not be mirrored at all.
		return c.Del(ctx, sess.Token, sess.UserID)
	}

	data, err := Encode(sess)
	if err != nil {
		return err
	}

	_, err = c.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, c.key(sess.Token), data, ttl)
		pipe.SAdd(ctx, c.userKey(sess.UserID), sess.Token)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return nil
}

// Get returns the mirrored session for a token. An entry whose stored expiry
// has already passed is evicted and reported as a miss, regardless of its
// remaining Redis TTL.
//
//	Performance: 1 Redis GET on the hit path.
func (c *Cache) Get(ctx context.Context, token string) (*Session, error) {
	data, err := c.redis.Get(ctx, c.key(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}

	sess, err := Decode(data)
	if err != nil {
		return nil, err
	}
	sess.Token = token

	if sess.Expired(time.Now()) || !sess.IsActive {
		if err := c.Del(ctx, token, sess.UserID); err != nil {
			return nil, err
		}
		return nil, ErrCacheMiss
	}

	return sess, nil
}

// Del removes a token's mirror entry and its user-index membership.
// Deleting an absent entry is a no-op.
func (c *Cache) Del(ctx context.Context, token, userID string) error {
	_, err := c.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, c.key(token))
		if userID != "" {
			pipe.SRem(ctx, c.userKey(userID), token)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return nil
}

// DelAllForUser invalidates every mirrored session of a user.
//
// ATOMICITY NOTE: the token set is read first and deleted second; an entry
// mirrored between the two phases survives until its TTL or the next
// invalidation. The durable store stays authoritative either way.
func (c *Cache) DelAllForUser(ctx context.Context, userID string) error {
	userKey := c.userKey(userID)

	tokens, err := c.redis.SMembers(ctx, userKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}

	_, err = c.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, token := range tokens {
			pipe.Del(ctx, c.key(token))
		}
		pipe.Del(ctx, userKey)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return nil
}

// Ping returns a point-in-time Redis availability check and latency.
func (c *Cache) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := c.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return time.Since(start), nil
}
