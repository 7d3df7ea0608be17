package relay

import (
	"context"
	"sync"
	"time"

	"github.com/garyburd/redigo/redis"
	"github.com/gofrs/uuid"
)

// TokenStore issues and redeems single-use pairing tokens.
type TokenStore interface {
	Issue(ctx context.Context, ttl time.Duration) (string, error)
	// Valid reports whether token could be redeemed right now without
	// redeeming it.
	Valid(ctx context.Context, token string) (bool, error)
	// Consume redeems token. It reports false for unknown, expired or
	// already used tokens.
	Consume(ctx context.Context, token string) (bool, error)
}

func newToken() (string, error) {
	u, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

type MemoryTokenStore struct {
	mu     sync.Mutex
	tokens map[string]time.Time
	now    func() time.Time
}

func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{
		tokens: make(map[string]time.Time),
		now:    time.Now,
	}
}

func (s *MemoryTokenStore) Issue(_ context.Context, ttl time.Duration) (string, error) {
	token, err := newToken()
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for t, expires := range s.tokens {
		if now.After(expires) {
			delete(s.tokens, t)
		}
	}
	s.tokens[token] = now.Add(ttl)
	return token, nil
}

func (s *MemoryTokenStore) Valid(_ context.Context, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expires, ok := s.tokens[token]
	return ok && !s.now().After(expires), nil
}

func (s *MemoryTokenStore) Consume(_ context.Context, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expires, ok := s.tokens[token]
	if !ok {
		return false, nil
	}
	delete(s.tokens, token)
	return !s.now().After(expires), nil
}

const redisTokenPrefix = "pairing:"

// RedisTokenStore keeps tokens in redis so several relay instances behind a
// load balancer accept the same deep links.
type RedisTokenStore struct {
	pool *redis.Pool
}

func NewRedisPool(address string, maxConnections int) *redis.Pool {
	return redis.NewPool(func() (redis.Conn, error) {
		c, err := redis.Dial("tcp", address)

		if err != nil {
			return nil, err
		}

		return c, err
	}, maxConnections)
}

func NewRedisTokenStore(pool *redis.Pool) *RedisTokenStore {
	return &RedisTokenStore{pool: pool}
}

func (s *RedisTokenStore) Issue(_ context.Context, ttl time.Duration) (string, error) {
	token, err := newToken()
	if err != nil {
		return "", err
	}

	redisConn := s.pool.Get()
	defer redisConn.Close()

	seconds := int(ttl / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	if _, err := redisConn.Do("SETEX", redisTokenPrefix+token, seconds, 1); err != nil {
		return "", err
	}
	return token, nil
}

func (s *RedisTokenStore) Valid(_ context.Context, token string) (bool, error) {
	redisConn := s.pool.Get()
	defer redisConn.Close()

	return redis.Bool(redisConn.Do("EXISTS", redisTokenPrefix+token))
}

func (s *RedisTokenStore) Consume(_ context.Context, token string) (bool, error) {
	redisConn := s.pool.Get()
	defer redisConn.Close()

	// DEL is atomic, only one caller ever sees 1 for a given token
	deleted, err := redis.Int(redisConn.Do("DEL", redisTokenPrefix+token))
	if err != nil {
		return false, err
	}
	return deleted == 1, nil
}
