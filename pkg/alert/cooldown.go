package alert

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// CooldownStore decides whether an alert key may fire again
type CooldownStore interface {
	// Acquire reports whether the key is outside its cooldown window and,
	// if so, starts a new window.
	Acquire(ctx context.Context, key string, cooldown time.Duration) (bool, error)
	// Reset forgets every window
	Reset(ctx context.Context) error
}

// CooldownKey builds the composite key of a metric and threshold
func CooldownKey(metric, threshold string) string {
	return metric + ":" + threshold
}

// MemoryCooldownStore keeps the last alert time per key in process
type MemoryCooldownStore struct {
	mu    sync.Mutex
	last  map[string]time.Time
	clock func() time.Time
}

// NewMemoryCooldownStore creates an in-process cooldown store
func NewMemoryCooldownStore(clock func() time.Time) *MemoryCooldownStore {
	if clock == nil {
		clock = time.Now
	}
	return &MemoryCooldownStore{
		last:  make(map[string]time.Time),
		clock: clock,
	}
}

func (s *MemoryCooldownStore) Acquire(_ context.Context, key string, cooldown time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	if last, ok := s.last[key]; ok && now.Sub(last) < cooldown {
		return false, nil
	}
	s.last[key] = now
	return true, nil
}

func (s *MemoryCooldownStore) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = make(map[string]time.Time)
	return nil
}

// RedisCooldownStore shares cooldown windows between instances.
// A window is a key set with NX and a TTL equal to the cooldown.
type RedisCooldownStore struct {
	client *redis.Client
	prefix string
}

// NewRedisCooldownStore wraps an existing client
func NewRedisCooldownStore(client *redis.Client, prefix string) *RedisCooldownStore {
	return &RedisCooldownStore{client: client, prefix: prefix}
}

// DialRedisCooldownStore connects to addr and verifies the connection
func DialRedisCooldownStore(ctx context.Context, addr, prefix string) (*RedisCooldownStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
		ReadTimeout:  100 * time.Millisecond,
		WriteTimeout: 100 * time.Millisecond,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis cooldown store %s: %w", addr, err)
	}

	log.WithField("addr", addr).Info("Connected to Redis cooldown store")
	return NewRedisCooldownStore(client, prefix), nil
}

func (s *RedisCooldownStore) Acquire(ctx context.Context, key string, cooldown time.Duration) (bool, error) {
	if cooldown <= 0 {
		return true, nil
	}
	return s.client.SetNX(ctx, s.prefix+key, time.Now().UnixMilli(), cooldown).Result()
}

func (s *RedisCooldownStore) Reset(ctx context.Context) error {
	keys, err := s.client.Keys(ctx, s.prefix+"*").Result()
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return s.client.Del(ctx, keys...).Err()
}

// Close releases the Redis connection pool
func (s *RedisCooldownStore) Close() error {
	return s.client.Close()
}
