package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/marketsim/tick-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for the hot point reads. Writes go to the primary store and
// invalidate the cache; reads check Redis first then fall back to the
// primary. Everything not overridden here passes straight through.
type CachedStore struct {
	Store
	rdb *redis.Client
	ttl time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		Store: primary,
		rdb:   rdb,
		ttl:   ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

// A failed CAS also invalidates, so the caller's retry re-reads the primary.

func (s *CachedStore) UpdatePlayer(ctx context.Context, p *model.Player) error {
	err := s.Store.UpdatePlayer(ctx, p)
	s.rdb.Del(ctx, playerKey(p.ID))
	return err
}

func (s *CachedStore) UpdateStock(ctx context.Context, st *model.Stock) error {
	err := s.Store.UpdateStock(ctx, st)
	s.rdb.Del(ctx, stockKey(st.ID))
	return err
}

func (s *CachedStore) UpdateCrypto(ctx context.Context, c *model.Crypto) error {
	err := s.Store.UpdateCrypto(ctx, c)
	s.rdb.Del(ctx, cryptoKey(c.ID))
	return err
}

func (s *CachedStore) InsertTick(ctx context.Context, t *model.TickRecord) error {
	if err := s.Store.InsertTick(ctx, t); err != nil {
		return err
	}
	s.rdb.Del(ctx, latestTickKey)
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetPlayer(ctx context.Context, id string) (*model.Player, error) {
	return readThrough(ctx, s, playerKey(id), func() (*model.Player, error) {
		return s.Store.GetPlayer(ctx, id)
	})
}

func (s *CachedStore) GetStock(ctx context.Context, id string) (*model.Stock, error) {
	return readThrough(ctx, s, stockKey(id), func() (*model.Stock, error) {
		return s.Store.GetStock(ctx, id)
	})
}

func (s *CachedStore) GetCrypto(ctx context.Context, id string) (*model.Crypto, error) {
	return readThrough(ctx, s, cryptoKey(id), func() (*model.Crypto, error) {
		return s.Store.GetCrypto(ctx, id)
	})
}

func (s *CachedStore) LatestTick(ctx context.Context) (*model.TickRecord, error) {
	return readThrough(ctx, s, latestTickKey, func() (*model.TickRecord, error) {
		return s.Store.LatestTick(ctx)
	})
}

// --- Cache helpers ---

func readThrough[T any](ctx context.Context, s *CachedStore, key string, load func() (*T, error)) (*T, error) {
	// Try cache.
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var v T
		if json.Unmarshal(data, &v) == nil {
			return &v, nil
		}
	}

	// Cache miss: read from primary.
	v, err := load()
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
	return v, nil
}

const latestTickKey = "tick:latest"

func playerKey(id string) string { return fmt.Sprintf("player:%s", id) }
func stockKey(id string) string  { return fmt.Sprintf("stock:%s", id) }
func cryptoKey(id string) string { return fmt.Sprintf("crypto:%s", id) }
func lockKey(name string) string { return fmt.Sprintf("lock:%s", name) }

// RedisLocker implements Locker with SET NX PX and a per-holder token so
// an expired holder cannot release a lock it no longer owns.
type RedisLocker struct {
	rdb *redis.Client
}

// NewRedisLocker creates a Locker backed by rdb.
func NewRedisLocker(rdb *redis.Client) *RedisLocker {
	return &RedisLocker{rdb: rdb}
}

var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

func (l *RedisLocker) TryLock(ctx context.Context, name string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, lockKey(name), token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lock %s: %w", name, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return func() {
		_ = unlockScript.Run(context.Background(), l.rdb, []string{lockKey(name)}, token).Err()
	}, nil
}
