package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

func Exists(ctx context.Context, rdb redis.Cmdable, key string) (bool, error) {
	n, err := rdb.Exists(ctx, key).Result()
	return n > 0, err
}

// Seen marks key as processed and reports whether it already was.
func Seen(ctx context.Context, rdb redis.Cmdable, key string, ttl time.Duration) (bool, error) {
	ok, err := rdb.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return false, err
	}
	return !ok, nil
}

// Forget drops a Seen marker so a failed message can be retried.
func Forget(ctx context.Context, rdb redis.Cmdable, key string) error {
	return rdb.Del(ctx, key).Err()
}

// CachedStatus is the value stored under KeyOrderStatus.
type CachedStatus struct {
	OrderID string    `json:"order_id"`
	Status  string    `json:"status"`
	Version int       `json:"version"`
	AsOf    time.Time `json:"as_of"`
}

// StatusCache keeps the last projected status of each order. Writes with a
// version older than the cached one are dropped.
type StatusCache struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewStatusCache(rdb redis.Cmdable) *StatusCache {
	return &StatusCache{rdb: rdb, ttl: TTLStatusCache}
}

func (c *StatusCache) Get(ctx context.Context, orderID string) (CachedStatus, bool, error) {
	b, err := c.rdb.Get(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return CachedStatus{}, false, nil
	}
	if err != nil {
		return CachedStatus{}, false, err
	}
	var cs CachedStatus
	if err := json.Unmarshal(b, &cs); err != nil {
		return CachedStatus{}, false, err
	}
	return cs, true, nil
}

func (c *StatusCache) Put(ctx context.Context, cs CachedStatus) error {
	cur, ok, err := c.Get(ctx, cs.OrderID)
	if err != nil {
		return err
	}
	if ok && cur.Version > cs.Version {
		return nil
	}
	b, err := json.Marshal(cs)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, fmt.Sprintf(KeyOrderStatus, cs.OrderID), b, c.ttl).Err()
}

func (c *StatusCache) Invalidate(ctx context.Context, orderID string) error {
	return c.rdb.Del(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Err()
}

// Dedup binds Seen and Forget to one client and TTL.
type Dedup struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewDedup(rdb redis.Cmdable) *Dedup { return &Dedup{rdb: rdb, ttl: TTLDedup} }

func (d *Dedup) Seen(ctx context.Context, key string) (bool, error) {
	return Seen(ctx, d.rdb, key, d.ttl)
}

func (d *Dedup) Forget(ctx context.Context, key string) error { return Forget(ctx, d.rdb, key) }

// Responses stores the body of a completed request under its idempotency key
// so a retry can be answered without running it again.
type Responses struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewResponses(rdb redis.Cmdable) *Responses { return &Responses{rdb: rdb, ttl: TTLIdempotency} }

func (r *Responses) Lookup(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := r.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (r *Responses) Remember(ctx context.Context, key string, body []byte) error {
	return r.rdb.Set(ctx, key, body, r.ttl).Err()
}
