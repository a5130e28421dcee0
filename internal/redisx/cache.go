package redisx

import (
	"context"
	"fmt"
	"github.com/redis/go-redis/v9"
	"math"
	"strconv"
	"time"
)

// setNewer writes a {value, at} hash unless the stored entry is newer.
// KEYS[1] hash, ARGV[1] field name, ARGV[2] value, ARGV[3] at, ARGV[4] ttl ms
// (0 keeps no expiry). Returns 1 when written.
var setNewer = redis.NewScript(`
local at = redis.call('HGET', KEYS[1], 'at')
if at and tonumber(at) > tonumber(ARGV[3]) then
	return 0
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2], 'at', ARGV[3])
if tonumber(ARGV[4]) > 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[4])
end
return 1
`)

// tombstoneAt outranks any real update time, so a deleted order is never
// refilled before the entry expires.
const tombstoneAt = math.MaxInt64

// StatusCache holds order_status:{order_id} as a hash {status, at}. Writes
// carry the order's updated_at and the newest one wins.
type StatusCache struct {
	RDB *redis.Client
}

func (c *StatusCache) Get(ctx context.Context, orderID string) (status string, updatedAt time.Time, ok bool, err error) {
	m, err := c.RDB.HGetAll(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Result()
	if err != nil {
		return "", time.Time{}, false, err
	}
	if m["status"] == "" {
		return "", time.Time{}, false, nil
	}
	us, err := strconv.ParseInt(m["at"], 10, 64)
	if err != nil {
		return "", time.Time{}, false, fmt.Errorf("decode cached status: %w", err)
	}
	return m["status"], time.UnixMicro(us).UTC(), true, nil
}

// Set reports nothing about a skipped write; a newer entry is already there.
func (c *StatusCache) Set(ctx context.Context, orderID, status string, updatedAt time.Time) error {
	return setNewer.Run(ctx, c.RDB, []string{fmt.Sprintf(KeyOrderStatus, orderID)},
		"status", status, updatedAt.UnixMicro(), TTLStatusCache.Milliseconds()).Err()
}

// Invalidate replaces the entry with a tombstone that Get treats as a miss.
func (c *StatusCache) Invalidate(ctx context.Context, orderID string) error {
	return setNewer.Run(ctx, c.RDB, []string{fmt.Sprintf(KeyOrderStatus, orderID)},
		"status", "", int64(tombstoneAt), TTLStatusCache.Milliseconds()).Err()
}

// StockCache is the read-side projection of flower stock written by the
// inventory projector. The ledger stays authoritative.
type StockCache struct {
	RDB *redis.Client
}

func (c *StockCache) SetStock(ctx context.Context, flowerID string, remaining int, at time.Time) (bool, error) {
	// events for one flower can arrive out of order across partitions
	n, err := setNewer.Run(ctx, c.RDB, []string{fmt.Sprintf(KeyFlowerStock, flowerID)},
		"remaining", remaining, at.UnixMicro(), 0).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (c *StockCache) Stock(ctx context.Context, flowerID string) (remaining int, at time.Time, ok bool, err error) {
	m, err := c.RDB.HGetAll(ctx, fmt.Sprintf(KeyFlowerStock, flowerID)).Result()
	if err != nil {
		return 0, time.Time{}, false, err
	}
	if len(m) == 0 {
		return 0, time.Time{}, false, nil
	}
	remaining, err = strconv.Atoi(m["remaining"])
	if err != nil {
		return 0, time.Time{}, false, fmt.Errorf("decode cached stock: %w", err)
	}
	us, _ := strconv.ParseInt(m["at"], 10, 64)
	return remaining, time.UnixMicro(us).UTC(), true, nil
}
