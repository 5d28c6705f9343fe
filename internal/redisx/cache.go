package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type StatusEntry struct {
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int64     `json:"version"`
}

// putIfNewer refuses to overwrite an entry carrying a later version, so
// events replayed out of order never roll a status back. Equal versions fall
// back to lifecycle rank.
var putIfNewer = redis.NewScript(`
local rank = {Pending = 0, Processing = 1, Shipped = 2, Delivered = 3, Cancelled = 3}
local cur = redis.call('GET', KEYS[1])
if cur then
	local ok, doc = pcall(cjson.decode, cur)
	if ok and doc.version then
		local cv, nv = tonumber(doc.version), tonumber(ARGV[2])
		if cv > nv or (cv == nv and (rank[doc.status] or 0) > (rank[ARGV[4]] or 0)) then
			return 0
		end
	end
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
return 1
`)

type StatusCache struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewStatusCache(rdb redis.Cmdable) *StatusCache {
	return &StatusCache{rdb: rdb, ttl: TTLStatusCache}
}

// Put stores status unless a newer one is cached. It reports whether it wrote.
func (c *StatusCache) Put(ctx context.Context, orderID, status string, updatedAt time.Time) (bool, error) {
	e := StatusEntry{Status: status, UpdatedAt: updatedAt.UTC(), Version: updatedAt.UnixMilli()}
	b, err := json.Marshal(e)
	if err != nil {
		return false, err
	}
	n, err := putIfNewer.Run(ctx, c.rdb, []string{fmt.Sprintf(KeyOrderStatus, orderID)},
		string(b), e.Version, c.ttl.Milliseconds(), status).Int()
	if err != nil {
		return false, fmt.Errorf("cache status %s: %w", orderID, err)
	}
	return n == 1, nil
}

func (c *StatusCache) Get(ctx context.Context, orderID string) (StatusEntry, bool, error) {
	raw, err := c.rdb.Get(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return StatusEntry{}, false, nil
	}
	if err != nil {
		return StatusEntry{}, false, err
	}
	var e StatusEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return StatusEntry{}, false, fmt.Errorf("decode cached status %s: %w", orderID, err)
	}
	return e, true, nil
}
