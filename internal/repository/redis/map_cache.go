package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/freeeve/westmarches-hexmap/internal/model"
)

// Key patterns for cached map state.
func tallyKey(conflictID int64) string { return "conflict:" + strconv.FormatInt(conflictID, 10) + ":tally" }

const (
	townMapKey        = "town_map:snapshot"
	townMapVersionKey = "town_map:version"
)

const (
	fieldForNew      = "for_new"
	fieldForExisting = "for_existing"
)

// GetTally returns a cached tally, or nil on a miss.
func (c *Client) GetTally(ctx context.Context, conflictID int64) (*model.VoteTally, error) {
	fields, err := c.rdb.HGetAll(ctx, tallyKey(conflictID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get vote tally: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	forNew, _ := strconv.Atoi(fields[fieldForNew])
	forExisting, _ := strconv.Atoi(fields[fieldForExisting])
	return &model.VoteTally{ConflictID: conflictID, VotesForNew: forNew, VotesForExisting: forExisting}, nil
}

// setIfNotBehind writes a tally unless the cached one already counts more
// votes. Votes are never withdrawn, so a smaller total is an older count.
var setIfNotBehind = redis.NewScript(`
local cur = redis.call("HMGET", KEYS[1], "for_new", "for_existing")
if cur[1] and (tonumber(cur[1]) + tonumber(cur[2] or "0")) > (tonumber(ARGV[1]) + tonumber(ARGV[2])) then
	return 0
end
redis.call("HSET", KEYS[1], "for_new", ARGV[1], "for_existing", ARGV[2])
return 1
`)

// SetTally caches a tally counted from Postgres. A count that is behind the
// cached one is dropped.
func (c *Client) SetTally(ctx context.Context, tally *model.VoteTally) error {
	err := setIfNotBehind.Run(ctx, c.rdb, []string{tallyKey(tally.ConflictID)}, tally.VotesForNew, tally.VotesForExisting).Err()
	if err != nil {
		return fmt.Errorf("set vote tally: %w", err)
	}
	return nil
}

// ExpireTally lets a resolved conflict's tally age out.
func (c *Client) ExpireTally(ctx context.Context, conflictID int64, ttl time.Duration) error {
	return c.rdb.Expire(ctx, tallyKey(conflictID), ttl).Err()
}

// GetTownMap returns the cached Town Map snapshot, or nil on a miss.
func (c *Client) GetTownMap(ctx context.Context) ([]model.TownMapHex, error) {
	data, err := c.rdb.Get(ctx, townMapKey).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get town map: %w", err)
	}
	hexes := []model.TownMapHex{}
	if err := json.Unmarshal(data, &hexes); err != nil {
		return nil, fmt.Errorf("decode town map: %w", err)
	}
	return hexes, nil
}

// TownMapVersion returns the current snapshot generation. Every
// invalidation bumps it.
func (c *Client) TownMapVersion(ctx context.Context) (int64, error) {
	v, err := c.rdb.Get(ctx, townMapVersionKey).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get town map version: %w", err)
	}
	return v, nil
}

// setIfVersion stores a snapshot only while the generation it was read
// under is still current.
var setIfVersion = redis.NewScript(`
local cur = tonumber(redis.call("GET", KEYS[2]) or "0")
if cur ~= tonumber(ARGV[1]) then
	return 0
end
local ttl = tonumber(ARGV[3])
if ttl > 0 then
	redis.call("SET", KEYS[1], ARGV[2], "PX", ttl)
else
	redis.call("SET", KEYS[1], ARGV[2])
end
return 1
`)

// SetTownMap caches a Town Map snapshot read under version. It is dropped
// when the map was invalidated since.
func (c *Client) SetTownMap(ctx context.Context, version int64, hexes []model.TownMapHex) error {
	if hexes == nil {
		hexes = []model.TownMapHex{}
	}
	data, err := json.Marshal(hexes)
	if err != nil {
		return fmt.Errorf("encode town map: %w", err)
	}
	keys := []string{townMapKey, townMapVersionKey}
	if err := setIfVersion.Run(ctx, c.rdb, keys, version, data, c.townMapTTL.Milliseconds()).Err(); err != nil {
		return fmt.Errorf("set town map: %w", err)
	}
	return nil
}

// InvalidateTownMap drops the cached snapshot and bumps its version.
func (c *Client) InvalidateTownMap(ctx context.Context) error {
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, townMapVersionKey)
		pipe.Del(ctx, townMapKey)
		return nil
	})
	if err != nil {
		return fmt.Errorf("invalidate town map: %w", err)
	}
	return nil
}
