package ledger

import (
	"context"
	"errors"
	"strconv"
	"time"

	"payout-engine/pkg/rediskey"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// BalanceCache holds display copies of available balances. It is never read
// on the payout path.
//
// Every invalidation bumps the affiliate's version. A miss hands out the
// version current at read time, and Set drops the value when an invalidation
// happened since, so a balance computed before a ledger write is never cached
// after it.
type BalanceCache interface {
	Get(ctx context.Context, affiliateID string) (balance decimal.Decimal, version int64, ok bool)
	Set(ctx context.Context, affiliateID string, balance decimal.Decimal, version int64)
	Invalidate(ctx context.Context, affiliateIDs ...string)
}

type nopCache struct{}

func (nopCache) Get(context.Context, string) (decimal.Decimal, int64, bool) {
	return decimal.Zero, 0, false
}
func (nopCache) Set(context.Context, string, decimal.Decimal, int64) {}
func (nopCache) Invalidate(context.Context, ...string) {}

// setIfCurrent writes KEYS[1] only while KEYS[2] still holds ARGV[3].
var setIfCurrent = redis.NewScript(`
local current = redis.call("GET", KEYS[2]) or "0"
if current ~= ARGV[3] then
	return 0
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
return 1
`)

const versionTTL = 24 * time.Hour

type redisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisBalanceCache(client *redis.Client, ttl time.Duration) BalanceCache {
	return &redisCache{client: client, ttl: ttl}
}

func (c *redisCache) Get(ctx context.Context, affiliateID string) (decimal.Decimal, int64, bool) {
	pipe := c.client.Pipeline()
	balanceCmd := pipe.Get(ctx, rediskey.BuildAffiliateBalanceKey(affiliateID))
	versionCmd := pipe.Get(ctx, rediskey.BuildAffiliateBalanceVersionKey(affiliateID))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		zap.L().Warn("balance cache read failed", zap.String("affiliate_id", affiliateID), zap.Error(err))
		// -1 never matches a stored version, so the caller skips Set.
		return decimal.Zero, -1, false
	}

	version, err := versionCmd.Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return decimal.Zero, -1, false
	}

	val, err := balanceCmd.Result()
	if err != nil {
		return decimal.Zero, version, false
	}
	d, err := decimal.NewFromString(val)
	if err != nil {
		return decimal.Zero, version, false
	}
	return d, version, true
}

func (c *redisCache) Set(ctx context.Context, affiliateID string, balance decimal.Decimal, version int64) {
	if version < 0 {
		return
	}
	keys := []string{
		rediskey.BuildAffiliateBalanceKey(affiliateID),
		rediskey.BuildAffiliateBalanceVersionKey(affiliateID),
	}
	err := setIfCurrent.Run(ctx, c.client, keys, balance.String(), c.ttl.Milliseconds(), strconv.FormatInt(version, 10)).Err()
	if err != nil {
		zap.L().Warn("balance cache write failed", zap.String("affiliate_id", affiliateID), zap.Error(err))
	}
}

func (c *redisCache) Invalidate(ctx context.Context, affiliateIDs ...string) {
	if len(affiliateIDs) == 0 {
		return
	}
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range affiliateIDs {
			versionKey := rediskey.BuildAffiliateBalanceVersionKey(id)
			pipe.Incr(ctx, versionKey)
			pipe.Expire(ctx, versionKey, versionTTL)
			pipe.Del(ctx, rediskey.BuildAffiliateBalanceKey(id))
		}
		return nil
	})
	if err != nil {
		zap.L().Warn("balance cache invalidation failed", zap.Strings("affiliate_ids", affiliateIDs), zap.Error(err))
	}
}
