package locker

import (
	"payout-engine/pkg/config"

	"github.com/bwmarrin/snowflake"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("locker", fx.Provide(Provide))

type Params struct {
	fx.In
	Config *config.Config
	Node   *snowflake.Node
	Redis  *redis.Client `optional:"true"`
}

func Provide(p Params) Locker {
	if p.Redis == nil {
		zap.L().Info("[Locker] using in-process locks")
		return NewLocal()
	}
	zap.L().Info("[Locker] using redis locks", zap.Duration("ttl", p.Config.Payout.LockTTL))
	return NewRedis(p.Redis, p.Node, p.Config.Payout.LockTTL)
}
