package ledger

import (
	"time"

	"payout-engine/pkg/config"
	"payout-engine/pkg/db"
	"payout-engine/pkg/locker"
	"payout-engine/pkg/repository"
	"payout-engine/services/affiliate"
	"payout-engine/services/commission"

	"github.com/bwmarrin/snowflake"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("ledger.service",
	fx.Provide(NewService),
	fx.Invoke(migrate),
)

type ServiceParams struct {
	fx.In
	DB         *gorm.DB
	Node       *snowflake.Node
	Affiliates *affiliate.Service
	Settings   *commission.Service
	Locker     locker.Locker
	Redis      *redis.Client `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	var cache BalanceCache = nopCache{}
	if p.Redis != nil {
		cache = NewRedisBalanceCache(p.Redis, 5*time.Minute)
	}

	return &Service{
		db:   p.DB,
		node: p.Node,
		now:  time.Now,

		entries:    repository.ProvideStore[RewardTransaction](p.DB),
		affiliates: p.Affiliates,
		settings:   p.Settings,
		locks:      p.Locker,
		cache:      cache,
	}
}

func migrate(cfg *config.Config, conn *gorm.DB) error {
	if !cfg.Database.AutoMigrate {
		return nil
	}
	return db.Migrate(conn, &RewardTransaction{})
}
