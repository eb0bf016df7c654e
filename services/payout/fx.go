package payout

import (
	"strings"
	"time"

	"payout-engine/pkg/config"
	"payout-engine/pkg/db"
	"payout-engine/pkg/locker"
	"payout-engine/pkg/processor"
	"payout-engine/pkg/repository"
	"payout-engine/pkg/sequence"
	"payout-engine/services/affiliate"
	"payout-engine/services/commission"
	"payout-engine/services/ledger"

	"github.com/bwmarrin/snowflake"
	"github.com/minio/minio-go/v7"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("payout.service",
	fx.Provide(ProvideReconciler),
	fx.Provide(NewService),
	fx.Invoke(migrate),
)

type ReconcilerParams struct {
	fx.In
	Config    *config.Config
	Processor processor.Processor
	Redis     *redis.Client `optional:"true"`
}

func ProvideReconciler(p ReconcilerParams) *Reconciler {
	var store ReservationStore
	if p.Redis != nil {
		store = NewRedisReservations(p.Redis, p.Config.Payout.LockTTL)
	} else {
		zap.L().Info("[Payout] using in-process fund reservations")
		store = NewMemoryReservations()
	}
	return NewReconciler(p.Processor, store, p.Config.Processor.Currency)
}

type ServiceParams struct {
	fx.In
	Config     *config.Config
	DB         *gorm.DB
	Node       *snowflake.Node
	Ledger     *ledger.Service
	Affiliates *affiliate.Service
	Settings   *commission.Service
	Processor  processor.Processor
	Reconciler *Reconciler
	Locker     locker.Locker
	Sequence   sequence.Generator `optional:"true"`
	Minio      *minio.Client      `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	var archiver ReportArchiver = nopArchiver{}
	if p.Minio != nil {
		archiver = NewMinioArchiver(p.Minio, p.Config.Minio.BucketName)
	}
	refs := p.Sequence
	if refs == nil {
		refs = sequence.NewLocal()
	}

	return &Service{
		db:   p.DB,
		node: p.Node,
		now:  time.Now,

		ledger:      p.Ledger,
		affiliates:  p.Affiliates,
		settings:    p.Settings,
		processor:   p.Processor,
		reconciler:  p.Reconciler,
		locks:       p.Locker,
		refs:        refs,
		archiver:    archiver,
		payouts:     repository.ProvideStore[AffiliatePayout](p.DB),
		currency:    strings.ToLower(p.Config.Processor.Currency),
		concurrency: p.Config.Payout.Concurrency,
	}
}

func migrate(cfg *config.Config, conn *gorm.DB) error {
	if !cfg.Database.AutoMigrate {
		return nil
	}
	return db.Migrate(conn, &AffiliatePayout{})
}
