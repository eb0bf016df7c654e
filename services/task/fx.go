package task

import (
	"time"

	"payout-engine/pkg/asynq"
	"payout-engine/pkg/config"
	"payout-engine/pkg/db"
	"payout-engine/pkg/repository"
	"payout-engine/pkg/taskname"
	"payout-engine/services/ledger"
	"payout-engine/services/payout"

	"github.com/bwmarrin/snowflake"
	hasynq "github.com/hibiken/asynq"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("task.service",
	fx.Provide(
		NewService,
		NewScheduler,
	),
	fx.Invoke(migrate),
)

// SchedulerModule starts the recurring hold release loop.
var SchedulerModule = fx.Module("task.scheduler",
	fx.Invoke(StartScheduler),
)

// WorkerModule registers task handlers on the asynq server mux.
var WorkerModule = fx.Module("task.worker",
	fx.Invoke(RegisterHandlers),
)

type Params struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Ledger   *ledger.Service
	Payouts  *payout.Service
	Enqueuer asynq.Enqueuer `optional:"true"`
}

func NewService(p Params) *Service {
	return &Service{
		db:   p.DB,
		node: p.Node,
		now:  time.Now,

		holds:    p.Ledger,
		payouts:  p.Payouts,
		enqueuer: p.Enqueuer,
		runs:     repository.ProvideStore[JobRun](p.DB),
	}
}

func RegisterHandlers(mux *hasynq.ServeMux, svc *Service) {
	mux.HandleFunc(taskname.PayoutHoldRelease, svc.HandleHoldRelease)
	mux.HandleFunc(taskname.PayoutBulkRun, svc.HandleBulkPayout)
}

func migrate(cfg *config.Config, conn *gorm.DB) error {
	if !cfg.Database.AutoMigrate {
		return nil
	}
	return db.Migrate(conn, &JobRun{})
}
