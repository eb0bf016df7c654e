package main

import (
	"log"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	api "payout-engine/internal/httpapi"
	"payout-engine/pkg/asynq"
	"payout-engine/pkg/config"
	"payout-engine/pkg/db"
	"payout-engine/pkg/featureflags"
	"payout-engine/pkg/gen"
	"payout-engine/pkg/hashistack/secretmanager"
	"payout-engine/pkg/health"
	"payout-engine/pkg/httpapi"
	"payout-engine/pkg/locker"
	"payout-engine/pkg/logger"
	"payout-engine/pkg/minio"
	"payout-engine/pkg/otelcol"
	"payout-engine/pkg/processor/stripe"
	"payout-engine/pkg/profiling"
	"payout-engine/pkg/redis"
	"payout-engine/pkg/sequence"
	"payout-engine/pkg/server"
	"payout-engine/services/affiliate"
	"payout-engine/services/commission"
	"payout-engine/services/ledger"
	"payout-engine/services/payout"
	"payout-engine/services/task"
)

func main() {
	opts := []fx.Option{
		secretmanager.Module,
		config.Module,
		logger.Module,
		otelcol.Module,
		profiling.Module,
		gen.Module,
		db.Module,
		redis.Module,
		locker.Module,
		sequence.Module,
		asynq.Client,
		minio.Client,
		featureflags.Module,
		stripe.Module,

		commission.Module,
		affiliate.Module,
		ledger.Module,
		payout.Module,
		task.Module,
		task.SchedulerModule,

		health.Module,
		httpapi.Module,
		api.Module,
		server.ProvideHTTPServer,
		server.ProvideGRPCServer,
		fx.Invoke(health.RegisterGRPC),
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	if cfg.AppEnv == "development" {
		return &fxevent.ZapLogger{Logger: logger}
	}
	return fxevent.NopLogger
})
