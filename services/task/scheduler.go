package task

import (
	"context"
	"time"

	"payout-engine/pkg/config"
	"payout-engine/pkg/featureflags"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Scheduler struct {
	service  *Service
	flags    featureflags.FeatureFlag
	interval time.Duration
}

func NewScheduler(cfg *config.Config, svc *Service, flags featureflags.FeatureFlag) *Scheduler {
	interval := cfg.Scheduler.HoldReleaseInterval
	if interval <= 0 {
		interval = time.Hour
	}
	return &Scheduler{service: svc, flags: flags, interval: interval}
}

// StartScheduler runs the hold release loop for the lifetime of the app.
func StartScheduler(lc fx.Lifecycle, cfg *config.Config, s *Scheduler) {
	if !cfg.Scheduler.Enabled {
		zap.L().Info("[Scheduler] disabled")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go s.run(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}

func (s *Scheduler) run(ctx context.Context) {
	zap.L().Info("[Scheduler] started hold release scheduler", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ticker.C:
			s.tick(ctx)
		case <-ctx.Done():
			zap.L().Warn("[Scheduler] stopped")
			return
		}
	}
}

// tick enqueues one hold release unless the auto_hold_release flag is off.
func (s *Scheduler) tick(ctx context.Context) bool {
	if !s.flags.Enabled(ctx, featureflags.AutoHoldRelease, true) {
		zap.L().Info("[Scheduler] automatic hold release paused by flag")
		return false
	}

	start := time.Now()
	if err := s.service.EnqueueHoldRelease(ctx); err != nil {
		zap.L().Error("[Scheduler] failed to enqueue hold release", zap.Error(err))
		return false
	}

	zap.L().Debug("[Scheduler] hold release dispatched", zap.Duration("duration", time.Since(start)))
	return true
}
