package profiling

import (
	"context"
	"runtime"

	"payout-engine/pkg/config"

	"github.com/grafana/pyroscope-go"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("profiling", fx.Invoke(Start))

// Payout workers contend on per-affiliate locks, so mutex and block
// profiles are sampled alongside CPU and heap.
var profileTypes = []pyroscope.ProfileType{
	pyroscope.ProfileCPU,
	pyroscope.ProfileAllocObjects,
	pyroscope.ProfileAllocSpace,
	pyroscope.ProfileInuseObjects,
	pyroscope.ProfileInuseSpace,
	pyroscope.ProfileGoroutines,
	pyroscope.ProfileMutexCount,
	pyroscope.ProfileMutexDuration,
	pyroscope.ProfileBlockCount,
	pyroscope.ProfileBlockDuration,
}

// Start begins continuous profiling when PYROSCOPE.ADDR is set.
func Start(lc fx.Lifecycle, c *config.Config) error {
	if c.Pyroscope.Addr == "" {
		return nil
	}

	runtime.SetMutexProfileFraction(5)
	runtime.SetBlockProfileRate(5)

	tags := map[string]string{
		"service_name": c.AppName,
		"env":          c.AppEnv,
	}
	if c.AppVersion != "" {
		tags["version"] = c.AppVersion
	}

	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: c.AppName,
		ServerAddress:   c.Pyroscope.Addr,
		ProfileTypes:    profileTypes,
		Tags:            tags,
	})
	if err != nil {
		return err
	}
	zap.L().Info("[Pyroscope] profiling started", zap.String("addr", c.Pyroscope.Addr))

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return profiler.Stop()
		},
	})
	return nil
}

// Do runs fn with an operation label so its samples can be filtered in the
// profiler. Without a running profiler the label only affects pprof.
func Do(ctx context.Context, operation string, fn func(context.Context) error) error {
	var err error
	pyroscope.TagWrapper(ctx, pyroscope.Labels("operation", operation), func(ctx context.Context) {
		err = fn(ctx)
	})
	return err
}
