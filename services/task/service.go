package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"payout-engine/pkg/asynq"
	"payout-engine/pkg/db/option"
	"payout-engine/pkg/profiling"
	"payout-engine/pkg/repository"
	"payout-engine/pkg/taskname"
	"payout-engine/services/payout"

	"github.com/bwmarrin/snowflake"
	hasynq "github.com/hibiken/asynq"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type HoldReleaser interface {
	ReleaseEligibleHolds(ctx context.Context, now time.Time) (int64, error)
}

type BulkPayer interface {
	BulkProcessPayouts(ctx context.Context, affiliateIDs []string) (*payout.BulkResult, error)
}

type Service struct {
	db   *gorm.DB
	node *snowflake.Node
	now  func() time.Time

	holds    HoldReleaser
	payouts  BulkPayer
	enqueuer asynq.Enqueuer
	runs     repository.Repository[JobRun]
}

// EnqueueHoldRelease queues a hold release, or runs it inline when no queue
// is configured.
func (s *Service) EnqueueHoldRelease(ctx context.Context) error {
	now := s.now().UTC()
	if s.enqueuer == nil {
		_, err := s.RunHoldRelease(ctx, TriggerSchedule, now)
		return err
	}

	payload, _ := json.Marshal(holdReleasePayload{AsOf: now})
	info, err := s.enqueuer.Enqueue(ctx, hasynq.NewTask(taskname.PayoutHoldRelease, payload),
		hasynq.Queue("critical"),
		hasynq.MaxRetry(3),
		hasynq.Unique(time.Minute),
	)
	if errors.Is(err, hasynq.ErrDuplicateTask) {
		return nil
	}
	if err != nil {
		return err
	}

	zap.L().Info("enqueued hold release", zap.String("task_id", info.ID), zap.String("queue", info.Queue))
	return nil
}

// HandleHoldRelease is the asynq handler for taskname.PayoutHoldRelease.
func (s *Service) HandleHoldRelease(ctx context.Context, t *hasynq.Task) error {
	var payload holdReleasePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		zap.L().Error("invalid hold release payload", zap.Error(err))
		return fmt.Errorf("%w: %v", hasynq.SkipRetry, err)
	}

	// Eligibility is always judged by the worker's clock; the enqueue time is
	// only reported.
	now := s.now().UTC()
	if payload.AsOf.After(now) {
		zap.L().Warn("hold release enqueued ahead of worker clock",
			zap.Time("enqueued_as_of", payload.AsOf), zap.Time("worker_now", now))
	}

	_, err := s.RunHoldRelease(ctx, TriggerWorker, now)
	return err
}

// RunHoldRelease releases every eligible hold as of now and records the run.
func (s *Service) RunHoldRelease(ctx context.Context, trigger string, now time.Time) (*JobRun, error) {
	run, err := s.startRun(ctx, taskname.PayoutHoldRelease, trigger)
	if err != nil {
		return nil, err
	}

	var released int64
	err = profiling.Do(ctx, taskname.PayoutHoldRelease, func(ctx context.Context) error {
		var rerr error
		released, rerr = s.holds.ReleaseEligibleHolds(ctx, now)
		return rerr
	})
	s.finishRun(ctx, run, released, nil, err)
	if err != nil {
		zap.L().Error("hold release failed", zap.String("run_id", run.ID), zap.Error(err))
		return run, err
	}

	zap.L().Info("hold release finished", zap.String("run_id", run.ID), zap.Int64("released", released), zap.String("trigger", trigger))
	return run, nil
}

// EnqueueBulkPayout queues a bulk payout run. Without a queue it runs inline.
func (s *Service) EnqueueBulkPayout(ctx context.Context, affiliateIDs []string) (string, error) {
	if s.enqueuer == nil {
		run, err := s.RunBulkPayout(ctx, TriggerManual, affiliateIDs)
		if err != nil {
			return "", err
		}
		return run.ID, nil
	}

	payload, _ := json.Marshal(bulkPayoutPayload{AffiliateIDs: affiliateIDs})
	info, err := s.enqueuer.Enqueue(ctx, hasynq.NewTask(taskname.PayoutBulkRun, payload),
		hasynq.Queue("default"),
		hasynq.MaxRetry(0),
	)
	if err != nil {
		return "", err
	}
	return info.ID, nil
}

// HandleBulkPayout is the asynq handler for taskname.PayoutBulkRun. Payouts
// are never retried by the queue; failed affiliates stay in the payout queue.
func (s *Service) HandleBulkPayout(ctx context.Context, t *hasynq.Task) error {
	var payload bulkPayoutPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		zap.L().Error("invalid bulk payout payload", zap.Error(err))
		return fmt.Errorf("%w: %v", hasynq.SkipRetry, err)
	}

	_, err := s.RunBulkPayout(ctx, TriggerWorker, payload.AffiliateIDs)
	return err
}

func (s *Service) RunBulkPayout(ctx context.Context, trigger string, affiliateIDs []string) (*JobRun, error) {
	run, err := s.startRun(ctx, taskname.PayoutBulkRun, trigger)
	if err != nil {
		return nil, err
	}

	var result *payout.BulkResult
	err = profiling.Do(ctx, taskname.PayoutBulkRun, func(ctx context.Context) error {
		var perr error
		result, perr = s.payouts.BulkProcessPayouts(ctx, affiliateIDs)
		return perr
	})
	if err != nil {
		s.finishRun(ctx, run, 0, nil, err)
		return run, err
	}

	s.finishRun(ctx, run, int64(result.Successful), map[string]any{
		"payout_run_id": result.RunID,
		"successful":    result.Successful,
		"failed":        result.Failed,
		"total_gross":   result.TotalGross.String(),
	}, nil)
	return run, nil
}

// Runs lists the most recent job runs.
func (s *Service) Runs(ctx context.Context, name string, limit int) ([]*JobRun, error) {
	return s.runs.Find(ctx, &JobRun{Name: name},
		option.WithSortBy(option.QuerySortBy{SortBy: "started_at", OrderBy: "desc"}),
		option.WithLimit(limit))
}

func (s *Service) startRun(ctx context.Context, name, trigger string) (*JobRun, error) {
	run := &JobRun{
		ID:        s.node.Generate().String(),
		Name:      name,
		Trigger:   trigger,
		Status:    RunRunning,
		StartedAt: s.now().UTC(),
	}
	if err := s.runs.Create(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

func (s *Service) finishRun(ctx context.Context, run *JobRun, affected int64, metadata map[string]any, runErr error) {
	completed := s.now().UTC()
	updates := map[string]any{
		"status":       RunSuccess,
		"affected":     affected,
		"completed_at": completed,
	}
	run.Status = RunSuccess
	if runErr != nil {
		updates["status"] = RunFailed
		updates["error_msg"] = runErr.Error()
		run.Status = RunFailed
		run.ErrorMsg = runErr.Error()
	}
	if metadata != nil {
		raw, _ := json.Marshal(metadata)
		updates["metadata"] = datatypes.JSON(raw)
		run.Metadata = raw
	}
	run.Affected = affected
	run.CompletedAt = &completed

	if err := s.runs.Update(ctx, run.ID, updates); err != nil {
		zap.L().Warn("failed to record job run", zap.String("run_id", run.ID), zap.Error(err))
	}
}
