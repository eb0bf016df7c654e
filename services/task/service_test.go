package task

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Flagsmith/flagsmith-go-client/v2"
	"github.com/bwmarrin/snowflake"
	hasynq "github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"payout-engine/pkg/repository"
	"payout-engine/pkg/taskname"
	"payout-engine/services/payout"
	"payout-engine/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fakeReleaser struct {
	calls []time.Time
	n     int64
	err   error
}

func (f *fakeReleaser) ReleaseEligibleHolds(_ context.Context, now time.Time) (int64, error) {
	f.calls = append(f.calls, now)
	return f.n, f.err
}

type fakePayer struct {
	ids []string
}

func (f *fakePayer) BulkProcessPayouts(_ context.Context, ids []string) (*payout.BulkResult, error) {
	f.ids = ids
	return &payout.BulkResult{RunID: "run_1", Successful: 2, Failed: 1, TotalGross: decimal.NewFromInt(700)}, nil
}

type fakeEnqueuer struct {
	tasks []*hasynq.Task
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, task *hasynq.Task, _ ...hasynq.Option) (*hasynq.TaskInfo, error) {
	f.tasks = append(f.tasks, task)
	return &hasynq.TaskInfo{ID: "task_1", Queue: "critical"}, nil
}

type staticFlags map[string]bool

func (s staticFlags) Enabled(_ context.Context, name string, fallback bool) bool {
	if v, ok := s[name]; ok {
		return v
	}
	return fallback
}

func (s staticFlags) Flags(context.Context, string, ...*flagsmith.Trait) (flagsmith.Flags, error) {
	return flagsmith.Flags{}, nil
}

var clock = time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, holds HoldReleaser, payer BulkPayer) *Service {
	t.Helper()
	db := testutil.NewTestDB(t, &JobRun{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	return &Service{
		db:      db,
		node:    node,
		now:     func() time.Time { return clock },
		holds:   holds,
		payouts: payer,
		runs:    repository.ProvideStore[JobRun](db),
	}
}

func TestRunHoldReleaseRecordsRun(t *testing.T) {
	holds := &fakeReleaser{n: 4}
	svc := newTestService(t, holds, &fakePayer{})
	ctx := context.Background()

	run, err := svc.RunHoldRelease(ctx, TriggerManual, clock)
	require.NoError(t, err)
	require.Equal(t, RunSuccess, run.Status)
	require.Equal(t, int64(4), run.Affected)
	require.Equal(t, []time.Time{clock}, holds.calls)

	runs, err := svc.Runs(ctx, taskname.PayoutHoldRelease, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, RunSuccess, runs[0].Status)
	require.Equal(t, TriggerManual, runs[0].Trigger)
	require.NotNil(t, runs[0].CompletedAt)
}

func TestRunHoldReleaseRecordsFailure(t *testing.T) {
	svc := newTestService(t, &fakeReleaser{err: errors.New("db down")}, &fakePayer{})
	ctx := context.Background()

	_, err := svc.RunHoldRelease(ctx, TriggerWorker, clock)
	require.Error(t, err)

	runs, err := svc.Runs(ctx, taskname.PayoutHoldRelease, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, RunFailed, runs[0].Status)
	require.Equal(t, "db down", runs[0].ErrorMsg)
}

func TestEnqueueHoldReleaseRunsInlineWithoutQueue(t *testing.T) {
	holds := &fakeReleaser{n: 1}
	svc := newTestService(t, holds, &fakePayer{})

	require.NoError(t, svc.EnqueueHoldRelease(context.Background()))
	require.Len(t, holds.calls, 1)
}

func TestEnqueueHoldReleaseUsesQueue(t *testing.T) {
	holds := &fakeReleaser{}
	svc := newTestService(t, holds, &fakePayer{})
	q := &fakeEnqueuer{}
	svc.enqueuer = q

	require.NoError(t, svc.EnqueueHoldRelease(context.Background()))
	require.Empty(t, holds.calls)
	require.Len(t, q.tasks, 1)
	require.Equal(t, taskname.PayoutHoldRelease, q.tasks[0].Type())

	require.NoError(t, svc.HandleHoldRelease(context.Background(), q.tasks[0]))
	require.Equal(t, []time.Time{clock}, holds.calls)
}

func TestHandleHoldReleaseUsesWorkerClock(t *testing.T) {
	holds := &fakeReleaser{}
	svc := newTestService(t, holds, &fakePayer{})

	payload, err := json.Marshal(holdReleasePayload{AsOf: clock.Add(6 * time.Hour)})
	require.NoError(t, err)
	require.NoError(t, svc.HandleHoldRelease(context.Background(), hasynq.NewTask(taskname.PayoutHoldRelease, payload)))
	require.Equal(t, []time.Time{clock}, holds.calls)
}

func TestHandleHoldReleaseRejectsBadPayload(t *testing.T) {
	svc := newTestService(t, &fakeReleaser{}, &fakePayer{})
	err := svc.HandleHoldRelease(context.Background(), hasynq.NewTask(taskname.PayoutHoldRelease, []byte("{")))
	require.ErrorIs(t, err, hasynq.SkipRetry)
}

func TestHandleBulkPayout(t *testing.T) {
	payer := &fakePayer{}
	svc := newTestService(t, &fakeReleaser{}, payer)
	ctx := context.Background()

	payload, err := json.Marshal(bulkPayoutPayload{AffiliateIDs: []string{"a1", "a2", "a3"}})
	require.NoError(t, err)
	require.NoError(t, svc.HandleBulkPayout(ctx, hasynq.NewTask(taskname.PayoutBulkRun, payload)))
	require.Equal(t, []string{"a1", "a2", "a3"}, payer.ids)

	runs, err := svc.Runs(ctx, taskname.PayoutBulkRun, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, int64(2), runs[0].Affected)

	var meta map[string]any
	require.NoError(t, json.Unmarshal(runs[0].Metadata, &meta))
	require.Equal(t, "run_1", meta["payout_run_id"])
}

func TestSchedulerTickHonoursFlag(t *testing.T) {
	holds := &fakeReleaser{}
	svc := newTestService(t, holds, &fakePayer{})

	paused := &Scheduler{service: svc, flags: staticFlags{"auto_hold_release": false}, interval: time.Hour}
	require.False(t, paused.tick(context.Background()))
	require.Empty(t, holds.calls)

	running := &Scheduler{service: svc, flags: staticFlags{}, interval: time.Hour}
	require.True(t, running.tick(context.Background()))
	require.Len(t, holds.calls, 1)
}
