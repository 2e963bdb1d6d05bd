package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/smallbiznis/erpsync/internal/clock"
	"github.com/smallbiznis/erpsync/internal/config"
	"github.com/smallbiznis/erpsync/internal/orchestrator"
	syncdomain "github.com/smallbiznis/erpsync/internal/sync/domain"
	tenantdomain "github.com/smallbiznis/erpsync/internal/tenant/domain"
)

type fakeRunner struct {
	mu    sync.Mutex
	calls []orchestrator.RunRequest
	ctxs  []context.Context
	block chan struct{}
}

func (f *fakeRunner) Run(ctx context.Context, req orchestrator.RunRequest) (*syncdomain.ExecutionResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.ctxs = append(f.ctxs, ctx)
	f.mu.Unlock()
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
		}
	}
	return &syncdomain.ExecutionResult{Status: syncdomain.ExecutionSuccess}, nil
}

func (f *fakeRunner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeRunner) last() orchestrator.RunRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

func (f *fakeRunner) lastCtx() context.Context {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ctxs[len(f.ctxs)-1]
}

func newTestScheduler(t *testing.T, runner Runner) (*Scheduler, *clock.FakeClock) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&JobDefinition{}))

	node, err := snowflake.NewNode(2)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))

	s := New(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
		Config: config.Config{Scheduler: config.SchedulerConfig{
			WorkerPool:       4,
			TickInterval:     10 * time.Millisecond,
			DefaultTimezone:  "Asia/Seoul",
			DefaultGraceSecs: 300,
		}},
		Orchestrator: runner,
	})
	return s, clk
}

func intervalJob(jobID string, minutes int) JobDefinition {
	return JobDefinition{
		JobID:           jobID,
		TenantID:        7,
		Name:            "nightly sync",
		IntervalMinutes: minutes,
		Coalesce:        true,
	}
}

func TestAddJobValidatesTrigger(t *testing.T) {
	s, _ := newTestScheduler(t, &fakeRunner{})
	ctx := context.Background()

	_, err := s.AddJob(ctx, JobDefinition{JobID: "j", CronSpec: "0 0 2 * * *"})
	assert.ErrorIs(t, err, ErrBadCronSpec)

	_, err = s.AddJob(ctx, JobDefinition{JobID: "j", CronSpec: "@daily"})
	assert.ErrorIs(t, err, ErrBadCronSpec)

	_, err = s.AddJob(ctx, JobDefinition{JobID: "j"})
	assert.ErrorIs(t, err, ErrNoTrigger)

	_, err = s.AddJob(ctx, JobDefinition{JobID: "j", CronSpec: "0 2 * * *", Timezone: "Mars/Olympus"})
	assert.ErrorIs(t, err, ErrBadTimezone)

	_, err = s.AddJob(ctx, JobDefinition{JobID: ""})
	assert.ErrorIs(t, err, ErrInvalidJobID)

	_, err = s.AddJob(ctx, JobDefinition{
		JobID: "j", IntervalMinutes: 5,
		Steps: datatypes.JSON(`["sales","shipping"]`),
	})
	assert.ErrorIs(t, err, ErrInvalidSteps)

	def, err := s.AddJob(ctx, JobDefinition{JobID: "j", CronSpec: "0 2 * * *"})
	require.NoError(t, err)
	assert.Equal(t, 1, def.MaxInstances)
	assert.Equal(t, "Asia/Seoul", def.Timezone)
	assert.Equal(t, 300, def.GraceSecs)
}

func TestCronTriggerFollowsJobTimezone(t *testing.T) {
	trigger, err := buildTrigger(JobDefinition{CronSpec: "0 2 * * *", Timezone: "Asia/Seoul"}, "UTC")
	require.NoError(t, err)

	// 2026-08-01 00:00 UTC is 09:00 KST; the next 02:00 KST is the following
	// day, i.e. 17:00 UTC.
	next := trigger.Next(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2026, 8, 1, 17, 0, 0, 0, time.UTC), next)
}

func TestAddJobReplacesSameID(t *testing.T) {
	s, _ := newTestScheduler(t, &fakeRunner{})
	ctx := context.Background()

	_, err := s.AddJob(ctx, intervalJob("nightly", 10))
	require.NoError(t, err)
	def2 := intervalJob("nightly", 30)
	def2.Name = "renamed"
	_, err = s.AddJob(ctx, def2)
	require.NoError(t, err)

	jobs := s.ListJobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "renamed", jobs[0].Name)
	assert.Equal(t, "every(30m0s)", jobs[0].Trigger)

	defs, err := s.loadJobs(ctx)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, 30, defs[0].IntervalMinutes)
}

func TestRunDueFiresAndAdvances(t *testing.T) {
	runner := &fakeRunner{}
	s, clk := newTestScheduler(t, runner)
	ctx := context.Background()

	_, err := s.AddJob(ctx, intervalJob("nightly", 1))
	require.NoError(t, err)

	s.runDue()
	assert.Zero(t, runner.count(), "job fired before its time")

	clk.Advance(61 * time.Second)
	s.runDue()
	s.wg.Wait()

	require.Equal(t, 1, runner.count())
	req := runner.last()
	assert.Equal(t, "nightly", req.JobID)
	assert.Equal(t, snowflake.ID(7), req.TenantID)

	jobs := s.ListJobs()
	require.Len(t, jobs, 1)
	assert.True(t, jobs[0].NextFire.After(clk.Now()))
}

func TestOverlappingFireIsSkipped(t *testing.T) {
	runner := &fakeRunner{block: make(chan struct{})}
	s, clk := newTestScheduler(t, runner)
	ctx := context.Background()

	_, err := s.AddJob(ctx, intervalJob("nightly", 1))
	require.NoError(t, err)

	clk.Advance(61 * time.Second)
	s.runDue()
	require.Eventually(t, func() bool { return runner.count() == 1 }, time.Second, 5*time.Millisecond)

	// Second due fire while the first is still in flight.
	clk.Advance(61 * time.Second)
	s.runDue()
	assert.Equal(t, 1, runner.count())

	close(runner.block)
	s.wg.Wait()
	assert.Equal(t, 1, runner.count())
}

func TestCoalesceCollapsesMissedFires(t *testing.T) {
	runner := &fakeRunner{}
	s, clk := newTestScheduler(t, runner)
	ctx := context.Background()

	_, err := s.AddJob(ctx, intervalJob("nightly", 1))
	require.NoError(t, err)

	// Three periods pass in one gap, still inside the grace window.
	clk.Advance(3*time.Minute + time.Second)
	s.runDue()
	s.wg.Wait()
	assert.Equal(t, 1, runner.count())

	s.runDue()
	s.wg.Wait()
	assert.Equal(t, 1, runner.count(), "coalesced fires must not replay")
}

func TestMissedFireOlderThanGraceIsSkipped(t *testing.T) {
	runner := &fakeRunner{}
	s, clk := newTestScheduler(t, runner)
	ctx := context.Background()

	def := intervalJob("nightly", 1)
	def.GraceSecs = 60
	_, err := s.AddJob(ctx, def)
	require.NoError(t, err)

	clk.Advance(10 * time.Minute)
	s.runDue()
	s.wg.Wait()
	assert.Zero(t, runner.count())

	jobs := s.ListJobs()
	require.Len(t, jobs, 1)
	assert.True(t, jobs[0].NextFire.After(clk.Now()))
}

func TestPauseAndResume(t *testing.T) {
	runner := &fakeRunner{}
	s, clk := newTestScheduler(t, runner)
	ctx := context.Background()

	_, err := s.AddJob(ctx, intervalJob("nightly", 1))
	require.NoError(t, err)
	require.NoError(t, s.PauseJob(ctx, "nightly"))

	clk.Advance(61 * time.Second)
	s.runDue()
	s.wg.Wait()
	assert.Zero(t, runner.count())

	require.NoError(t, s.ResumeJob(ctx, "nightly"))
	clk.Advance(61 * time.Second)
	s.runDue()
	s.wg.Wait()
	assert.Equal(t, 1, runner.count())

	assert.ErrorIs(t, s.PauseJob(ctx, "missing"), ErrJobNotFound)
}

func TestRunNowBypassesSchedule(t *testing.T) {
	runner := &fakeRunner{}
	s, _ := newTestScheduler(t, runner)
	ctx := context.Background()

	def := intervalJob("nightly", 60)
	def.Steps = datatypes.JSON(`["sales"]`)
	_, err := s.AddJob(ctx, def)
	require.NoError(t, err)

	require.NoError(t, s.RunNow(ctx, "nightly"))
	s.wg.Wait()

	require.Equal(t, 1, runner.count())
	req := runner.last()
	assert.Equal(t, []tenantdomain.Step{tenantdomain.StepSales}, req.Steps)

	assert.ErrorIs(t, s.RunNow(ctx, "missing"), ErrJobNotFound)
}

func TestRunNowOutlivesCallerContext(t *testing.T) {
	runner := &fakeRunner{}
	s, _ := newTestScheduler(t, runner)

	_, err := s.AddJob(context.Background(), intervalJob("nightly", 60))
	require.NoError(t, err)

	// A control caller cancels its context the moment the call returns.
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.RunNow(ctx, "nightly"))
	cancel()
	s.wg.Wait()

	require.Equal(t, 1, runner.count())
	assert.NoError(t, runner.lastCtx().Err(), "fired occurrence must not share the caller's context")
}

func TestStopWaitsForRunningJob(t *testing.T) {
	runner := &fakeRunner{block: make(chan struct{})}
	s, clk := newTestScheduler(t, runner)
	ctx := context.Background()

	require.NoError(t, s.Start(ctx))
	_, err := s.AddJob(ctx, intervalJob("nightly", 1))
	require.NoError(t, err)

	clk.Advance(61 * time.Second)
	require.Eventually(t, func() bool { return runner.count() == 1 }, time.Second, 5*time.Millisecond)

	stopErr := make(chan error, 1)
	go func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		stopErr <- s.Stop(stopCtx)
	}()

	// The drain must not cancel the in-flight run.
	time.Sleep(30 * time.Millisecond)
	assert.NoError(t, runner.lastCtx().Err())

	close(runner.block)
	require.NoError(t, <-stopErr)
	assert.NoError(t, runner.lastCtx().Err())
}

func TestStopDeadlineCancelsStragglers(t *testing.T) {
	runner := &fakeRunner{block: make(chan struct{})}
	s, clk := newTestScheduler(t, runner)
	ctx := context.Background()

	require.NoError(t, s.Start(ctx))
	_, err := s.AddJob(ctx, intervalJob("nightly", 1))
	require.NoError(t, err)

	clk.Advance(61 * time.Second)
	require.Eventually(t, func() bool { return runner.count() == 1 }, time.Second, 5*time.Millisecond)

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, s.Stop(stopCtx), context.DeadlineExceeded)

	s.wg.Wait()
	assert.ErrorIs(t, runner.lastCtx().Err(), context.Canceled)
}

func TestRemoveJob(t *testing.T) {
	s, _ := newTestScheduler(t, &fakeRunner{})
	ctx := context.Background()

	_, err := s.AddJob(ctx, intervalJob("nightly", 1))
	require.NoError(t, err)
	require.NoError(t, s.RemoveJob(ctx, "nightly"))
	assert.Empty(t, s.ListJobs())

	defs, err := s.loadJobs(ctx)
	require.NoError(t, err)
	assert.Empty(t, defs)

	assert.ErrorIs(t, s.RemoveJob(ctx, "nightly"), ErrJobNotFound)
}

func TestStartLoadsPersistedJobs(t *testing.T) {
	runner := &fakeRunner{}
	s, _ := newTestScheduler(t, runner)
	ctx := context.Background()

	_, err := s.AddJob(ctx, intervalJob("nightly", 1))
	require.NoError(t, err)

	// A fresh scheduler over the same database sees the job after Start.
	s2 := New(Params{
		DB:           s.db,
		Log:          zap.NewNop(),
		GenID:        s.genID,
		Clock:        s.clock,
		Config:       config.Config{Scheduler: config.SchedulerConfig{TickInterval: time.Hour}},
		Orchestrator: runner,
	})
	require.NoError(t, s2.Start(ctx))
	defer func() { _ = s2.Stop(ctx) }()

	assert.ErrorIs(t, s2.Start(ctx), ErrAlreadyRunning)
	jobs := s2.ListJobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "nightly", jobs[0].JobID)
}
