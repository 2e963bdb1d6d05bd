package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/erpsync/internal/clock"
	"github.com/smallbiznis/erpsync/internal/config"
	obsmetrics "github.com/smallbiznis/erpsync/internal/observability/metrics"
	"github.com/smallbiznis/erpsync/internal/orchestrator"
	syncdomain "github.com/smallbiznis/erpsync/internal/sync/domain"
	tenantdomain "github.com/smallbiznis/erpsync/internal/tenant/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	ErrJobNotFound    = errors.New("job not found")
	ErrInvalidJobID   = errors.New("job id is required")
	ErrInvalidSteps   = errors.New("step override contains an unknown step")
	ErrAlreadyRunning = errors.New("scheduler already started")
)

// Runner executes one job occurrence. Satisfied by the orchestrator.
type Runner interface {
	Run(ctx context.Context, req orchestrator.RunRequest) (*syncdomain.ExecutionResult, error)
}

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Config       config.Config
	Orchestrator Runner
	Locker       *Locker `optional:"true"`
}

// jobState is the live counterpart of one JobDefinition.
type jobState struct {
	def     JobDefinition
	trigger Trigger
	next    time.Time
	running int
}

// Scheduler fires persisted jobs from a single ticker loop onto a bounded
// worker pool. One scheduler instance runs per process; redis locking keeps
// multiple processes from firing the same job.
type Scheduler struct {
	db     *gorm.DB
	log    *zap.Logger
	genID  *snowflake.Node
	clock  clock.Clock
	cfg    config.SchedulerConfig
	orch   Runner
	locker *Locker

	mu      sync.Mutex
	jobs    map[string]*jobState
	started bool
	cancel  context.CancelFunc

	// jobCtx covers executing jobs. It is independent of both the run loop
	// and any caller's request context: a fired occurrence keeps running
	// after run_now returns, and graceful stop only cancels it once the
	// drain deadline expires.
	jobCtx    context.Context
	jobCancel context.CancelFunc

	sem chan struct{}
	wg  sync.WaitGroup
}

func New(p Params) *Scheduler {
	cfg := p.Config.Scheduler
	if cfg.WorkerPool <= 0 {
		cfg.WorkerPool = 20
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.DefaultTimezone == "" {
		cfg.DefaultTimezone = "Asia/Seoul"
	}
	if cfg.DefaultGraceSecs <= 0 {
		cfg.DefaultGraceSecs = 300
	}
	jobCtx, jobCancel := context.WithCancel(context.Background())
	return &Scheduler{
		db:        p.DB,
		log:       p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		genID:     p.GenID,
		clock:     p.Clock,
		cfg:       cfg,
		orch:      p.Orchestrator,
		locker:    p.Locker,
		jobs:      map[string]*jobState{},
		sem:       make(chan struct{}, cfg.WorkerPool),
		jobCtx:    jobCtx,
		jobCancel: jobCancel,
	}
}

// Start loads persisted jobs and begins the run loop. Idempotent start is
// an error; the caller owns the lifecycle.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.started = true
	s.mu.Unlock()

	defs, err := s.loadJobs(ctx)
	if err != nil {
		s.mu.Lock()
		s.started = false
		s.mu.Unlock()
		return err
	}

	now := s.clock.Now()
	s.mu.Lock()
	for _, def := range defs {
		trigger, terr := buildTrigger(def, s.cfg.DefaultTimezone)
		if terr != nil {
			s.log.Warn("persisted job has an invalid trigger, skipping",
				zap.String("job_id", def.JobID),
				zap.Error(terr),
			)
			continue
		}
		s.jobs[def.JobID] = &jobState{def: def, trigger: trigger, next: trigger.Next(now)}
	}
	loaded := len(s.jobs)

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	if s.jobCtx == nil || s.jobCtx.Err() != nil {
		s.jobCtx, s.jobCancel = context.WithCancel(context.Background())
	}
	s.mu.Unlock()

	s.log.Info("scheduler started",
		zap.Int("jobs", loaded),
		zap.Int("worker_pool", cap(s.sem)),
		zap.Duration("tick", s.cfg.TickInterval),
	)

	s.wg.Add(1)
	go s.runForever(runCtx)
	return nil
}

// Stop ends the loop and waits for in-flight jobs, up to the context
// deadline. Running jobs keep their context through the drain so the
// current step can finish; only a missed deadline cancels them.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	cancel := s.cancel
	jobCancel := s.jobCancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out, canceling running jobs")
		if jobCancel != nil {
			jobCancel()
		}
		return ctx.Err()
	}
}

func (s *Scheduler) runForever(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	nextTick := time.Now().Add(s.cfg.TickInterval)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if lag := time.Since(nextTick); lag > 0 {
			obsmetrics.Sync().ObserveRunLoopLag(lag)
		}
		nextTick = nextTick.Add(s.cfg.TickInterval)
		s.runDue()
	}
}

// runDue fires every job whose next fire time has passed. Fire times are
// advanced under the lock; the work itself runs on the pool.
func (s *Scheduler) runDue() {
	now := s.clock.Now()
	grace := time.Duration(s.cfg.DefaultGraceSecs) * time.Second

	s.mu.Lock()
	var due []*jobState
	for _, st := range s.jobs {
		if st.next.IsZero() || st.next.After(now) {
			continue
		}
		scheduled := st.next
		jobGrace := grace
		if st.def.GraceSecs > 0 {
			jobGrace = time.Duration(st.def.GraceSecs) * time.Second
		}

		if st.def.Coalesce {
			// Collapse every overdue fire into one.
			for !st.next.After(now) {
				st.next = st.trigger.Next(st.next)
			}
		} else {
			st.next = st.trigger.Next(st.next)
		}

		if st.def.Paused {
			obsmetrics.Sync().IncJobSkip(st.def.JobID, obsmetrics.JobReasonPaused)
			continue
		}
		if now.Sub(scheduled) > jobGrace {
			obsmetrics.Sync().IncJobSkip(st.def.JobID, obsmetrics.JobReasonMissedExpired)
			s.log.Warn("missed fire older than grace period, skipping",
				zap.String("job_id", st.def.JobID),
				zap.Time("scheduled", scheduled),
			)
			continue
		}
		if st.def.MaxInstances > 0 && st.running >= st.def.MaxInstances {
			obsmetrics.Sync().IncJobSkip(st.def.JobID, obsmetrics.JobReasonOverlapSkipped)
			s.log.Warn("previous run still in flight, skipping fire",
				zap.String("job_id", st.def.JobID),
				zap.Int("running", st.running),
			)
			continue
		}
		st.running++
		due = append(due, st)
	}
	s.mu.Unlock()

	for _, st := range due {
		s.dispatch(st)
	}
}

// dispatch hands one fired occurrence to the pool. The goroutine runs on
// the scheduler's own job context, never the caller's.
func (s *Scheduler) dispatch(st *jobState) {
	def := st.def
	s.mu.Lock()
	ctx := s.jobCtx
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			st.running--
			s.mu.Unlock()
		}()

		select {
		case s.sem <- struct{}{}:
			defer func() { <-s.sem }()
		case <-ctx.Done():
			return
		}

		s.execute(ctx, def)
	}()
}

// execute runs one job occurrence: take the cross-instance lock if
// configured, then hand the tenant to the orchestrator.
func (s *Scheduler) execute(ctx context.Context, def JobDefinition) {
	log := s.log.With(
		zap.String("job_id", def.JobID),
		zap.String("tenant_id", def.TenantID.String()),
	)

	if s.locker != nil {
		key := "erpsync:job:" + def.JobID
		token, ok, err := s.locker.TryLock(ctx, key, time.Hour)
		if err != nil {
			log.Warn("job lock unavailable, proceeding unlocked", zap.Error(err))
		} else if !ok {
			obsmetrics.Sync().IncJobSkip(def.JobID, obsmetrics.JobReasonLockHeld)
			log.Info("job lock held elsewhere, skipping")
			return
		} else {
			defer func() {
				if rerr := s.locker.Release(context.Background(), key, token); rerr != nil {
					log.Warn("job lock release failed", zap.Error(rerr))
				}
			}()
		}
	}

	started := time.Now()
	obsmetrics.Sync().IncJobRun(def.JobID)
	log.Info("job fired")

	exec, err := s.orch.Run(ctx, orchestrator.RunRequest{
		TenantID: def.TenantID,
		JobID:    def.JobID,
		Steps:    decodeSteps(def.Steps),
	})
	obsmetrics.Sync().ObserveJobDuration(def.JobID, time.Since(started))

	switch {
	case err != nil:
		obsmetrics.Sync().IncJobError(def.JobID, "")
		log.Error("job run failed", zap.Error(err))
	case exec.Status == syncdomain.ExecutionFailed:
		var steps []syncdomain.StepResult
		_ = json.Unmarshal(exec.Steps, &steps)
		for _, sr := range steps {
			if sr.Status == string(syncdomain.ExecutionFailed) {
				obsmetrics.Sync().IncJobError(def.JobID, sr.Step)
			}
		}
		log.Warn("job finished with failed steps",
			zap.String("error_kind", exec.ErrorKind),
			zap.String("error", exec.ErrorMsg),
		)
	default:
		log.Info("job finished",
			zap.Int64("processed", exec.Processed),
			zap.Duration("elapsed", time.Since(started)),
		)
	}
}

// AddJob validates, persists and activates a definition, replacing any job
// with the same id.
func (s *Scheduler) AddJob(ctx context.Context, def JobDefinition) (*JobDefinition, error) {
	def.JobID = strings.TrimSpace(def.JobID)
	if def.JobID == "" {
		return nil, ErrInvalidJobID
	}
	if def.MaxInstances <= 0 {
		def.MaxInstances = 1
	}
	if def.GraceSecs <= 0 {
		def.GraceSecs = s.cfg.DefaultGraceSecs
	}
	if strings.TrimSpace(def.Timezone) == "" {
		def.Timezone = s.cfg.DefaultTimezone
	}
	if err := validateStepsJSON(def.Steps); err != nil {
		return nil, err
	}

	trigger, err := buildTrigger(def, s.cfg.DefaultTimezone)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	if def.ID == 0 {
		def.ID = s.genID.Generate()
		def.CreatedAt = now
	}
	def.UpdatedAt = now
	if err := s.saveJob(ctx, &def); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.jobs[def.JobID] = &jobState{def: def, trigger: trigger, next: trigger.Next(now)}
	s.mu.Unlock()

	s.log.Info("job registered",
		zap.String("job_id", def.JobID),
		zap.String("trigger", trigger.String()),
	)
	return &def, nil
}

func (s *Scheduler) RemoveJob(ctx context.Context, jobID string) error {
	s.mu.Lock()
	_, ok := s.jobs[jobID]
	delete(s.jobs, jobID)
	s.mu.Unlock()
	if !ok {
		return ErrJobNotFound
	}
	return s.deleteJob(ctx, jobID)
}

func (s *Scheduler) PauseJob(ctx context.Context, jobID string) error {
	return s.setPaused(ctx, jobID, true)
}

// ResumeJob clears the pause flag and recomputes the next fire from now, so
// a long pause does not unleash a backlog.
func (s *Scheduler) ResumeJob(ctx context.Context, jobID string) error {
	return s.setPaused(ctx, jobID, false)
}

func (s *Scheduler) setPaused(ctx context.Context, jobID string, paused bool) error {
	s.mu.Lock()
	st, ok := s.jobs[jobID]
	if ok {
		st.def.Paused = paused
		if !paused {
			st.next = st.trigger.Next(s.clock.Now())
		}
	}
	s.mu.Unlock()
	if !ok {
		return ErrJobNotFound
	}
	return s.setJobPaused(ctx, jobID, paused)
}

// RunNow fires one occurrence immediately, still honoring max instances and
// the cross-instance lock. The occurrence runs on the scheduler's job
// context and outlives the caller's ctx.
func (s *Scheduler) RunNow(ctx context.Context, jobID string) error {
	s.mu.Lock()
	st, ok := s.jobs[jobID]
	if !ok {
		s.mu.Unlock()
		return ErrJobNotFound
	}
	if st.def.MaxInstances > 0 && st.running >= st.def.MaxInstances {
		s.mu.Unlock()
		obsmetrics.Sync().IncJobSkip(jobID, obsmetrics.JobReasonOverlapSkipped)
		return fmt.Errorf("job %s already running at max instances", jobID)
	}
	st.running++
	s.mu.Unlock()

	s.dispatch(st)
	return nil
}

func (s *Scheduler) ListJobs() []JobInfo {
	s.mu.Lock()
	infos := make([]JobInfo, 0, len(s.jobs))
	for _, st := range s.jobs {
		infos = append(infos, JobInfo{
			JobID:    st.def.JobID,
			TenantID: st.def.TenantID,
			Name:     st.def.Name,
			Trigger:  st.trigger.String(),
			NextFire: st.next,
			Paused:   st.def.Paused,
			Running:  st.running,
		})
	}
	s.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].JobID < infos[j].JobID })
	return infos
}

func decodeSteps(raw datatypes.JSON) []tenantdomain.Step {
	if len(raw) == 0 {
		return nil
	}
	var steps []tenantdomain.Step
	if err := json.Unmarshal(raw, &steps); err != nil {
		return nil
	}
	return steps
}

func validateStepsJSON(raw datatypes.JSON) error {
	if len(raw) == 0 {
		return nil
	}
	var steps []tenantdomain.Step
	if err := json.Unmarshal(raw, &steps); err != nil {
		return ErrInvalidSteps
	}
	for _, step := range steps {
		if !tenantdomain.ValidStep(step) {
			return ErrInvalidSteps
		}
	}
	return nil
}
