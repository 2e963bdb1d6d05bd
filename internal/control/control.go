package control

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	classifierdomain "github.com/smallbiznis/erpsync/internal/classifier/domain"
	"github.com/smallbiznis/erpsync/internal/orchestrator"
	"github.com/smallbiznis/erpsync/internal/scheduler"
	syncdomain "github.com/smallbiznis/erpsync/internal/sync/domain"
	tenantdomain "github.com/smallbiznis/erpsync/internal/tenant/domain"
	"github.com/smallbiznis/erpsync/internal/vendorapi"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Error kinds surfaced to collaborators. Low cardinality on purpose.
const (
	KindInvalidRequest = "invalid_request"
	KindNotFound       = "not_found"
	KindConflict       = "conflict"
	KindPersistence    = "persistence"
	KindInternal       = "internal"
)

type Error struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Result is the uniform envelope for every control operation. Exactly one
// of Data and Error is set; OK mirrors Error == nil.
type Result struct {
	OK    bool   `json:"ok"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

func ok(data any) Result {
	return Result{OK: true, Data: data}
}

func fail(kind, msg string) Result {
	return Result{Error: &Error{Kind: kind, Message: msg}}
}

func failErr(err error) Result {
	return fail(classify(err), err.Error())
}

func classify(err error) string {
	switch {
	case errors.Is(err, tenantdomain.ErrNotFound),
		errors.Is(err, scheduler.ErrJobNotFound):
		return KindNotFound
	case errors.Is(err, tenantdomain.ErrDuplicateCode):
		return KindConflict
	case errors.Is(err, tenantdomain.ErrInvalidCode),
		errors.Is(err, tenantdomain.ErrInvalidName),
		errors.Is(err, tenantdomain.ErrInvalidCredentials),
		errors.Is(err, tenantdomain.ErrInvalidStepList),
		errors.Is(err, tenantdomain.ErrInvalidID),
		errors.Is(err, classifierdomain.ErrInvalidRuleID),
		errors.Is(err, classifierdomain.ErrInvalidRuleKind),
		errors.Is(err, classifierdomain.ErrInvalidConfidence),
		errors.Is(err, classifierdomain.ErrInvalidPattern),
		errors.Is(err, classifierdomain.ErrInvalidPriceBand),
		errors.Is(err, scheduler.ErrInvalidJobID),
		errors.Is(err, scheduler.ErrInvalidSteps),
		errors.Is(err, scheduler.ErrNoTrigger),
		errors.Is(err, scheduler.ErrBadCronSpec),
		errors.Is(err, scheduler.ErrBadTimezone):
		return KindInvalidRequest
	case errors.Is(err, syncdomain.ErrPersistence):
		return KindPersistence
	case errors.Is(err, vendorapi.ErrTransport),
		errors.Is(err, vendorapi.ErrProtocol),
		errors.Is(err, vendorapi.ErrAuth):
		return vendorapi.Kind(err)
	default:
		return KindInternal
	}
}

type Params struct {
	fx.In

	Log        *zap.Logger
	Tenants    tenantdomain.Service
	Classifier classifierdomain.Service
	Orch       *orchestrator.Service
	Sched      *scheduler.Scheduler
}

// Service is the transport-neutral control surface. Every method returns a
// Result; panics and raw errors never cross this boundary.
type Service struct {
	log        *zap.Logger
	tenants    tenantdomain.Service
	classifier classifierdomain.Service
	orch       *orchestrator.Service
	sched      *scheduler.Scheduler
}

func New(p Params) *Service {
	return &Service{
		log:        p.Log.Named("control"),
		tenants:    p.Tenants,
		classifier: p.Classifier,
		orch:       p.Orch,
		sched:      p.Sched,
	}
}

func (s *Service) guard(op string, res *Result) {
	if r := recover(); r != nil {
		s.log.Error("control operation panicked",
			zap.String("operation", op),
			zap.Any("panic", r),
		)
		*res = fail(KindInternal, "internal error")
	}
}

func (s *Service) parseTenantID(value string) (snowflake.ID, error) {
	id, err := tenantdomain.ParseID(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, tenantdomain.ErrInvalidID
	}
	return id, nil
}

// -------- Tenants --------

func (s *Service) CreateTenant(ctx context.Context, req tenantdomain.CreateRequest) (res Result) {
	defer s.guard("tenant.create", &res)

	t, err := s.tenants.Create(ctx, req)
	if err != nil {
		return failErr(err)
	}
	return ok(t)
}

func (s *Service) UpdateTenant(ctx context.Context, req tenantdomain.UpdateRequest) (res Result) {
	defer s.guard("tenant.update", &res)

	t, err := s.tenants.Update(ctx, req)
	if err != nil {
		return failErr(err)
	}
	return ok(t)
}

func (s *Service) GetTenant(ctx context.Context, id string) (res Result) {
	defer s.guard("tenant.get", &res)

	tid, err := s.parseTenantID(id)
	if err != nil {
		return failErr(err)
	}
	t, err := s.tenants.GetByID(ctx, tid)
	if err != nil {
		return failErr(err)
	}
	return ok(t)
}

func (s *Service) ListTenants(ctx context.Context) (res Result) {
	defer s.guard("tenant.list", &res)

	tenants, err := s.tenants.ListActive(ctx)
	if err != nil {
		return failErr(err)
	}
	return ok(tenants)
}

// -------- Classifier --------

func (s *Service) SaveRule(ctx context.Context, req classifierdomain.SaveRuleRequest) (res Result) {
	defer s.guard("classifier.save_rule", &res)

	rule, err := s.classifier.SaveRule(ctx, req)
	if err != nil {
		return failErr(err)
	}
	return ok(rule)
}

func (s *Service) ListRules(ctx context.Context, tenantID string) (res Result) {
	defer s.guard("classifier.list_rules", &res)

	tid, err := s.parseTenantID(tenantID)
	if err != nil {
		return failErr(err)
	}
	rules, err := s.classifier.ListRules(ctx, tid)
	if err != nil {
		return failErr(err)
	}
	return ok(rules)
}

func (s *Service) DeleteRule(ctx context.Context, tenantID, ruleID string) (res Result) {
	defer s.guard("classifier.delete_rule", &res)

	tid, err := s.parseTenantID(tenantID)
	if err != nil {
		return failErr(err)
	}
	if err := s.classifier.DeleteRule(ctx, tid, strings.TrimSpace(ruleID)); err != nil {
		return failErr(err)
	}
	return ok(nil)
}

func (s *Service) TestRules(ctx context.Context, tenantID string, lines []classifierdomain.Line) (res Result) {
	defer s.guard("classifier.test_rules", &res)

	tid, err := s.parseTenantID(tenantID)
	if err != nil {
		return failErr(err)
	}
	report, err := s.classifier.TestRules(ctx, tid, lines)
	if err != nil {
		return failErr(err)
	}
	return ok(report)
}

func (s *Service) ReclassifyRecent(ctx context.Context, tenantID string, days int) (res Result) {
	defer s.guard("classifier.reclassify_recent", &res)

	tid, err := s.parseTenantID(tenantID)
	if err != nil {
		return failErr(err)
	}
	count, err := s.classifier.ReclassifyRecent(ctx, tid, days)
	if err != nil {
		return failErr(err)
	}
	return ok(map[string]int{"reclassified": count})
}

// -------- Orchestrator --------

type RunSyncRequest struct {
	TenantID string   `json:"tenant_id"`
	Start    string   `json:"start,omitempty"`
	End      string   `json:"end,omitempty"`
	Steps    []string `json:"steps,omitempty"`
}

const windowDateLayout = "2006-01-02"

func parseWindow(start, end string) (orchestrator.Window, error) {
	var w orchestrator.Window
	start = strings.TrimSpace(start)
	end = strings.TrimSpace(end)
	if start == "" && end == "" {
		return w, nil
	}
	if start == "" || end == "" {
		return w, errors.New("window needs both start and end")
	}
	var err error
	if w.Start, err = time.Parse(windowDateLayout, start); err != nil {
		return w, errors.New("start must be YYYY-MM-DD")
	}
	if w.End, err = time.Parse(windowDateLayout, end); err != nil {
		return w, errors.New("end must be YYYY-MM-DD")
	}
	if w.End.Before(w.Start) {
		return w, errors.New("end is before start")
	}
	return w, nil
}

func (s *Service) RunSync(ctx context.Context, req RunSyncRequest) (res Result) {
	defer s.guard("orchestrator.run", &res)

	tid, err := s.parseTenantID(req.TenantID)
	if err != nil {
		return failErr(err)
	}
	window, err := parseWindow(req.Start, req.End)
	if err != nil {
		return fail(KindInvalidRequest, err.Error())
	}
	steps := make([]tenantdomain.Step, 0, len(req.Steps))
	for _, raw := range req.Steps {
		step := tenantdomain.Step(strings.TrimSpace(strings.ToLower(raw)))
		if !tenantdomain.ValidStep(step) {
			return fail(KindInvalidRequest, "unknown step: "+raw)
		}
		steps = append(steps, step)
	}

	exec, err := s.orch.Run(ctx, orchestrator.RunRequest{
		TenantID: tid,
		Window:   window,
		Steps:    steps,
	})
	if err != nil {
		return failErr(err)
	}
	return ok(exec)
}

func (s *Service) ListExecutions(ctx context.Context, tenantID string, limit int) (res Result) {
	defer s.guard("orchestrator.list_executions", &res)

	tid, err := s.parseTenantID(tenantID)
	if err != nil {
		return failErr(err)
	}
	execs, err := s.orch.ListExecutions(ctx, tid, limit)
	if err != nil {
		return failErr(err)
	}
	return ok(execs)
}

func (s *Service) TestConnection(ctx context.Context, tenantID string) (res Result) {
	defer s.guard("orchestrator.test_connection", &res)

	tid, err := s.parseTenantID(tenantID)
	if err != nil {
		return failErr(err)
	}
	reachable, detail, err := s.orch.TestConnection(ctx, tid)
	if err != nil {
		return failErr(err)
	}
	return ok(map[string]any{"reachable": reachable, "detail": detail})
}

// -------- Scheduler --------

func (s *Service) StartScheduler(ctx context.Context) (res Result) {
	defer s.guard("scheduler.start", &res)

	if err := s.sched.Start(ctx); err != nil {
		if errors.Is(err, scheduler.ErrAlreadyRunning) {
			return fail(KindConflict, err.Error())
		}
		return failErr(err)
	}
	return ok(nil)
}

func (s *Service) StopScheduler(ctx context.Context) (res Result) {
	defer s.guard("scheduler.stop", &res)

	if err := s.sched.Stop(ctx); err != nil {
		return failErr(err)
	}
	return ok(nil)
}

func (s *Service) AddJob(ctx context.Context, def scheduler.JobDefinition) (res Result) {
	defer s.guard("scheduler.add_job", &res)

	saved, err := s.sched.AddJob(ctx, def)
	if err != nil {
		return failErr(err)
	}
	return ok(saved)
}

func (s *Service) RemoveJob(ctx context.Context, jobID string) (res Result) {
	defer s.guard("scheduler.remove_job", &res)

	if err := s.sched.RemoveJob(ctx, strings.TrimSpace(jobID)); err != nil {
		return failErr(err)
	}
	return ok(nil)
}

func (s *Service) PauseJob(ctx context.Context, jobID string) (res Result) {
	defer s.guard("scheduler.pause_job", &res)

	if err := s.sched.PauseJob(ctx, strings.TrimSpace(jobID)); err != nil {
		return failErr(err)
	}
	return ok(nil)
}

func (s *Service) ResumeJob(ctx context.Context, jobID string) (res Result) {
	defer s.guard("scheduler.resume_job", &res)

	if err := s.sched.ResumeJob(ctx, strings.TrimSpace(jobID)); err != nil {
		return failErr(err)
	}
	return ok(nil)
}

func (s *Service) RunNowJob(ctx context.Context, jobID string) (res Result) {
	defer s.guard("scheduler.run_now", &res)

	if err := s.sched.RunNow(ctx, strings.TrimSpace(jobID)); err != nil {
		return failErr(err)
	}
	return ok(nil)
}

func (s *Service) ListJobs(ctx context.Context) (res Result) {
	defer s.guard("scheduler.list_jobs", &res)

	return ok(s.sched.ListJobs())
}
