package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	classifierdomain "github.com/smallbiznis/erpsync/internal/classifier/domain"
	"github.com/smallbiznis/erpsync/internal/clock"
	"github.com/smallbiznis/erpsync/internal/config"
	obsmetrics "github.com/smallbiznis/erpsync/internal/observability/metrics"
	syncdomain "github.com/smallbiznis/erpsync/internal/sync/domain"
	tenantdomain "github.com/smallbiznis/erpsync/internal/tenant/domain"
	"github.com/smallbiznis/erpsync/internal/vendorapi"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// DefaultWindowDays is the look-back applied when no window is given. Four
// months covers late claim revisions on already-ingested orders.
const DefaultWindowDays = 120

// Window is the inclusive date range a run fetches.
type Window struct {
	Start time.Time
	End   time.Time
}

func (w Window) zero() bool { return w.Start.IsZero() && w.End.IsZero() }

// RunRequest asks for one execution of a tenant's step list.
type RunRequest struct {
	TenantID snowflake.ID
	JobID    string
	Window   Window
	// Steps overrides the tenant's configured list when non-empty.
	Steps []tenantdomain.Step
}

type Params struct {
	fx.In

	Config     config.Config
	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	Tenants    tenantdomain.Service
	SyncRepo   syncdomain.Repository
	Classifier classifierdomain.Service
}

// Service drives a tenant's enabled steps in order against the vendor and
// the store, producing one ExecutionResult per run.
type Service struct {
	cfg        config.Config
	db         *gorm.DB
	log        *zap.Logger
	clk        clock.Clock
	tenants    tenantdomain.Service
	syncRepo   syncdomain.Repository
	classifier classifierdomain.Service

	mu      sync.Mutex
	clients map[snowflake.ID]*cachedClient
}

type cachedClient struct {
	client *vendorapi.Client
	cfg    vendorapi.Config
}

func New(p Params) *Service {
	return &Service{
		cfg:        p.Config,
		db:         p.DB,
		log:        p.Log.Named("orchestrator"),
		clk:        p.Clock,
		tenants:    p.Tenants,
		syncRepo:   p.SyncRepo,
		classifier: p.Classifier,
		clients:    map[snowflake.ID]*cachedClient{},
	}
}

// clientFor reuses a cached client while the tenant's credentials and pacing
// are unchanged.
func (s *Service) clientFor(t *tenantdomain.Tenant) *vendorapi.Client {
	interval := s.cfg.Vendor.CallInterval
	if t.CallIntervalSecs > 0 {
		interval = time.Duration(t.CallIntervalSecs) * time.Second
	}
	want := vendorapi.Config{
		BaseURL:      s.cfg.Vendor.BaseURL,
		AdminCode:    t.AdminCode,
		Password:     t.Password,
		PageSize:     s.cfg.Vendor.PageSize,
		CallInterval: interval,
		Timeout:      s.cfg.Vendor.Timeout,
		RetryCount:   s.cfg.Vendor.RetryCount,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if cached, ok := s.clients[t.ID]; ok && cached.cfg == want {
		return cached.client
	}
	client := vendorapi.New(want, s.log)
	s.clients[t.ID] = &cachedClient{client: client, cfg: want}
	return client
}

// Teardown drops all cached vendor clients. Registered on fx shutdown.
func (s *Service) Teardown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients = map[snowflake.ID]*cachedClient{}
}

// TestConnection checks vendor reachability with the tenant's credentials.
func (s *Service) TestConnection(ctx context.Context, tenantID snowflake.ID) (bool, string, error) {
	t, err := s.tenants.GetByID(ctx, tenantID)
	if err != nil {
		return false, "", err
	}
	ok, detail := s.clientFor(t).TestConnection(ctx)
	return ok, detail, nil
}

// Run executes the step list sequentially. A failing step is recorded and
// contained; later steps still run. The aggregate is SUCCESS only when every
// step succeeded.
func (s *Service) Run(ctx context.Context, req RunRequest) (*syncdomain.ExecutionResult, error) {
	t, err := s.tenants.GetByID(ctx, req.TenantID)
	if err != nil {
		return nil, err
	}

	window := req.Window
	if window.zero() {
		end := s.clk.Now()
		window = Window{Start: end.AddDate(0, 0, -DefaultWindowDays), End: end}
	}

	steps := req.Steps
	if len(steps) == 0 {
		steps = s.tenants.StepList(t)
	}

	client := s.clientFor(t)
	exec := &syncdomain.ExecutionResult{
		JobID:     req.JobID,
		TenantID:  t.ID,
		StartedAt: s.clk.Now(),
		Status:    syncdomain.ExecutionRunning,
	}
	if err := s.syncRepo.AppendExecutionResult(ctx, s.db, exec); err != nil {
		return nil, err
	}

	s.log.Info("sync run started",
		zap.String("tenant_id", t.ID.String()),
		zap.String("job_id", req.JobID),
		zap.Time("window_start", window.Start),
		zap.Time("window_end", window.End),
	)

	var (
		results   []syncdomain.StepResult
		processed int64
		failed    bool
		errKind   string
		errMsg    string
	)
	for i, step := range steps {
		sr := s.runStep(ctx, client, t, step, window)
		results = append(results, sr)
		processed += int64(sr.Fetched)
		if sr.Status == string(syncdomain.ExecutionFailed) {
			failed = true
			if errKind == "" {
				errKind = vendorKindOf(sr.Error)
				errMsg = fmt.Sprintf("step %s: %s", sr.Step, sr.Error)
			}
		}
		if i < len(steps)-1 {
			if err := sleepCtx(ctx, client.Interval()); err != nil {
				break
			}
		}
	}

	status := syncdomain.ExecutionSuccess
	if failed {
		status = syncdomain.ExecutionFailed
	}
	stepsJSON, merr := json.Marshal(results)
	if merr != nil {
		stepsJSON = nil
	}
	if err := s.syncRepo.FinishExecutionResult(ctx, s.db, exec.ID, status, processed,
		datatypes.JSON(stepsJSON), errKind, errMsg, s.clk.Now()); err != nil {
		return nil, err
	}

	finished := s.clk.Now()
	exec.Status = status
	exec.Processed = processed
	exec.Steps = datatypes.JSON(stepsJSON)
	exec.ErrorKind = errKind
	exec.ErrorMsg = errMsg
	exec.FinishedAt = &finished

	s.log.Info("sync run finished",
		zap.String("tenant_id", t.ID.String()),
		zap.String("status", string(status)),
		zap.Int64("processed", processed),
	)
	return exec, nil
}

func (s *Service) runStep(ctx context.Context, client *vendorapi.Client, t *tenantdomain.Tenant, step tenantdomain.Step, window Window) syncdomain.StepResult {
	started := time.Now()
	sr := syncdomain.StepResult{Step: string(step), Status: string(syncdomain.ExecutionSuccess)}

	var err error
	switch step {
	case tenantdomain.StepCustomers:
		err = s.runCustomers(ctx, client, t, &sr)
	case tenantdomain.StepStock:
		err = s.runStock(ctx, client, t, &sr)
	case tenantdomain.StepGoods:
		err = s.runGoods(ctx, client, t, &sr)
	case tenantdomain.StepSales:
		err = s.runSales(ctx, client, t, window, &sr)
	default:
		err = fmt.Errorf("unknown step %q", step)
	}

	sr.ElapsedMS = time.Since(started).Milliseconds()
	obsmetrics.Sync().ObserveStepDuration(string(step), time.Since(started))
	if err != nil {
		sr.Status = string(syncdomain.ExecutionFailed)
		sr.Error = err.Error()
		s.log.Error("step failed",
			zap.String("tenant_id", t.ID.String()),
			zap.String("step", string(step)),
			zap.Error(err),
		)
	}
	return sr
}

func (s *Service) runCustomers(ctx context.Context, client *vendorapi.Client, t *tenantdomain.Tenant, sr *syncdomain.StepResult) error {
	iter := client.Customers(vendorapi.Params{})
	for {
		records, ok, err := iter.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		sr.Pages++
		sr.Fetched += len(records)

		batch := make([]syncdomain.VendorCustomer, 0, len(records))
		for _, r := range records {
			batch = append(batch, mapCustomer(t.ID, r))
		}
		counts, err := s.syncRepo.UpsertCustomers(ctx, s.db, batch)
		if err != nil {
			return err
		}
		sr.Inserted += counts.Inserted
		sr.Updated += counts.Updated
		obsmetrics.Sync().AddRecordsUpserted("customer", "insert", int(counts.Inserted))
		obsmetrics.Sync().AddRecordsUpserted("customer", "update", int(counts.Updated))
	}
}

func (s *Service) runStock(ctx context.Context, client *vendorapi.Client, t *tenantdomain.Tenant, sr *syncdomain.StepResult) error {
	iter := client.Stock(vendorapi.Params{})
	for {
		records, ok, err := iter.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		sr.Pages++
		sr.Fetched += len(records)

		batch := make([]syncdomain.VendorStock, 0, len(records))
		for _, r := range records {
			batch = append(batch, mapStock(t.ID, r))
		}
		counts, err := s.syncRepo.UpsertStock(ctx, s.db, batch)
		if err != nil {
			return err
		}
		sr.Inserted += counts.Inserted
		sr.Updated += counts.Updated
		obsmetrics.Sync().AddRecordsUpserted("stock", "insert", int(counts.Inserted))
		obsmetrics.Sync().AddRecordsUpserted("stock", "update", int(counts.Updated))
	}
}

func (s *Service) runGoods(ctx context.Context, client *vendorapi.Client, t *tenantdomain.Tenant, sr *syncdomain.StepResult) error {
	iter := client.Goods(vendorapi.Params{})
	for {
		records, ok, err := iter.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		sr.Pages++
		sr.Fetched += len(records)

		batch := make([]syncdomain.VendorProduct, 0, len(records))
		for _, r := range records {
			batch = append(batch, mapProduct(t.ID, r))
		}
		counts, err := s.syncRepo.UpsertProducts(ctx, s.db, batch)
		if err != nil {
			return err
		}
		sr.Inserted += counts.Inserted
		sr.Updated += counts.Updated
		obsmetrics.Sync().AddRecordsUpserted("product", "insert", int(counts.Inserted))
		obsmetrics.Sync().AddRecordsUpserted("product", "update", int(counts.Updated))
	}
}

// runSales fetches orders with mutation-date windowing, classifies each line
// and persists headers and lines page by page. The classification audit
// batch for a page is appended after that page has been written.
func (s *Service) runSales(ctx context.Context, client *vendorapi.Client, t *tenantdomain.Tenant, window Window, sr *syncdomain.StepResult) error {
	iter := client.Orders(vendorapi.Params{
		StartDate:      window.Start,
		EndDate:        window.End,
		ByMutationDate: true,
	})
	for {
		records, ok, err := iter.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		sr.Pages++
		sr.Fetched += len(records)

		headers := make([]syncdomain.VendorOrderHeader, 0, len(records))
		var lines []syncdomain.VendorOrderLine
		for _, o := range records {
			headers = append(headers, mapOrderHeader(t.ID, o))
			lines = append(lines, mapOrderLines(t.ID, o)...)
		}

		verdicts, err := s.classifier.ClassifyLines(ctx, t.ID, lines)
		if err != nil {
			return err
		}
		for _, v := range verdicts {
			if v.Kind == syncdomain.KindGift {
				sr.Gifts++
			} else {
				sr.Merchandise++
			}
		}

		counts, err := s.syncRepo.UpsertOrderHeaders(ctx, s.db, headers)
		if err != nil {
			return err
		}
		sr.Inserted += counts.Inserted
		sr.Updated += counts.Updated
		obsmetrics.Sync().AddRecordsUpserted("order_header", "insert", int(counts.Inserted))
		obsmetrics.Sync().AddRecordsUpserted("order_header", "update", int(counts.Updated))

		counts, err = s.syncRepo.UpsertOrderLines(ctx, s.db, lines)
		if err != nil {
			return err
		}
		sr.Inserted += counts.Inserted
		sr.Updated += counts.Updated
		obsmetrics.Sync().AddRecordsUpserted("order_line", "insert", int(counts.Inserted))
		obsmetrics.Sync().AddRecordsUpserted("order_line", "update", int(counts.Updated))

		audit := make([]syncdomain.ClassificationLogEntry, 0, len(lines))
		for i := range lines {
			audit = append(audit, syncdomain.ClassificationLogEntry{
				TenantID:   t.ID,
				SlNo:       lines[i].SlNo,
				LineSeq:    lines[i].LineSeq,
				Kind:       verdicts[i].Kind,
				GiftType:   verdicts[i].GiftType,
				RuleID:     verdicts[i].RuleID,
				Reason:     verdicts[i].Reason,
				Confidence: verdicts[i].Confidence,
			})
		}
		if err := s.syncRepo.AppendClassificationLog(ctx, s.db, audit); err != nil {
			return err
		}
	}
}

// ListExecutions exposes run history for the control surface.
func (s *Service) ListExecutions(ctx context.Context, tenantID snowflake.ID, limit int) ([]syncdomain.ExecutionResult, error) {
	return s.syncRepo.ListExecutions(ctx, s.db, tenantID, limit)
}

func vendorKindOf(msg string) string {
	if msg == "" {
		return ""
	}
	switch {
	case strings.Contains(msg, "vendor_auth"):
		return "auth"
	case strings.Contains(msg, "vendor_protocol"):
		return "protocol"
	case strings.Contains(msg, "vendor_transport"):
		return "transport"
	case strings.Contains(msg, "persistence"):
		return "persistence"
	default:
		return "unknown"
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
