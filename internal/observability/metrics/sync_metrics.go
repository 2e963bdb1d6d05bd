package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	JobReasonOverlapSkipped = "overlap_skipped"
	JobReasonMissedExpired  = "missed_expired"
	JobReasonLockHeld       = "lock_held"
	JobReasonPaused         = "paused"
)

// SyncMetrics captures vendor pull and scheduler health signals.
type SyncMetrics struct {
	vendorRequests  *prometheus.CounterVec
	vendorFailures  *prometheus.CounterVec
	pagesFetched    *prometheus.CounterVec
	recordsUpserted *prometheus.CounterVec
	verdicts        *prometheus.CounterVec
	stepDuration    *prometheus.HistogramVec
	jobRuns         *prometheus.CounterVec
	jobErrors       *prometheus.CounterVec
	jobSkips        *prometheus.CounterVec
	jobDuration     *prometheus.HistogramVec
	runLoopLag      prometheus.Observer
}

var (
	syncMetricsOnce sync.Once
	syncMetrics     *SyncMetrics
)

// Sync returns the singleton sync metrics registry.
func Sync() *SyncMetrics {
	return SyncWithConfig(Config{})
}

// SyncWithConfig returns the singleton sync metrics registry using config labels.
func SyncWithConfig(cfg Config) *SyncMetrics {
	syncMetricsOnce.Do(func() {
		syncMetrics = newSyncMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return syncMetrics
}

// ResetSyncMetricsForTest resets the sync metrics singleton for tests.
func ResetSyncMetricsForTest() {
	syncMetricsOnce = sync.Once{}
	syncMetrics = nil
}

func newSyncMetrics(registerer prometheus.Registerer, cfg Config) *SyncMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "erpsync"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	vendorRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "erpsync_vendor_requests_total",
		Help:        "Logical vendor calls by mode.",
		ConstLabels: constLabels,
	}, []string{"mode"})
	vendorFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "erpsync_vendor_request_failures_total",
		Help:        "Vendor calls that failed after retry exhaustion, by mode and kind.",
		ConstLabels: constLabels,
	}, []string{"mode", "kind"})
	pagesFetched := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "erpsync_vendor_pages_total",
		Help:        "Vendor result pages consumed by mode.",
		ConstLabels: constLabels,
	}, []string{"mode"})
	recordsUpserted := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "erpsync_records_upserted_total",
		Help:        "Rows written to the operational store by entity and operation.",
		ConstLabels: constLabels,
	}, []string{"entity", "op"})
	verdicts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "erpsync_classification_verdicts_total",
		Help:        "Classifier verdicts by kind and gift type.",
		ConstLabels: constLabels,
	}, []string{"kind", "gift_type"})
	stepDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "erpsync_sync_step_duration_seconds",
		Help:        "Pipeline step latency including vendor pacing sleeps.",
		Buckets:     []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600, 1800},
		ConstLabels: constLabels,
	}, []string{"step"})
	jobRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "erpsync_scheduler_job_runs_total",
		Help:        "Scheduler job fires by job id.",
		ConstLabels: constLabels,
	}, []string{"job"})
	jobErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "erpsync_scheduler_job_errors_total",
		Help:        "Scheduler job failures by job id and step.",
		ConstLabels: constLabels,
	}, []string{"job", "step"})
	jobSkips := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "erpsync_scheduler_job_skips_total",
		Help:        "Scheduler fires skipped by low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"job", "reason"})
	jobDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "erpsync_scheduler_job_duration_seconds",
		Help:        "End-to-end job run latency.",
		Buckets:     []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
		ConstLabels: constLabels,
	}, []string{"job"})
	runLoopLag := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "erpsync_scheduler_runloop_lag_seconds",
		Help:        "Scheduler run loop lag beyond the configured tick.",
		Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		ConstLabels: constLabels,
	})

	registerer.MustRegister(
		vendorRequests,
		vendorFailures,
		pagesFetched,
		recordsUpserted,
		verdicts,
		stepDuration,
		jobRuns,
		jobErrors,
		jobSkips,
		jobDuration,
		runLoopLag,
	)

	return &SyncMetrics{
		vendorRequests:  vendorRequests,
		vendorFailures:  vendorFailures,
		pagesFetched:    pagesFetched,
		recordsUpserted: recordsUpserted,
		verdicts:        verdicts,
		stepDuration:    stepDuration,
		jobRuns:         jobRuns,
		jobErrors:       jobErrors,
		jobSkips:        jobSkips,
		jobDuration:     jobDuration,
		runLoopLag:      runLoopLag,
	}
}

func (m *SyncMetrics) IncVendorRequest(mode string) {
	if m == nil {
		return
	}
	m.vendorRequests.WithLabelValues(mode).Inc()
}

func (m *SyncMetrics) IncVendorFailure(mode, kind string) {
	if m == nil {
		return
	}
	m.vendorFailures.WithLabelValues(mode, kind).Inc()
}

func (m *SyncMetrics) IncPageFetched(mode string) {
	if m == nil {
		return
	}
	m.pagesFetched.WithLabelValues(mode).Inc()
}

func (m *SyncMetrics) AddRecordsUpserted(entity, op string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.recordsUpserted.WithLabelValues(entity, op).Add(float64(n))
}

func (m *SyncMetrics) IncVerdict(kind, giftType string) {
	if m == nil {
		return
	}
	if giftType == "" {
		giftType = "none"
	}
	m.verdicts.WithLabelValues(kind, giftType).Inc()
}

func (m *SyncMetrics) ObserveStepDuration(step string, d time.Duration) {
	if m == nil {
		return
	}
	m.stepDuration.WithLabelValues(step).Observe(d.Seconds())
}

func (m *SyncMetrics) IncJobRun(job string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

func (m *SyncMetrics) IncJobError(job, step string) {
	if m == nil {
		return
	}
	m.jobErrors.WithLabelValues(job, step).Inc()
}

func (m *SyncMetrics) IncJobSkip(job, reason string) {
	if m == nil {
		return
	}
	m.jobSkips.WithLabelValues(job, reason).Inc()
}

func (m *SyncMetrics) ObserveJobDuration(job string, d time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(d.Seconds())
}

func (m *SyncMetrics) ObserveRunLoopLag(d time.Duration) {
	if m == nil {
		return
	}
	m.runLoopLag.Observe(d.Seconds())
}
