package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pattcore/faceit-ai-bot-sub000/internal/version"
)

// BanSource labels how a ban came to exist.
const (
	BanSourceAuto   = "auto"
	BanSourceManual = "manual"
)

type ServerMetrics struct {
	reg      *prometheus.Registry
	handler  http.Handler
	inflight prometheus.Gauge
	reqTotal *prometheus.CounterVec
	reqDur   *prometheus.HistogramVec

	httpPanicTotal prometheus.Counter
	buildInfo      *prometheus.GaugeVec
	errorsTotal    *prometheus.CounterVec

	gateChecksTotal     prometheus.Counter
	gateDeniedTotal     *prometheus.CounterVec
	violationsTotal     prometheus.Counter
	bansCreatedTotal    *prometheus.CounterVec
	storeErrorsTotal    prometheus.Counter
	storeUp             prometheus.Gauge
	violationsCleanedUp prometheus.Counter

	profilingActive prometheus.Gauge
}

// New returns a fresh registry + standard collectors + HTTP metrics
// safe labels only (method, route, code) to avoid path/cardinality explosions
func New() *ServerMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &ServerMetrics{
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Current number of in-flight HTTP requests",
		}),
		reqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		}, []string{"method", "route", "status"}),
		reqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request latency by method and route",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method", "route"}),
		httpPanicTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_panic_total",
			Help: "Total number of recovered httpserver panics",
		}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is always 1)",
		}, []string{"app", "component", "version", "commit", "build_id", "build_date", "vcs_dirty", "go_version"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total 5xx HTTP server errors by method and route (SLI)",
		}, []string{"method", "route"}),
		gateChecksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ratelimit_checks_total",
			Help: "Total requests evaluated by the rate limit gate",
		}),
		gateDeniedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ratelimit_denied_total",
			Help: "Total requests rejected by the gate, by reason",
		}, []string{"reason"}),
		violationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ratelimit_violations_total",
			Help: "Total limit violations recorded",
		}),
		bansCreatedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ratelimit_bans_created_total",
			Help: "Total bans created, by source (auto escalation or admin)",
		}, []string{"source"}),
		storeErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ratelimit_store_errors_total",
			Help: "Total failed rate limit store round trips",
		}),
		storeUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ratelimit_store_up",
			Help: "Whether the rate limit store answered the last health probe (1) or not (0)",
		}),
		violationsCleanedUp: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ratelimit_violation_index_cleaned_total",
			Help: "Total stale violation index entries removed by cleanup sweeps",
		}),
		profilingActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "profiling_active",
			Help: "Whether continuous profiling is active (1) or disabled/failed (0)",
		}),
	}
	reg.MustRegister(
		m.inflight,
		m.reqTotal,
		m.reqDur,
		m.httpPanicTotal,
		m.buildInfo,
		m.errorsTotal,
		m.gateChecksTotal,
		m.gateDeniedTotal,
		m.violationsTotal,
		m.bansCreatedTotal,
		m.storeErrorsTotal,
		m.storeUp,
		m.violationsCleanedUp,
		m.profilingActive,
	)

	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
	m.reg = reg
	return m
}

func (m *ServerMetrics) Handler() http.Handler {
	return m.handler
}

func (m *ServerMetrics) IncHttpPanic() {
	m.httpPanicTotal.Inc()
}

// set once at startup.
func (m *ServerMetrics) SetBuildInfoFromVersion(app, component string, vi *version.Info) {
	dirty := "unknown"
	if vi.VCSDirty != nil {
		dirty = strconv.FormatBool(*vi.VCSDirty)
	}
	m.buildInfo.With(prometheus.Labels{
		"app":        app,
		"component":  component,
		"version":    vi.Version,
		"commit":     vi.Commit,
		"build_id":   vi.BuildId,
		"build_date": vi.BuildDate,
		"go_version": vi.GoVersion,
		"vcs_dirty":  dirty,
	}).Set(1)
}

func (m *ServerMetrics) IncGateCheck() {
	m.gateChecksTotal.Inc()
}

func (m *ServerMetrics) IncGateDenied(reason string) {
	m.gateDeniedTotal.WithLabelValues(reason).Inc()
}

func (m *ServerMetrics) IncViolation() {
	m.violationsTotal.Inc()
}

func (m *ServerMetrics) IncBanCreated(source string) {
	m.bansCreatedTotal.WithLabelValues(source).Inc()
}

func (m *ServerMetrics) IncStoreError() {
	m.storeErrorsTotal.Inc()
}

func (m *ServerMetrics) SetStoreUp(up bool) {
	if up {
		m.storeUp.Set(1)
	} else {
		m.storeUp.Set(0)
	}
}

func (m *ServerMetrics) AddViolationsCleaned(n int) {
	m.violationsCleanedUp.Add(float64(n))
}

func (m *ServerMetrics) SetProfilingActive(active bool) {
	if active {
		m.profilingActive.Set(1)
	} else {
		m.profilingActive.Set(0)
	}
}
