package observability

import (
	"context"
	"sort"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"github.com/rs/zerolog/log"

	"github.com/nexus-trading/enricher/internal/enrich"
	"github.com/nexus-trading/enricher/internal/token"
)

// ComponentStatus represents the health status of a component.
type ComponentStatus string

const (
	StatusHealthy   ComponentStatus = "healthy"
	StatusDegraded  ComponentStatus = "degraded"
	StatusUnhealthy ComponentStatus = "unhealthy"
)

// HealthCheck is a function that checks component health.
type HealthCheck func(ctx context.Context) ComponentHealth

// ComponentHealth is the health report for a single component.
type ComponentHealth struct {
	Name        string          `json:"name"`
	Status      ComponentStatus `json:"status"`
	Message     string          `json:"message,omitempty"`
	LastChecked time.Time       `json:"last_checked"`
	Latency     time.Duration   `json:"latency_ms"`
}

// SystemHealth is the aggregate health of the process.
type SystemHealth struct {
	Status     ComponentStatus            `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	Timestamp  time.Time                  `json:"ts"`
	Uptime     time.Duration              `json:"uptime"`
}

// PipelineState is the last known state of one enrichment pipeline.
type PipelineState struct {
	Source   token.Source   `json:"source"`
	Strategy token.Strategy `json:"strategy"`
	Every    time.Duration  `json:"every"`

	Cycles       int64     `json:"cycles"`
	LastRunID    string    `json:"last_run_id,omitempty"`
	LastStarted  time.Time `json:"last_started,omitempty"`
	LastFinished time.Time `json:"last_finished,omitempty"`

	Selected    int64   `json:"selected"`
	Processed   int64   `json:"processed"`
	Successful  int64   `json:"successful"`
	NoData      int64   `json:"no_data"`
	APIErrors   int64   `json:"api_errors"`
	RateLimited int64   `json:"rate_limited"`
	StoreErrors int64   `json:"store_errors"`
	SuccessRate float64 `json:"success_rate"`
}

// HealthMonitor tracks pipelines and runs registered checks on demand. It
// implements enrich.Observer so it can follow cycles directly.
type HealthMonitor struct {
	checks    *xsync.Map[string, HealthCheck]
	results   *xsync.Map[string, ComponentHealth]
	pipelines *xsync.Map[token.Source, PipelineState]
	startTime time.Time
	now       func() time.Time
}

// NewHealthMonitor creates an empty monitor.
func NewHealthMonitor() *HealthMonitor {
	return &HealthMonitor{
		checks:    xsync.NewMap[string, HealthCheck](),
		results:   xsync.NewMap[string, ComponentHealth](),
		pipelines: xsync.NewMap[token.Source, PipelineState](),
		startTime: time.Now(),
		now:       time.Now,
	}
}

// Register adds a named health check.
func (m *HealthMonitor) Register(name string, check HealthCheck) {
	m.checks.Store(name, check)
}

// TrackPipeline registers a pipeline expected to finish a cycle roughly
// every "every". The pipeline turns unhealthy when no cycle has finished
// within three periods.
func (m *HealthMonitor) TrackPipeline(src token.Source, strategy token.Strategy, every time.Duration) {
	m.pipelines.Store(src, PipelineState{Source: src, Strategy: strategy, Every: every})
	m.Register("pipeline:"+string(src), func(context.Context) ComponentHealth {
		return m.pipelineHealth(src)
	})
}

// TokenDone implements enrich.Observer.
func (m *HealthMonitor) TokenDone(token.Source, enrich.Result) {}

// CycleDone implements enrich.Observer.
func (m *HealthMonitor) CycleDone(c *enrich.CycleStats) {
	m.pipelines.Compute(c.Pipeline, func(old PipelineState, loaded bool) (PipelineState, xsync.ComputeOp) {
		if !loaded {
			old = PipelineState{Source: c.Pipeline}
		}
		old.Strategy = c.Strategy
		old.Cycles++
		old.LastRunID = c.RunID
		old.LastStarted = c.StartedAt
		old.LastFinished = c.FinishedAt
		old.Selected = c.Selected
		old.Processed = c.Processed
		old.Successful = c.Successful
		old.NoData = c.NoData
		old.APIErrors = c.APIErrors
		old.RateLimited = c.RateLimited
		old.StoreErrors = c.StoreErrors
		old.SuccessRate = c.SuccessRate()
		return old, xsync.UpdateOp
	})
}

// Pipelines returns every tracked pipeline ordered by source.
func (m *HealthMonitor) Pipelines() []PipelineState {
	out := make([]PipelineState, 0, m.pipelines.Size())
	m.pipelines.Range(func(_ token.Source, st PipelineState) bool {
		out = append(out, st)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out
}

// Pipeline returns the state of one pipeline.
func (m *HealthMonitor) Pipeline(src token.Source) (PipelineState, bool) {
	return m.pipelines.Load(src)
}

// Check runs all registered checks and returns the aggregate health.
// Status changes are logged.
func (m *HealthMonitor) Check(ctx context.Context) SystemHealth {
	components := make(map[string]ComponentHealth)
	worst := StatusHealthy

	m.checks.Range(func(name string, fn HealthCheck) bool {
		start := m.now()
		h := fn(ctx)
		h.Name = name
		h.LastChecked = m.now()
		h.Latency = h.LastChecked.Sub(start)
		components[name] = h

		if prev, ok := m.results.Load(name); !ok || prev.Status != h.Status {
			logTransition(h)
		}
		m.results.Store(name, h)

		if statusSeverity(h.Status) > statusSeverity(worst) {
			worst = h.Status
		}
		return true
	})

	return SystemHealth{
		Status:     worst,
		Components: components,
		Timestamp:  m.now(),
		Uptime:     m.now().Sub(m.startTime),
	}
}

// PingCheck wraps a ping function (for example Store.Ping) as a health check.
func PingCheck(ping func(ctx context.Context) error) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := ping(ctx); err != nil {
			return ComponentHealth{Status: StatusUnhealthy, Message: err.Error()}
		}
		return ComponentHealth{Status: StatusHealthy}
	}
}

// -----------------------------------------------------------------------
// Internal
// -----------------------------------------------------------------------

func (m *HealthMonitor) pipelineHealth(src token.Source) ComponentHealth {
	st, ok := m.pipelines.Load(src)
	if !ok {
		return ComponentHealth{Status: StatusUnhealthy, Message: "pipeline not tracked"}
	}
	now := m.now()
	grace := 3 * st.Every

	if st.LastFinished.IsZero() {
		if st.Every > 0 && now.Sub(m.startTime) > grace {
			return ComponentHealth{Status: StatusUnhealthy, Message: "no cycle finished yet"}
		}
		return ComponentHealth{Status: StatusHealthy, Message: "waiting for first cycle"}
	}
	if st.Every > 0 && now.Sub(st.LastFinished) > grace {
		return ComponentHealth{Status: StatusUnhealthy, Message: "last cycle finished " + now.Sub(st.LastFinished).Round(time.Second).String() + " ago"}
	}
	if st.Processed > 0 && st.APIErrors+st.RateLimited+st.StoreErrors == st.Processed {
		return ComponentHealth{Status: StatusDegraded, Message: "every token in the last cycle failed"}
	}
	return ComponentHealth{Status: StatusHealthy}
}

func logTransition(h ComponentHealth) {
	ev := log.Info()
	switch h.Status {
	case StatusUnhealthy:
		ev = log.Error()
	case StatusDegraded:
		ev = log.Warn()
	}
	ev.Str("component", h.Name).Str("status", string(h.Status)).Str("message", h.Message).
		Msg("observability: health changed")
}

// statusSeverity returns a numeric severity for comparison.
func statusSeverity(s ComponentStatus) int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusDegraded:
		return 1
	case StatusUnhealthy:
		return 2
	default:
		return -1
	}
}
