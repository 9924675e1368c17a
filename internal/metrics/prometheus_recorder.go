package metrics

import (
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// stateOrder gives each pipeline state a stable numeric encoding for the gauge.
var stateOrder = map[string]float64{
	"Idle":              0,
	"Booting":           1,
	"ReadyNoServer":     2,
	"FullBuildInFlight": 3,
	"Live":              4,
	"HotSyncInFlight":   5,
	"Failed":            6,
	"Disabled":          7,
}

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once            sync.Once
	stageDuration   *prom.HistogramVec
	buildDuration   prom.Histogram
	hotSyncDuration prom.Histogram
	stageResults    *prom.CounterVec
	buildOutcome    *prom.CounterVec
	sandboxRetries  *prom.CounterVec
	installAttempts *prom.CounterVec
	pipelineState   prom.Gauge
	generation      prom.Gauge
}

// NewPrometheusRecorder constructs and registers Prometheus metrics (idempotent).
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{}
	pr.once.Do(func() {
		pr.stageDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "previewd",
			Name:      "stage_duration_seconds",
			Help:      "Duration of individual pipeline stages",
			Buckets:   prom.DefBuckets,
		}, []string{"stage"})
		pr.buildDuration = prom.NewHistogram(prom.HistogramOpts{
			Namespace: "previewd",
			Name:      "full_build_duration_seconds",
			Help:      "Total full build duration from sync start to live URL",
			Buckets:   prom.DefBuckets,
		})
		pr.hotSyncDuration = prom.NewHistogram(prom.HistogramOpts{
			Namespace: "previewd",
			Name:      "hot_sync_duration_seconds",
			Help:      "Duration of incremental file syncs against a live server",
			Buckets:   prom.DefBuckets,
		})
		pr.stageResults = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "previewd",
			Name:      "stage_results_total",
			Help:      "Stage result counts by outcome",
		}, []string{"stage", "result"})
		pr.buildOutcome = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "previewd",
			Name:      "build_outcomes_total",
			Help:      "Full build outcomes by final status",
		}, []string{"outcome"})
		pr.sandboxRetries = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "previewd",
			Name:      "sandbox_retries_total",
			Help:      "Sandbox API call retries by action",
		}, []string{"action"})
		pr.installAttempts = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "previewd",
			Name:      "install_attempts_total",
			Help:      "Dependency install attempts by command variant",
		}, []string{"command"})
		pr.pipelineState = prom.NewGauge(prom.GaugeOpts{
			Namespace: "previewd",
			Name:      "pipeline_state",
			Help:      "Current pipeline state encoded as an ordinal",
		})
		pr.generation = prom.NewGauge(prom.GaugeOpts{
			Namespace: "previewd",
			Name:      "generation",
			Help:      "Current file set generation number",
		})
		reg.MustRegister(pr.stageDuration, pr.buildDuration, pr.hotSyncDuration, pr.stageResults, pr.buildOutcome, pr.sandboxRetries, pr.installAttempts, pr.pipelineState, pr.generation)
	})
	return pr
}

func (p *PrometheusRecorder) ObserveStageDuration(stage string, d time.Duration) {
	if p == nil || p.stageDuration == nil {
		return
	}
	p.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (p *PrometheusRecorder) ObserveBuildDuration(d time.Duration) {
	if p == nil || p.buildDuration == nil {
		return
	}
	p.buildDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) ObserveHotSyncDuration(d time.Duration) {
	if p == nil || p.hotSyncDuration == nil {
		return
	}
	p.hotSyncDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncStageResult(stage string, result ResultLabel) {
	if p == nil || p.stageResults == nil {
		return
	}
	p.stageResults.WithLabelValues(stage, string(result)).Inc()
}

func (p *PrometheusRecorder) IncBuildOutcome(outcome string) {
	if p == nil || p.buildOutcome == nil {
		return
	}
	p.buildOutcome.WithLabelValues(outcome).Inc()
}

func (p *PrometheusRecorder) IncSandboxRetry(action string) {
	if p == nil || p.sandboxRetries == nil {
		return
	}
	p.sandboxRetries.WithLabelValues(action).Inc()
}

func (p *PrometheusRecorder) IncInstallAttempt(command string) {
	if p == nil || p.installAttempts == nil {
		return
	}
	p.installAttempts.WithLabelValues(command).Inc()
}

func (p *PrometheusRecorder) SetPipelineState(state string) {
	if p == nil || p.pipelineState == nil {
		return
	}
	p.pipelineState.Set(stateOrder[state])
}

func (p *PrometheusRecorder) SetGeneration(n int) {
	if p == nil || p.generation == nil {
		return
	}
	p.generation.Set(float64(n))
}
