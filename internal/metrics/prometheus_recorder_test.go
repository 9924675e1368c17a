package metrics

import (
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

func TestPrometheusRecorder(t *testing.T) {
	reg := prom.NewRegistry()
	pr := NewPrometheusRecorder(reg)
	pr.ObserveStageDuration("sync", 150*time.Millisecond)
	pr.ObserveBuildDuration(500 * time.Millisecond)
	pr.ObserveHotSyncDuration(40 * time.Millisecond)
	pr.IncStageResult("install", ResultSuccess)
	pr.IncBuildOutcome("success")
	pr.IncSandboxRetry("writeFile")
	pr.IncInstallAttempt("npm install")
	pr.SetPipelineState("Live")
	pr.SetGeneration(3)
	// Basic scrape to ensure metrics encode without panic
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(mfs) == 0 {
		t.Fatalf("expected metrics, got none")
	}
}

func TestNoopRecorderNilSafe(t *testing.T) {
	var pr *PrometheusRecorder
	pr.ObserveStageDuration("sync", time.Second)
	pr.IncBuildOutcome("failed")
	pr.SetPipelineState("Failed")

	var r Recorder = NoopRecorder{}
	r.ObserveBuildDuration(time.Second)
	r.IncInstallAttempt("npm install --force")
}
