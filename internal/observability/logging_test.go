package observability

import (
	"context"
	"testing"
)

func TestLogContextAccumulates(t *testing.T) {
	ctx := context.Background()
	ctx = WithSandboxID(ctx, "sbx-1")
	ctx = WithGeneration(ctx, "gen-2")
	ctx = WithStage(ctx, "install")

	lc := extractLogContext(ctx)
	if lc.SandboxID != "sbx-1" || lc.Generation != "gen-2" || lc.Stage != "install" {
		t.Fatalf("context fields not accumulated: %+v", lc)
	}
}

func TestLogContextOverwrite(t *testing.T) {
	ctx := WithStage(context.Background(), "sync")
	ctx = WithStage(ctx, "runtime_start")
	if got := extractLogContext(ctx).Stage; got != "runtime_start" {
		t.Fatalf("expected latest stage, got %q", got)
	}
}

func TestGetLogAttrsSkipsEmpty(t *testing.T) {
	attrs := getLogAttrs(WithStage(context.Background(), "boot"))
	if len(attrs) != 1 {
		t.Fatalf("expected a single attr for stage-only context, got %d", len(attrs))
	}
}
