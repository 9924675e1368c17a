package sandbox

import (
	"context"
	"log/slog"

	"git.home.luguber.info/inful/previewd/internal/logfields"
	"git.home.luguber.info/inful/previewd/internal/observability"
)

// Lifecycle creates, recreates, and tears down the remote sandbox.
type Lifecycle struct {
	client  *Client
	runtime string
}

// NewLifecycle builds a lifecycle manager over the resilient client.
func NewLifecycle(client *Client, runtimeImage string) *Lifecycle {
	return &Lifecycle{client: client, runtime: runtimeImage}
}

// Boot provisions a fresh sandbox and returns a ready handle.
func (l *Lifecycle) Boot(ctx context.Context) (*Handle, error) {
	res, err := l.client.Create(ctx, l.runtime)
	if err != nil {
		return nil, err
	}
	h := &Handle{
		ID:             res.SandboxID,
		AccessToken:    res.AccessToken,
		RuntimeVersion: res.RuntimeVersion,
		Ready:          true,
	}
	observability.InfoContext(observability.WithSandboxID(ctx, h.ID), "sandbox booted",
		slog.String("runtime", res.RuntimeVersion))
	return h, nil
}

// Kill tears a sandbox down best-effort: failures are logged, never returned,
// since this only runs during teardown and generation reset.
func (l *Lifecycle) Kill(ctx context.Context, h *Handle) {
	if h == nil || h.ID == "" {
		return
	}
	if err := l.client.Kill(ctx, h); err != nil {
		slog.Warn("sandbox teardown failed", logfields.SandboxID(h.ID), logfields.Error(err))
	}
	h.Ready = false
}

// Recreate replaces the sandbox with a brand new one. Used only by the
// controller's ownership-conflict recovery path: the returned handle carries
// no prior readiness state.
func (l *Lifecycle) Recreate(ctx context.Context, old *Handle) (*Handle, error) {
	l.Kill(ctx, old)
	return l.Boot(ctx)
}
