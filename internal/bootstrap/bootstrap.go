// Package bootstrap starts the dev server inside the sandbox, detects early
// crashes, probes for a reachable host, and validates the served output.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"git.home.luguber.info/inful/previewd/internal/config"
	"git.home.luguber.info/inful/previewd/internal/failure"
	"git.home.luguber.info/inful/previewd/internal/logfields"
	"git.home.luguber.info/inful/previewd/internal/observability"
	"git.home.luguber.info/inful/previewd/internal/runtime"
	"git.home.luguber.info/inful/previewd/internal/sandbox"
)

// API is the slice of the sandbox client the bootstrapper needs.
type API interface {
	RunCommand(ctx context.Context, h *sandbox.Handle, command string, requested time.Duration) (*sandbox.CommandResult, error)
	GetHost(ctx context.Context, h *sandbox.Handle, port int, opts *sandbox.CallOpts) (string, error)
}

// Bootstrapper drives the runtime-start phase of a full build.
type Bootstrapper struct {
	api     API
	timings config.Timings

	// sleep is swappable for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New builds a bootstrapper with the given timing configuration.
func New(api API, timings config.Timings) *Bootstrapper {
	return &Bootstrapper{api: api, timings: timings, sleep: sleepContext}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type launchOutcome struct {
	res *sandbox.CommandResult
	err error
}

// Start launches the dev server and returns its public URL. Failures carry
// the stage they occurred at (runtime_start, host_probe, route_validation).
func (b *Bootstrapper) Start(ctx context.Context, h *sandbox.Handle, profile runtime.Profile) (string, error) {
	attemptStart := time.Now()

	if err := b.launch(ctx, h, profile); err != nil {
		return "", err
	}

	host, err := b.probeHost(ctx, h, profile, attemptStart)
	if err != nil {
		return "", err
	}

	if err := b.validateRoute(ctx, h, profile); err != nil {
		return "", err
	}
	url := "https://" + host
	observability.InfoContext(ctx, "dev server live", logfields.URL(url),
		logfields.DurationMS(float64(time.Since(attemptStart).Milliseconds())))
	return url, nil
}

// launch issues the dev command as a detached long-running call and races it
// against the grace timer. A settle before the timer means the process exited
// early; a timer win means the process is presumed alive, and the detached
// call's eventual result is drained and intentionally discarded; any later
// failure is only observable through subsequent probe failures.
func (b *Bootstrapper) launch(ctx context.Context, h *sandbox.Handle, profile runtime.Profile) error {
	ctx = observability.WithStage(ctx, string(failure.StageRuntimeStart))
	observability.InfoContext(ctx, "starting dev server",
		logfields.Command(profile.Command), logfields.Framework(string(profile.Framework)))

	settled := make(chan launchOutcome, 1)
	go func() {
		res, err := b.api.RunCommand(ctx, h, profile.Command, b.timings.DevServerTimeout)
		settled <- launchOutcome{res: res, err: err}
	}()

	grace := time.NewTimer(b.timings.GraceWindow)
	defer grace.Stop()

	select {
	case outcome := <-settled:
		logLine := ""
		if outcome.err != nil {
			logLine = firstLine(outcome.err.Error())
		} else if outcome.res != nil {
			logLine = firstLine(outcome.res.Combined())
		}
		return failure.NewStageError(failure.StageRuntimeStart, profile.Command, logLine,
			fmt.Errorf("dev server exited within the grace window: %s", logLine))
	case <-grace.C:
		go func() {
			outcome := <-settled
			if outcome.err != nil {
				observability.DebugContext(ctx, "detached dev server call settled after grace window",
					slog.String("error", outcome.err.Error()))
			}
		}()
		return nil
	}
}

// probeHost polls for a reachable host until the startup deadline, measured
// from the start of the whole attempt.
func (b *Bootstrapper) probeHost(ctx context.Context, h *sandbox.Handle, profile runtime.Profile, attemptStart time.Time) (string, error) {
	ctx = observability.WithStage(ctx, string(failure.StageHostProbe))
	deadline := attemptStart.Add(b.timings.StartupDeadline)
	zero := 0

	var lastErr error
	for {
		host, err := b.api.GetHost(ctx, h, profile.Port, &sandbox.CallOpts{MaxRetries: &zero})
		if err == nil && host != "" {
			observability.InfoContext(ctx, "dev server host resolved", slog.String("host", host))
			return host, nil
		}
		lastErr = err

		if !time.Now().Before(deadline) {
			logLine := ""
			if lastErr != nil {
				logLine = firstLine(lastErr.Error())
			}
			return "", failure.NewStageError(failure.StageHostProbe, "", logLine,
				fmt.Errorf("no reachable host on port %d within %s", profile.Port, b.timings.StartupDeadline))
		}
		if err := b.sleep(ctx, b.timings.HostPollInterval); err != nil {
			return "", failure.NewStageError(failure.StageHostProbe, "", "", err)
		}
	}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}
