package bootstrap

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/previewd/internal/config"
	"git.home.luguber.info/inful/previewd/internal/failure"
	"git.home.luguber.info/inful/previewd/internal/runtime"
	"git.home.luguber.info/inful/previewd/internal/sandbox"
)

// fakeAPI scripts dev-server launch, host probe, and route probe behavior.
type fakeAPI struct {
	devExitsEarly bool
	devResult     *sandbox.CommandResult

	hostAfterPolls int // polls before a host is returned; -1 = never
	hostPolls      int

	probeResults []*sandbox.CommandResult
	probeCalls   int
}

func (f *fakeAPI) RunCommand(ctx context.Context, _ *sandbox.Handle, command string, _ time.Duration) (*sandbox.CommandResult, error) {
	if strings.HasPrefix(command, "node -e") {
		f.probeCalls++
		res := f.probeResults[0]
		if len(f.probeResults) > 1 {
			f.probeResults = f.probeResults[1:]
		}
		return res, nil
	}
	// dev server command
	if f.devExitsEarly {
		return f.devResult, nil
	}
	<-ctx.Done() // stays pending like a live dev server
	return nil, ctx.Err()
}

func (f *fakeAPI) GetHost(_ context.Context, _ *sandbox.Handle, _ int, _ *sandbox.CallOpts) (string, error) {
	f.hostPolls++
	if f.hostAfterPolls < 0 || f.hostPolls <= f.hostAfterPolls {
		return "", &sandbox.APIError{Status: 404, Message: "no host bound"}
	}
	return "sbx-3000.preview.example", nil
}

func fastTimings() config.Timings {
	return config.Timings{
		GraceWindow:           10 * time.Millisecond,
		StartupDeadline:       time.Second,
		HostPollInterval:      time.Millisecond,
		RouteProbeMaxAttempts: 3,
		RouteProbeRetryDelay:  time.Millisecond,
		RouteFetchTimeout:     100 * time.Millisecond,
		DevServerTimeout:      time.Minute,
	}
}

func newTestBootstrapper(api *fakeAPI, timings config.Timings) *Bootstrapper {
	b := New(api, timings)
	b.sleep = func(context.Context, time.Duration) error { return nil }
	return b
}

func okProbe() *sandbox.CommandResult {
	return &sandbox.CommandResult{ExitCode: 0, Stdout: "__STATUS__200\n<html><body><div>app</div></body></html>"}
}

func TestStartHappyPath(t *testing.T) {
	api := &fakeAPI{hostAfterPolls: 1, probeResults: []*sandbox.CommandResult{okProbe()}}
	b := newTestBootstrapper(api, fastTimings())

	url, err := b.Start(context.Background(), &sandbox.Handle{ID: "sbx"}, runtime.DefaultProfile())
	require.NoError(t, err)
	assert.Equal(t, "https://sbx-3000.preview.example", url)
	assert.Greater(t, api.hostPolls, 1, "host probe polled until bound")
}

func TestStartEarlyExitIsRuntimeStartFailure(t *testing.T) {
	api := &fakeAPI{
		devExitsEarly: true,
		devResult:     &sandbox.CommandResult{ExitCode: 1, Stderr: "Error: Cannot find module 'next'"},
	}
	b := newTestBootstrapper(api, fastTimings())

	_, err := b.Start(context.Background(), &sandbox.Handle{ID: "sbx"}, runtime.DefaultProfile())
	require.Error(t, err)

	var se *failure.StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, failure.StageRuntimeStart, se.Stage)
	assert.Contains(t, se.LogLine, "Cannot find module")
}

func TestStartHostProbeDeadline(t *testing.T) {
	timings := fastTimings()
	timings.StartupDeadline = 20 * time.Millisecond
	api := &fakeAPI{hostAfterPolls: -1}
	b := newTestBootstrapper(api, timings)

	_, err := b.Start(context.Background(), &sandbox.Handle{ID: "sbx"}, runtime.DefaultProfile())
	require.Error(t, err)

	var se *failure.StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, failure.StageHostProbe, se.Stage)
}

func TestValidateFatalSignatureFailsImmediately(t *testing.T) {
	api := &fakeAPI{
		hostAfterPolls: 0,
		probeResults: []*sandbox.CommandResult{
			{ExitCode: 0, Stdout: "__STATUS__500\n<html><body><div>Module not found: Can't resolve './App'</div></body></html>"},
		},
	}
	b := newTestBootstrapper(api, fastTimings())

	_, err := b.Start(context.Background(), &sandbox.Handle{ID: "sbx"}, runtime.DefaultProfile())
	require.Error(t, err)

	var se *failure.StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, failure.StageRouteValidation, se.Stage)
	assert.Equal(t, 1, api.probeCalls, "fatal signatures are never retried")
}

func TestValidateTransientExhaustionIsSoftSuccess(t *testing.T) {
	api := &fakeAPI{
		hostAfterPolls: 0,
		probeResults: []*sandbox.CommandResult{
			{ExitCode: 1, Stderr: "TypeError: fetch failed (ECONNREFUSED)"},
		},
	}
	b := newTestBootstrapper(api, fastTimings())

	url, err := b.Start(context.Background(), &sandbox.Handle{ID: "sbx"}, runtime.DefaultProfile())
	require.NoError(t, err, "transient exhaustion is a soft success, not a pipeline failure")
	assert.NotEmpty(t, url)
	assert.Equal(t, 3, api.probeCalls, "bounded by the configured attempt budget")
}

func TestValidateTransientThenSuccess(t *testing.T) {
	api := &fakeAPI{
		hostAfterPolls: 0,
		probeResults: []*sandbox.CommandResult{
			{ExitCode: 1, Stderr: "request timed out"},
			okProbe(),
		},
	}
	b := newTestBootstrapper(api, fastTimings())

	_, err := b.Start(context.Background(), &sandbox.Handle{ID: "sbx"}, runtime.DefaultProfile())
	require.NoError(t, err)
	assert.Equal(t, 2, api.probeCalls)
}
