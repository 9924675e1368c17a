// Package pipeline drives the preview build state machine: it converges the
// caller's virtual file set onto a remote sandbox and publishes a live dev
// server URL, retrying and recovering according to fixed policies.
package pipeline

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/previewd/internal/config"
	"git.home.luguber.info/inful/previewd/internal/errors"
	"git.home.luguber.info/inful/previewd/internal/events"
	"git.home.luguber.info/inful/previewd/internal/failure"
	"git.home.luguber.info/inful/previewd/internal/fileset"
	"git.home.luguber.info/inful/previewd/internal/install"
	"git.home.luguber.info/inful/previewd/internal/logfields"
	"git.home.luguber.info/inful/previewd/internal/metrics"
	"git.home.luguber.info/inful/previewd/internal/observability"
	"git.home.luguber.info/inful/previewd/internal/runtime"
	"git.home.luguber.info/inful/previewd/internal/sandbox"
)

const lockfilePath = "package-lock.json"

// Sandboxes is the lifecycle slice the controller needs.
type Sandboxes interface {
	Boot(ctx context.Context) (*sandbox.Handle, error)
	Kill(ctx context.Context, h *sandbox.Handle)
	Recreate(ctx context.Context, old *sandbox.Handle) (*sandbox.Handle, error)
}

// Syncer pushes a file set into the sandbox.
type Syncer interface {
	Sync(ctx context.Context, h *sandbox.Handle, entries []fileset.Entry, profile runtime.Profile) error
}

// Installer runs the dependency install ladder.
type Installer interface {
	Install(ctx context.Context, h *sandbox.Handle) (*install.Result, error)
}

// Starter launches the dev server and returns its public URL.
type Starter interface {
	Start(ctx context.Context, h *sandbox.Handle, profile runtime.Profile) (string, error)
}

// FileReader reads a file back out of the sandbox. Used best-effort for the
// lockfile hash; a nil reader skips it.
type FileReader interface {
	ReadFile(ctx context.Context, h *sandbox.Handle, path string) (string, error)
}

// Controller is the build pipeline state machine. One controller owns one
// sandbox. All exported methods are safe for concurrent use; remote work runs
// outside the lock so observers never block on the network.
type Controller struct {
	provider  config.ProviderConfig
	boxes     Sandboxes
	syncer    Syncer
	installer Installer
	starter   Starter
	reader    FileReader
	sink      events.Sink
	recorder  metrics.Recorder

	mu sync.Mutex

	state             State
	handle            *sandbox.Handle
	generation        int
	generationID      string
	attempted         string
	synced            string
	fullBuildInFlight bool
	hotSyncInFlight   bool
	recoveryAttempted bool
	failure           *failure.Failure
	serverURL         string
	meta              VerificationMetadata

	subs   []chan Snapshot
	closed bool
}

// Option configures optional controller collaborators.
type Option func(*Controller)

// WithSink routes lifecycle events to the given sink.
func WithSink(s events.Sink) Option {
	return func(c *Controller) { c.sink = s }
}

// WithRecorder injects a metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(c *Controller) { c.recorder = r }
}

// WithFileReader enables lockfile hashing after install.
func WithFileReader(r FileReader) Option {
	return func(c *Controller) { c.reader = r }
}

// New builds an idle controller. Boot must be called before Apply has any
// effect.
func New(provider config.ProviderConfig, boxes Sandboxes, syncer Syncer, installer Installer, starter Starter, opts ...Option) *Controller {
	c := &Controller{
		provider:     provider,
		boxes:        boxes,
		syncer:       syncer,
		installer:    installer,
		starter:      starter,
		sink:         events.SlogSink{},
		recorder:     metrics.NoopRecorder{},
		state:        StateIdle,
		generation:   1,
		generationID: uuid.NewString(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Boot provisions the sandbox. Missing provider configuration disables the
// preview feature instead of failing.
func (c *Controller) Boot(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return errors.DaemonError("boot from non-idle state").
			WithContext("state", string(c.state))
	}
	if !c.provider.Configured() {
		c.setStateLocked(StateDisabled)
		c.mu.Unlock()
		c.publish()
		observability.InfoContext(ctx, "preview provider not configured, pipeline disabled")
		return nil
	}
	gid := c.generationID
	c.setStateLocked(StateBooting)
	c.mu.Unlock()
	c.publish()

	ctx = observability.WithGeneration(ctx, gid)
	h, err := c.boxes.Boot(ctx)

	c.mu.Lock()
	if err != nil {
		f := failure.Classify(err.Error(), failure.StageBoot, "", firstLine(err.Error()), c.recoveryAttempted, false)
		c.failure = &f
		c.setStateLocked(StateFailed)
		c.mu.Unlock()
		c.publish()
		c.emitFailure(ctx, f)
		return err
	}
	c.handle = h
	c.meta.SandboxID = h.ID
	c.meta.RuntimeVersion = h.RuntimeVersion
	c.failure = nil
	c.setStateLocked(StateReadyNoServer)
	c.mu.Unlock()
	c.publish()
	observability.InfoContext(ctx, "sandbox ready",
		logfields.SandboxID(h.ID), logfields.Generation(gid))
	return nil
}

// Apply observes the current file set and converges the sandbox: a full
// build when the fingerprint was never attempted and no server is live, a
// hot sync when the server is live and the set drifted from what was synced.
// A file set without a root package manifest never starts a full build.
func (c *Controller) Apply(ctx context.Context, entries []fileset.Entry) error {
	fp := fileset.Fingerprint(entries)
	profile := runtime.Resolve(entries)

	c.mu.Lock()
	ctx = observability.WithGeneration(observability.WithSandboxID(ctx, c.meta.SandboxID), c.generationID)

	switch {
	case c.wantsFullBuildLocked(fp, entries):
		return c.runFullBuildLocked(ctx, fp, entries, profile)
	case c.wantsHotSyncLocked(fp):
		return c.runHotSyncLocked(ctx, fp, entries, profile)
	default:
		state := c.state
		c.mu.Unlock()
		observability.DebugContext(ctx, "file set observed, nothing to do",
			logfields.Fingerprint(fp), slog.String("state", string(state)))
		return nil
	}
}

// wantsFullBuildLocked evaluates the full-build trigger. Caller holds mu.
func (c *Controller) wantsFullBuildLocked(fp string, entries []fileset.Entry) bool {
	if c.state != StateReadyNoServer && c.state != StateFailed {
		return false
	}
	return fp != c.attempted &&
		!c.fullBuildInFlight &&
		c.serverURL == "" &&
		fileset.HasManifest(entries)
}

// wantsHotSyncLocked evaluates the hot-sync trigger. Caller holds mu.
func (c *Controller) wantsHotSyncLocked(fp string) bool {
	return c.state == StateLive &&
		fp != c.synced &&
		!c.hotSyncInFlight &&
		!c.fullBuildInFlight
}

// runFullBuildLocked executes sync, install, and runtime start in strict
// sequence, releasing the lock around remote work. Entered with mu held;
// returns with mu released.
func (c *Controller) runFullBuildLocked(ctx context.Context, fp string, entries []fileset.Entry, profile runtime.Profile) error {
	c.fullBuildInFlight = true
	c.attempted = fp
	gen := c.generation
	h := c.handle
	c.setStateLocked(StateFullBuildInFlight)
	c.mu.Unlock()
	c.publish()

	started := time.Now()
	c.sink.OnLog(ctx, slog.LevelInfo, "full build started", map[string]any{
		"fingerprint": fp, "framework": string(profile.Framework),
	})

	url, meta, err := c.buildStages(ctx, h, entries, profile)

	c.mu.Lock()
	if gen != c.generation {
		// Superseded by a generation reset while in flight. Drop the result;
		// the new generation's fingerprint comparison re-runs everything.
		c.mu.Unlock()
		observability.WarnContext(ctx, "discarding superseded build result",
			slog.Int("build_generation", gen), slog.Int("current_generation", c.generation))
		return nil
	}
	c.fullBuildInFlight = false

	if err != nil {
		return c.finishFailedBuildLocked(ctx, entries, profile, err, started)
	}

	c.serverURL = url
	c.synced = fp
	c.failure = nil
	c.meta.EnvironmentVerifiedAt = time.Now().UTC()
	c.meta.DependenciesLockedAt = meta.DependenciesLockedAt
	c.meta.DependencyCount = meta.DependencyCount
	c.meta.LockfileHash = meta.LockfileHash
	c.setStateLocked(StateLive)
	c.mu.Unlock()
	c.publish()

	c.recorder.ObserveBuildDuration(time.Since(started))
	c.recorder.IncBuildOutcome("success")
	c.sink.OnLog(ctx, slog.LevelInfo, "full build live", map[string]any{
		"url": url, "duration": time.Since(started).String(),
	})
	return nil
}

// buildStages runs the remote half of a full build with no controller lock
// held. The returned metadata covers the install milestone only.
func (c *Controller) buildStages(ctx context.Context, h *sandbox.Handle, entries []fileset.Entry, profile runtime.Profile) (string, VerificationMetadata, error) {
	var meta VerificationMetadata

	stageStart := time.Now()
	if err := c.syncer.Sync(ctx, h, entries, profile); err != nil {
		c.recorder.IncStageResult(string(failure.StageSync), metrics.ResultFatal)
		return "", meta, failure.NewStageError(failure.StageSync, "", firstLine(err.Error()), err)
	}
	c.recorder.ObserveStageDuration(string(failure.StageSync), time.Since(stageStart))
	c.recorder.IncStageResult(string(failure.StageSync), metrics.ResultSuccess)

	stageStart = time.Now()
	res, err := c.installer.Install(ctx, h)
	if err != nil {
		c.recorder.IncStageResult(string(failure.StageInstall), metrics.ResultFatal)
		return "", meta, failure.NewStageError(failure.StageInstall, installCommand(err), installLogLine(err), err)
	}
	c.recorder.ObserveStageDuration(string(failure.StageInstall), time.Since(stageStart))
	c.recorder.IncStageResult(string(failure.StageInstall), metrics.ResultSuccess)
	c.recorder.IncInstallAttempt(res.Command)
	c.sink.OnCommand(ctx, res.Command)

	meta.DependenciesLockedAt = time.Now().UTC()
	if m, ok := runtime.ParseManifest(entries); ok {
		meta.DependencyCount = len(m.Dependencies) + len(m.DevDependencies)
	}
	if c.reader != nil {
		if lock, err := c.reader.ReadFile(ctx, h, lockfilePath); err == nil && lock != "" {
			meta.LockfileHash = fileset.HashString(lock)
		}
	}

	stageStart = time.Now()
	url, err := c.starter.Start(ctx, h, profile)
	if err != nil {
		return "", meta, err // already stage-tagged by the bootstrapper
	}
	c.recorder.ObserveStageDuration(string(failure.StageRuntimeStart), time.Since(stageStart))
	c.recorder.IncStageResult(string(failure.StageRuntimeStart), metrics.ResultSuccess)
	return url, meta, nil
}

// finishFailedBuildLocked classifies a full-build failure and either recovers
// from an ownership conflict (once per generation) or lands in Failed.
// Entered with mu held; returns with mu released.
func (c *Controller) finishFailedBuildLocked(ctx context.Context, entries []fileset.Entry, profile runtime.Profile, err error, started time.Time) error {
	stage, command, logLine := attribute(err)

	if failure.IsOwnershipConflict(err.Error()) && !c.recoveryAttempted {
		c.recoveryAttempted = true
		old := c.handle
		c.mu.Unlock()

		observability.WarnContext(ctx, "sandbox ownership conflict, recreating",
			logfields.Stage(string(stage)))
		fresh, rerr := c.boxes.Recreate(ctx, old)

		c.mu.Lock()
		if rerr != nil {
			f := failure.Classify(rerr.Error(), failure.StageBoot, "", firstLine(rerr.Error()), true, false)
			c.failure = &f
			c.setStateLocked(StateFailed)
			c.mu.Unlock()
			c.publish()
			c.emitFailure(ctx, f)
			c.recorder.IncBuildOutcome("failed")
			return rerr
		}
		c.handle = fresh
		c.meta.SandboxID = fresh.ID
		c.meta.RuntimeVersion = fresh.RuntimeVersion
		c.attempted = ""
		c.synced = ""
		c.serverURL = ""
		c.failure = nil
		c.setStateLocked(StateReadyNoServer)
		c.mu.Unlock()
		c.publish()

		c.recorder.IncBuildOutcome("recovered")
		c.sink.OnLog(ctx, slog.LevelWarn, "ownership conflict recovered, retrying build", map[string]any{
			"sandbox_id": fresh.ID,
		})
		// Clean re-run against the fresh sandbox with the same file set.
		return c.Apply(ctx, entries)
	}

	succeeded := false
	f := failure.Classify(err.Error(), stage, command, logLine, c.recoveryAttempted, succeeded)
	c.failure = &f
	c.setStateLocked(StateFailed)
	c.mu.Unlock()
	c.publish()

	outcome, result := "failed", metrics.ResultFatal
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		outcome, result = "canceled", metrics.ResultCanceled
	}
	c.recorder.ObserveBuildDuration(time.Since(started))
	c.recorder.IncBuildOutcome(outcome)
	c.recorder.IncStageResult(string(stage), result)
	c.emitFailure(ctx, f)
	return err
}

// runHotSyncLocked pushes drifted files into the live sandbox without
// reinstalling or restarting. Entered with mu held; returns with mu released.
func (c *Controller) runHotSyncLocked(ctx context.Context, fp string, entries []fileset.Entry, profile runtime.Profile) error {
	c.hotSyncInFlight = true
	gen := c.generation
	h := c.handle
	c.setStateLocked(StateHotSyncInFlight)
	c.mu.Unlock()
	c.publish()

	started := time.Now()
	err := c.syncer.Sync(ctx, h, entries, profile)

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		observability.WarnContext(ctx, "discarding superseded hot sync result")
		return nil
	}
	c.hotSyncInFlight = false

	if err != nil {
		// The running server stays up. The failure is published for
		// observability but the state returns to Live.
		f := failure.Classify(err.Error(), failure.StageSync, "", firstLine(err.Error()), c.recoveryAttempted, false)
		c.failure = &f
		c.setStateLocked(StateLive)
		c.mu.Unlock()
		c.publish()
		c.recorder.IncStageResult(string(failure.StageSync), metrics.ResultWarning)
		c.emitFailure(ctx, f)
		return err
	}

	c.synced = fp
	c.failure = nil
	c.setStateLocked(StateLive)
	c.mu.Unlock()
	c.publish()

	c.recorder.ObserveHotSyncDuration(time.Since(started))
	c.sink.OnLog(ctx, slog.LevelInfo, "hot sync applied", map[string]any{
		"fingerprint": fp, "duration": time.Since(started).String(),
	})
	return nil
}

// NewGeneration resets the pipeline for a fresh user-initiated build: guards,
// fingerprints, the recovery flag, and any prior URL or failure. In-flight
// attempts are not cancelled; their results are discarded on completion.
func (c *Controller) NewGeneration() {
	c.mu.Lock()
	c.generation++
	c.generationID = uuid.NewString()
	c.fullBuildInFlight = false
	c.hotSyncInFlight = false
	c.recoveryAttempted = false
	c.attempted = ""
	c.synced = ""
	c.serverURL = ""
	c.failure = nil
	switch {
	case c.state == StateDisabled || c.state == StateIdle || c.state == StateBooting:
		// Boot state is unaffected by generation resets.
	case c.handle != nil && c.handle.Ready:
		c.setStateLocked(StateReadyNoServer)
	default:
		c.setStateLocked(StateIdle)
	}
	c.recorder.SetGeneration(c.generation)
	c.mu.Unlock()
	c.publish()
}

// Snapshot returns a consistent copy of the observable outputs.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	var f *failure.Failure
	if c.failure != nil {
		cp := *c.failure
		f = &cp
	}
	return Snapshot{
		State:                c.state,
		Generation:           c.generation,
		GenerationID:         c.generationID,
		ServerURL:            c.serverURL,
		AttemptedFingerprint: c.attempted,
		SyncedFingerprint:    c.synced,
		Failure:              f,
		Metadata:             c.meta,
	}
}

// Subscribe returns a channel receiving a snapshot after every state change.
// Slow receivers drop intermediate snapshots rather than blocking the
// pipeline; the channel is closed on Shutdown. Subscribing after Shutdown
// yields an already-closed channel.
func (c *Controller) Subscribe() <-chan Snapshot {
	ch := make(chan Snapshot, 8)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		close(ch)
		return ch
	}
	c.subs = append(c.subs, ch)
	c.mu.Unlock()
	return ch
}

// publish fans the current snapshot out to subscribers without blocking.
func (c *Controller) publish() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	snap := c.snapshotLocked()
	subs := make([]chan Snapshot, len(c.subs))
	copy(subs, c.subs)
	c.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- snap:
		default:
		}
	}
}

// Shutdown tears the sandbox down best-effort and closes subscriber channels.
func (c *Controller) Shutdown(ctx context.Context) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	h := c.handle
	c.handle = nil
	subs := c.subs
	c.subs = nil
	c.setStateLocked(StateIdle)
	c.mu.Unlock()

	if h != nil {
		c.boxes.Kill(ctx, h)
	}
	for _, ch := range subs {
		close(ch)
	}
}

func (c *Controller) setStateLocked(s State) {
	c.state = s
	c.recorder.SetPipelineState(string(s))
}

// emitFailure forwards a terminal failure with an incident to the sink.
func (c *Controller) emitFailure(ctx context.Context, f failure.Failure) {
	var inc *events.Incident
	if !f.AutoRecoverySucceeded {
		inc = events.NewIncident("critical", f.Message, map[string]any{
			"stage":   string(f.Stage),
			"command": f.Command,
		})
	}
	c.sink.OnFailure(ctx, f, inc)
}

// attribute extracts the stage, command, and diagnostic line from a build
// error. Untagged errors default to the sync stage, the first thing a full
// build runs.
func attribute(err error) (failure.Stage, string, string) {
	var se *failure.StageError
	if stderrors.As(err, &se) {
		return se.Stage, se.Command, se.LogLine
	}
	return failure.StageSync, "", firstLine(err.Error())
}

// installCommand pulls the failing command out of an install error's context.
func installCommand(err error) string {
	var pe *errors.PreviewError
	if stderrors.As(err, &pe) {
		if cmd, ok := pe.Context["command"].(string); ok {
			return cmd
		}
	}
	return ""
}

// installLogLine prefers the truncated npm output captured by the install
// orchestrator over the wrapper's generic message.
func installLogLine(err error) string {
	var pe *errors.PreviewError
	if stderrors.As(err, &pe) {
		if diag, ok := pe.Context["diagnostic"].(string); ok && diag != "" {
			return diag
		}
	}
	return firstLine(err.Error())
}

func firstLine(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			return s[:i]
		}
	}
	return s
}
