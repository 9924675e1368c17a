// Package daemon wires the preview pipeline into a long-running process:
// source loading and watching, the controller, event persistence and
// publication, periodic reconciliation, and the metrics endpoint.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-co-op/gocron/v2"
	prom "github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/previewd/internal/bootstrap"
	"git.home.luguber.info/inful/previewd/internal/config"
	"git.home.luguber.info/inful/previewd/internal/events"
	"git.home.luguber.info/inful/previewd/internal/eventstore"
	"git.home.luguber.info/inful/previewd/internal/fileset"
	"git.home.luguber.info/inful/previewd/internal/install"
	"git.home.luguber.info/inful/previewd/internal/metrics"
	"git.home.luguber.info/inful/previewd/internal/pipeline"
	"git.home.luguber.info/inful/previewd/internal/retry"
	"git.home.luguber.info/inful/previewd/internal/sandbox"
	"git.home.luguber.info/inful/previewd/internal/source"
	"git.home.luguber.info/inful/previewd/internal/syncer"
)

// FileSetLoader produces the current virtual file set.
type FileSetLoader interface {
	Load(ctx context.Context) ([]fileset.Entry, error)
}

// dirLoaderAdapter lifts the context-free directory loader to FileSetLoader.
type dirLoaderAdapter struct{ loader *source.DirLoader }

func (a dirLoaderAdapter) Load(context.Context) ([]fileset.Entry, error) {
	return a.loader.Load()
}

// Daemon owns the pipeline controller and its collaborators for the lifetime
// of the process.
type Daemon struct {
	cfg        *config.Config
	controller *pipeline.Controller
	loader     FileSetLoader
	watcher    *source.Watcher
	scheduler  gocron.Scheduler
	store      eventstore.Store
	natsSink   *events.NATSSink
	metricsSrv *http.Server
}

// New assembles a daemon from configuration. All remote collaborators are
// constructed here; nothing is dialed until Run.
func New(cfg *config.Config) (*Daemon, error) {
	d := &Daemon{cfg: cfg}

	sinks := []events.Sink{events.SlogSink{}}
	recorder := metrics.Recorder(metrics.NoopRecorder{})

	if cfg.Events.StorePath != "" {
		store, err := eventstore.NewSQLiteStore(cfg.Events.StorePath)
		if err != nil {
			return nil, fmt.Errorf("open event store: %w", err)
		}
		d.store = store
		sinks = append(sinks, events.NewStoreSink(store, func() string {
			return d.controller.Snapshot().GenerationID
		}))
	}
	if cfg.Events.NATSURL != "" {
		sink, err := events.NewNATSSink(cfg.Events.NATSURL, cfg.Events.NATSSubject)
		if err != nil {
			return nil, fmt.Errorf("connect incident publisher: %w", err)
		}
		d.natsSink = sink
		sinks = append(sinks, sink)
	}
	if cfg.Metrics.Enabled {
		reg := prom.NewRegistry()
		recorder = metrics.NewPrometheusRecorder(reg)
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.HTTPHandler(reg))
		mux.Handle("/status", d.statusHandler())
		mux.Handle("/healthz", d.healthHandler())
		d.metricsSrv = &http.Server{Addr: cfg.Metrics.Listen, Handler: mux}
	}

	transport := sandbox.NewHTTPTransport(cfg.Provider.BaseURL, cfg.Provider.Token)
	client := sandbox.NewClient(transport, retry.FromConfig(cfg.Retry), sandbox.WithRecorder(recorder))
	lifecycle := sandbox.NewLifecycle(client, cfg.Provider.Runtime)

	d.controller = pipeline.New(cfg.Provider, lifecycle,
		syncer.NewEngine(client),
		install.NewOrchestrator(client, cfg.Timings.InstallTimeout),
		bootstrap.New(client, cfg.Timings),
		pipeline.WithSink(events.Multi(sinks...)),
		pipeline.WithRecorder(recorder),
		pipeline.WithFileReader(client),
	)

	switch {
	case cfg.Source.Dir != "":
		d.loader = dirLoaderAdapter{source.NewDirLoader(cfg.Source)}
		w, err := source.NewWatcher(cfg.Source.Dir, cfg.Source.WatchDebounce)
		if err != nil {
			return nil, err
		}
		d.watcher = w
	case cfg.Source.Repo != "":
		d.loader = source.NewGitLoader(cfg.Source)
	default:
		return nil, fmt.Errorf("no file set source configured: set source.dir or source.repo")
	}

	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	d.scheduler = sched

	return d, nil
}

// Controller exposes the pipeline for status queries.
func (d *Daemon) Controller() *pipeline.Controller { return d.controller }

// BuildOnce boots the sandbox and converges on the current file set a single
// time, without starting the watcher or the scheduler.
func (d *Daemon) BuildOnce(ctx context.Context) error {
	if err := d.controller.Boot(ctx); err != nil {
		return err
	}
	return d.reconcile(ctx)
}

// Run boots the sandbox, applies the initial file set, and serves until ctx
// is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	if d.metricsSrv != nil {
		go func() {
			slog.Info("serving metrics", "listen", d.metricsSrv.Addr)
			if err := d.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("metrics server failed", "error", err)
			}
		}()
	}

	if err := d.controller.Boot(ctx); err != nil {
		return err
	}

	if err := d.reconcile(ctx); err != nil {
		slog.Error("initial build failed", "error", err)
		// The daemon keeps running: the next change or tick retries.
	}

	if d.watcher != nil {
		if err := d.watcher.Start(ctx); err != nil {
			return err
		}
	}

	if _, err := d.scheduler.NewJob(
		gocron.DurationJob(d.cfg.Timings.KeepaliveInterval),
		gocron.NewTask(func() { d.tick(ctx) }),
		gocron.WithName("reconcile"),
	); err != nil {
		return fmt.Errorf("schedule reconcile job: %w", err)
	}
	d.scheduler.Start()

	for {
		select {
		case <-ctx.Done():
			d.shutdown()
			return nil
		case _, ok := <-d.changes():
			if !ok {
				continue
			}
			if err := d.reconcile(ctx); err != nil {
				slog.Error("reconcile after change failed", "error", err)
			}
		}
	}
}

func (d *Daemon) changes() <-chan struct{} {
	if d.watcher == nil {
		return nil // nil channel blocks forever; only the tick reconciles
	}
	return d.watcher.Changes()
}

// reconcile loads the file set and lets the controller converge on it.
func (d *Daemon) reconcile(ctx context.Context) error {
	entries, err := d.loader.Load(ctx)
	if err != nil {
		return err
	}
	return d.controller.Apply(ctx, entries)
}

// tick is the periodic safety net for missed filesystem events and for
// recovering from transient failures without user interaction.
func (d *Daemon) tick(ctx context.Context) {
	if err := d.reconcile(ctx); err != nil {
		slog.Warn("scheduled reconcile failed", "error", err)
	}
}

// shutdown tears everything down in reverse dependency order.
func (d *Daemon) shutdown() {
	slog.Info("shutting down")
	if d.watcher != nil {
		d.watcher.Stop()
	}
	if err := d.scheduler.Shutdown(); err != nil {
		slog.Warn("scheduler shutdown failed", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	d.controller.Shutdown(ctx)

	if d.natsSink != nil {
		d.natsSink.Close()
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			slog.Warn("event store close failed", "error", err)
		}
	}
	if d.metricsSrv != nil {
		if err := d.metricsSrv.Shutdown(ctx); err != nil {
			slog.Warn("metrics server shutdown failed", "error", err)
		}
	}
}
