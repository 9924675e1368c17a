package config

import "time"

// Timings collects the product-tuned timing constants of the build pipeline.
// None of these are structural: changing them alters responsiveness, not
// behavior, so they are all exposed as configuration.
type Timings struct {
	// GraceWindow is how long the dev-server start call must stay pending
	// before the process is presumed alive.
	GraceWindow time.Duration `yaml:"grace_window"`

	// StartupDeadline bounds the whole runtime-start attempt, measured from
	// the moment the dev command is issued, not from probe start.
	StartupDeadline time.Duration `yaml:"startup_deadline"`

	// HostPollInterval is the sleep between host probe polls.
	HostPollInterval time.Duration `yaml:"host_poll_interval"`

	// RouteProbeMaxAttempts bounds route-validation retries on transient
	// failures.
	RouteProbeMaxAttempts int `yaml:"route_probe_max_attempts"`

	// RouteProbeRetryDelay is the fixed delay between route-validation retries.
	RouteProbeRetryDelay time.Duration `yaml:"route_probe_retry_delay"`

	// RouteFetchTimeout is the in-sandbox fetch timeout of one validation GET.
	RouteFetchTimeout time.Duration `yaml:"route_fetch_timeout"`

	// InstallTimeout is the requested duration for one install command run.
	InstallTimeout time.Duration `yaml:"install_timeout"`

	// DevServerTimeout is the requested duration for the detached dev-server
	// command. The request layer clamps the resulting budget.
	DevServerTimeout time.Duration `yaml:"dev_server_timeout"`

	// KeepaliveInterval drives the daemon's periodic sandbox status job.
	KeepaliveInterval time.Duration `yaml:"keepalive_interval"`
}

func (t *Timings) applyDefaults() {
	if t.GraceWindow <= 0 {
		t.GraceWindow = 5 * time.Second
	}
	if t.StartupDeadline <= 0 {
		t.StartupDeadline = 120 * time.Second
	}
	if t.HostPollInterval <= 0 {
		t.HostPollInterval = 3 * time.Second
	}
	if t.RouteProbeMaxAttempts <= 0 {
		t.RouteProbeMaxAttempts = 3
	}
	if t.RouteProbeRetryDelay <= 0 {
		t.RouteProbeRetryDelay = 2 * time.Second
	}
	if t.RouteFetchTimeout <= 0 {
		t.RouteFetchTimeout = 8 * time.Second
	}
	if t.InstallTimeout <= 0 {
		t.InstallTimeout = 3 * time.Minute
	}
	if t.DevServerTimeout <= 0 {
		t.DevServerTimeout = 10 * time.Minute
	}
	if t.KeepaliveInterval <= 0 {
		t.KeepaliveInterval = 60 * time.Second
	}
}
