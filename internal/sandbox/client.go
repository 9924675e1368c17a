package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"git.home.luguber.info/inful/previewd/internal/metrics"
	"git.home.luguber.info/inful/previewd/internal/retry"
)

// Per-action timeout budgets. Long-running commands derive their budget from
// the caller's requested duration plus fixed overhead, clamped to a window.
const (
	createTimeout    = 45 * time.Second
	writeFileTimeout = 25 * time.Second
	getHostTimeout   = 12 * time.Second
	defaultTimeout   = 30 * time.Second

	commandOverhead  = 15 * time.Second
	commandMinBudget = 45 * time.Second
	commandMaxBudget = 6 * time.Minute
)

// retryBudgets holds the retry budget per action. Actions absent from the map
// are non-retryable (budget 0).
var retryBudgets = map[Action]int{
	ActionMakeDir:   2,
	ActionWriteFile: 2,
	ActionReadFile:  2,
	ActionGetHost:   2,
}

// retryableStatuses are the HTTP status classes worth retrying for idempotent
// actions.
var retryableStatuses = map[int]bool{
	408: true,
	429: true,
	502: true,
	503: true,
	504: true,
}

// transientRequestSignatures mark request-layer failures as retryable by
// message when no status information is available.
var transientRequestSignatures = []string{
	"network",
	"timeout",
	"timed out",
	"econnreset",
	"econnrefused",
	"socket hang up",
	"rate limit",
	"too many requests",
	"abort",
	"eai_again",
	"fetch failed",
}

// CallOpts overrides the configured budgets for a single call.
type CallOpts struct {
	Timeout    time.Duration // overrides the action timeout when > 0
	MaxRetries *int          // overrides the action retry budget when non-nil
}

// Client is the resilient request layer: every provider call gets a
// per-action timeout and a bounded retry/backoff loop.
type Client struct {
	transport Transport
	policy    retry.Policy
	recorder  metrics.Recorder

	// sleep is swappable for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// ClientOption configures optional client collaborators.
type ClientOption func(*Client)

// WithRecorder counts retry attempts per action on the given recorder.
func WithRecorder(r metrics.Recorder) ClientOption {
	return func(c *Client) { c.recorder = r }
}

// NewClient wraps the transport with the given backoff policy.
func NewClient(t Transport, policy retry.Policy, opts ...ClientOption) *Client {
	c := &Client{
		transport: t,
		policy:    policy,
		recorder:  metrics.NoopRecorder{},
		sleep:     sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
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

// Call performs one action with timeout and bounded retries. On budget
// exhaustion the last typed error is returned unchanged.
func (c *Client) Call(ctx context.Context, action Action, params any, opts *CallOpts) (json.RawMessage, error) {
	budget := retryBudgets[action]
	if opts != nil && opts.MaxRetries != nil {
		budget = *opts.MaxRetries
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, c.timeoutFor(action, params, opts))
		raw, err := c.transport.Do(callCtx, action, params)
		cancel()
		if err == nil {
			return raw, nil
		}
		lastErr = err

		if attempt >= budget || !isRetryable(err) {
			return nil, lastErr
		}
		c.recorder.IncSandboxRetry(string(action))
		delay := retryDelay(err, c.policy, attempt+1)
		if serr := c.sleep(ctx, delay); serr != nil {
			return nil, lastErr
		}
	}
}

func (c *Client) timeoutFor(action Action, params any, opts *CallOpts) time.Duration {
	if opts != nil && opts.Timeout > 0 {
		return opts.Timeout
	}
	switch action {
	case ActionCreate:
		return createTimeout
	case ActionWriteFile:
		return writeFileTimeout
	case ActionGetHost:
		return getHostTimeout
	case ActionRunCommand:
		requested := defaultTimeout
		if p, ok := params.(RunCommandParams); ok && p.TimeoutMs > 0 {
			requested = time.Duration(p.TimeoutMs) * time.Millisecond
		}
		budget := requested + commandOverhead
		if budget < commandMinBudget {
			budget = commandMinBudget
		}
		if budget > commandMaxBudget {
			budget = commandMaxBudget
		}
		return budget
	default:
		return defaultTimeout
	}
}

// isRetryable decides from the typed error alone; the caller has already
// checked the budget.
func isRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if retryableStatuses[apiErr.Status] {
			return true
		}
		return matchesTransient(apiErr.Message)
	}
	var trErr *TransportError
	if errors.As(err, &trErr) {
		return matchesTransient(trErr.Error())
	}
	return false
}

func matchesTransient(msg string) bool {
	lower := strings.ToLower(msg)
	for _, s := range transientRequestSignatures {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// retryDelay prefers a server-provided Retry-After hint, else backs off
// exponentially with jitter.
func retryDelay(err error, policy retry.Policy, attempt int) time.Duration {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
		return apiErr.RetryAfter
	}
	return retry.Jitter(policy.Delay(attempt))
}

// Typed wrappers.

// Create provisions a fresh sandbox.
func (c *Client) Create(ctx context.Context, runtimeImage string) (*CreateResult, error) {
	raw, err := c.Call(ctx, ActionCreate, CreateParams{Runtime: runtimeImage}, nil)
	if err != nil {
		return nil, err
	}
	var res CreateResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, &TransportError{Action: ActionCreate, Err: err}
	}
	return &res, nil
}

// MakeDir creates a directory inside the sandbox.
func (c *Client) MakeDir(ctx context.Context, h *Handle, path string) error {
	_, err := c.Call(ctx, ActionMakeDir, MakeDirParams{SandboxID: h.ID, Path: path}, nil)
	return err
}

// WriteFile writes one file inside the sandbox.
func (c *Client) WriteFile(ctx context.Context, h *Handle, path, content string) error {
	_, err := c.Call(ctx, ActionWriteFile, WriteFileParams{SandboxID: h.ID, Path: path, Content: content}, nil)
	return err
}

// ReadFile reads one file from the sandbox.
func (c *Client) ReadFile(ctx context.Context, h *Handle, path string) (string, error) {
	raw, err := c.Call(ctx, ActionReadFile, ReadFileParams{SandboxID: h.ID, Path: path}, nil)
	if err != nil {
		return "", err
	}
	var res ReadFileResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return "", &TransportError{Action: ActionReadFile, Err: err}
	}
	return res.Content, nil
}

// RunCommand executes a command to completion inside the sandbox. The request
// timeout is derived from the requested duration, not the action default.
func (c *Client) RunCommand(ctx context.Context, h *Handle, command string, requested time.Duration) (*CommandResult, error) {
	params := RunCommandParams{SandboxID: h.ID, Command: command, TimeoutMs: int(requested / time.Millisecond)}
	raw, err := c.Call(ctx, ActionRunCommand, params, nil)
	if err != nil {
		return nil, err
	}
	var res CommandResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, &TransportError{Action: ActionRunCommand, Err: err}
	}
	return &res, nil
}

// GetHost looks up the public host bound to a sandbox port.
func (c *Client) GetHost(ctx context.Context, h *Handle, port int, opts *CallOpts) (string, error) {
	raw, err := c.Call(ctx, ActionGetHost, GetHostParams{SandboxID: h.ID, Port: port}, opts)
	if err != nil {
		return "", err
	}
	var res GetHostResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return "", &TransportError{Action: ActionGetHost, Err: err}
	}
	return res.Host, nil
}

// Kill tears the sandbox down.
func (c *Client) Kill(ctx context.Context, h *Handle) error {
	_, err := c.Call(ctx, ActionKill, KillParams{SandboxID: h.ID}, nil)
	return err
}
