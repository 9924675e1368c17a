package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/previewd/internal/metrics"
	"git.home.luguber.info/inful/previewd/internal/retry"
)

// fakeTransport serves queued responses per action and records calls.
type fakeTransport struct {
	responses map[Action][]fakeResponse
	calls     []Action
}

type fakeResponse struct {
	raw json.RawMessage
	err error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{responses: map[Action][]fakeResponse{}}
}

func (f *fakeTransport) queue(action Action, raw string, err error) {
	f.responses[action] = append(f.responses[action], fakeResponse{raw: json.RawMessage(raw), err: err})
}

func (f *fakeTransport) Do(_ context.Context, action Action, _ any) (json.RawMessage, error) {
	f.calls = append(f.calls, action)
	queue := f.responses[action]
	if len(queue) == 0 {
		return nil, &APIError{Status: 500, Message: "no scripted response"}
	}
	next := queue[0]
	f.responses[action] = queue[1:]
	return next.raw, next.err
}

func newTestClient(t *fakeTransport) *Client {
	c := NewClient(t, retry.NewPolicy("fixed", time.Millisecond, time.Millisecond, 2))
	c.sleep = func(context.Context, time.Duration) error { return nil }
	return c
}

type retryCountingRecorder struct {
	metrics.NoopRecorder
	retries map[string]int
}

func (r *retryCountingRecorder) IncSandboxRetry(action string) {
	r.retries[action]++
}

func TestCallRecordsRetryMetric(t *testing.T) {
	ft := newFakeTransport()
	ft.queue(ActionWriteFile, "", &APIError{Status: 503, Message: "service unavailable"})
	ft.queue(ActionWriteFile, "", &APIError{Status: 503, Message: "service unavailable"})
	ft.queue(ActionWriteFile, `{}`, nil)
	rec := &retryCountingRecorder{retries: map[string]int{}}
	c := NewClient(ft, retry.NewPolicy("fixed", time.Millisecond, time.Millisecond, 2), WithRecorder(rec))
	c.sleep = func(context.Context, time.Duration) error { return nil }

	err := c.WriteFile(context.Background(), &Handle{ID: "sbx"}, "a.txt", "x")
	require.NoError(t, err)
	assert.Equal(t, 2, rec.retries[string(ActionWriteFile)], "one increment per retry, not per attempt")
}

func TestCallRetriesRetryableStatusThenSucceeds(t *testing.T) {
	ft := newFakeTransport()
	ft.queue(ActionWriteFile, "", &APIError{Status: 503, Message: "service unavailable"})
	ft.queue(ActionWriteFile, `{}`, nil)
	c := newTestClient(ft)

	err := c.WriteFile(context.Background(), &Handle{ID: "sbx"}, "a.txt", "x")
	require.NoError(t, err)
	assert.Len(t, ft.calls, 2)
}

func TestCallDoesNotRetryNonRetryableStatus(t *testing.T) {
	ft := newFakeTransport()
	ft.queue(ActionWriteFile, "", &APIError{Status: 400, Message: "bad request"})
	c := newTestClient(ft)

	err := c.WriteFile(context.Background(), &Handle{ID: "sbx"}, "a.txt", "x")
	require.Error(t, err)
	assert.Len(t, ft.calls, 1)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 400, apiErr.Status)
}

func TestCallZeroBudgetActionNeverRetries(t *testing.T) {
	ft := newFakeTransport()
	ft.queue(ActionCreate, "", &APIError{Status: 503, Message: "overloaded"})
	c := newTestClient(ft)

	_, err := c.Create(context.Background(), "node22")
	require.Error(t, err)
	assert.Len(t, ft.calls, 1, "create is non-retryable regardless of status")
}

func TestCallBudgetExhaustionReturnsTypedError(t *testing.T) {
	ft := newFakeTransport()
	for i := 0; i < 3; i++ {
		ft.queue(ActionReadFile, "", &APIError{Status: 429, Code: "rate_limited", Message: "too many requests"})
	}
	c := newTestClient(ft)

	_, err := c.ReadFile(context.Background(), &Handle{ID: "sbx"}, "a.txt")
	require.Error(t, err)
	assert.Len(t, ft.calls, 3, "one attempt plus a budget of two retries")

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "rate_limited", apiErr.Code)
}

func TestCallRetriesTransientTransportError(t *testing.T) {
	ft := newFakeTransport()
	ft.queue(ActionGetHost, "", &TransportError{Action: ActionGetHost, Err: errors.New("dial tcp: i/o timeout")})
	ft.queue(ActionGetHost, `{"host":"sbx-3000.preview.example"}`, nil)
	c := newTestClient(ft)

	host, err := c.GetHost(context.Background(), &Handle{ID: "sbx"}, 3000, nil)
	require.NoError(t, err)
	assert.Equal(t, "sbx-3000.preview.example", host)
}

func TestCallOptsOverrideRetryBudget(t *testing.T) {
	ft := newFakeTransport()
	ft.queue(ActionGetHost, "", &APIError{Status: 503, Message: "not ready"})
	c := newTestClient(ft)

	zero := 0
	_, err := c.GetHost(context.Background(), &Handle{ID: "sbx"}, 3000, &CallOpts{MaxRetries: &zero})
	require.Error(t, err)
	assert.Len(t, ft.calls, 1, "probe calls carry a near-zero retry budget")
}

func TestRetryDelayPrefersRetryAfter(t *testing.T) {
	policy := retry.NewPolicy("fixed", time.Millisecond, time.Millisecond, 2)
	err := &APIError{Status: 429, RetryAfter: 7 * time.Second}
	assert.Equal(t, 7*time.Second, retryDelay(err, policy, 1))

	noHint := &APIError{Status: 429}
	assert.Greater(t, int64(retryDelay(noHint, policy, 1)), int64(0))
}

func TestTimeoutForActions(t *testing.T) {
	c := newTestClient(newFakeTransport())

	assert.Equal(t, createTimeout, c.timeoutFor(ActionCreate, nil, nil))
	assert.Equal(t, writeFileTimeout, c.timeoutFor(ActionWriteFile, nil, nil))
	assert.Equal(t, getHostTimeout, c.timeoutFor(ActionGetHost, nil, nil))
	assert.Equal(t, defaultTimeout, c.timeoutFor(ActionMakeDir, nil, nil))
}

func TestTimeoutForRunCommandClamps(t *testing.T) {
	c := newTestClient(newFakeTransport())

	short := RunCommandParams{TimeoutMs: 1000}
	assert.Equal(t, commandMinBudget, c.timeoutFor(ActionRunCommand, short, nil),
		"short commands clamp up to the minimum window")

	long := RunCommandParams{TimeoutMs: int((20 * time.Minute) / time.Millisecond)}
	assert.Equal(t, commandMaxBudget, c.timeoutFor(ActionRunCommand, long, nil),
		"long commands clamp down to the maximum window")

	mid := RunCommandParams{TimeoutMs: int((2 * time.Minute) / time.Millisecond)}
	assert.Equal(t, 2*time.Minute+commandOverhead, c.timeoutFor(ActionRunCommand, mid, nil))
}

func TestTimeoutOverride(t *testing.T) {
	c := newTestClient(newFakeTransport())
	assert.Equal(t, time.Second, c.timeoutFor(ActionGetHost, nil, &CallOpts{Timeout: time.Second}))
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 3*time.Second, parseRetryAfter("3"))
	assert.Equal(t, time.Duration(0), parseRetryAfter(""))
	assert.Equal(t, time.Duration(0), parseRetryAfter("Wed, 21 Oct 2026 07:28:00 GMT"))
}

func TestLifecycleBootAndRecreate(t *testing.T) {
	ft := newFakeTransport()
	ft.queue(ActionCreate, `{"sandboxId":"sbx-1","accessToken":"tok-1","runtimeVersion":"node22.1"}`, nil)
	ft.queue(ActionKill, `{}`, nil)
	ft.queue(ActionCreate, `{"sandboxId":"sbx-2","accessToken":"tok-2","runtimeVersion":"node22.1"}`, nil)
	lc := NewLifecycle(newTestClient(ft), "node22")

	h, err := lc.Boot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sbx-1", h.ID)
	assert.True(t, h.Ready)

	fresh, err := lc.Recreate(context.Background(), h)
	require.NoError(t, err)
	assert.Equal(t, "sbx-2", fresh.ID)
	assert.False(t, h.Ready, "old handle is invalidated")
}

func TestLifecycleKillIsBestEffort(t *testing.T) {
	ft := newFakeTransport()
	ft.queue(ActionKill, "", &APIError{Status: 500, Message: "gone"})
	lc := NewLifecycle(newTestClient(ft), "node22")

	// must not panic or surface the error
	lc.Kill(context.Background(), &Handle{ID: "sbx-dead"})
}
