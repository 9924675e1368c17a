package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/previewd/internal/config"
	"git.home.luguber.info/inful/previewd/internal/pipeline"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), []byte("{}"), 0o644))
	cfg.Source.Dir = dir
	return cfg
}

func TestNewRequiresSource(t *testing.T) {
	// A zero config has no source; Default() would fall back to ".".
	_, err := New(&config.Config{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "no file set source")
}

func TestNewWiresDirectorySource(t *testing.T) {
	d, err := New(testConfig(t))
	require.NoError(t, err)
	require.NotNil(t, d.Controller())
	require.NotNil(t, d.watcher)
	require.NotNil(t, d.loader)
}

func TestReconcileWithDisabledProviderIsNoop(t *testing.T) {
	// Default config has no provider credentials, so boot lands in Disabled
	// and reconcile observes the file set without starting a build.
	d, err := New(testConfig(t))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, d.controller.Boot(ctx))
	require.Equal(t, pipeline.StateDisabled, d.controller.Snapshot().State)

	require.NoError(t, d.reconcile(ctx))
	require.Equal(t, pipeline.StateDisabled, d.controller.Snapshot().State)
}

func TestStatusEndpoints(t *testing.T) {
	cfg := testConfig(t)
	cfg.Metrics.Enabled = true
	d, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, d.controller.Boot(context.Background()))

	rec := httptest.NewRecorder()
	d.statusHandler()(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, string(pipeline.StateDisabled), resp.State)

	rec = httptest.NewRecorder()
	d.healthHandler()(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestNewWiresEventStore(t *testing.T) {
	cfg := testConfig(t)
	cfg.Events.StorePath = ":memory:"
	d, err := New(cfg)
	require.NoError(t, err)
	require.NotNil(t, d.store)
	require.NoError(t, d.store.Close())
}
