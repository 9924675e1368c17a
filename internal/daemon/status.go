package daemon

import (
	"encoding/json"
	"net/http"
	"time"

	"git.home.luguber.info/inful/previewd/internal/pipeline"
	"git.home.luguber.info/inful/previewd/internal/version"
)

// statusResponse is the JSON shape served on /status.
type statusResponse struct {
	State       string                        `json:"state"`
	Generation  int                           `json:"generation"`
	ServerURL   string                        `json:"serverUrl,omitempty"`
	Ready       bool                          `json:"ready"`
	Serving     bool                          `json:"serving"`
	Failure     any                           `json:"failure,omitempty"`
	Metadata    pipeline.VerificationMetadata `json:"metadata"`
	Version     string                        `json:"version"`
	GeneratedAt time.Time                     `json:"generatedAt"`
}

// statusHandler serves the current pipeline snapshot.
func (d *Daemon) statusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := d.controller.Snapshot()
		resp := statusResponse{
			State:       string(snap.State),
			Generation:  snap.Generation,
			ServerURL:   snap.ServerURL,
			Ready:       snap.Ready(),
			Serving:     snap.Serving(),
			Metadata:    snap.Metadata,
			Version:     version.Version,
			GeneratedAt: time.Now().UTC(),
		}
		if snap.Failure != nil {
			resp.Failure = snap.Failure
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

// healthHandler reports liveness: 200 while the process runs, 503 once the
// pipeline has landed in Failed.
func (d *Daemon) healthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.controller.Snapshot().State == pipeline.StateFailed {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("failed"))
			return
		}
		w.Write([]byte("ok"))
	}
}
