package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"git.home.luguber.info/inful/previewd/internal/failure"
)

// NATSSink publishes failures and incidents to a NATS subject so external
// systems (dashboards, alerting) can react without polling the event store.
// Log and command notifications are intentionally not published: they are
// high-volume and belong in the store, not on the wire.
type NATSSink struct {
	conn    *nats.Conn
	subject string
}

// failureMessage is the wire envelope for a published failure.
type failureMessage struct {
	Failure   failure.Failure `json:"failure"`
	Incident  *Incident       `json:"incident,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewNATSSink connects to the given NATS server. The connection retries in
// the background if the server is temporarily unreachable.
func NewNATSSink(url, subject string) (*NATSSink, error) {
	conn, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, err
	}
	slog.Info("connected incident publisher", "url", url, "subject", subject)
	return &NATSSink{conn: conn, subject: subject}, nil
}

// Close drains the connection, flushing pending publishes.
func (n *NATSSink) Close() {
	if n.conn != nil {
		if err := n.conn.Drain(); err != nil {
			slog.Warn("incident publisher drain failed", "error", err)
		}
	}
}

func (n *NATSSink) OnLog(context.Context, slog.Level, string, map[string]any) {}

func (n *NATSSink) OnCommand(context.Context, string) {}

func (n *NATSSink) OnFailure(_ context.Context, f failure.Failure, incident *Incident) {
	msg := failureMessage{Failure: f, Incident: incident, Timestamp: time.Now().UTC()}
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("failure message marshal failed", "error", err)
		return
	}
	if err := n.conn.Publish(n.subject, data); err != nil {
		slog.Warn("failure publish failed", "subject", n.subject, "error", err)
	}
}
