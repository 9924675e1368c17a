// Package events defines the injected event-sink surface the pipeline engine
// reports through, decoupled from any particular renderer or transport.
package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/previewd/internal/failure"
	"git.home.luguber.info/inful/previewd/internal/observability"
)

// IncidentType is the type tag on a critical incident event.
const IncidentTypeBuildError = "BUILD_ERROR"

// Incident is the critical event emitted on unrecoverable failures.
type Incident struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Context   map[string]any `json:"context,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewIncident builds a BUILD_ERROR incident with a fresh ID.
func NewIncident(severity, message string, contextFields map[string]any) *Incident {
	return &Incident{
		ID:        uuid.NewString(),
		Type:      IncidentTypeBuildError,
		Severity:  severity,
		Message:   message,
		Context:   contextFields,
		Timestamp: time.Now(),
	}
}

// Sink receives pipeline lifecycle notifications. Implementations must be
// safe for concurrent use; the engine never blocks on a sink error.
type Sink interface {
	// OnLog reports one structured lifecycle step.
	OnLog(ctx context.Context, level slog.Level, msg string, fields map[string]any)

	// OnCommand reports a command issued inside the sandbox.
	OnCommand(ctx context.Context, command string)

	// OnFailure reports a stage failure; incident is non-nil only for
	// unrecoverable failures.
	OnFailure(ctx context.Context, f failure.Failure, incident *Incident)
}

// Multi fans notifications out to every sink in order.
func Multi(sinks ...Sink) Sink { return multiSink(sinks) }

type multiSink []Sink

func (m multiSink) OnLog(ctx context.Context, level slog.Level, msg string, fields map[string]any) {
	for _, s := range m {
		s.OnLog(ctx, level, msg, fields)
	}
}

func (m multiSink) OnCommand(ctx context.Context, command string) {
	for _, s := range m {
		s.OnCommand(ctx, command)
	}
}

func (m multiSink) OnFailure(ctx context.Context, f failure.Failure, incident *Incident) {
	for _, s := range m {
		s.OnFailure(ctx, f, incident)
	}
}

// SlogSink writes every notification through the observability logger.
type SlogSink struct{}

func (SlogSink) OnLog(ctx context.Context, level slog.Level, msg string, fields map[string]any) {
	attrs := make([]slog.Attr, 0, len(fields))
	for k, v := range fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	switch level {
	case slog.LevelDebug:
		observability.DebugContext(ctx, msg, attrs...)
	case slog.LevelWarn:
		observability.WarnContext(ctx, msg, attrs...)
	case slog.LevelError:
		observability.ErrorContext(ctx, msg, attrs...)
	default:
		observability.InfoContext(ctx, msg, attrs...)
	}
}

func (SlogSink) OnCommand(ctx context.Context, command string) {
	observability.InfoContext(ctx, "sandbox command", slog.String("command", command))
}

func (SlogSink) OnFailure(ctx context.Context, f failure.Failure, incident *Incident) {
	attrs := []slog.Attr{
		slog.String("stage", string(f.Stage)),
		slog.String("message", f.Message),
		slog.Bool("auto_recovery_attempted", f.AutoRecoveryAttempted),
	}
	if incident != nil {
		attrs = append(attrs, slog.String("incident_id", incident.ID))
	}
	observability.ErrorContext(ctx, "pipeline stage failed", attrs...)
}
