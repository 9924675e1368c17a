package events

import (
	"context"
	"encoding/json"
	"log/slog"

	"git.home.luguber.info/inful/previewd/internal/eventstore"
	"git.home.luguber.info/inful/previewd/internal/failure"
)

// StoreSink appends failures and incidents to the event store. Persistence
// errors are logged, never propagated: recording must not fail the build.
type StoreSink struct {
	store      eventstore.Store
	generation func() string
}

// NewStoreSink builds a sink over the store; generation supplies the current
// generation ID at notification time.
func NewStoreSink(store eventstore.Store, generation func() string) *StoreSink {
	return &StoreSink{store: store, generation: generation}
}

func (s *StoreSink) OnLog(ctx context.Context, _ slog.Level, msg string, fields map[string]any) {
	payload, err := json.Marshal(map[string]any{"message": msg, "fields": fields})
	if err != nil {
		return
	}
	if err := s.store.Append(ctx, s.generation(), eventstore.EventLog, payload, nil); err != nil {
		slog.Warn("event store append failed", "error", err)
	}
}

func (s *StoreSink) OnCommand(ctx context.Context, command string) {
	payload, _ := json.Marshal(map[string]string{"command": command})
	if err := s.store.Append(ctx, s.generation(), eventstore.EventCommand, payload, nil); err != nil {
		slog.Warn("event store append failed", "error", err)
	}
}

func (s *StoreSink) OnFailure(ctx context.Context, f failure.Failure, incident *Incident) {
	payload, err := json.Marshal(f)
	if err != nil {
		return
	}
	meta := map[string]string{"stage": string(f.Stage)}
	if err := s.store.Append(ctx, s.generation(), eventstore.EventStageFailed, payload, meta); err != nil {
		slog.Warn("event store append failed", "error", err)
	}
	if incident == nil {
		return
	}
	incPayload, err := json.Marshal(incident)
	if err != nil {
		return
	}
	if err := s.store.Append(ctx, s.generation(), eventstore.EventIncident, incPayload, meta); err != nil {
		slog.Warn("event store append failed", "error", err)
	}
}
