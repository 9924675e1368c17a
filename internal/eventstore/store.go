// Package eventstore persists pipeline lifecycle events and incident records
// in an append-only log keyed by generation.
package eventstore

import (
	"context"
	"time"
)

// Store defines the interface for persisting and retrieving events.
type Store interface {
	// Append adds a new event to the store.
	Append(ctx context.Context, generationID, eventType string, payload []byte, metadata map[string]string) error

	// GetByGeneration retrieves all events for a specific generation.
	GetByGeneration(ctx context.Context, generationID string) ([]Event, error)

	// GetRange retrieves events within a time range.
	GetRange(ctx context.Context, start, end time.Time) ([]Event, error)

	// Close closes the store and releases resources.
	Close() error
}

// Event represents one persisted pipeline event.
type Event interface {
	ID() int64
	GenerationID() string
	Type() string
	Timestamp() time.Time
	Payload() []byte
	Metadata() map[string]string
}

// BaseEvent provides the default Event implementation.
type BaseEvent struct {
	EventID           int64
	EventGenerationID string
	EventType         string
	EventTimestamp    time.Time
	EventPayload      []byte
	EventMetadata     map[string]string
}

func (e *BaseEvent) ID() int64                   { return e.EventID }
func (e *BaseEvent) GenerationID() string        { return e.EventGenerationID }
func (e *BaseEvent) Type() string                { return e.EventType }
func (e *BaseEvent) Timestamp() time.Time        { return e.EventTimestamp }
func (e *BaseEvent) Payload() []byte             { return e.EventPayload }
func (e *BaseEvent) Metadata() map[string]string { return e.EventMetadata }

// Event type names appended by the pipeline.
const (
	EventSandboxBooted     = "SandboxBooted"
	EventFullBuildStarted  = "FullBuildStarted"
	EventFullBuildLive     = "FullBuildLive"
	EventHotSyncApplied    = "HotSyncApplied"
	EventStageFailed       = "StageFailed"
	EventAutoRecovery      = "AutoRecoveryAttempted"
	EventIncident          = "Incident"
	EventGenerationStarted = "GenerationStarted"
	EventLog               = "Log"
	EventCommand           = "Command"
)
