package pipeline

import (
	"time"

	"git.home.luguber.info/inful/previewd/internal/failure"
)

// State is the controller's externally observable phase.
type State string

const (
	StateIdle              State = "Idle"
	StateBooting           State = "Booting"
	StateReadyNoServer     State = "ReadyNoServer"
	StateFullBuildInFlight State = "FullBuildInFlight"
	StateLive              State = "Live"
	StateHotSyncInFlight   State = "HotSyncInFlight"
	StateFailed            State = "Failed"
	StateDisabled          State = "Disabled"
)

// VerificationMetadata is an observability snapshot updated only at specific
// pipeline milestones: sandbox boot, install completion, and go-live.
type VerificationMetadata struct {
	EnvironmentVerifiedAt time.Time `json:"environmentVerifiedAt,omitempty"`
	RuntimeVersion        string    `json:"runtimeVersion,omitempty"`
	SandboxID             string    `json:"sandboxId,omitempty"`
	DependenciesLockedAt  time.Time `json:"dependenciesLockedAt,omitempty"`
	DependencyCount       int       `json:"dependencyCount"`
	LockfileHash          string    `json:"lockfileHash,omitempty"`
}

// Snapshot is a consistent copy of the controller's observable outputs.
type Snapshot struct {
	State                State
	Generation           int
	GenerationID         string
	ServerURL            string
	AttemptedFingerprint string
	SyncedFingerprint    string
	Failure              *failure.Failure
	Metadata             VerificationMetadata
}

// Ready reports whether the sandbox environment is usable for builds.
func (s Snapshot) Ready() bool {
	switch s.State {
	case StateReadyNoServer, StateFullBuildInFlight, StateLive, StateHotSyncInFlight:
		return true
	}
	return false
}

// Serving reports whether a dev server URL is currently published.
func (s Snapshot) Serving() bool { return s.ServerURL != "" }
