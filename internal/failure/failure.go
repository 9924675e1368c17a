// Package failure defines the stage-tagged diagnostic record produced for
// every failed pipeline attempt and the pure classification helpers around it.
package failure

// Stage names the pipeline phase a failure is attributed to.
type Stage string

const (
	StageBoot            Stage = "boot"
	StageSync            Stage = "sync"
	StageInstall         Stage = "install"
	StageRuntimeStart    Stage = "runtime_start"
	StageHostProbe       Stage = "host_probe"
	StageRouteValidation Stage = "route_validation"
)

// Failure is one diagnostic record per failed attempt. It is ephemeral:
// replaced on each new attempt and cleared on success or generation reset.
type Failure struct {
	Stage                 Stage  `json:"stage"`
	Command               string `json:"command,omitempty"`
	Message               string `json:"message"`
	ExactLogLine          string `json:"exactLogLine,omitempty"`
	AutoRecoveryAttempted bool   `json:"autoRecoveryAttempted"`
	AutoRecoverySucceeded bool   `json:"autoRecoverySucceeded"`
}

// Classify maps a raw failure into a consistent diagnostic record. Pure
// function: no I/O, no retries.
func Classify(message string, stage Stage, command, exactLogLine string, autoRecoveryAttempted, autoRecoverySucceeded bool) Failure {
	return Failure{
		Stage:                 stage,
		Command:               command,
		Message:               message,
		ExactLogLine:          exactLogLine,
		AutoRecoveryAttempted: autoRecoveryAttempted,
		AutoRecoverySucceeded: autoRecoverySucceeded,
	}
}

// StageError carries a stage attribution alongside the underlying error so
// the controller can classify multi-stage operations like runtime start.
type StageError struct {
	Stage   Stage
	Command string
	LogLine string
	Err     error
}

func (e *StageError) Error() string {
	if e.Err != nil {
		return string(e.Stage) + ": " + e.Err.Error()
	}
	return string(e.Stage) + " failed"
}

func (e *StageError) Unwrap() error { return e.Err }

// NewStageError builds a StageError.
func NewStageError(stage Stage, command, logLine string, err error) *StageError {
	return &StageError{Stage: stage, Command: command, LogLine: logLine, Err: err}
}
