// Package sandbox talks to the remote ephemeral-execution provider. Every
// remote call goes through Client, which wraps a Transport with per-action
// timeout and retry budgets.
package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Action names one provider RPC.
type Action string

const (
	ActionCreate     Action = "create"
	ActionMakeDir    Action = "makeDir"
	ActionWriteFile  Action = "writeFile"
	ActionReadFile   Action = "readFile"
	ActionRunCommand Action = "runCommand"
	ActionGetHost    Action = "getHost"
	ActionKill       Action = "kill"
)

// Transport performs one raw RPC against the provider. Implementations map
// provider failures to *APIError and network-level failures to *TransportError.
type Transport interface {
	Do(ctx context.Context, action Action, params any) (json.RawMessage, error)
}

// APIError is a non-2xx provider response.
type APIError struct {
	Message    string        `json:"message"`
	Status     int           `json:"status"`
	Code       string        `json:"code"`
	RetryAfter time.Duration `json:"-"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("sandbox api error (status=%d code=%s): %s", e.Status, e.Code, e.Message)
}

// TransportError is a network or timeout failure at the request layer.
type TransportError struct {
	Action Action
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("sandbox transport error (%s): %v", e.Action, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Handle owns the identity of one remote environment. Created by boot,
// replaced by recreate, invalidated by kill.
type Handle struct {
	ID             string
	AccessToken    string
	RuntimeVersion string
	Ready          bool
}

// Request/response payloads, one per action.

type CreateParams struct {
	Runtime string `json:"runtime"`
}

type CreateResult struct {
	SandboxID      string `json:"sandboxId"`
	AccessToken    string `json:"accessToken"`
	RuntimeVersion string `json:"runtimeVersion"`
}

type MakeDirParams struct {
	SandboxID string `json:"sandboxId"`
	Path      string `json:"path"`
}

type WriteFileParams struct {
	SandboxID string `json:"sandboxId"`
	Path      string `json:"path"`
	Content   string `json:"content"`
}

type ReadFileParams struct {
	SandboxID string `json:"sandboxId"`
	Path      string `json:"path"`
}

type ReadFileResult struct {
	Content string `json:"content"`
}

type RunCommandParams struct {
	SandboxID string `json:"sandboxId"`
	Command   string `json:"command"`
	TimeoutMs int    `json:"timeoutMs"`
}

// CommandResult is the outcome of a completed command execution.
type CommandResult struct {
	ExitCode int    `json:"exitCode"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

// Combined returns stdout and stderr joined for signature scanning.
func (r *CommandResult) Combined() string {
	if r == nil {
		return ""
	}
	return strings.TrimSpace(r.Stdout + "\n" + r.Stderr)
}

type GetHostParams struct {
	SandboxID string `json:"sandboxId"`
	Port      int    `json:"port"`
}

type GetHostResult struct {
	Host string `json:"host"`
}

type KillParams struct {
	SandboxID string `json:"sandboxId"`
}
