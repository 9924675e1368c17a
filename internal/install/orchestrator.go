// Package install runs the dependency install command and escalates through
// a fixed ladder of variants when resolution conflicts are detected.
package install

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"git.home.luguber.info/inful/previewd/internal/errors"
	"git.home.luguber.info/inful/previewd/internal/logfields"
	"git.home.luguber.info/inful/previewd/internal/observability"
	"git.home.luguber.info/inful/previewd/internal/sandbox"
)

// Variants is the ordered, fixed escalation ladder: base, relaxed peer
// resolution, forced. Escalation is strictly linear and terminates after the
// last variant.
var Variants = []string{
	"npm install",
	"npm install --legacy-peer-deps",
	"npm install --force",
}

// conflictSignatures indicate unresolved or conflicting peer dependencies,
// matched case-insensitively against combined stdout+stderr.
var conflictSignatures = []string{
	"eresolve",
	"peer dep",
	"peer dependency",
	"conflicting peer",
	"could not resolve dependency",
	"unable to resolve dependency tree",
}

// maxDiagnosticLen truncates captured install output in failure records.
const maxDiagnosticLen = 300

// IsDependencyConflict reports whether install output looks like a
// dependency-resolution failure rather than e.g. a network error.
func IsDependencyConflict(output string) bool {
	lower := strings.ToLower(output)
	for _, s := range conflictSignatures {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// NextCommand returns the next ladder variant after current, or "" when no
// escalation applies: the output is not a dependency conflict, the current
// command is not on the ladder, or the ladder is exhausted.
func NextCommand(current, output string) string {
	if !IsDependencyConflict(output) {
		return ""
	}
	for i, v := range Variants {
		if v == current && i+1 < len(Variants) {
			return Variants[i+1]
		}
	}
	return ""
}

// Runner is the slice of the sandbox client the orchestrator needs.
type Runner interface {
	RunCommand(ctx context.Context, h *sandbox.Handle, command string, requested time.Duration) (*sandbox.CommandResult, error)
}

// Result reports a successful install.
type Result struct {
	Command  string // the variant that succeeded
	Attempts int    // total commands run, including the successful one
	Output   string // combined output of the successful run
}

// Orchestrator escalates the install command over the fixed ladder.
type Orchestrator struct {
	runner  Runner
	timeout time.Duration
}

// NewOrchestrator builds an install orchestrator. timeout is the requested
// duration per install run; the request layer clamps the resulting budget.
func NewOrchestrator(runner Runner, timeout time.Duration) *Orchestrator {
	return &Orchestrator{runner: runner, timeout: timeout}
}

// Install runs the ladder starting at the base variant. A non-zero exit with
// a conflict signature escalates; anything else fails the install stage with
// the truncated diagnostic.
func (o *Orchestrator) Install(ctx context.Context, h *sandbox.Handle) (*Result, error) {
	command := Variants[0]
	attempts := 0
	for {
		attempts++
		observability.InfoContext(ctx, "running dependency install",
			logfields.Command(command), logfields.Attempt(attempts))

		res, err := o.runner.RunCommand(ctx, h, command, o.timeout)
		if err != nil {
			return nil, errors.InstallError(command, err)
		}
		if res.ExitCode == 0 {
			return &Result{Command: command, Attempts: attempts, Output: res.Combined()}, nil
		}

		output := res.Combined()
		next := NextCommand(command, output)
		if next == "" {
			diag := Truncate(output, maxDiagnosticLen)
			return nil, errors.InstallError(command, fmt.Errorf("%s exited with code %d: %s", command, res.ExitCode, diag)).
				WithContext("exit_code", res.ExitCode).
				WithContext("diagnostic", diag)
		}
		observability.WarnContext(ctx, "dependency conflict detected, escalating install",
			slog.String("from", command), slog.String("to", next))
		command = next
	}
}

// Truncate clips s to at most n bytes, marking the cut.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
