package install

import (
	"context"
	goerrors "errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/previewd/internal/errors"
	"git.home.luguber.info/inful/previewd/internal/sandbox"
)

func TestIsDependencyConflict(t *testing.T) {
	assert.True(t, IsDependencyConflict("npm ERR! code ERESOLVE\nnpm ERR! Could not resolve dependency: peer react@18"))
	assert.True(t, IsDependencyConflict("Conflicting PEER DEPENDENCY: react@17.0.2"))
	assert.False(t, IsDependencyConflict("npm ERR! network request to https://registry.npmjs.org failed: timeout"))
	assert.False(t, IsDependencyConflict(""))
}

func TestNextCommandEscalation(t *testing.T) {
	conflict := "npm ERR! ERESOLVE unable to resolve dependency tree"

	assert.Equal(t, Variants[1], NextCommand(Variants[0], conflict), "base escalates to relaxed")
	assert.Equal(t, Variants[2], NextCommand(Variants[1], conflict), "relaxed escalates to forced")
	assert.Equal(t, "", NextCommand(Variants[2], conflict), "forced has no further escalation")
	assert.Equal(t, "", NextCommand(Variants[0], "npm ERR! network timeout"), "non-conflict never escalates")
	assert.Equal(t, "", NextCommand("yarn install", conflict), "unknown command never escalates")
}

// scriptedRunner returns queued command results.
type scriptedRunner struct {
	results  []*sandbox.CommandResult
	commands []string
}

func (s *scriptedRunner) RunCommand(_ context.Context, _ *sandbox.Handle, command string, _ time.Duration) (*sandbox.CommandResult, error) {
	s.commands = append(s.commands, command)
	res := s.results[0]
	s.results = s.results[1:]
	return res, nil
}

func TestInstallSucceedsOnThirdVariant(t *testing.T) {
	runner := &scriptedRunner{results: []*sandbox.CommandResult{
		{ExitCode: 1, Stderr: "npm ERR! ERESOLVE could not resolve dependency"},
		{ExitCode: 1, Stderr: "npm ERR! conflicting peer dependency react@17"},
		{ExitCode: 0, Stdout: "added 420 packages"},
	}}
	o := NewOrchestrator(runner, time.Minute)

	res, err := o.Install(context.Background(), &sandbox.Handle{ID: "sbx"})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, Variants, runner.commands, "attempts follow the ladder in order")
	assert.Equal(t, Variants[2], res.Command)
}

func TestInstallFailsWithoutConflictSignature(t *testing.T) {
	runner := &scriptedRunner{results: []*sandbox.CommandResult{
		{ExitCode: 1, Stderr: "npm ERR! network request failed: ETIMEDOUT"},
	}}
	o := NewOrchestrator(runner, time.Minute)

	_, err := o.Install(context.Background(), &sandbox.Handle{ID: "sbx"})
	require.Error(t, err)
	assert.Len(t, runner.commands, 1, "non-conflict failures do not escalate")
}

func TestInstallFailureCarriesDiagnostic(t *testing.T) {
	diag := "npm ERR! 404 Not Found - GET https://registry.npmjs.org/preview-widgets"
	runner := &scriptedRunner{results: []*sandbox.CommandResult{
		{ExitCode: 1, Stderr: diag},
	}}
	o := NewOrchestrator(runner, time.Minute)

	_, err := o.Install(context.Background(), &sandbox.Handle{ID: "sbx"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), diag, "the captured npm output must survive into the error message")

	var pe *errors.PreviewError
	require.True(t, goerrors.As(err, &pe))
	assert.Equal(t, diag, pe.Context["diagnostic"])
	assert.Equal(t, 1, pe.Context["exit_code"])
}

func TestInstallFailureDiagnosticIsTruncated(t *testing.T) {
	long := strings.Repeat("npm ERR! ", 100)
	runner := &scriptedRunner{results: []*sandbox.CommandResult{
		{ExitCode: 1, Stderr: long},
	}}
	o := NewOrchestrator(runner, time.Minute)

	_, err := o.Install(context.Background(), &sandbox.Handle{ID: "sbx"})
	require.Error(t, err)

	var pe *errors.PreviewError
	require.True(t, goerrors.As(err, &pe))
	diag, ok := pe.Context["diagnostic"].(string)
	require.True(t, ok)
	assert.Len(t, []byte(diag), maxDiagnosticLen+len("…"))
}

func TestInstallLadderExhaustion(t *testing.T) {
	conflict := &sandbox.CommandResult{ExitCode: 1, Stderr: "npm ERR! ERESOLVE peer dep conflict"}
	runner := &scriptedRunner{results: []*sandbox.CommandResult{conflict, conflict, conflict}}
	o := NewOrchestrator(runner, time.Minute)

	_, err := o.Install(context.Background(), &sandbox.Handle{ID: "sbx"})
	require.Error(t, err)
	assert.Len(t, runner.commands, 3, "escalation is bounded by the ladder length")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 300))
	long := make([]byte, 400)
	for i := range long {
		long[i] = 'x'
	}
	out := Truncate(string(long), 300)
	assert.Len(t, []byte(out), 300+len("…"))
}
