// Package logfields defines canonical log field name constants to avoid
// drift across packages.
package logfields

import "log/slog"

const (
	KeySandboxID   = "sandbox_id"
	KeyGeneration  = "generation"
	KeyStage       = "stage"
	KeyCommand     = "command"
	KeyFingerprint = "fingerprint"
	KeyFramework   = "framework"
	KeyAttempt     = "attempt"
	KeyDurationMS  = "duration_ms"
	KeyPath        = "path"
	KeyURL         = "url"
	KeyError       = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func SandboxID(id string) slog.Attr    { return slog.String(KeySandboxID, id) }
func Generation(g string) slog.Attr    { return slog.String(KeyGeneration, g) }
func Stage(name string) slog.Attr      { return slog.String(KeyStage, name) }
func Command(c string) slog.Attr       { return slog.String(KeyCommand, c) }
func Fingerprint(fp string) slog.Attr  { return slog.String(KeyFingerprint, fp) }
func Framework(f string) slog.Attr     { return slog.String(KeyFramework, f) }
func Attempt(n int) slog.Attr          { return slog.Int(KeyAttempt, n) }
func DurationMS(ms float64) slog.Attr  { return slog.Float64(KeyDurationMS, ms) }
func Path(p string) slog.Attr          { return slog.String(KeyPath, p) }
func URL(u string) slog.Attr           { return slog.String(KeyURL, u) }
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
