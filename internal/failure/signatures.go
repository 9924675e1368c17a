package failure

import "strings"

// Signature lists are matched case-insensitively as substrings. They are
// provider-specific policy, so callers may swap them per target sandbox.

// OwnershipConflictSignatures indicate another session has claimed the same
// sandbox resource; the controller treats these as auto-recoverable once per
// generation.
var OwnershipConflictSignatures = []string{
	"already owned",
	"owned by another",
	"ownership conflict",
	"claimed by another session",
}

// TransientRouteSignatures look like slow warm-up rather than broken code;
// route validation retries on these and soft-accepts when retries exhaust.
var TransientRouteSignatures = []string{
	"timeout",
	"timed out",
	"abort",
	"econnrefused",
	"connection refused",
	"socket hang up",
	"empty body",
	"fetch failed",
}

// FatalRouteSignatures indicate genuine compiler or runtime errors in the
// served application; route validation fails immediately on these.
var FatalRouteSignatures = []string{
	"module not found",
	"cannot find module",
	"syntaxerror",
	"typeerror",
	"referenceerror",
	"failed to compile",
}

// matchAny reports whether msg contains any of the signatures, ignoring case.
func matchAny(msg string, signatures []string) bool {
	lower := strings.ToLower(msg)
	for _, s := range signatures {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// IsOwnershipConflict reports whether msg matches an ownership-conflict signature.
func IsOwnershipConflict(msg string) bool {
	return matchAny(msg, OwnershipConflictSignatures)
}

// IsTransientRoute reports whether a route-validation failure looks transient.
func IsTransientRoute(msg string) bool {
	return matchAny(msg, TransientRouteSignatures)
}

// IsFatalRoute reports whether a route-validation failure is a code error.
func IsFatalRoute(msg string) bool {
	return matchAny(msg, FatalRouteSignatures)
}
