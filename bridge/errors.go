package bridge

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for transport failure classification.
// Use errors.Is(err, ErrXxx) for typed assertions.
var (
	// ErrAuth indicates a missing, locked or expired identity.
	ErrAuth = errors.New("identity rejected")

	// ErrNetwork indicates the replica could not be reached.
	ErrNetwork = errors.New("network error")

	// ErrThrottled indicates the replica is rate limiting or out of cycles.
	ErrThrottled = errors.New("throttled")

	// ErrRejected indicates the canister rejected or trapped on the call,
	// or replied with an Err variant.
	ErrRejected = errors.New("call rejected")

	// ErrNotFound indicates the canister or method does not exist.
	ErrNotFound = errors.New("not found")

	// ErrSpawn indicates the dfx process could not be started.
	ErrSpawn = errors.New("cannot start dfx")

	// ErrUnknown is used for failures that match no other class.
	ErrUnknown = errors.New("transport failure")
)

// TransportFailure describes a failed remote invocation.
// It carries the raw diagnostic text so it can be shown to the operator.
type TransportFailure struct {
	// Op is the logical operation that failed.
	Op Operation
	// Method is the remote method that was called.
	Method string
	// ExitCode is the dfx exit code, or -1 when the process did not exit normally.
	ExitCode int
	// Kind is the sentinel error for classification (e.g., ErrNetwork).
	Kind error
	// Diagnostic is the raw stderr (or reply) text.
	Diagnostic string
	// Err is the underlying error, if any.
	Err error
}

func (e *TransportFailure) Error() string {
	diag := strings.TrimSpace(e.Diagnostic)
	if diag == "" && e.Err != nil {
		diag = e.Err.Error()
	}
	if diag == "" {
		return fmt.Sprintf("%s (%s): %v: exit code %d", e.Op, e.Method, e.Kind, e.ExitCode)
	}
	return fmt.Sprintf("%s (%s): %v: %s", e.Op, e.Method, e.Kind, diag)
}

// Unwrap returns the underlying error for errors.Is/As chain traversal.
func (e *TransportFailure) Unwrap() error {
	return e.Err
}

// Is reports whether the failure matches the target sentinel.
func (e *TransportFailure) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

// AsTransportFailure extracts a *TransportFailure from err's chain.
func AsTransportFailure(err error) (*TransportFailure, bool) {
	var tf *TransportFailure
	if errors.As(err, &tf) {
		return tf, true
	}
	return nil, false
}

// Classify determines the sentinel error for a dfx diagnostic.
// Classification is based on message patterns.
func Classify(diagnostic string) error {
	switch {
	// A trap carries the canister's own message, which may mention anything.
	case containsAny(diagnostic, "trapped", "panicked"):
		return ErrRejected

	case containsAny(diagnostic, "identity", "password", "pem file", "delegation", "expired", "unauthorized"):
		return ErrAuth

	case containsAny(diagnostic, "connection refused", "could not reach", "failed to connect",
		"no route to host", "network unreachable", "dns error", "timed out", "timeout",
		"is the replica running", "error sending request"):
		return ErrNetwork

	case containsAny(diagnostic, "out of cycles", "rate limit", "too many requests", "429",
		"queue full", "canister is busy"):
		return ErrThrottled

	case containsAny(diagnostic, "cannot find canister", "canister not found", "destinationinvalid",
		"has no query method", "has no update method", "method does not exist", "not installed"):
		return ErrNotFound

	case containsAny(diagnostic, "reject code", "rejected", "variant { err"):
		return ErrRejected

	case containsAny(diagnostic, "not found"):
		return ErrNotFound

	default:
		return ErrUnknown
	}
}

// containsAny checks if s contains any of the substrings (case-insensitive).
func containsAny(s string, substrs ...string) bool {
	lower := strings.ToLower(s)
	for _, sub := range substrs {
		if strings.Contains(lower, strings.ToLower(sub)) {
			return true
		}
	}
	return false
}
