// Package types defines core domain types for ferry.
//
//nolint:revive // types is a common Go package naming convention
package types

import "errors"

// RunMeta identifies a single invocation of the uploader.
// A resumed transfer gets a new RunMeta; the session key ties runs together.
type RunMeta struct {
	// RunID is the invocation identifier. Must be non-empty.
	RunID string
	// SessionKey is the progress key of the transfer this run drives.
	SessionKey string
}

// Validate checks that the run identity is usable for logging and events.
func (r *RunMeta) Validate() error {
	if r.RunID == "" {
		return errors.New("run_id must be non-empty")
	}
	return nil
}

// OutcomeStatus represents the final status of a run.
type OutcomeStatus string

const (
	// OutcomeDone indicates every chunk was acknowledged and the artifact was activated.
	OutcomeDone OutcomeStatus = "done"
	// OutcomeHealthFailed indicates the remote failed its health check.
	OutcomeHealthFailed OutcomeStatus = "health_failed"
	// OutcomeConfigFailed indicates the parameter push was rejected.
	OutcomeConfigFailed OutcomeStatus = "config_failed"
	// OutcomeActivationFailed indicates a fully uploaded artifact could not be activated.
	OutcomeActivationFailed OutcomeStatus = "activation_failed"
	// OutcomeInterrupted indicates the run stopped before completion with progress preserved.
	OutcomeInterrupted OutcomeStatus = "interrupted"
	// OutcomeProgressFailed indicates the progress store could not be read or written.
	OutcomeProgressFailed OutcomeStatus = "progress_failed"
	// OutcomeInvalidInput indicates the run never started because its input was unusable.
	OutcomeInvalidInput OutcomeStatus = "invalid_input"
)

// RunOutcome represents the final outcome of a run.
type RunOutcome struct {
	// Status is the outcome classification.
	Status OutcomeStatus
	// Message is a human-readable description.
	Message string
	// Operation is the remote operation that failed, if any.
	Operation string
	// Diagnostic is the raw diagnostic text returned by the bridge, if any.
	Diagnostic string
}
