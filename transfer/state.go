// Package transfer drives a resumable chunked upload through its lifecycle:
// health check, configuration, ordered chunk delivery and activation.
package transfer

// State is a lifecycle state of a transfer run.
type State string

const (
	StateIdle             State = "idle"
	StateHealthChecking   State = "health_checking"
	StateConfiguring      State = "configuring"
	StateUploading        State = "uploading"
	StateAwaitingOperator State = "awaiting_operator"
	StateActivating       State = "activating"
	StateDone             State = "done"
	StateFatal            State = "fatal"
)

// Terminal reports whether no further remote calls happen from s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFatal
}

// transitions lists the legal successors of each state.
var transitions = map[State][]State{
	StateIdle:             {StateHealthChecking, StateFatal},
	StateHealthChecking:   {StateConfiguring, StateFatal},
	StateConfiguring:      {StateUploading, StateActivating, StateFatal},
	StateUploading:        {StateUploading, StateAwaitingOperator, StateActivating, StateFatal},
	StateAwaitingOperator: {StateUploading, StateFatal},
	StateActivating:       {StateDone, StateFatal},
}

// CanTransition reports whether from -> to is a legal lifecycle step.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
