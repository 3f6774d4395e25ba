// Package bridge invokes remote canister methods through the dfx command line.
//
// The bridge is stateless between calls: each invocation renders its
// argument to a scratch file, runs one `dfx canister call`, and removes the
// file before returning. It never retries; recovery is the caller's concern.
package bridge

import (
	"context"
	"fmt"

	"github.com/forsetidotfun/ferry/codec"
)

// Operation is a logical remote operation.
type Operation string

const (
	// OpHealth probes the remote before anything else is sent.
	OpHealth Operation = "health"
	// OpConfigure pushes the token limits.
	OpConfigure Operation = "configure"
	// OpUploadChunk delivers one chunk.
	OpUploadChunk Operation = "upload_chunk"
	// OpActivate loads the fully delivered artifact.
	OpActivate Operation = "activate"
)

// Operations lists every operation in lifecycle order.
var Operations = []Operation{OpHealth, OpConfigure, OpUploadChunk, OpActivate}

// Valid reports whether o is a known operation.
func (o Operation) Valid() bool {
	switch o {
	case OpHealth, OpConfigure, OpUploadChunk, OpActivate:
		return true
	}
	return false
}

// Methods maps operations to remote method names.
type Methods map[Operation]string

// DefaultMethods returns the method names exposed by the llama_cpp canister.
func DefaultMethods() Methods {
	return Methods{
		OpHealth:      "health",
		OpConfigure:   "set_max_tokens",
		OpUploadChunk: "file_upload_chunk",
		OpActivate:    "load_model",
	}
}

// With returns a copy of m with non-empty overrides applied.
func (m Methods) With(overrides map[Operation]string) Methods {
	out := make(Methods, len(m))
	for op, method := range m {
		out[op] = method
	}
	for op, method := range overrides {
		if method != "" {
			out[op] = method
		}
	}
	return out
}

// Method returns the remote method name for op.
func (m Methods) Method(op Operation) (string, error) {
	if !op.Valid() {
		return "", fmt.Errorf("unknown operation %q", op)
	}
	method, ok := m[op]
	if !ok || method == "" {
		return "", fmt.Errorf("no remote method configured for %s", op)
	}
	return method, nil
}

// Reply is the textual result of a successful invocation.
type Reply struct {
	Op   Operation
	Text string
}

// Bridge invokes a remote operation and waits for its reply.
// An empty argument means the operation takes none.
type Bridge interface {
	Invoke(ctx context.Context, op Operation, arg codec.Argument) (Reply, error)
}

// Func adapts a function to the Bridge interface.
type Func func(ctx context.Context, op Operation, arg codec.Argument) (Reply, error)

// Invoke calls f.
func (f Func) Invoke(ctx context.Context, op Operation, arg codec.Argument) (Reply, error) {
	return f(ctx, op, arg)
}
