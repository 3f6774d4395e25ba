package progress

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"
)

// Ack describes one acknowledged chunk.
type Ack struct {
	Index   int       `msgpack:"index" json:"index" yaml:"index"`
	Offset  int64     `msgpack:"offset" json:"offset" yaml:"offset"`
	Length  int64     `msgpack:"length" json:"length" yaml:"length"`
	Digest  string    `msgpack:"digest" json:"digest" yaml:"digest"`
	AckedAt time.Time `msgpack:"acked_at" json:"acked_at" yaml:"acked_at"`
}

// Store persists the last acknowledged chunk index per session.
//
// Record must only be called after the remote confirmed delivery of that
// exact chunk. Recorded indexes never regress: recording an index lower than
// the current one fails with ErrRegression, recording the current one again
// is a no-op.
type Store interface {
	// Load returns the last acknowledged index; ok is false when no record exists.
	Load(ctx context.Context, key Key) (index int, ok bool, err error)
	// Record persists ack as the last acknowledged chunk.
	Record(ctx context.Context, key Key, ack Ack) error
	// Clear removes the record. Clearing a missing record is not an error.
	Clear(ctx context.Context, key Key) error
	// Keys lists every session with a record.
	Keys(ctx context.Context) ([]Key, error)
}

// Sentinel errors for store failure classification.
var (
	// ErrCorruptRecord indicates a record that cannot be decoded.
	ErrCorruptRecord = errors.New("corrupt progress record")

	// ErrNotFound indicates the backing location does not exist.
	ErrNotFound = errors.New("not found")

	// ErrPermissionDenied indicates the backing location is not accessible.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrRegression indicates an attempt to move the record backwards.
	ErrRegression = errors.New("acknowledged index would regress")

	// ErrInvalidKey indicates a malformed session key.
	ErrInvalidKey = errors.New("invalid session key")

	errStore = errors.New("storage error")
)

// StoreError wraps an underlying error with classification.
type StoreError struct {
	// Kind is the sentinel error for classification (e.g., ErrCorruptRecord).
	Kind error
	// Op is the operation that failed (load, record, clear, keys).
	Op string
	// Key is the session involved, if any.
	Key Key
	// Err is the underlying error.
	Err error
}

func (e *StoreError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("progress %s %s: %v: %v", e.Op, e.Key, e.Kind, e.Err)
	}
	return fmt.Sprintf("progress %s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As chain traversal.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is reports whether the error matches the target sentinel.
func (e *StoreError) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

func wrapError(op string, key Key, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Kind: classifyError(err), Op: op, Key: key, Err: err}
}

func classifyError(err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return ErrNotFound
	case errors.Is(err, fs.ErrPermission):
		return ErrPermissionDenied
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "nosuchkey"), strings.Contains(msg, "nosuchbucket"),
		strings.Contains(msg, "not found"), strings.Contains(msg, "404"):
		return ErrNotFound
	case strings.Contains(msg, "accessdenied"), strings.Contains(msg, "forbidden"),
		strings.Contains(msg, "permission denied"), strings.Contains(msg, "403"):
		return ErrPermissionDenied
	default:
		return errStore
	}
}

func checkAck(key Key, ack Ack) error {
	if !key.Valid() {
		return &StoreError{Kind: ErrInvalidKey, Op: "record", Key: key, Err: fmt.Errorf("%q", key)}
	}
	if ack.Index < 1 {
		return &StoreError{Kind: ErrRegression, Op: "record", Key: key, Err: fmt.Errorf("index %d is not positive", ack.Index)}
	}
	return nil
}

func checkKey(op string, key Key) error {
	if !key.Valid() {
		return &StoreError{Kind: ErrInvalidKey, Op: op, Key: key, Err: fmt.Errorf("%q", key)}
	}
	return nil
}
