package transfer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/forsetidotfun/ferry/bridge"
	"github.com/forsetidotfun/ferry/iox"
)

// ErrRecoveryClosed indicates the recovery signal source ended (e.g. stdin EOF).
var ErrRecoveryClosed = errors.New("recovery source closed")

// Recovery blocks after a failed chunk delivery until an operator signals
// that the cause has been fixed. Returning nil retries the same chunk;
// returning an error aborts the run with progress intact.
type Recovery interface {
	Await(ctx context.Context, failure *bridge.TransportFailure) error
}

// RecoveryFunc adapts a function to the Recovery interface.
type RecoveryFunc func(ctx context.Context, failure *bridge.TransportFailure) error

// Await calls f.
func (f RecoveryFunc) Await(ctx context.Context, failure *bridge.TransportFailure) error {
	return f(ctx, failure)
}

// Immediate retries at once. Useful in tests.
var Immediate = RecoveryFunc(func(context.Context, *bridge.TransportFailure) error { return nil })

// PromptRecovery waits for a line on an input stream (normally stdin).
type PromptRecovery struct {
	in  io.Reader
	out io.Writer

	once  sync.Once
	lines chan struct{}
	done  chan struct{}
	err   error
}

// NewPromptRecovery prompts on out and reads acknowledgements from in.
func NewPromptRecovery(in io.Reader, out io.Writer) *PromptRecovery {
	return &PromptRecovery{
		in:    in,
		out:   out,
		lines: make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// The reader goroutine outlives individual waits so a blocked read is never
// abandoned with a line in flight.
func (p *PromptRecovery) start() {
	go func() {
		sc := bufio.NewScanner(p.in)
		for sc.Scan() {
			p.lines <- struct{}{}
		}
		p.err = sc.Err()
		close(p.done)
	}()
}

// Await prints the failure and waits for the operator to press Enter.
func (p *PromptRecovery) Await(ctx context.Context, failure *bridge.TransportFailure) error {
	p.once.Do(p.start)

	// Lines typed before the failure are not acknowledgements of it.
	for drained := false; !drained; {
		select {
		case <-p.lines:
		default:
			drained = true
		}
	}

	_, _ = fmt.Fprintf(p.out, "\n%s failed:\n%s\n\nFix the problem (for example renew the dfx identity session), then press Enter to retry.\n",
		failure.Op, failure.Diagnostic)

	select {
	case <-p.lines:
		return nil
	case <-p.done:
		if p.err != nil {
			return fmt.Errorf("%w: %w", ErrRecoveryClosed, p.err)
		}
		return ErrRecoveryClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FileRecovery waits for a trigger file to appear, then removes it.
// A trigger already present when the wait starts is stale and removed first.
type FileRecovery struct {
	path string
	out  io.Writer
}

// NewFileRecovery watches path. Instructions are written to out when non-nil.
func NewFileRecovery(path string, out io.Writer) *FileRecovery {
	return &FileRecovery{path: filepath.Clean(path), out: out}
}

// Path returns the trigger file path.
func (f *FileRecovery) Path() string { return f.path }

// Await blocks until the trigger file is created or written.
func (f *FileRecovery) Await(ctx context.Context, failure *bridge.TransportFailure) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create trigger directory: %w", err)
	}
	if err := iox.RemoveIfExists(f.path); err != nil {
		return fmt.Errorf("remove stale trigger: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer iox.DiscardClose(w)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	if f.out != nil {
		_, _ = fmt.Fprintf(f.out, "\n%s failed:\n%s\n\nFix the problem, then create %s to retry.\n",
			failure.Op, failure.Diagnostic, f.path)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return ErrRecoveryClosed
			}
			if filepath.Clean(ev.Name) != f.path || ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if err := iox.RemoveIfExists(f.path); err != nil {
				return fmt.Errorf("consume trigger: %w", err)
			}
			return nil
		case err, ok := <-w.Errors:
			if !ok {
				return ErrRecoveryClosed
			}
			return fmt.Errorf("watch trigger: %w", err)
		}
	}
}
