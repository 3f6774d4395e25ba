package transfer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/forsetidotfun/ferry/bridge"
)

var testFailure = &bridge.TransportFailure{
	Op:         bridge.OpUploadChunk,
	Kind:       bridge.ErrAuth,
	Diagnostic: "Error: delegation expired",
}

// pressEnter writes newlines to w until errCh yields. Lines typed before the
// prompt are drained, so a single write could be discarded.
func pressEnter(t *testing.T, w io.Writer, errCh <-chan error) error {
	t.Helper()
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			select {
			case <-stop:
				return
			case <-time.After(10 * time.Millisecond):
				if _, err := w.Write([]byte("\n")); err != nil {
					return
				}
			}
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("Await did not return after Enter")
		return nil
	}
}

func TestPromptRecovery_Enter(t *testing.T) {
	pr, pw := io.Pipe()
	defer pr.Close()
	var out bytes.Buffer
	r := NewPromptRecovery(pr, &out)

	errCh := make(chan error, 1)
	go func() { errCh <- r.Await(t.Context(), testFailure) }()

	if err := pressEnter(t, pw, errCh); err != nil {
		t.Fatalf("Await: %v", err)
	}
	if !strings.Contains(out.String(), "delegation expired") {
		t.Errorf("prompt missing diagnostic: %q", out.String())
	}
}

func TestPromptRecovery_EOF(t *testing.T) {
	r := NewPromptRecovery(strings.NewReader(""), io.Discard)
	if err := r.Await(t.Context(), testFailure); !errors.Is(err, ErrRecoveryClosed) {
		t.Errorf("expected ErrRecoveryClosed, got %v", err)
	}
}

func TestPromptRecovery_ContextCanceled(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	r := NewPromptRecovery(pr, io.Discard)

	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()
	if err := r.Await(ctx, testFailure); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}
}

func TestPromptRecovery_Reusable(t *testing.T) {
	pr, pw := io.Pipe()
	defer pr.Close()
	r := NewPromptRecovery(pr, io.Discard)

	for i := range 2 {
		errCh := make(chan error, 1)
		go func() { errCh <- r.Await(t.Context(), testFailure) }()
		if err := pressEnter(t, pw, errCh); err != nil {
			t.Fatalf("wait %d: %v", i, err)
		}
	}
}

func TestFileRecovery_Trigger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signals", "retry")
	var out bytes.Buffer
	r := NewFileRecovery(path, &out)

	// A trigger left over from an earlier failure must not count.
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- r.Await(t.Context(), testFailure) }()

	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case err := <-errCh:
			if err != nil {
				t.Fatalf("Await: %v", err)
			}
			if _, err := os.Stat(path); !os.IsNotExist(err) {
				t.Error("trigger file not consumed")
			}
			if !strings.Contains(out.String(), path) {
				t.Errorf("instructions missing trigger path: %q", out.String())
			}
			return
		case <-tick.C:
			// Keep touching until the watcher is up and sees it.
			_ = os.WriteFile(path, []byte("go"), 0o644)
		case <-deadline:
			t.Fatal("Await did not return after trigger")
		}
	}
}

func TestFileRecovery_ContextCanceled(t *testing.T) {
	r := NewFileRecovery(filepath.Join(t.TempDir(), "retry"), nil)
	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()
	if err := r.Await(ctx, testFailure); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}
}
