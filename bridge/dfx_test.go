package bridge

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/forsetidotfun/ferry/codec"
	"github.com/forsetidotfun/ferry/types"
)

var testEndpoint = types.RemoteEndpoint{Canister: "llama_cpp_canister", Network: "local"}

// recordingRunner captures each command and the argument file content seen during the call.
type recordingRunner struct {
	calls    []Command
	argTexts []string
	result   *RunResult
	err      error
}

func (r *recordingRunner) Run(_ context.Context, cmd Command) (*RunResult, error) {
	r.calls = append(r.calls, cmd)
	text := ""
	for i, a := range cmd.Args {
		if a == "--argument-file" && i+1 < len(cmd.Args) {
			data, err := os.ReadFile(cmd.Args[i+1])
			if err != nil {
				return nil, err
			}
			text = string(data)
		}
	}
	r.argTexts = append(r.argTexts, text)
	if r.err != nil {
		return nil, r.err
	}
	if r.result != nil {
		return r.result, nil
	}
	return &RunResult{Stdout: []byte("(variant { Ok })\n")}, nil
}

func newTestBridge(t *testing.T, runner Runner) (*DfxBridge, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "args")
	b, err := NewDfxBridge(DfxConfig{
		Endpoint:    testEndpoint,
		ArgumentDir: dir,
		Runner:      runner,
	})
	if err != nil {
		t.Fatalf("NewDfxBridge: %v", err)
	}
	return b, dir
}

func TestNewDfxBridge_Validation(t *testing.T) {
	if _, err := NewDfxBridge(DfxConfig{ArgumentDir: t.TempDir()}); err == nil {
		t.Error("expected error for missing endpoint")
	}
	if _, err := NewDfxBridge(DfxConfig{Endpoint: testEndpoint}); err == nil {
		t.Error("expected error for missing argument directory")
	}
	_, err := NewDfxBridge(DfxConfig{
		Endpoint:    testEndpoint,
		ArgumentDir: t.TempDir(),
		Methods:     Methods{OpHealth: "health"},
	})
	if err == nil {
		t.Error("expected error for incomplete method table")
	}
}

func TestInvoke_HealthHasNoArgument(t *testing.T) {
	runner := &recordingRunner{}
	b, _ := newTestBridge(t, runner)

	reply, err := b.Invoke(t.Context(), OpHealth, codec.Argument{})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if reply.Text != "(variant { Ok })" {
		t.Errorf("reply = %q", reply.Text)
	}

	want := "dfx canister call llama_cpp_canister health --network local"
	if got := runner.calls[0].String(); got != want {
		t.Errorf("command = %q, want %q", got, want)
	}
}

func TestInvoke_ArgumentFileLifecycle(t *testing.T) {
	runner := &recordingRunner{}
	b, dir := newTestBridge(t, runner)

	arg, err := codec.EncodeActivationArgument("model.gguf")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.Invoke(t.Context(), OpActivate, arg); err != nil {
		t.Fatalf("Invoke: %v", err)
	}

	cmd := runner.calls[0]
	if cmd.Args[3] != "load_model" {
		t.Errorf("method = %q, want load_model", cmd.Args[3])
	}
	if runner.argTexts[0] != arg.String() {
		t.Errorf("argument file = %q, want %q", runner.argTexts[0], arg.String())
	}
	if cmd.Args[len(cmd.Args)-2] != "--network" || cmd.Args[len(cmd.Args)-1] != "local" {
		t.Errorf("network flag missing: %v", cmd.Args)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("argument file not removed, found %d entries", len(entries))
	}
}

func TestInvoke_RemovesArgumentFileOnFailure(t *testing.T) {
	runner := &recordingRunner{result: &RunResult{ExitCode: 255, Stderr: []byte("Error: connection refused")}}
	b, dir := newTestBridge(t, runner)

	arg, _ := codec.EncodeConfigArgument(types.TokenLimits{MaxTokensQuery: 3, MaxTokensUpdate: 3})
	_, err := b.Invoke(t.Context(), OpConfigure, arg)

	tf, ok := AsTransportFailure(err)
	if !ok {
		t.Fatalf("expected TransportFailure, got %v", err)
	}
	if tf.ExitCode != 255 || tf.Method != "set_max_tokens" || tf.Op != OpConfigure {
		t.Errorf("unexpected failure: %+v", tf)
	}
	if !errors.Is(err, ErrNetwork) {
		t.Errorf("expected ErrNetwork, got %v", tf.Kind)
	}
	if !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("diagnostic missing from %q", err.Error())
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("argument file not removed after failure")
	}
}

func TestInvoke_ErrVariantIsRejected(t *testing.T) {
	runner := &recordingRunner{result: &RunResult{Stdout: []byte("(\n  variant {\n    Err = \"Chunk offset mismatch\"\n  },\n)\n")}}
	b, _ := newTestBridge(t, runner)

	arg, _ := codec.EncodeChunkArgument(types.Chunk{Index: 1, Payload: []byte{1}}, "m", 1)
	_, err := b.Invoke(t.Context(), OpUploadChunk, arg)
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
	tf, _ := AsTransportFailure(err)
	if !strings.Contains(tf.Diagnostic, "Chunk offset mismatch") {
		t.Errorf("diagnostic = %q", tf.Diagnostic)
	}
}

func TestInvoke_SpawnFailure(t *testing.T) {
	runner := &recordingRunner{err: errors.New("exec: \"dfx\": executable file not found in $PATH")}
	b, _ := newTestBridge(t, runner)

	_, err := b.Invoke(t.Context(), OpHealth, codec.Argument{})
	if !errors.Is(err, ErrSpawn) {
		t.Errorf("expected ErrSpawn, got %v", err)
	}
}

func TestInvoke_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	runner := RunnerFunc(func(ctx context.Context, _ Command) (*RunResult, error) {
		return nil, ctx.Err()
	})
	b, _ := newTestBridge(t, runner)

	_, err := b.Invoke(ctx, OpHealth, codec.Argument{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled in chain, got %v", err)
	}
}

func TestInvoke_MethodOverride(t *testing.T) {
	runner := &recordingRunner{}
	b, err := NewDfxBridge(DfxConfig{
		Endpoint:    testEndpoint,
		ArgumentDir: t.TempDir(),
		Runner:      runner,
		DfxPath:     "/opt/dfx/bin/dfx",
		Methods:     DefaultMethods().With(map[Operation]string{OpActivate: "load_model_v2"}),
	})
	if err != nil {
		t.Fatal(err)
	}
	arg, _ := codec.EncodeActivationArgument("m")
	if _, err := b.Invoke(t.Context(), OpActivate, arg); err != nil {
		t.Fatal(err)
	}
	if runner.calls[0].Program != "/opt/dfx/bin/dfx" || runner.calls[0].Args[3] != "load_model_v2" {
		t.Errorf("override not applied: %v", runner.calls[0])
	}
}

func TestClearArguments(t *testing.T) {
	b, dir := newTestBridge(t, &recordingRunner{})
	if err := os.WriteFile(filepath.Join(dir, "upload_chunk-stale.did"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := b.ClearArguments(); err != nil {
		t.Fatalf("ClearArguments: %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("expected empty directory, found %d entries", len(entries))
	}
}

func TestExecRunner_FakeDfx(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script fake requires a POSIX shell")
	}
	dir := t.TempDir()
	script := filepath.Join(dir, "dfx")
	body := "#!/bin/sh\n" +
		"if [ \"$4\" = \"health\" ]; then echo '(variant { Ok = \"healthy\" })'; exit 0; fi\n" +
		"echo 'Error: The replica returned a rejection error: reject code CanisterError' >&2\n" +
		"exit 1\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatal(err)
	}

	b, err := NewDfxBridge(DfxConfig{
		DfxPath:     script,
		Endpoint:    testEndpoint,
		ArgumentDir: filepath.Join(dir, "args"),
	})
	if err != nil {
		t.Fatal(err)
	}

	reply, err := b.Invoke(t.Context(), OpHealth, codec.Argument{})
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if !strings.Contains(reply.Text, "Ok") {
		t.Errorf("reply = %q", reply.Text)
	}

	arg, _ := codec.EncodeActivationArgument("m")
	_, err = b.Invoke(t.Context(), OpActivate, arg)
	tf, ok := AsTransportFailure(err)
	if !ok {
		t.Fatalf("expected TransportFailure, got %v", err)
	}
	if tf.ExitCode != 1 || !errors.Is(err, ErrRejected) {
		t.Errorf("unexpected failure: exit=%d kind=%v", tf.ExitCode, tf.Kind)
	}
}
