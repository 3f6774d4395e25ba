package bridge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/forsetidotfun/ferry/codec"
	"github.com/forsetidotfun/ferry/iox"
	"github.com/forsetidotfun/ferry/log"
	"github.com/forsetidotfun/ferry/types"
)

// DefaultDfxPath is the dfx executable looked up on PATH.
const DefaultDfxPath = "dfx"

const tracerName = "github.com/forsetidotfun/ferry/bridge"

// errVariant matches a top-level `variant { Err ... }` reply.
var errVariant = regexp.MustCompile(`^\(?\s*variant\s*\{\s*Err\b`)

// DfxConfig configures a DfxBridge.
type DfxConfig struct {
	// DfxPath is the dfx executable. Defaults to DefaultDfxPath.
	DfxPath string
	// Endpoint identifies the canister and network.
	Endpoint types.RemoteEndpoint
	// ArgumentDir receives one scratch file per call. Required.
	ArgumentDir string
	// Methods overrides the remote method names. Defaults to DefaultMethods.
	Methods Methods
	// Runner executes dfx. Defaults to an ExecRunner.
	Runner Runner
	// Logger receives debug output per call. Optional.
	Logger *log.Logger
	// Tracer creates invocation spans. Defaults to the global provider.
	Tracer trace.Tracer
}

// DfxBridge invokes canister methods through `dfx canister call`.
type DfxBridge struct {
	dfxPath  string
	endpoint types.RemoteEndpoint
	argDir   string
	methods  Methods
	runner   Runner
	logger   *log.Logger
	tracer   trace.Tracer
}

// NewDfxBridge validates cfg, creates the argument directory and returns a bridge.
func NewDfxBridge(cfg DfxConfig) (*DfxBridge, error) {
	if err := cfg.Endpoint.Validate(); err != nil {
		return nil, err
	}
	if cfg.ArgumentDir == "" {
		return nil, errors.New("argument directory is required")
	}
	if err := os.MkdirAll(cfg.ArgumentDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create argument directory: %w", err)
	}

	b := &DfxBridge{
		dfxPath:  cfg.DfxPath,
		endpoint: cfg.Endpoint,
		argDir:   cfg.ArgumentDir,
		methods:  cfg.Methods,
		runner:   cfg.Runner,
		logger:   cfg.Logger,
		tracer:   cfg.Tracer,
	}
	if b.dfxPath == "" {
		b.dfxPath = DefaultDfxPath
	}
	if b.methods == nil {
		b.methods = DefaultMethods()
	}
	for _, op := range Operations {
		if _, err := b.methods.Method(op); err != nil {
			return nil, err
		}
	}
	if b.runner == nil {
		b.runner = &ExecRunner{}
	}
	if b.logger == nil {
		b.logger = log.NewNop()
	}
	if b.tracer == nil {
		b.tracer = otel.Tracer(tracerName)
	}
	return b, nil
}

// Endpoint returns the configured remote endpoint.
func (b *DfxBridge) Endpoint() types.RemoteEndpoint {
	return b.endpoint
}

// Invoke runs one remote call for op and returns its reply text.
// Failures are returned as *TransportFailure.
func (b *DfxBridge) Invoke(ctx context.Context, op Operation, arg codec.Argument) (reply Reply, err error) {
	method, err := b.methods.Method(op)
	if err != nil {
		return Reply{}, err
	}

	ctx, span := b.tracer.Start(ctx, "ferry.bridge/"+string(op),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("ferry.canister", b.endpoint.Canister),
			attribute.String("ferry.network", b.endpoint.Network),
			attribute.String("ferry.method", method),
			attribute.Int("ferry.argument_bytes", arg.Len()),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	args := []string{"canister", "call", b.endpoint.Canister, method}
	if !arg.IsEmpty() {
		path, werr := b.writeArgument(op, arg)
		if werr != nil {
			return Reply{}, &TransportFailure{Op: op, Method: method, ExitCode: -1, Kind: ErrUnknown, Err: werr}
		}
		defer iox.DiscardRemove(path)
		args = append(args, "--argument-file", path)
	}
	args = append(args, "--network", b.endpoint.Network)

	cmd := Command{Program: b.dfxPath, Args: args}
	b.logger.Debug("invoking remote method", map[string]any{
		"operation":      string(op),
		"method":         method,
		"argument_bytes": arg.Len(),
	})

	res, err := b.runner.Run(ctx, cmd)
	if err != nil {
		kind := ErrSpawn
		if ctx.Err() != nil {
			kind = ErrUnknown
			err = errors.Join(ctx.Err(), err)
		}
		return Reply{}, &TransportFailure{Op: op, Method: method, ExitCode: -1, Kind: kind, Err: err}
	}

	span.SetAttributes(attribute.Int("ferry.exit_code", res.ExitCode))
	if res.ExitCode != 0 {
		diag := strings.TrimSpace(string(res.Stderr))
		if diag == "" {
			diag = strings.TrimSpace(string(res.Stdout))
		}
		failure := &TransportFailure{
			Op:         op,
			Method:     method,
			ExitCode:   res.ExitCode,
			Kind:       Classify(diag),
			Diagnostic: diag,
		}
		if ctx.Err() != nil {
			failure.Err = ctx.Err()
		}
		return Reply{}, failure
	}

	text := strings.TrimSpace(string(res.Stdout))
	if errVariant.MatchString(text) {
		return Reply{}, &TransportFailure{Op: op, Method: method, Kind: ErrRejected, Diagnostic: text}
	}
	return Reply{Op: op, Text: text}, nil
}

// ClearArguments removes leftover argument files from earlier runs.
func (b *DfxBridge) ClearArguments() error {
	entries, err := os.ReadDir(b.argDir)
	if err != nil {
		if os.IsNotExist(err) {
			return os.MkdirAll(b.argDir, 0o755)
		}
		return fmt.Errorf("failed to read argument directory: %w", err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(b.argDir, e.Name())); err != nil {
			return fmt.Errorf("failed to remove %s: %w", e.Name(), err)
		}
	}
	return nil
}

func (b *DfxBridge) writeArgument(op Operation, arg codec.Argument) (string, error) {
	f, err := os.CreateTemp(b.argDir, string(op)+"-*.did")
	if err != nil {
		return "", fmt.Errorf("failed to create argument file: %w", err)
	}
	path := f.Name()
	if _, err := f.Write(arg.Bytes()); err != nil {
		iox.DiscardClose(f)
		iox.DiscardRemove(path)
		return "", fmt.Errorf("failed to write argument file: %w", err)
	}
	if err := f.Close(); err != nil {
		iox.DiscardRemove(path)
		return "", fmt.Errorf("failed to close argument file: %w", err)
	}
	return path, nil
}
