package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/forsetidotfun/ferry/artifact"
	"github.com/forsetidotfun/ferry/bridge"
	"github.com/forsetidotfun/ferry/cli/config"
	"github.com/forsetidotfun/ferry/iox"
	"github.com/forsetidotfun/ferry/log"
	"github.com/forsetidotfun/ferry/metrics"
	"github.com/forsetidotfun/ferry/telemetry"
	"github.com/forsetidotfun/ferry/transfer"
	"github.com/forsetidotfun/ferry/types"
)

// Exit codes for upload.
const (
	exitSuccess          = 0
	exitFatal            = 1
	exitActivationFailed = 2
	exitInvalidInput     = 3
	exitInterrupted      = 4
)

// Recovery modes.
const (
	recoveryPrompt = "prompt"
	recoveryFile   = "file"
)

// telemetryFlushTimeout bounds span export at exit.
const telemetryFlushTimeout = 5 * time.Second

// UploadCommand returns the upload command.
// This is the only command that contacts the remote.
func UploadCommand() *cli.Command {
	flags := []cli.Flag{
		ConfigFlag,
		// Remote flags
		&cli.StringFlag{
			Name:  "canister",
			Usage: "Target canister name or id",
			Value: defaultCanister,
		},
		&cli.StringFlag{
			Name:  "network",
			Usage: "dfx network",
			Value: defaultNetwork,
		},
		&cli.StringFlag{
			Name:  "dfx",
			Usage: "Path to the dfx executable",
			Value: bridge.DefaultDfxPath,
		},
		&cli.Uint64Flag{
			Name:  "max-tokens-query",
			Usage: "Token limit for query calls pushed during configuration",
			Value: defaultMaxTokens,
		},
		&cli.Uint64Flag{
			Name:  "max-tokens-update",
			Usage: "Token limit for update calls pushed during configuration",
			Value: defaultMaxTokens,
		},
		&cli.StringFlag{
			Name:  "health-marker",
			Usage: "Text a healthy reply must contain",
			Value: transfer.DefaultHealthMarker,
		},
		&cli.DurationFlag{
			Name:  "pause",
			Usage: "Delay between chunk deliveries (0 disables)",
			Value: transfer.DefaultPause,
		},
		// Recovery flags
		&cli.StringFlag{
			Name:  "recovery",
			Usage: "How to acknowledge a fixed failure: prompt (Enter on stdin) or file (create the trigger file)",
			Value: recoveryPrompt,
		},
		&cli.StringFlag{
			Name:  "recovery-file",
			Usage: "Trigger file for --recovery=file (default <scratch-dir>/retry)",
		},
		// Run flags
		&cli.StringFlag{
			Name:  "run-id",
			Usage: "Run ID (default: random UUID)",
		},
		&cli.BoolFlag{
			Name:  "quiet",
			Usage: "Suppress the result summary",
		},
		// Observability flags
		&cli.StringFlag{
			Name:  "metrics-file",
			Usage: "Write Prometheus textfile metrics here after the run",
		},
		&cli.StringFlag{
			Name:    "otlp-endpoint",
			Usage:   "OTLP/HTTP endpoint for traces",
			EnvVars: []string{"OTEL_EXPORTER_OTLP_ENDPOINT"},
		},
		// Adapter flags
		&cli.StringFlag{
			Name:  "adapter",
			Usage: "Completion notification adapter: webhook or redis",
		},
		&cli.StringFlag{
			Name:  "adapter-url",
			Usage: "Adapter endpoint URL",
		},
		&cli.StringFlag{
			Name:  "adapter-channel",
			Usage: "Redis channel (default ferry:transfer_completed)",
		},
		&cli.StringSliceFlag{
			Name:  "adapter-header",
			Usage: "Extra webhook header as key=value (repeatable)",
		},
		&cli.DurationFlag{
			Name:  "adapter-timeout",
			Usage: "Adapter request timeout",
			Value: 10 * time.Second,
		},
		&cli.IntFlag{
			Name:  "adapter-retries",
			Usage: "Adapter retry attempts",
			Value: 3,
		},
	}
	flags = append(flags, sessionFlags(false)...)
	flags = append(flags, progressFlags()...)

	return &cli.Command{
		Name:   "upload",
		Usage:  "Upload an artifact to a canister in chunks, resuming where the last run stopped",
		Flags:  flags,
		Action: uploadAction,
	}
}

// uploadChoice holds every resolved upload setting.
type uploadChoice struct {
	artifactPath string
	endpoint     types.RemoteEndpoint
	dfxPath      string
	chunkSize    int64
	scratchDir   string
	limits       types.TokenLimits
	healthMarker string
	pause        time.Duration
	methods      map[bridge.Operation]string
	recoveryMode string
	recoveryFile string
	progress     progressChoice
	adapter      adapterChoice
	metricsFile  string
	otlpEndpoint string
	quiet        bool
}

func parseUploadChoice(c *cli.Context, cfg *config.Config) (uploadChoice, error) {
	str := func(get func(*config.Config) string) string { return configVal(cfg, get) }

	uc := uploadChoice{
		artifactPath: resolveString(c, "artifact", str(func(c *config.Config) string { return c.Artifact })),
		endpoint: types.RemoteEndpoint{
			Canister: resolveString(c, "canister", str(func(c *config.Config) string { return c.Canister })),
			Network:  resolveString(c, "network", str(func(c *config.Config) string { return c.Network })),
		},
		dfxPath:      resolveString(c, "dfx", str(func(c *config.Config) string { return c.Dfx })),
		chunkSize:    resolveInt64(c, "chunk-size", configVal(cfg, func(c *config.Config) int64 { return c.ChunkSize })),
		scratchDir:   resolveString(c, "scratch-dir", str(func(c *config.Config) string { return c.ScratchDir })),
		healthMarker: resolveString(c, "health-marker", str(func(c *config.Config) string { return c.HealthMarker })),
		pause:        resolveOptionalDuration(c, "pause", configVal(cfg, func(c *config.Config) *config.Duration { return c.Pause })),
		limits: types.TokenLimits{
			MaxTokensQuery:  resolveUint64(c, "max-tokens-query", configVal(cfg, func(c *config.Config) *uint64 { return c.Limits.MaxTokensQuery })),
			MaxTokensUpdate: resolveUint64(c, "max-tokens-update", configVal(cfg, func(c *config.Config) *uint64 { return c.Limits.MaxTokensUpdate })),
		},
		recoveryMode: resolveString(c, "recovery", str(func(c *config.Config) string { return c.Recovery.Mode })),
		recoveryFile: resolveString(c, "recovery-file", str(func(c *config.Config) string { return c.Recovery.File })),
		progress:     parseProgressChoice(c, cfg),
		metricsFile:  resolveString(c, "metrics-file", str(func(c *config.Config) string { return c.Telemetry.MetricsFile })),
		otlpEndpoint: resolveString(c, "otlp-endpoint", str(func(c *config.Config) string { return c.Telemetry.OTLPEndpoint })),
		quiet:        c.Bool("quiet"),
	}

	if uc.artifactPath == "" {
		return uc, errors.New("--artifact is required (or set artifact in the config file)")
	}
	if err := uc.endpoint.Validate(); err != nil {
		return uc, err
	}
	if uc.chunkSize <= 0 {
		return uc, fmt.Errorf("--chunk-size must be > 0, got %d", uc.chunkSize)
	}
	if uc.pause < 0 {
		return uc, fmt.Errorf("--pause must be >= 0, got %s", uc.pause)
	}
	switch uc.recoveryMode {
	case recoveryPrompt, recoveryFile:
	default:
		return uc, fmt.Errorf("invalid --recovery: %s (must be prompt or file)", uc.recoveryMode)
	}
	if uc.recoveryFile == "" {
		uc.recoveryFile = filepath.Join(uc.scratchDir, triggerFile)
	}

	var err error
	if cfg != nil {
		if uc.methods, err = cfg.MethodOverrides(); err != nil {
			return uc, err
		}
	}
	if uc.adapter, err = parseAdapterChoice(c, cfg); err != nil {
		return uc, err
	}
	return uc, nil
}

func uploadAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), exitInvalidInput)
	}
	choice, err := parseUploadChoice(c, cfg)
	if err != nil {
		return cli.Exit(err.Error(), exitInvalidInput)
	}

	// Set up context with signal handling
	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	shutdown, err := telemetry.Init(ctx, choice.otlpEndpoint)
	if err != nil {
		return cli.Exit(err.Error(), exitInvalidInput)
	}
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.WithoutCancel(ctx), telemetryFlushTimeout)
		defer flushCancel()
		_ = shutdown(flushCtx)
	}()

	runMeta := &types.RunMeta{RunID: c.String("run-id")}
	if runMeta.RunID == "" {
		runMeta.RunID = uuid.NewString()
	}
	logger := log.NewLogger(runMeta).WithOutput(c.App.ErrWriter)
	defer iox.DiscardErr(logger.Sync)

	art, err := artifact.Open(choice.artifactPath, filepath.Join(choice.scratchDir, stagingDir))
	if err != nil {
		if errors.Is(err, artifact.ErrArtifactNotFound) {
			return cli.Exit(fmt.Sprintf("artifact %s does not exist", choice.artifactPath), exitInvalidInput)
		}
		return cli.Exit(fmt.Sprintf("failed to open artifact: %v", err), exitInvalidInput)
	}
	defer iox.DiscardClose(art)

	store, err := buildProgressStore(ctx, choice.progress, choice.scratchDir)
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to open progress store: %v", err), exitInvalidInput)
	}

	b, err := bridge.NewDfxBridge(bridge.DfxConfig{
		DfxPath:     choice.dfxPath,
		Endpoint:    choice.endpoint,
		ArgumentDir: filepath.Join(choice.scratchDir, argumentsDir),
		Methods:     bridge.DefaultMethods().With(choice.methods),
		Logger:      logger,
	})
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to create bridge: %v", err), exitInvalidInput)
	}

	notifier, err := buildAdapter(choice.adapter)
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to create adapter: %v", err), exitInvalidInput)
	}
	var digest string
	if notifier != nil {
		defer iox.DiscardClose(notifier)
		if digest, err = art.Digest(); err != nil {
			return cli.Exit(fmt.Sprintf("failed to digest artifact: %v", err), exitInvalidInput)
		}
	}

	backend := choice.progress.backend
	if backend == "" {
		backend = backendFile
	}
	collector := metrics.NewCollector(choice.endpoint.Canister, choice.endpoint.Network, backend, runMeta.RunID)

	orchestrator, err := transfer.NewOrchestrator(&transfer.Config{
		Bridge:         b,
		Store:          store,
		Artifact:       art,
		ArtifactDigest: digest,
		ChunkSize:      choice.chunkSize,
		Limits:         choice.limits,
		Endpoint:       choice.endpoint,
		Recovery:       buildRecovery(choice, c.App.ErrWriter),
		Pause:          choice.pause,
		HealthMarker:   choice.healthMarker,
		RunMeta:        runMeta,
		Logger:         logger,
		Collector:      collector,
		Notifier:       notifier,
	})
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to create orchestrator: %v", err), exitInvalidInput)
	}

	result, runErr := orchestrator.Execute(ctx)

	if choice.metricsFile != "" {
		if err := metrics.WriteTextfile(choice.metricsFile, collector.Snapshot()); err != nil {
			logger.Warn("failed to write metrics textfile", map[string]any{
				"path":  choice.metricsFile,
				"error": err.Error(),
			})
		}
	}

	if !choice.quiet {
		printUploadResult(c.App.Writer, result, art)
	}

	code := outcomeToExitCode(result.Outcome.Status)
	if runErr != nil {
		return cli.Exit(fmt.Sprintf("upload failed: %v", runErr), code)
	}
	return cli.Exit("", code)
}

func buildRecovery(choice uploadChoice, out io.Writer) transfer.Recovery {
	if choice.recoveryMode == recoveryFile {
		path := choice.recoveryFile
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
		return transfer.NewFileRecovery(path, out)
	}
	return transfer.NewPromptRecovery(os.Stdin, out)
}

func outcomeToExitCode(status types.OutcomeStatus) int {
	switch status {
	case types.OutcomeDone:
		return exitSuccess
	case types.OutcomeActivationFailed:
		return exitActivationFailed
	case types.OutcomeInvalidInput:
		return exitInvalidInput
	case types.OutcomeInterrupted:
		return exitInterrupted
	default:
		return exitFatal
	}
}

func printUploadResult(w io.Writer, result *transfer.Result, art *artifact.Artifact) {
	s := result.Session
	_, _ = fmt.Fprintf(w, "\n=== Transfer Result ===\n")
	_, _ = fmt.Fprintf(w, "Run ID:        %s\n", result.RunMeta.RunID)
	_, _ = fmt.Fprintf(w, "Session Key:   %s\n", s.Key)
	_, _ = fmt.Fprintf(w, "Artifact:      %s (%d bytes)\n", s.ArtifactName, s.ArtifactSize)
	if art.Compression() != artifact.CompressionNone {
		_, _ = fmt.Fprintf(w, "Source:        %s (%s)\n", art.Source(), art.Compression())
	}
	_, _ = fmt.Fprintf(w, "Chunks:        %d x %d bytes\n", s.TotalChunks, s.ChunkSize)
	_, _ = fmt.Fprintf(w, "Outcome:       %s\n", result.Outcome.Status)
	_, _ = fmt.Fprintf(w, "Message:       %s\n", result.Outcome.Message)
	if result.Outcome.Operation != "" {
		_, _ = fmt.Fprintf(w, "Operation:     %s\n", result.Outcome.Operation)
	}
	if result.Outcome.Diagnostic != "" {
		_, _ = fmt.Fprintf(w, "Diagnostic:    %s\n", result.Outcome.Diagnostic)
	}
	_, _ = fmt.Fprintf(w, "Duration:      %s\n", result.Duration.Round(time.Millisecond))

	_, _ = fmt.Fprintf(w, "\n=== Chunks ===\n")
	_, _ = fmt.Fprintf(w, "Uploaded:      %d\n", result.Uploaded)
	_, _ = fmt.Fprintf(w, "Skipped:       %d\n", result.Skipped)
	_, _ = fmt.Fprintf(w, "Recoveries:    %d\n", result.Recoveries)
	_, _ = fmt.Fprintf(w, "Bytes Sent:    %d\n", result.BytesSent)
	if s.LastAcknowledged != nil {
		_, _ = fmt.Fprintf(w, "Last Acked:    %d\n", *s.LastAcknowledged)
	}
}
