package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/forsetidotfun/ferry/adapter"
	"github.com/forsetidotfun/ferry/bridge"
	"github.com/forsetidotfun/ferry/codec"
	"github.com/forsetidotfun/ferry/log"
	"github.com/forsetidotfun/ferry/metrics"
	"github.com/forsetidotfun/ferry/progress"
	"github.com/forsetidotfun/ferry/types"
)

// DefaultPause is the courtesy delay between chunk deliveries.
const DefaultPause = 100 * time.Millisecond

// notifyTimeout bounds the completion notification.
const notifyTimeout = 30 * time.Second

var (
	// ErrActivationFailed indicates a fully uploaded artifact was not activated. Fatal.
	ErrActivationFailed = errors.New("activation failed")
	// ErrInvalidInput indicates the run could not start with the given input.
	ErrInvalidInput = errors.New("invalid input")
	// ErrProgressStore indicates the progress record could not be used.
	ErrProgressStore = errors.New("progress store failure")
	// ErrInterrupted indicates the run was canceled; progress is preserved.
	ErrInterrupted = errors.New("transfer interrupted")
)

// Source is the artifact being transferred.
type Source interface {
	io.ReaderAt
	Size() int64
	Name() string
}

// AckReader is implemented by stores that journal each acknowledgement.
type AckReader interface {
	Last(ctx context.Context, key progress.Key) (progress.Ack, bool, error)
}

// ArgumentCleaner is implemented by bridges that keep scratch argument files.
type ArgumentCleaner interface {
	ClearArguments() error
}

// Config configures a single transfer run.
type Config struct {
	// Bridge invokes the remote operations.
	Bridge bridge.Bridge
	// Store persists the last acknowledged chunk.
	Store progress.Store
	// Artifact is the content to deliver.
	Artifact Source
	// ArtifactDigest is reported in logs and completion events. Optional.
	ArtifactDigest string
	// ChunkSize is the payload size of every chunk but the last.
	ChunkSize int64
	// Limits is the parameter set pushed during configuration.
	Limits types.TokenLimits
	// Endpoint is reported in completion events.
	Endpoint types.RemoteEndpoint
	// Recovery is awaited after a failed chunk delivery (required).
	Recovery Recovery
	// Pause is the delay between chunk deliveries. Zero disables it.
	Pause time.Duration
	// HealthMarker overrides DefaultHealthMarker.
	HealthMarker string
	// RunMeta is the run identity. SessionKey is filled in by the orchestrator.
	RunMeta *types.RunMeta
	// Logger receives lifecycle logs. If nil, a logger is built from RunMeta.
	Logger *log.Logger
	// Collector records run metrics. Nil disables metrics.
	Collector *metrics.Collector
	// Notifier receives a completion event after activation. Optional.
	Notifier adapter.Adapter
	// Observer is called on every state change. Optional.
	Observer func(State)
}

// Result describes a finished run, successful or not.
type Result struct {
	// RunMeta is the run identity.
	RunMeta *types.RunMeta
	// Session is the transfer session as it stood at the end of the run.
	Session types.TransferSession
	// State is the terminal state reached.
	State State
	// Outcome classifies the end of the run.
	Outcome *types.RunOutcome
	// Resumed is true when a progress record was found.
	Resumed bool
	// Uploaded is the number of chunks delivered by this run.
	Uploaded int
	// Skipped is the number of chunks delivered by earlier runs.
	Skipped int
	// Recoveries is the number of operator acknowledgements.
	Recoveries int
	// BytesSent is the payload volume delivered by this run.
	BytesSent int64
	// Duration is the wall time of the run.
	Duration time.Duration
}

// StageError attributes a fatal error to a lifecycle stage.
type StageError struct {
	// Stage is the state in which the failure occurred.
	Stage State
	// Err is the underlying error.
	Err error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As chain traversal.
func (e *StageError) Unwrap() error {
	return e.Err
}

// Orchestrator drives one transfer run.
type Orchestrator struct {
	config *Config
	gate   *Gate
	logger *log.Logger
	state  State

	startTime time.Time
	session   types.TransferSession
	result    Result
}

// NewOrchestrator validates config and returns an orchestrator.
func NewOrchestrator(config *Config) (*Orchestrator, error) {
	if config.RunMeta == nil {
		return nil, errors.New("run metadata is required")
	}
	if err := config.RunMeta.Validate(); err != nil {
		return nil, fmt.Errorf("invalid run metadata: %w", err)
	}
	switch {
	case config.Bridge == nil:
		return nil, errors.New("bridge is required")
	case config.Store == nil:
		return nil, errors.New("progress store is required")
	case config.Artifact == nil:
		return nil, errors.New("artifact is required")
	case config.Recovery == nil:
		return nil, errors.New("recovery is required")
	case config.Pause < 0:
		return nil, fmt.Errorf("pause must be >= 0, got %s", config.Pause)
	}

	logger := config.Logger
	if logger == nil {
		logger = log.NewLogger(config.RunMeta)
	}

	return &Orchestrator{
		config: config,
		gate:   NewGate(config.Bridge, config.HealthMarker),
		logger: logger,
		state:  StateIdle,
	}, nil
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	return o.state
}

// Execute runs the transfer end-to-end.
//
// Execution flow:
//  1. Plan chunks and derive the session key
//  2. Health check, then configuration (fatal on failure, progress untouched)
//  3. Load progress; a fresh session clears stale records and scratch files
//  4. Deliver chunks in order, waiting for the operator after each failure
//  5. Activate, then clear progress
//  6. Notify
//
// The returned Result is never nil. The error is nil only when the run reached done.
func (o *Orchestrator) Execute(ctx context.Context) (*Result, error) {
	o.startTime = time.Now()
	o.config.Collector.IncRunStarted()
	o.result.RunMeta = o.config.RunMeta

	splitter, err := o.plan()
	if err != nil {
		return o.fail(types.OutcomeInvalidInput, "", err)
	}

	o.logger.Info("starting transfer", map[string]any{
		"artifact":     o.session.ArtifactName,
		"size":         o.session.ArtifactSize,
		"chunk_size":   o.session.ChunkSize,
		"total_chunks": o.session.TotalChunks,
		"endpoint":     o.config.Endpoint.String(),
	})

	// Gate
	o.transition(StateHealthChecking)
	if _, err := o.gate.CheckHealth(ctx); err != nil {
		if ctx.Err() != nil {
			return o.interrupted(fmt.Errorf("%w: %w", ErrInterrupted, err))
		}
		return o.fail(types.OutcomeHealthFailed, bridge.OpHealth, err)
	}
	o.transition(StateConfiguring)
	if _, err := o.gate.Configure(ctx, o.config.Limits); err != nil {
		if ctx.Err() != nil {
			return o.interrupted(fmt.Errorf("%w: %w", ErrInterrupted, err))
		}
		return o.fail(types.OutcomeConfigFailed, bridge.OpConfigure, err)
	}

	if err := o.loadProgress(ctx, splitter); err != nil {
		return o.fail(types.OutcomeProgressFailed, "", err)
	}

	// Upload
	if !o.session.Complete() {
		o.transition(StateUploading)
		if err := o.upload(ctx, splitter); err != nil {
			if errors.Is(err, ErrInterrupted) {
				return o.interrupted(err)
			}
			status := types.OutcomeProgressFailed
			if errors.Is(err, ErrInvalidInput) {
				status = types.OutcomeInvalidInput
			}
			return o.fail(status, bridge.OpUploadChunk, err)
		}
	}

	// Activate
	o.transition(StateActivating)
	if err := o.activate(ctx); err != nil {
		if ctx.Err() != nil {
			return o.interrupted(fmt.Errorf("%w: %w", ErrInterrupted, err))
		}
		return o.fail(types.OutcomeActivationFailed, bridge.OpActivate, err)
	}

	if err := o.config.Store.Clear(context.WithoutCancel(ctx), progress.Key(o.session.Key)); err != nil {
		o.logger.Error("failed to clear progress after activation", map[string]any{
			"error": err.Error(),
		})
	}

	o.transition(StateDone)
	o.config.Collector.IncRunCompleted()
	res := o.buildResult(&types.RunOutcome{
		Status:  types.OutcomeDone,
		Message: fmt.Sprintf("%s activated after %d chunks", o.session.ArtifactName, o.session.TotalChunks),
	})
	o.logger.Info("transfer complete", map[string]any{
		"uploaded":    res.Uploaded,
		"skipped":     res.Skipped,
		"recoveries":  res.Recoveries,
		"bytes_sent":  res.BytesSent,
		"duration_ms": res.Duration.Milliseconds(),
	})
	o.notify(ctx, res)
	return res, nil
}

// plan validates the input and fills in the session.
func (o *Orchestrator) plan() (*codec.Splitter, error) {
	name := o.config.Artifact.Name()
	if name == "" {
		return nil, fmt.Errorf("%w: artifact name is empty", ErrInvalidInput)
	}
	splitter, err := codec.Split(o.config.Artifact, o.config.ChunkSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	key := progress.SessionKey(name, o.config.ChunkSize)
	o.config.RunMeta.SessionKey = key.String()
	o.config.Collector.SetSessionKey(key.String())
	o.logger = o.logger.With(map[string]any{"session_key": key.String()})

	o.session = types.TransferSession{
		Key:          key.String(),
		ArtifactName: name,
		ArtifactSize: o.config.Artifact.Size(),
		ChunkSize:    o.config.ChunkSize,
		TotalChunks:  splitter.Plan().Total(),
	}
	return splitter, nil
}

// loadProgress resumes from the progress record or starts a fresh session.
func (o *Orchestrator) loadProgress(ctx context.Context, splitter *codec.Splitter) error {
	key := progress.Key(o.session.Key)
	last, ok, err := o.config.Store.Load(ctx, key)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrProgressStore, err)
	}

	if ok {
		if last > o.session.TotalChunks {
			return fmt.Errorf("%w: record acknowledges chunk %d but the artifact has %d chunks; reset the session",
				ErrProgressStore, last, o.session.TotalChunks)
		}
		if ok, err = o.sameContent(ctx, splitter, key, last); err != nil {
			return err
		}
	}

	if ok {
		o.session.LastAcknowledged = &last
		o.result.Resumed = true
		o.result.Skipped = last
		o.config.Collector.AddChunksSkipped(last)
		o.logger.Info("resuming transfer", map[string]any{
			"last_acknowledged": last,
			"next_chunk":        o.session.NextIndex(),
			"total_chunks":      o.session.TotalChunks,
		})
		return nil
	}

	// Fresh session: records left by other (name, chunk size) pairs can never
	// be resumed by this run and are dropped along with scratch files.
	keys, err := o.config.Store.Keys(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrProgressStore, err)
	}
	for _, stale := range keys {
		if stale == key {
			continue
		}
		o.logger.Warn("discarding stale progress record", map[string]any{
			"stale_session_key": stale.String(),
		})
		if err := o.config.Store.Clear(ctx, stale); err != nil {
			return fmt.Errorf("%w: %w", ErrProgressStore, err)
		}
	}
	if cleaner, ok := o.config.Bridge.(ArgumentCleaner); ok {
		if err := cleaner.ClearArguments(); err != nil {
			o.logger.Warn("failed to clear scratch arguments", map[string]any{"error": err.Error()})
		}
	}
	o.logger.Info("starting fresh transfer session", nil)
	return nil
}

// sameContent compares the last journaled chunk digest with the artifact.
// On a mismatch the record is cleared so the session restarts from chunk 1.
func (o *Orchestrator) sameContent(ctx context.Context, splitter *codec.Splitter, key progress.Key, last int) (bool, error) {
	journal, isJournal := o.config.Store.(AckReader)
	if !isJournal {
		return true, nil
	}
	ack, found, err := journal.Last(ctx, key)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrProgressStore, err)
	}
	if !found || ack.Index != last || ack.Digest == "" {
		return true, nil
	}
	chunk, err := splitter.Chunk(last)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if progress.ChunkDigest(chunk.Payload) == ack.Digest {
		return true, nil
	}

	o.logger.Warn("artifact content changed since the last acknowledged chunk, restarting session", map[string]any{
		"chunk": last,
	})
	if err := o.config.Store.Clear(ctx, key); err != nil {
		return false, fmt.Errorf("%w: %w", ErrProgressStore, err)
	}
	return false, nil
}

// upload delivers every chunk after the last acknowledged one, in order.
func (o *Orchestrator) upload(ctx context.Context, splitter *codec.Splitter) error {
	key := progress.Key(o.session.Key)
	sent := 0

	for chunk, err := range splitter.Chunks(o.session.NextIndex()) {
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
		if sent > 0 && o.config.Pause > 0 {
			if err := sleep(ctx, o.config.Pause); err != nil {
				return fmt.Errorf("%w: %w", ErrInterrupted, err)
			}
		}

		arg, err := codec.EncodeChunkArgument(chunk, o.session.ArtifactName, o.session.ChunkSize)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
		if err := o.deliver(ctx, chunk, arg); err != nil {
			return err
		}

		// The chunk is on the remote; persist that even if we are being canceled.
		ack := progress.Ack{
			Index:  chunk.Index,
			Offset: chunk.Offset,
			Length: chunk.Len(),
			Digest: progress.ChunkDigest(chunk.Payload),
		}
		if err := o.config.Store.Record(context.WithoutCancel(ctx), key, ack); err != nil {
			o.config.Collector.IncProgressWriteFailure()
			return fmt.Errorf("%w: chunk %d delivered but not recorded: %w", ErrProgressStore, chunk.Index, err)
		}
		o.config.Collector.IncProgressWriteSuccess()
		if err := o.session.Acknowledge(chunk.Index); err != nil {
			return fmt.Errorf("%w: %w", ErrProgressStore, err)
		}

		sent++
		o.result.Uploaded++
		o.result.BytesSent += chunk.Len()
		o.config.Collector.AddChunkUploaded(chunk.Len())
		o.logger.Info("chunk acknowledged", map[string]any{
			"chunk":        chunk.Index,
			"total_chunks": o.session.TotalChunks,
			"offset":       chunk.Offset,
			"bytes":        chunk.Len(),
		})
	}
	return nil
}

// deliver sends one chunk, suspending for the operator after each failure
// and retrying with the identical argument. There is no retry limit.
func (o *Orchestrator) deliver(ctx context.Context, chunk types.Chunk, arg codec.Argument) error {
	for attempt := 1; ; attempt++ {
		_, err := o.config.Bridge.Invoke(ctx, bridge.OpUploadChunk, arg)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%w: chunk %d: %w", ErrInterrupted, chunk.Index, ctx.Err())
		}

		failure, ok := bridge.AsTransportFailure(err)
		if !ok {
			failure = &bridge.TransportFailure{Op: bridge.OpUploadChunk, ExitCode: -1, Kind: bridge.ErrUnknown, Err: err}
		}
		o.config.Collector.IncTransportFailure(string(bridge.OpUploadChunk))
		o.logger.Error("chunk delivery failed", map[string]any{
			"operation":  string(failure.Op),
			"method":     failure.Method,
			"chunk":      chunk.Index,
			"attempt":    attempt,
			"kind":       fmt.Sprint(failure.Kind),
			"exit_code":  failure.ExitCode,
			"diagnostic": failure.Diagnostic,
			"error":      err.Error(),
		})

		o.transition(StateAwaitingOperator)
		if err := o.config.Recovery.Await(ctx, failure); err != nil {
			return fmt.Errorf("%w: awaiting operator for chunk %d: %w", ErrInterrupted, chunk.Index, err)
		}
		o.result.Recoveries++
		o.config.Collector.IncOperatorRecovery()
		o.logger.Info("operator acknowledged, retrying chunk", map[string]any{
			"chunk":   chunk.Index,
			"attempt": attempt + 1,
		})
		o.transition(StateUploading)
	}
}

func (o *Orchestrator) activate(ctx context.Context) error {
	arg, err := codec.EncodeActivationArgument(o.session.ArtifactName)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrActivationFailed, err)
	}
	if _, err := o.config.Bridge.Invoke(ctx, bridge.OpActivate, arg); err != nil {
		o.config.Collector.IncTransportFailure(string(bridge.OpActivate))
		return fmt.Errorf("%w: %w", ErrActivationFailed, err)
	}
	return nil
}

func (o *Orchestrator) notify(ctx context.Context, res *Result) {
	if o.config.Notifier == nil {
		return
	}
	event := &adapter.TransferCompletedEvent{
		ContractVersion: types.ContractVersion,
		EventType:       adapter.EventTypeTransferCompleted,
		RunID:           o.config.RunMeta.RunID,
		SessionKey:      o.session.Key,
		Artifact:        o.session.ArtifactName,
		ArtifactDigest:  o.config.ArtifactDigest,
		Canister:        o.config.Endpoint.Canister,
		Network:         o.config.Endpoint.Network,
		ChunkSize:       o.session.ChunkSize,
		TotalChunks:     o.session.TotalChunks,
		UploadedChunks:  res.Uploaded,
		SkippedChunks:   res.Skipped,
		Recoveries:      res.Recoveries,
		BytesSent:       res.BytesSent,
		Timestamp:       time.Now().UTC().Format(time.RFC3339),
		DurationMs:      res.Duration.Milliseconds(),
	}

	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	if err := o.config.Notifier.Publish(notifyCtx, event); err != nil {
		o.logger.Warn("completion notification failed", map[string]any{
			"error": err.Error(),
		})
	}
}

func (o *Orchestrator) transition(to State) {
	if !CanTransition(o.state, to) {
		// Programming error; the lifecycle above only takes legal steps.
		panic(fmt.Sprintf("transfer: illegal transition %s -> %s", o.state, to))
	}
	o.state = to
	if o.config.Observer != nil {
		o.config.Observer(to)
	}
}

// fail ends the run in the fatal state.
func (o *Orchestrator) fail(status types.OutcomeStatus, op bridge.Operation, err error) (*Result, error) {
	stage := o.state
	o.transition(StateFatal)
	o.config.Collector.IncRunFailed()

	outcome := &types.RunOutcome{
		Status:    status,
		Message:   err.Error(),
		Operation: string(op),
	}
	if tf, ok := bridge.AsTransportFailure(err); ok {
		outcome.Operation = string(tf.Op)
		outcome.Diagnostic = tf.Diagnostic
	}
	o.logger.Error("transfer failed", map[string]any{
		"stage":      string(stage),
		"status":     string(status),
		"operation":  outcome.Operation,
		"diagnostic": outcome.Diagnostic,
		"error":      err.Error(),
	})
	return o.buildResult(outcome), &StageError{Stage: stage, Err: err}
}

// interrupted ends the run on cancellation. Progress is left as recorded.
func (o *Orchestrator) interrupted(err error) (*Result, error) {
	stage := o.state
	o.transition(StateFatal)
	o.config.Collector.IncRunInterrupted()
	o.logger.Warn("transfer interrupted, progress preserved", map[string]any{
		"stage":             string(stage),
		"last_acknowledged": o.lastAcknowledged(),
		"error":             err.Error(),
	})
	return o.buildResult(&types.RunOutcome{
		Status:  types.OutcomeInterrupted,
		Message: err.Error(),
	}), &StageError{Stage: stage, Err: err}
}

func (o *Orchestrator) lastAcknowledged() int {
	if o.session.LastAcknowledged == nil {
		return 0
	}
	return *o.session.LastAcknowledged
}

func (o *Orchestrator) buildResult(outcome *types.RunOutcome) *Result {
	res := o.result
	res.Session = o.session
	res.State = o.state
	res.Outcome = outcome
	res.Duration = time.Since(o.startTime)
	return &res
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
