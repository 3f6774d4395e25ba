// Package metrics provides per-run transfer metrics.
//
// The Collector accumulates counters during a single run. It is a leaf package
// apart from the Prometheus exporter, which renders a Snapshot for the
// node_exporter textfile collector.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all run metrics.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Run lifecycle
	RunsStarted     int64
	RunsCompleted   int64
	RunsFailed      int64
	RunsInterrupted int64

	// Chunk delivery
	ChunksUploaded int64
	ChunksSkipped  int64
	BytesSent      int64

	// Remote calls
	TransportFailures   int64
	FailuresByOperation map[string]int64
	OperatorRecoveries  int64

	// Progress store
	ProgressWriteSuccess int64
	ProgressWriteFailure int64

	// Dimensions (informational, set at construction)
	Canister       string
	Network        string
	StorageBackend string
	RunID          string
	SessionKey     string
}

// Collector accumulates metrics during a single run.
// Thread-safe via sync.Mutex. All methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	runsStarted     int64
	runsCompleted   int64
	runsFailed      int64
	runsInterrupted int64

	chunksUploaded int64
	chunksSkipped  int64
	bytesSent      int64

	transportFailures   int64
	failuresByOperation map[string]int64
	operatorRecoveries  int64

	progressWriteSuccess int64
	progressWriteFailure int64

	canister       string
	network        string
	storageBackend string
	runID          string
	sessionKey     string
}

// NewCollector creates a Collector with dimension labels.
func NewCollector(canister, network, storageBackend, runID string) *Collector {
	return &Collector{
		failuresByOperation: make(map[string]int64),
		canister:            canister,
		network:             network,
		storageBackend:      storageBackend,
		runID:               runID,
	}
}

// SetSessionKey records the session dimension once it is known.
func (c *Collector) SetSessionKey(key string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.sessionKey = key
	c.mu.Unlock()
}

// --- Run lifecycle ---

// IncRunStarted records a run start.
func (c *Collector) IncRunStarted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.runsStarted++
	c.mu.Unlock()
}

// IncRunCompleted records a run that reached done.
func (c *Collector) IncRunCompleted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.runsCompleted++
	c.mu.Unlock()
}

// IncRunFailed records a run that ended fatal.
func (c *Collector) IncRunFailed() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.runsFailed++
	c.mu.Unlock()
}

// IncRunInterrupted records a run aborted by cancellation.
func (c *Collector) IncRunInterrupted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.runsInterrupted++
	c.mu.Unlock()
}

// --- Chunk delivery ---

// AddChunkUploaded records one acknowledged chunk of n bytes.
func (c *Collector) AddChunkUploaded(n int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.chunksUploaded++
	c.bytesSent += n
	c.mu.Unlock()
}

// AddChunksSkipped records chunks skipped on resume.
func (c *Collector) AddChunksSkipped(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.mu.Lock()
	c.chunksSkipped += int64(n)
	c.mu.Unlock()
}

// --- Remote calls ---

// IncTransportFailure records a failed remote call for operation.
func (c *Collector) IncTransportFailure(operation string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.transportFailures++
	c.failuresByOperation[operation]++
	c.mu.Unlock()
}

// IncOperatorRecovery records an operator acknowledgement after a failure.
func (c *Collector) IncOperatorRecovery() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.operatorRecoveries++
	c.mu.Unlock()
}

// --- Progress store ---

// IncProgressWriteSuccess records a persisted acknowledgement.
func (c *Collector) IncProgressWriteSuccess() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.progressWriteSuccess++
	c.mu.Unlock()
}

// IncProgressWriteFailure records a failed progress write.
func (c *Collector) IncProgressWriteFailure() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.progressWriteFailure++
	c.mu.Unlock()
}

// Snapshot returns an immutable copy of the current metrics.
// Returns a zero-value Snapshot for a nil receiver.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{FailuresByOperation: map[string]int64{}}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	byOp := make(map[string]int64, len(c.failuresByOperation))
	for k, v := range c.failuresByOperation {
		byOp[k] = v
	}

	return Snapshot{
		RunsStarted:          c.runsStarted,
		RunsCompleted:        c.runsCompleted,
		RunsFailed:           c.runsFailed,
		RunsInterrupted:      c.runsInterrupted,
		ChunksUploaded:       c.chunksUploaded,
		ChunksSkipped:        c.chunksSkipped,
		BytesSent:            c.bytesSent,
		TransportFailures:    c.transportFailures,
		FailuresByOperation:  byOp,
		OperatorRecoveries:   c.operatorRecoveries,
		ProgressWriteSuccess: c.progressWriteSuccess,
		ProgressWriteFailure: c.progressWriteFailure,
		Canister:             c.canister,
		Network:              c.network,
		StorageBackend:       c.storageBackend,
		RunID:                c.runID,
		SessionKey:           c.sessionKey,
	}
}
