// Package adapter defines the completion notification boundary.
//
// Adapters publish transfer completion notifications to downstream systems.
// The uploader owns adapter lifecycle; users provide configuration only.
package adapter

import "context"

// EventTypeTransferCompleted is the event_type of TransferCompletedEvent.
const EventTypeTransferCompleted = "transfer_completed"

// TransferCompletedEvent is the payload published after an artifact is activated.
type TransferCompletedEvent struct {
	ContractVersion string `json:"contract_version"`
	EventType       string `json:"event_type"` // always "transfer_completed"
	RunID           string `json:"run_id"`
	SessionKey      string `json:"session_key"`
	Artifact        string `json:"artifact"`
	ArtifactDigest  string `json:"artifact_digest,omitempty"`
	Canister        string `json:"canister"`
	Network         string `json:"network"`
	ChunkSize       int64  `json:"chunk_size"`
	TotalChunks     int    `json:"total_chunks"`
	UploadedChunks  int    `json:"uploaded_chunks"`
	SkippedChunks   int    `json:"skipped_chunks"`
	Recoveries      int    `json:"recoveries"`
	BytesSent       int64  `json:"bytes_sent"`
	Timestamp       string `json:"timestamp"` // ISO 8601
	DurationMs      int64  `json:"duration_ms"`
}

// Adapter publishes transfer completion events to a downstream system.
type Adapter interface {
	// Publish sends a completion event to the downstream system.
	// Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *TransferCompletedEvent) error

	// Close releases adapter resources.
	Close() error
}
