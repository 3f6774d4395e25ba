//nolint:revive // types is a common Go package naming convention
package types

import (
	"errors"
	"fmt"
)

// RemoteEndpoint identifies the target canister.
// Stateless from ferry's point of view beyond the side effects of calls.
type RemoteEndpoint struct {
	// Canister is the canister name (as in dfx.json) or principal.
	Canister string `json:"canister" yaml:"canister"`
	// Network is the dfx network selector (e.g. local, ic).
	Network string `json:"network" yaml:"network"`
}

// Validate checks that both identifiers are present.
func (e RemoteEndpoint) Validate() error {
	if e.Canister == "" {
		return errors.New("canister must be non-empty")
	}
	if e.Network == "" {
		return errors.New("network must be non-empty")
	}
	return nil
}

// String returns canister@network.
func (e RemoteEndpoint) String() string {
	return e.Canister + "@" + e.Network
}

// TokenLimits is the parameter set pushed during configuration.
type TokenLimits struct {
	MaxTokensQuery  uint64 `json:"max_tokens_query" yaml:"max_tokens_query"`
	MaxTokensUpdate uint64 `json:"max_tokens_update" yaml:"max_tokens_update"`
}

// Chunk is a contiguous slice of an artifact.
type Chunk struct {
	// Index is the 1-based sequence number.
	Index int
	// Offset is the byte offset into the artifact.
	Offset int64
	// Payload is the chunk content. Never longer than the configured chunk size.
	Payload []byte
	// IsLast is true for the final chunk of the artifact.
	IsLast bool
}

// Len returns the payload length.
func (c Chunk) Len() int64 {
	return int64(len(c.Payload))
}

// TransferSession describes one resumable transfer of an artifact.
type TransferSession struct {
	// Key binds the session to (ArtifactName, ChunkSize).
	Key string `json:"session_key"`
	// ArtifactName is the remote-side identifier of the artifact.
	ArtifactName string `json:"artifact"`
	// ArtifactSize is the artifact size in bytes.
	ArtifactSize int64 `json:"artifact_size"`
	// ChunkSize is the configured chunk size in bytes.
	ChunkSize int64 `json:"chunk_size"`
	// TotalChunks is ceil(ArtifactSize / ChunkSize).
	TotalChunks int `json:"total_chunks"`
	// LastAcknowledged is the highest acknowledged chunk index, nil if none.
	LastAcknowledged *int `json:"last_acknowledged,omitempty"`
}

// NextIndex returns the index of the first chunk not yet acknowledged.
func (s *TransferSession) NextIndex() int {
	if s.LastAcknowledged == nil {
		return 1
	}
	return *s.LastAcknowledged + 1
}

// Complete reports whether every chunk has been acknowledged.
func (s *TransferSession) Complete() bool {
	return s.LastAcknowledged != nil && *s.LastAcknowledged >= s.TotalChunks
}

// Acknowledge advances LastAcknowledged to index.
// The index must be exactly the next expected chunk.
func (s *TransferSession) Acknowledge(index int) error {
	if want := s.NextIndex(); index != want {
		return fmt.Errorf("acknowledge chunk %d: expected chunk %d", index, want)
	}
	if index > s.TotalChunks {
		return fmt.Errorf("acknowledge chunk %d: session has %d chunks", index, s.TotalChunks)
	}
	s.LastAcknowledged = &index
	return nil
}
