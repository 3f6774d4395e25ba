// Package codec splits artifacts into ordered chunks and renders remote call
// arguments in the textual record grammar accepted by dfx.
//
// Splitting is deterministic: the same source and chunk size always produce
// the same chunk sequence, which is what makes resumption safe.
package codec

import (
	"errors"
	"fmt"
	"io"
	"iter"

	"github.com/forsetidotfun/ferry/types"
)

// ErrInvalidChunkSize is returned when the chunk size is not positive.
var ErrInvalidChunkSize = errors.New("chunk size must be greater than 0")

// ErrEmptyArtifact is returned for zero-length artifacts.
var ErrEmptyArtifact = errors.New("artifact is empty")

// Plan describes how an artifact of a given size is partitioned.
type Plan struct {
	size      int64
	chunkSize int64
	total     int
}

// NewPlan computes the partition of size bytes into chunkSize chunks.
func NewPlan(size, chunkSize int64) (Plan, error) {
	if chunkSize <= 0 {
		return Plan{}, fmt.Errorf("%w, got %d", ErrInvalidChunkSize, chunkSize)
	}
	if size <= 0 {
		return Plan{}, ErrEmptyArtifact
	}
	total := size / chunkSize
	if size%chunkSize != 0 {
		total++
	}
	return Plan{size: size, chunkSize: chunkSize, total: int(total)}, nil
}

// Total returns ceil(size / chunkSize).
func (p Plan) Total() int { return p.total }

// Size returns the artifact size in bytes.
func (p Plan) Size() int64 { return p.size }

// ChunkSize returns the configured chunk size in bytes.
func (p Plan) ChunkSize() int64 { return p.chunkSize }

// Bounds returns the offset and length of chunk index (1-based).
func (p Plan) Bounds(index int) (offset, length int64, err error) {
	if index < 1 || index > p.total {
		return 0, 0, fmt.Errorf("chunk index %d out of range [1, %d]", index, p.total)
	}
	offset = int64(index-1) * p.chunkSize
	length = p.chunkSize
	if rest := p.size - offset; rest < length {
		length = rest
	}
	return offset, length, nil
}

// Source is a random-access artifact body.
type Source interface {
	io.ReaderAt
	Size() int64
}

// Splitter yields the chunks of a Source.
type Splitter struct {
	src  Source
	plan Plan
}

// Split prepares a lazy chunk sequence over src.
// No bytes are read until chunks are requested.
func Split(src Source, chunkSize int64) (*Splitter, error) {
	plan, err := NewPlan(src.Size(), chunkSize)
	if err != nil {
		return nil, err
	}
	return &Splitter{src: src, plan: plan}, nil
}

// Plan returns the partition used by the splitter.
func (s *Splitter) Plan() Plan { return s.plan }

// Chunk reads chunk index (1-based).
func (s *Splitter) Chunk(index int) (types.Chunk, error) {
	offset, length, err := s.plan.Bounds(index)
	if err != nil {
		return types.Chunk{}, err
	}

	payload := make([]byte, length)
	n, err := s.src.ReadAt(payload, offset)
	// ReadAt may return io.EOF together with a full read at the end of the source.
	if err != nil && !(errors.Is(err, io.EOF) && int64(n) == length) {
		return types.Chunk{}, fmt.Errorf("read chunk %d at offset %d: %w", index, offset, err)
	}
	if int64(n) != length {
		return types.Chunk{}, fmt.Errorf("read chunk %d: short read %d of %d bytes", index, n, length)
	}

	return types.Chunk{
		Index:   index,
		Offset:  offset,
		Payload: payload,
		IsLast:  index == s.plan.total,
	}, nil
}

// Chunks yields chunks from index from (1-based) through the last chunk.
// Iteration stops at the first read error, which is yielded with a zero Chunk.
func (s *Splitter) Chunks(from int) iter.Seq2[types.Chunk, error] {
	return func(yield func(types.Chunk, error) bool) {
		if from < 1 {
			from = 1
		}
		for i := from; i <= s.plan.total; i++ {
			chunk, err := s.Chunk(i)
			if !yield(chunk, err) || err != nil {
				return
			}
		}
	}
}
