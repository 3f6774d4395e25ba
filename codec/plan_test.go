package codec

import (
	"bytes"
	"errors"
	"testing"
)

func testData(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i * 7)
	}
	return data
}

func TestNewPlan_Errors(t *testing.T) {
	if _, err := NewPlan(10, 0); !errors.Is(err, ErrInvalidChunkSize) {
		t.Errorf("expected ErrInvalidChunkSize, got %v", err)
	}
	if _, err := NewPlan(10, -5); !errors.Is(err, ErrInvalidChunkSize) {
		t.Errorf("expected ErrInvalidChunkSize, got %v", err)
	}
	if _, err := NewPlan(0, 10); !errors.Is(err, ErrEmptyArtifact) {
		t.Errorf("expected ErrEmptyArtifact, got %v", err)
	}
}

func TestSplit_PartitionProperty(t *testing.T) {
	cases := []struct {
		size, chunkSize int
	}{
		{1, 1},
		{1, 10},
		{10, 1},
		{10, 3},
		{10, 5},
		{10, 10},
		{4096, 1000},
		{65537, 4096},
	}

	for _, tc := range cases {
		data := testData(tc.size)
		s, err := Split(bytes.NewReader(data), int64(tc.chunkSize))
		if err != nil {
			t.Fatalf("Split(%d, %d): %v", tc.size, tc.chunkSize, err)
		}

		wantTotal := (tc.size + tc.chunkSize - 1) / tc.chunkSize
		if s.Plan().Total() != wantTotal {
			t.Errorf("size=%d chunk=%d: Total() = %d, want %d", tc.size, tc.chunkSize, s.Plan().Total(), wantTotal)
		}

		var rebuilt []byte
		var lastOffset int64 = -1
		count := 0
		for chunk, err := range s.Chunks(1) {
			if err != nil {
				t.Fatalf("chunk error: %v", err)
			}
			count++
			if chunk.Index != count {
				t.Errorf("chunk index = %d, want %d", chunk.Index, count)
			}
			if chunk.Offset <= lastOffset {
				t.Errorf("offsets not strictly increasing: %d after %d", chunk.Offset, lastOffset)
			}
			if chunk.Offset != int64(len(rebuilt)) {
				t.Errorf("chunk %d offset = %d, want %d", chunk.Index, chunk.Offset, len(rebuilt))
			}
			if !chunk.IsLast && len(chunk.Payload) != tc.chunkSize {
				t.Errorf("non-final chunk %d has length %d, want %d", chunk.Index, len(chunk.Payload), tc.chunkSize)
			}
			if chunk.IsLast != (count == wantTotal) {
				t.Errorf("chunk %d IsLast = %v", chunk.Index, chunk.IsLast)
			}
			lastOffset = chunk.Offset
			rebuilt = append(rebuilt, chunk.Payload...)
		}

		if count != wantTotal {
			t.Errorf("size=%d chunk=%d: yielded %d chunks, want %d", tc.size, tc.chunkSize, count, wantTotal)
		}
		if !bytes.Equal(rebuilt, data) {
			t.Errorf("size=%d chunk=%d: concatenated chunks differ from artifact", tc.size, tc.chunkSize)
		}
	}
}

func TestSplit_UnevenTail(t *testing.T) {
	data := testData(5_000_000)
	s, err := Split(bytes.NewReader(data), 2_000_000)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}

	wantSizes := []int{2_000_000, 2_000_000, 1_000_000}
	wantOffsets := []int64{0, 2_000_000, 4_000_000}

	i := 0
	for chunk, err := range s.Chunks(1) {
		if err != nil {
			t.Fatalf("chunk error: %v", err)
		}
		if len(chunk.Payload) != wantSizes[i] {
			t.Errorf("chunk %d size = %d, want %d", chunk.Index, len(chunk.Payload), wantSizes[i])
		}
		if chunk.Offset != wantOffsets[i] {
			t.Errorf("chunk %d offset = %d, want %d", chunk.Index, chunk.Offset, wantOffsets[i])
		}
		i++
	}
	if i != 3 {
		t.Fatalf("got %d chunks, want 3", i)
	}
}

func TestSplit_Restartable(t *testing.T) {
	data := testData(1000)
	s, err := Split(bytes.NewReader(data), 128)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}

	var first, second [][]byte
	for chunk, err := range s.Chunks(1) {
		if err != nil {
			t.Fatal(err)
		}
		first = append(first, chunk.Payload)
	}
	// Resume from the middle: chunks 1..3 from the first pass plus 4..N must match.
	for i := 1; i <= 3; i++ {
		chunk, err := s.Chunk(i)
		if err != nil {
			t.Fatal(err)
		}
		second = append(second, chunk.Payload)
	}
	for chunk, err := range s.Chunks(4) {
		if err != nil {
			t.Fatal(err)
		}
		second = append(second, chunk.Payload)
	}

	if len(first) != len(second) {
		t.Fatalf("chunk count mismatch: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if !bytes.Equal(first[i], second[i]) {
			t.Errorf("chunk %d differs between runs", i+1)
		}
	}
}

func TestSplit_EarlyBreak(t *testing.T) {
	s, err := Split(bytes.NewReader(testData(100)), 10)
	if err != nil {
		t.Fatal(err)
	}
	n := 0
	for range s.Chunks(1) {
		n++
		if n == 2 {
			break
		}
	}
	if n != 2 {
		t.Errorf("expected iteration to stop after 2 chunks, got %d", n)
	}
}

func TestSplitter_ChunkOutOfRange(t *testing.T) {
	s, err := Split(bytes.NewReader(testData(100)), 10)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Chunk(0); err == nil {
		t.Error("expected error for index 0")
	}
	if _, err := s.Chunk(11); err == nil {
		t.Error("expected error for index past the end")
	}
}

// shortSource reports a larger size than it can deliver.
type shortSource struct {
	*bytes.Reader
	size int64
}

func (s shortSource) Size() int64 { return s.size }

func TestSplitter_ShortRead(t *testing.T) {
	src := shortSource{Reader: bytes.NewReader(testData(15)), size: 20}
	s, err := Split(src, 10)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Chunk(2); err == nil {
		t.Error("expected error for truncated source")
	}
}
