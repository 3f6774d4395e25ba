package codec

import (
	"errors"
	"fmt"

	"github.com/forsetidotfun/ferry/types"
)

// Field names expected by the remote canister methods.
const (
	FieldFilename        = "filename"
	FieldChunk           = "chunk"
	FieldChunkSize       = "chunksize"
	FieldOffset          = "offset"
	FieldMaxTokensQuery  = "max_tokens_query"
	FieldMaxTokensUpdate = "max_tokens_update"
	FieldArgs            = "args"
)

// ActivationFlag precedes the artifact name in the activation argument list.
const ActivationFlag = "--model"

// EncodeChunkArgument renders the upload argument for chunk:
//
//	(record { filename = "<name>"; chunk = vec { ... }; chunksize = <n>; offset = <n> })
func EncodeChunkArgument(chunk types.Chunk, artifactName string, chunkSize int64) (Argument, error) {
	if artifactName == "" {
		return Argument{}, errors.New("encode chunk: artifact name is empty")
	}
	if chunkSize <= 0 {
		return Argument{}, fmt.Errorf("encode chunk: %w, got %d", ErrInvalidChunkSize, chunkSize)
	}
	if chunk.Offset < 0 {
		return Argument{}, fmt.Errorf("encode chunk %d: negative offset %d", chunk.Index, chunk.Offset)
	}
	if len(chunk.Payload) == 0 {
		return Argument{}, fmt.Errorf("encode chunk %d: empty payload", chunk.Index)
	}
	if chunk.Len() > chunkSize {
		return Argument{}, fmt.Errorf("encode chunk %d: payload %d exceeds chunk size %d", chunk.Index, chunk.Len(), chunkSize)
	}

	return NewRecord().
		Text(FieldFilename, artifactName).
		Bytes(FieldChunk, chunk.Payload).
		Nat(FieldChunkSize, uint64(chunkSize)).
		Nat(FieldOffset, uint64(chunk.Offset)).
		Argument()
}

// EncodeConfigArgument renders the parameter push argument:
//
//	(record { max_tokens_query = <n> : nat64; max_tokens_update = <n> : nat64 })
func EncodeConfigArgument(limits types.TokenLimits) (Argument, error) {
	return NewRecord().
		Nat64(FieldMaxTokensQuery, limits.MaxTokensQuery).
		Nat64(FieldMaxTokensUpdate, limits.MaxTokensUpdate).
		Argument()
}

// EncodeActivationArgument renders the activation argument:
//
//	(record { args = vec { "--model";"<name>" } })
func EncodeActivationArgument(artifactName string) (Argument, error) {
	if artifactName == "" {
		return Argument{}, errors.New("encode activation: artifact name is empty")
	}
	return NewRecord().
		TextList(FieldArgs, []string{ActivationFlag, artifactName}).
		Argument()
}
