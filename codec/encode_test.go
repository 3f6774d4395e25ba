package codec

import (
	"errors"
	"strconv"
	"strings"
	"testing"

	"github.com/forsetidotfun/ferry/types"
)

// parseByteVec extracts the nat8 values of the first `field = vec { ... }` in text.
func parseByteVec(t *testing.T, text, field string) []byte {
	t.Helper()
	start := strings.Index(text, field+" = vec {")
	if start < 0 {
		t.Fatalf("field %q not found in %q", field, text)
	}
	rest := text[start+len(field+" = vec {"):]
	end := strings.Index(rest, "}")
	body := strings.TrimSpace(rest[:end])
	if body == "" {
		return nil
	}
	var out []byte
	for _, part := range strings.Split(body, ";") {
		n, err := strconv.ParseUint(strings.TrimSpace(part), 10, 8)
		if err != nil {
			t.Fatalf("parse %q: %v", part, err)
		}
		out = append(out, byte(n))
	}
	return out
}

func TestEncodeChunkArgument_Shape(t *testing.T) {
	chunk := types.Chunk{Index: 1, Offset: 0, Payload: []byte{65, 66, 67}}
	arg, err := EncodeChunkArgument(chunk, "model.gguf", 2_000_000)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	want := `(record { filename = "model.gguf"; chunk = vec { 65;66;67 }; chunksize = 2000000; offset = 0 })`
	if arg.String() != want {
		t.Errorf("got  %s\nwant %s", arg.String(), want)
	}
}

func TestEncodeChunkArgument_AllByteValues(t *testing.T) {
	payload := make([]byte, 512)
	for i := range payload {
		payload[i] = byte(255 - i%256)
	}
	chunk := types.Chunk{Index: 3, Offset: 1024, Payload: payload}

	arg, err := EncodeChunkArgument(chunk, "m.bin", 512)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	got := parseByteVec(t, arg.String(), FieldChunk)
	if len(got) != len(payload) {
		t.Fatalf("decoded %d bytes, want %d", len(got), len(payload))
	}
	for i := range payload {
		if got[i] != payload[i] {
			t.Fatalf("byte %d = %d, want %d", i, got[i], payload[i])
		}
	}
	if !strings.Contains(arg.String(), "offset = 1024") {
		t.Errorf("missing offset in %s", arg.String()[len(arg.String())-40:])
	}
}

func TestEncodeChunkArgument_Rejects(t *testing.T) {
	ok := types.Chunk{Index: 1, Payload: []byte{1}}

	if _, err := EncodeChunkArgument(ok, "", 10); err == nil {
		t.Error("expected error for empty name")
	}
	if _, err := EncodeChunkArgument(ok, "m", 0); !errors.Is(err, ErrInvalidChunkSize) {
		t.Errorf("expected ErrInvalidChunkSize, got %v", err)
	}
	if _, err := EncodeChunkArgument(types.Chunk{Index: 1}, "m", 10); err == nil {
		t.Error("expected error for empty payload")
	}
	if _, err := EncodeChunkArgument(types.Chunk{Index: 1, Payload: make([]byte, 11)}, "m", 10); err == nil {
		t.Error("expected error for oversized payload")
	}
	if _, err := EncodeChunkArgument(types.Chunk{Index: 1, Offset: -1, Payload: []byte{1}}, "m", 10); err == nil {
		t.Error("expected error for negative offset")
	}
}

func TestEncodeChunkArgument_EscapesName(t *testing.T) {
	chunk := types.Chunk{Index: 1, Payload: []byte{0}}
	arg, err := EncodeChunkArgument(chunk, "evil\"; chunk = vec {}; x = \"\\\n", 1)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	want := `filename = "evil\"; chunk = vec {}; x = \"\\\n"`
	if !strings.Contains(arg.String(), want) {
		t.Errorf("name not escaped: %s", arg.String())
	}
	// The real chunk field must still follow the filename.
	if got := parseByteVec(t, arg.String()[strings.Index(arg.String(), `"; chunk = vec { `)+3:], FieldChunk); len(got) != 1 {
		t.Errorf("expected one payload byte, got %v", got)
	}
}

func TestEncodeConfigArgument(t *testing.T) {
	arg, err := EncodeConfigArgument(types.TokenLimits{MaxTokensQuery: 3, MaxTokensUpdate: 10})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := `(record { max_tokens_query = 3 : nat64; max_tokens_update = 10 : nat64 })`
	if arg.String() != want {
		t.Errorf("got  %s\nwant %s", arg.String(), want)
	}
}

func TestEncodeActivationArgument(t *testing.T) {
	arg, err := EncodeActivationArgument("qwen2.5-0.5b.gguf")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := `(record { args = vec { "--model";"qwen2.5-0.5b.gguf" } })`
	if arg.String() != want {
		t.Errorf("got  %s\nwant %s", arg.String(), want)
	}

	if _, err := EncodeActivationArgument(""); err == nil {
		t.Error("expected error for empty name")
	}
}

func TestRecord_Validation(t *testing.T) {
	if _, err := NewRecord().Nat("bad name", 1).Argument(); !errors.Is(err, ErrInvalidField) {
		t.Errorf("expected ErrInvalidField for bad identifier, got %v", err)
	}
	if _, err := NewRecord().Nat("a", 1).Nat("a", 2).Argument(); !errors.Is(err, ErrInvalidField) {
		t.Errorf("expected ErrInvalidField for duplicate, got %v", err)
	}
	if _, err := NewRecord().Text("a", string([]byte{0xff, 0xfe})).Argument(); !errors.Is(err, ErrInvalidField) {
		t.Errorf("expected ErrInvalidField for invalid UTF-8, got %v", err)
	}
	if _, err := NewRecord().TextList("a", []string{"ok", string([]byte{0xc3})}).Argument(); !errors.Is(err, ErrInvalidField) {
		t.Errorf("expected ErrInvalidField for invalid UTF-8 list entry, got %v", err)
	}
}

func TestRecord_ControlCharacters(t *testing.T) {
	arg, err := NewRecord().Text("s", "a\x00b\x7fc\td").Argument()
	if err != nil {
		t.Fatal(err)
	}
	want := `(record { s = "a\u{0}b\u{7f}c\td" })`
	if arg.String() != want {
		t.Errorf("got  %s\nwant %s", arg.String(), want)
	}
}

func TestRecord_EmptyVectors(t *testing.T) {
	arg, err := NewRecord().Bytes("b", nil).TextList("l", nil).Argument()
	if err != nil {
		t.Fatal(err)
	}
	want := `(record { b = vec {}; l = vec {} })`
	if arg.String() != want {
		t.Errorf("got  %s\nwant %s", arg.String(), want)
	}
}

func TestArgument_Empty(t *testing.T) {
	var a Argument
	if !a.IsEmpty() || a.Len() != 0 {
		t.Error("zero Argument should be empty")
	}
}
