package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/forsetidotfun/ferry/types"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("invalid JSON log line %q: %v", line, err)
		}
		out = append(out, entry)
	}
	return out
}

func TestLogger_RunContext(t *testing.T) {
	var buf bytes.Buffer
	l := newLoggerWithWriter(&types.RunMeta{RunID: "run-1", SessionKey: "abc123"}, &buf)

	l.Info("chunk acknowledged", map[string]any{"index": 2})

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e["run_id"] != "run-1" {
		t.Errorf("run_id = %v, want run-1", e["run_id"])
	}
	if e["session_key"] != "abc123" {
		t.Errorf("session_key = %v, want abc123", e["session_key"])
	}
	if e["level"] != "info" {
		t.Errorf("level = %v, want info", e["level"])
	}
	fields, ok := e["fields"].(map[string]any)
	if !ok || fields["index"] != float64(2) {
		t.Errorf("fields = %v, want index=2", e["fields"])
	}
}

func TestLogger_OmitsEmptySessionKey(t *testing.T) {
	var buf bytes.Buffer
	l := newLoggerWithWriter(&types.RunMeta{RunID: "run-1"}, &buf)
	l.Warn("no session yet", nil)

	entries := decodeLines(t, &buf)
	if _, ok := entries[0]["session_key"]; ok {
		t.Error("session_key should be omitted when empty")
	}
}

func TestLogger_WithAndOutput(t *testing.T) {
	var first, second bytes.Buffer
	l := newLoggerWithWriter(&types.RunMeta{RunID: "run-2"}, &first).
		With(map[string]any{"artifact": "model.gguf"})

	redirected := l.WithOutput(&second)
	redirected.Error("activation failed", map[string]any{"operation": "activate"})

	if first.Len() != 0 {
		t.Errorf("original writer should be untouched, got %q", first.String())
	}
	entries := decodeLines(t, &second)
	if entries[0]["artifact"] != "model.gguf" {
		t.Errorf("artifact = %v, want model.gguf", entries[0]["artifact"])
	}
	if entries[0]["run_id"] != "run-2" {
		t.Errorf("run_id = %v, want run-2", entries[0]["run_id"])
	}
}

func TestNewNop(t *testing.T) {
	l := NewNop()
	l.Info("discarded", nil)
	l.Sugar().Infof("discarded %d", 1)
}
