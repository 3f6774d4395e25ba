package progress

import "testing"

func TestSessionKey_Deterministic(t *testing.T) {
	a := SessionKey("model.gguf", 2_000_000)
	b := SessionKey("model.gguf", 2_000_000)
	if a != b {
		t.Errorf("same inputs gave %s and %s", a, b)
	}
	if !a.Valid() {
		t.Errorf("key %q is not valid", a)
	}
	if len(a) != 32 {
		t.Errorf("key length = %d, want 32", len(a))
	}
}

func TestSessionKey_BindsNameAndChunkSize(t *testing.T) {
	base := SessionKey("model.gguf", 2_000_000)
	if SessionKey("model.gguf", 1_000_000) == base {
		t.Error("changed chunk size must change the key")
	}
	if SessionKey("other.gguf", 2_000_000) == base {
		t.Error("changed name must change the key")
	}
	// Length prefixing keeps ambiguous concatenations apart.
	if SessionKey("a:1", 2) == SessionKey("a", 12) {
		t.Error("ambiguous pairs share a key")
	}
}

func TestKey_Valid(t *testing.T) {
	tests := []struct {
		key  Key
		want bool
	}{
		{"", false},
		{"abc", false},
		{"zz000000000000000000000000000000", false},
		{"0123456789abcdef0123456789abcdef", true},
		{".0123456789abcdef0123456789abcde", false},
	}
	for _, tt := range tests {
		if got := tt.key.Valid(); got != tt.want {
			t.Errorf("Key(%q).Valid() = %v, want %v", tt.key, got, tt.want)
		}
	}
}

func TestChunkDigest(t *testing.T) {
	d1 := ChunkDigest([]byte{1, 2, 3})
	d2 := ChunkDigest([]byte{1, 2, 4})
	if d1 == d2 {
		t.Error("different payloads share a digest")
	}
	if len(d1) != 64 {
		t.Errorf("digest length = %d, want 64", len(d1))
	}
}
