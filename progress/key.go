// Package progress persists the last acknowledged chunk of a transfer.
//
// Records are scoped by a session key derived from the artifact name and the
// chunk size, so a record written for one chunking of an artifact can never
// be resumed under another.
package progress

import (
	"encoding/hex"
	"strconv"

	"github.com/zeebo/blake3"
)

// Key identifies a transfer session.
type Key string

// String returns the hex form of the key.
func (k Key) String() string { return string(k) }

// Valid reports whether k is a well-formed session key.
func (k Key) Valid() bool {
	if len(k) != 2*keyBytes {
		return false
	}
	_, err := hex.DecodeString(string(k))
	return err == nil
}

// keyBytes is the digest length used for session keys.
const keyBytes = 16

type domainKey [32]byte

// Domain separation keys: ASCII domain name zero-padded to 32 bytes.
var (
	sessionDomainKey = domainKey{
		'f', 'e', 'r', 'r', 'y', '.', 'p', 'r', 'o', 'g', 'r', 'e', 's', 's', '.', 's',
		'e', 's', 's', 'i', 'o', 'n', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}

	chunkDomainKey = domainKey{
		'f', 'e', 'r', 'r', 'y', '.', 'p', 'r', 'o', 'g', 'r', 'e', 's', 's', '.', 'c',
		'h', 'u', 'n', 'k', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}
)

// SessionKey derives the session key for (artifactName, chunkSize).
// The name is length-prefixed so no two pairs share an encoding.
func SessionKey(artifactName string, chunkSize int64) Key {
	h := newKeyed(sessionDomainKey)
	_, _ = h.Write([]byte(strconv.Itoa(len(artifactName)) + ":" + artifactName + ":" + strconv.FormatInt(chunkSize, 10)))
	sum := h.Sum(nil)[:keyBytes]
	return Key(hex.EncodeToString(sum))
}

// ChunkDigest returns the hex BLAKE3 digest of an acknowledged payload.
func ChunkDigest(payload []byte) string {
	h := newKeyed(chunkDomainKey)
	_, _ = h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

func newKeyed(key domainKey) *blake3.Hasher {
	h, err := blake3.NewKeyed(key[:])
	if err != nil {
		// Only possible with a key that is not 32 bytes.
		panic("blake3: invalid domain key: " + err.Error())
	}
	return h
}
