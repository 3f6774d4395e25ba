// Package artifact opens the file being transferred.
//
// Compressed inputs (.zst, .lz4) are decompressed once into a staging
// directory; the staged copy is what gets chunked and uploaded, under the
// name without the compression suffix.
package artifact

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/zeebo/blake3"

	"github.com/forsetidotfun/ferry/iox"
)

// ErrArtifactNotFound indicates the artifact path does not exist.
var ErrArtifactNotFound = errors.New("artifact does not exist")

// Compression identifies how the input file is encoded.
type Compression string

const (
	CompressionNone Compression = ""
	CompressionZstd Compression = "zstd"
	CompressionLZ4  Compression = "lz4"
)

// DetectCompression infers the compression from the file suffix.
func DetectCompression(path string) Compression {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".zst", ".zstd":
		return CompressionZstd
	case ".lz4":
		return CompressionLZ4
	default:
		return CompressionNone
	}
}

// Artifact is an opened, read-only artifact.
type Artifact struct {
	name        string
	source      string
	path        string
	size        int64
	compression Compression
	file        *os.File

	digestOnce sync.Once
	digest     string
	digestErr  error
}

// Open opens the artifact at path. Compressed inputs are staged under
// stagingDir first; stagingDir may be empty for uncompressed inputs.
func Open(path, stagingDir string) (*Artifact, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("stat artifact: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("artifact %s is a directory", path)
	}

	a := &Artifact{
		name:        filepath.Base(path),
		source:      path,
		path:        path,
		compression: DetectCompression(path),
	}
	if a.compression != CompressionNone {
		if stagingDir == "" {
			return nil, fmt.Errorf("artifact %s is compressed and no staging directory is set", path)
		}
		a.name = strings.TrimSuffix(a.name, filepath.Ext(a.name))
		a.path, err = stage(path, info, filepath.Join(stagingDir, a.name), a.compression)
		if err != nil {
			return nil, err
		}
	}

	f, err := os.Open(a.path)
	if err != nil {
		return nil, fmt.Errorf("open artifact: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		iox.DiscardClose(f)
		return nil, fmt.Errorf("stat artifact: %w", err)
	}
	a.file = f
	a.size = st.Size()
	return a, nil
}

// Name is the name the remote knows the artifact by.
func (a *Artifact) Name() string { return a.name }

// Source is the path that was opened.
func (a *Artifact) Source() string { return a.source }

// Path is the file actually read; differs from Source for staged inputs.
func (a *Artifact) Path() string { return a.path }

// Size is the uncompressed size in bytes.
func (a *Artifact) Size() int64 { return a.size }

// Compression reports how the source was encoded.
func (a *Artifact) Compression() Compression { return a.compression }

// ReadAt implements io.ReaderAt.
func (a *Artifact) ReadAt(p []byte, off int64) (int, error) {
	return a.file.ReadAt(p, off)
}

// Close releases the file handle.
func (a *Artifact) Close() error {
	return a.file.Close()
}

// Digest returns the hex BLAKE3 digest of the uncompressed content.
// Computed once.
func (a *Artifact) Digest() (string, error) {
	a.digestOnce.Do(func() {
		h := blake3.New()
		if _, err := io.Copy(h, io.NewSectionReader(a.file, 0, a.size)); err != nil {
			a.digestErr = fmt.Errorf("digest artifact: %w", err)
			return
		}
		a.digest = hex.EncodeToString(h.Sum(nil))
	})
	return a.digest, a.digestErr
}

// stage decompresses src into dst unless dst already holds a copy made
// from the same source. The staged file carries the source mtime.
func stage(src string, srcInfo fs.FileInfo, dst string, c Compression) (string, error) {
	if info, err := os.Stat(dst); err == nil && info.ModTime().Equal(srcInfo.ModTime()) {
		return dst, nil
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("create staging directory: %w", err)
	}

	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("open artifact: %w", err)
	}
	defer iox.DiscardClose(in)

	r, closeReader, err := decompressor(in, c)
	if err != nil {
		return "", err
	}
	defer closeReader()

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create staging file: %w", err)
	}
	tmpPath := tmp.Name()
	defer iox.DiscardRemove(tmpPath)

	if _, err := io.Copy(tmp, r); err != nil {
		iox.DiscardClose(tmp)
		return "", fmt.Errorf("decompress %s: %w", src, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close staging file: %w", err)
	}
	if err := os.Chtimes(tmpPath, srcInfo.ModTime(), srcInfo.ModTime()); err != nil {
		return "", fmt.Errorf("stamp staging file: %w", err)
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		return "", fmt.Errorf("install staging file: %w", err)
	}
	return dst, nil
}

func decompressor(r io.Reader, c Compression) (io.Reader, func(), error) {
	switch c {
	case CompressionZstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("zstd reader: %w", err)
		}
		return dec, dec.Close, nil
	case CompressionLZ4:
		return lz4.NewReader(r), func() {}, nil
	default:
		return r, func() {}, nil
	}
}
