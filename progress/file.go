package progress

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/forsetidotfun/ferry/iox"
)

// FileStore keeps one file per session under a directory, holding the
// decimal index of the last acknowledged chunk.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates dir if needed and returns a store rooted at it.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("progress directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, wrapError("init", "", err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the directory holding the records.
func (s *FileStore) Dir() string {
	return s.dir
}

// Load reads the record for key.
func (s *FileStore) Load(_ context.Context, key Key) (int, bool, error) {
	if err := checkKey("load", key); err != nil {
		return 0, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(key)
}

func (s *FileStore) load(key Key) (int, bool, error) {
	data, err := os.ReadFile(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, wrapError("load", key, err)
	}
	index, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || index < 1 {
		return 0, false, &StoreError{Kind: ErrCorruptRecord, Op: "load", Key: key, Err: fmt.Errorf("content %q", data)}
	}
	return index, true, nil
}

// Record atomically replaces the record with ack.Index.
func (s *FileStore) Record(_ context.Context, key Key, ack Ack) error {
	if err := checkAck(key, ack); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok, err := s.load(key)
	if err != nil {
		return err
	}
	if ok && ack.Index == current {
		return nil
	}
	if ok && ack.Index < current {
		return &StoreError{Kind: ErrRegression, Op: "record", Key: key, Err: fmt.Errorf("%d < %d", ack.Index, current)}
	}
	return wrapError("record", key, s.replace(key, ack.Index))
}

func (s *FileStore) replace(key Key, index int) error {
	tmp, err := os.CreateTemp(s.dir, "."+string(key)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer iox.DiscardRemove(tmpPath)

	if _, err := tmp.WriteString(strconv.Itoa(index) + "\n"); err != nil {
		iox.DiscardClose(tmp)
		return err
	}
	if err := tmp.Sync(); err != nil {
		iox.DiscardClose(tmp)
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, s.path(key)); err != nil {
		return err
	}
	return syncDir(s.dir)
}

// Clear removes the record for key.
func (s *FileStore) Clear(_ context.Context, key Key) error {
	if err := checkKey("clear", key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	return wrapError("clear", key, iox.RemoveIfExists(s.path(key)))
}

// Keys lists the sessions with a record, sorted.
func (s *FileStore) Keys(_ context.Context) ([]Key, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, wrapError("keys", "", err)
	}
	var keys []Key
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if k := Key(e.Name()); k.Valid() {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys, nil
}

func (s *FileStore) path(key Key) string {
	return filepath.Join(s.dir, string(key))
}

// syncDir flushes a directory entry change. Platforms that cannot fsync a
// directory report an error that is ignored.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	_ = d.Sync()
	return d.Close()
}
