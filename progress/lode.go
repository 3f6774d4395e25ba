package progress

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/justapithecus/lode/lode"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/forsetidotfun/ferry/iox"
)

const (
	journalRoot   = "progress/"
	journalSuffix = ".ack"
)

// LodeStore keeps an append-only journal of acknowledgements per session in
// a lode Store. Each acknowledged chunk is one msgpack object at
// progress/<key>/<index>.ack; the highest index is the session's record.
type LodeStore struct {
	storeFactory lode.StoreFactory
	storeOnce    sync.Once
	store        lode.Store
	storeErr     error

	mu  sync.Mutex
	now func() time.Time
}

var _ Store = (*LodeStore)(nil)

// NewLodeStore creates a journal store over the given lode store factory.
// Use lode.NewMemoryFactory() for testing.
func NewLodeStore(factory lode.StoreFactory) *LodeStore {
	return &LodeStore{storeFactory: factory, now: time.Now}
}

// NewLodeFSStore creates a journal store on the local filesystem under root.
func NewLodeFSStore(root string) (*LodeStore, error) {
	if root == "" {
		return nil, errors.New("progress root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, wrapError("init", "", err)
	}
	return NewLodeStore(lode.NewFSFactory(root)), nil
}

// getOrCreateStore lazily initializes the Store from the factory.
func (s *LodeStore) getOrCreateStore() (lode.Store, error) {
	s.storeOnce.Do(func() {
		s.store, s.storeErr = s.storeFactory()
		if s.storeErr != nil {
			s.storeErr = wrapError("init", "", s.storeErr)
		}
	})
	return s.store, s.storeErr
}

// Load returns the highest journaled index for key.
func (s *LodeStore) Load(ctx context.Context, key Key) (int, bool, error) {
	if err := checkKey("load", key); err != nil {
		return 0, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	store, err := s.getOrCreateStore()
	if err != nil {
		return 0, false, err
	}
	ack, ok, _, err := s.last(ctx, store, key)
	return ack.Index, ok, err
}

// Last returns the highest journaled acknowledgement for key.
func (s *LodeStore) Last(ctx context.Context, key Key) (Ack, bool, error) {
	if err := checkKey("load", key); err != nil {
		return Ack{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	store, err := s.getOrCreateStore()
	if err != nil {
		return Ack{}, false, err
	}
	ack, ok, _, err := s.last(ctx, store, key)
	return ack, ok, err
}

// last returns the highest entry that decodes. Entries are only written
// after the remote confirmed the chunk, so an undecodable entry above it is
// a write torn by a crash and is reported in torn instead of failing.
func (s *LodeStore) last(ctx context.Context, store lode.Store, key Key) (ack Ack, ok bool, torn []int, err error) {
	indexes, err := s.indexes(ctx, store, key)
	if err != nil {
		return Ack{}, false, nil, err
	}
	for i := len(indexes) - 1; i >= 0; i-- {
		ack, err := s.read(ctx, store, key, indexes[i])
		if errors.Is(err, ErrCorruptRecord) {
			torn = append(torn, indexes[i])
			continue
		}
		if err != nil {
			return Ack{}, false, nil, err
		}
		if ack.Index != indexes[i] {
			return Ack{}, false, nil, &StoreError{Kind: ErrCorruptRecord, Op: "load", Key: key,
				Err: fmt.Errorf("entry %d holds index %d", indexes[i], ack.Index)}
		}
		return ack, true, torn, nil
	}
	return Ack{}, false, torn, nil
}

// Journal returns every acknowledgement recorded for key, in index order.
func (s *LodeStore) Journal(ctx context.Context, key Key) ([]Ack, error) {
	if err := checkKey("journal", key); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	store, err := s.getOrCreateStore()
	if err != nil {
		return nil, err
	}
	indexes, err := s.indexes(ctx, store, key)
	if err != nil {
		return nil, err
	}
	acks := make([]Ack, 0, len(indexes))
	for _, i := range indexes {
		ack, err := s.read(ctx, store, key, i)
		if errors.Is(err, ErrCorruptRecord) {
			continue
		}
		if err != nil {
			return nil, err
		}
		acks = append(acks, ack)
	}
	return acks, nil
}

// Record appends ack to the journal.
func (s *LodeStore) Record(ctx context.Context, key Key, ack Ack) error {
	if err := checkAck(key, ack); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	store, err := s.getOrCreateStore()
	if err != nil {
		return err
	}
	current, ok, torn, err := s.last(ctx, store, key)
	if err != nil {
		return err
	}
	if ok && ack.Index == current.Index {
		return nil
	}
	if ok && ack.Index < current.Index {
		return &StoreError{Kind: ErrRegression, Op: "record", Key: key, Err: fmt.Errorf("%d < %d", ack.Index, current.Index)}
	}
	// lode refuses to overwrite, so torn entries go before the new one is put.
	for _, i := range torn {
		if err := store.Delete(ctx, entryPath(key, i)); err != nil && !errors.Is(classifyError(err), ErrNotFound) {
			return wrapError("record", key, err)
		}
	}

	if ack.AckedAt.IsZero() {
		ack.AckedAt = s.now().UTC()
	}
	data, err := msgpack.Marshal(&ack)
	if err != nil {
		return wrapError("record", key, err)
	}
	return wrapError("record", key, store.Put(ctx, entryPath(key, ack.Index), bytes.NewReader(data)))
}

// Clear deletes the journal for key.
func (s *LodeStore) Clear(ctx context.Context, key Key) error {
	if err := checkKey("clear", key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	store, err := s.getOrCreateStore()
	if err != nil {
		return err
	}
	paths, err := store.List(ctx, sessionPrefix(key))
	if err != nil {
		if errors.Is(classifyError(err), ErrNotFound) {
			return nil
		}
		return wrapError("clear", key, err)
	}
	for _, p := range paths {
		if err := store.Delete(ctx, relative(p)); err != nil && !errors.Is(classifyError(err), ErrNotFound) {
			return wrapError("clear", key, err)
		}
	}
	return nil
}

// Keys lists the sessions with at least one journal entry, sorted.
func (s *LodeStore) Keys(ctx context.Context) ([]Key, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	store, err := s.getOrCreateStore()
	if err != nil {
		return nil, err
	}
	paths, err := store.List(ctx, journalRoot)
	if err != nil {
		if errors.Is(classifyError(err), ErrNotFound) {
			return nil, nil
		}
		return nil, wrapError("keys", "", err)
	}

	seen := make(map[Key]bool)
	var keys []Key
	for _, p := range paths {
		rest := strings.TrimPrefix(relative(p), journalRoot)
		seg, _, found := strings.Cut(rest, "/")
		if !found {
			continue
		}
		if k := Key(seg); k.Valid() && !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys, nil
}

// indexes lists the journaled indexes for key in ascending order.
func (s *LodeStore) indexes(ctx context.Context, store lode.Store, key Key) ([]int, error) {
	paths, err := store.List(ctx, sessionPrefix(key))
	if err != nil {
		if errors.Is(classifyError(err), ErrNotFound) {
			return nil, nil
		}
		return nil, wrapError("load", key, err)
	}
	var out []int
	for _, p := range paths {
		name := path.Base(p)
		if !strings.HasSuffix(name, journalSuffix) {
			continue
		}
		i, err := strconv.Atoi(strings.TrimSuffix(name, journalSuffix))
		if err != nil || i < 1 {
			return nil, &StoreError{Kind: ErrCorruptRecord, Op: "load", Key: key, Err: fmt.Errorf("entry %q", name)}
		}
		out = append(out, i)
	}
	sort.Ints(out)
	return out, nil
}

func (s *LodeStore) read(ctx context.Context, store lode.Store, key Key, index int) (Ack, error) {
	rc, err := store.Get(ctx, entryPath(key, index))
	if err != nil {
		return Ack{}, wrapError("load", key, err)
	}
	defer iox.DiscardClose(rc)

	data, err := io.ReadAll(rc)
	if err != nil {
		return Ack{}, wrapError("load", key, err)
	}
	var ack Ack
	if err := msgpack.Unmarshal(data, &ack); err != nil {
		return Ack{}, &StoreError{Kind: ErrCorruptRecord, Op: "load", Key: key, Err: err}
	}
	return ack, nil
}

func sessionPrefix(key Key) string {
	return journalRoot + string(key) + "/"
}

func entryPath(key Key, index int) string {
	return fmt.Sprintf("%s%010d%s", sessionPrefix(key), index, journalSuffix)
}

// relative strips anything before the journal root, so paths listed by
// prefixed backends can be passed back to Get and Delete.
func relative(p string) string {
	if i := strings.Index(p, journalRoot); i > 0 {
		return p[i:]
	}
	return p
}
