package store

import (
	"context"
	"errors"
	"net/url"
	"sort"
	"strings"

	"github.com/BaSui01/depflow/types"
)

// ErrClosed is returned by every operation on a closed store.
var ErrClosed = types.NewError(types.ErrStoreUnavailable, "store is closed")

// Store is a key/value backing store.
//
// Implementations are safe for concurrent use. Every method honors ctx: an
// Apply whose context expires before commit must not commit.
type Store interface {
	// Put stores value under key, replacing any previous value.
	Put(ctx context.Context, key string, value []byte) error

	// Get returns the value under key. found is false when the key is absent.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// ScanPrefix iterates over all keys with the given prefix in ascending key order.
	ScanPrefix(ctx context.Context, prefix string) (Iterator, error)

	// Apply commits every operation in the batch atomically: either all are
	// visible afterwards or none are.
	Apply(ctx context.Context, batch *Batch) error

	// Close releases the store's resources.
	Close() error
}

// Iterator walks key/value pairs. Callers must Close it.
type Iterator interface {
	Next() bool
	Key() string
	Value() []byte
	Err() error
	Close() error
}

// KV is a key/value pair.
type KV struct {
	Key   string
	Value []byte
}

// Collect drains and closes it.
func Collect(it Iterator) ([]KV, error) {
	defer it.Close()

	var out []KV
	for it.Next() {
		out = append(out, KV{Key: it.Key(), Value: it.Value()})
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// SliceIterator iterates over an in-memory snapshot.
type SliceIterator struct {
	kvs []KV
	pos int
}

// NewSliceIterator returns an iterator over kvs sorted by key.
func NewSliceIterator(kvs []KV) *SliceIterator {
	sort.Slice(kvs, func(i, j int) bool { return kvs[i].Key < kvs[j].Key })
	return &SliceIterator{kvs: kvs, pos: -1}
}

func (it *SliceIterator) Next() bool {
	if it.pos+1 >= len(it.kvs) {
		it.pos = len(it.kvs)
		return false
	}
	it.pos++
	return true
}

func (it *SliceIterator) Key() string   { return it.kvs[it.pos].Key }
func (it *SliceIterator) Value() []byte { return it.kvs[it.pos].Value }
func (it *SliceIterator) Err() error    { return nil }
func (it *SliceIterator) Close() error  { return nil }

// Key joins path segments with "/", escaping each so a "/" inside a segment
// cannot be confused with the separator.
func Key(segments ...string) string {
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	return strings.Join(escaped, "/")
}

// SplitKey reverses Key.
func SplitKey(key string) ([]string, error) {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		s, err := url.PathUnescape(p)
		if err != nil {
			return nil, types.Errorf(types.ErrCorruptState, "malformed key %q", key).WithCause(err)
		}
		parts[i] = s
	}
	return parts, nil
}

// Unavailable wraps a backend error as STORE_UNAVAILABLE. Coded errors and
// context errors are returned unchanged.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := types.AsError(err); ok {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return types.Errorf(types.ErrStoreUnavailable, "store %s failed", op).WithCause(err)
}
