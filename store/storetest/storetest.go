// Package storetest is a conformance suite for store.Store implementations.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/BaSui01/depflow/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) store.Store

// Run executes the conformance suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"PutGet", testPutGet},
		{"GetMissing", testGetMissing},
		{"Overwrite", testOverwrite},
		{"Delete", testDelete},
		{"ScanPrefix", testScanPrefix},
		{"ScanPrefixLiteral", testScanPrefixLiteral},
		{"ApplyAtomic", testApplyAtomic},
		{"ApplyLastWriteWins", testApplyLastWriteWins},
		{"ApplyCanceledContext", testApplyCanceledContext},
		{"ConcurrentWriters", testConcurrentWriters},
		{"Closed", testClosed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			defer s.Close()
			tt.fn(t, s)
		})
	}
}

func scanKeys(t *testing.T, s store.Store, prefix string) []string {
	t.Helper()
	it, err := s.ScanPrefix(context.Background(), prefix)
	require.NoError(t, err)
	kvs, err := store.Collect(it)
	require.NoError(t, err)

	keys := make([]string, 0, len(kvs))
	for _, kv := range kvs {
		keys = append(keys, kv.Key)
	}
	return keys
}

func testPutGet(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "task/a", []byte(`{"id":"a"}`)))

	v, found, err := s.Get(ctx, "task/a")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, `{"id":"a"}`, string(v))
}

func testGetMissing(t *testing.T, s store.Store) {
	v, found, err := s.Get(context.Background(), "task/missing")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, v)
}

func testOverwrite(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "k", []byte("1")))
	require.NoError(t, s.Put(ctx, "k", []byte("2")))

	v, _, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "2", string(v))
}

func testDelete(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "k", []byte("1")))
	require.NoError(t, s.Delete(ctx, "k"))
	require.NoError(t, s.Delete(ctx, "k"), "deleting an absent key is not an error")

	_, found, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)
}

func testScanPrefix(t *testing.T, s store.Store) {
	ctx := context.Background()
	for _, k := range []string{"edge/b/c", "task/b", "edge/a/b", "task/a", "audit/1"} {
		require.NoError(t, s.Put(ctx, k, []byte(k)))
	}

	assert.Equal(t, []string{"edge/a/b", "edge/b/c"}, scanKeys(t, s, "edge/"))
	assert.Equal(t, []string{"task/a", "task/b"}, scanKeys(t, s, "task/"))
	assert.Empty(t, scanKeys(t, s, "nothing/"))

	it, err := s.ScanPrefix(ctx, "task/")
	require.NoError(t, err)
	kvs, err := store.Collect(it)
	require.NoError(t, err)
	require.Len(t, kvs, 2)
	assert.Equal(t, "task/a", string(kvs[0].Value))
}

// Characters that are wildcards in LIKE or glob patterns must match literally.
func testScanPrefixLiteral(t *testing.T, s store.Store) {
	ctx := context.Background()
	for _, k := range []string{"task/a%2Fb", "task/a_c", "task/ab", "task/a*", "task/a?x", "task/a[1]"} {
		require.NoError(t, s.Put(ctx, k, []byte("v")))
	}

	assert.Equal(t, []string{"task/a%2Fb"}, scanKeys(t, s, "task/a%"))
	assert.Equal(t, []string{"task/a_c"}, scanKeys(t, s, "task/a_"))
	assert.Equal(t, []string{"task/a*"}, scanKeys(t, s, "task/a*"))
	assert.Equal(t, []string{"task/a?x"}, scanKeys(t, s, "task/a?"))
	assert.Equal(t, []string{"task/a[1]"}, scanKeys(t, s, "task/a["))
}

func testApplyAtomic(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "edge/a/b", []byte("old")))

	batch := store.NewBatch().
		Delete("edge/a/b").
		Put("edge/b/a", []byte("new")).
		Put("audit/1", []byte("record"))
	require.NoError(t, s.Apply(ctx, batch))

	assert.Equal(t, []string{"edge/b/a"}, scanKeys(t, s, "edge/"))
	assert.Equal(t, []string{"audit/1"}, scanKeys(t, s, "audit/"))
}

func testApplyLastWriteWins(t *testing.T, s store.Store) {
	ctx := context.Background()
	batch := store.NewBatch().
		Put("k", []byte("1")).
		Put("k", []byte("2")).
		Put("gone", []byte("x")).
		Delete("gone")
	require.NoError(t, s.Apply(ctx, batch))

	v, found, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "2", string(v))

	_, found, err = s.Get(ctx, "gone")
	require.NoError(t, err)
	assert.False(t, found)
}

func testApplyCanceledContext(t *testing.T, s store.Store) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Apply(ctx, store.NewBatch().Put("k", []byte("v")))
	assert.Error(t, err)

	_, found, err := s.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.False(t, found, "a canceled batch must not commit")
}

func testConcurrentWriters(t *testing.T, s store.Store) {
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				key := fmt.Sprintf("task/w%d-%02d", w, i)
				assert.NoError(t, s.Apply(ctx, store.NewBatch().Put(key, []byte(key))))
			}
		}(w)
	}
	wg.Wait()

	assert.Len(t, scanKeys(t, s, "task/"), 80)
}

func testClosed(t *testing.T, s store.Store) {
	require.NoError(t, s.Close())

	ctx := context.Background()
	assert.Error(t, s.Put(ctx, "k", []byte("v")))
	_, _, err := s.Get(ctx, "k")
	assert.Error(t, err)
	assert.Error(t, s.Apply(ctx, store.NewBatch().Put("k", nil)))
}
