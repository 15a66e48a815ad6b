package redisstore

import (
	"context"
	"testing"

	"github.com/BaSui01/depflow/store"
	"github.com/BaSui01/depflow/store/storetest"
	"github.com/BaSui01/depflow/types"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *Store) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	cfg := DefaultConfig()
	cfg.Addr = mr.Addr()
	cfg.HealthCheckInterval = 0
	cfg.ScanCount = 2

	s, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	return mr, s
}

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		_, s := setupTestRedis(t)
		return s
	})
}

func TestNew_ConnectionFailure(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:1"
	cfg.MaxRetries = -1

	_, err := New(cfg, nil)
	assert.Error(t, err)
}

func TestNew_TLSAgainstPlainServer(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	cfg := DefaultConfig()
	cfg.Addr = mr.Addr()
	cfg.TLS = true
	cfg.MaxRetries = -1
	cfg.HealthCheckInterval = 0

	_, err = New(cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to redis")
}

func TestStore_KeysAreNamespaced(t *testing.T) {
	mr, s := setupTestRedis(t)
	defer s.Close()

	require.NoError(t, s.Put(context.Background(), "task/a", []byte("v")))
	assert.True(t, mr.Exists("depflow:task/a"))

	require.NoError(t, mr.Set("other:task/b", "x"))
	it, err := s.ScanPrefix(context.Background(), "task/")
	require.NoError(t, err)
	kvs, err := store.Collect(it)
	require.NoError(t, err)
	require.Len(t, kvs, 1)
	assert.Equal(t, "task/a", kvs[0].Key)
}

func TestStore_ServerDownIsUnavailable(t *testing.T) {
	mr, s := setupTestRedis(t)
	defer s.Close()

	mr.Close()

	err := s.Put(context.Background(), "k", []byte("v"))
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrStoreUnavailable))
}

func TestEscapeGlob(t *testing.T) {
	assert.Equal(t, `task/a\*\?\[1\]\\`, escapeGlob(`task/a*?[1]\`))
}
