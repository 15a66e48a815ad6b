// Package redisstore implements store.Store on Redis.
//
// Keys are namespaced with Config.KeyPrefix. Batches run inside MULTI/EXEC, and
// prefix scans use SCAN with a MATCH pattern followed by MGET.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/depflow/internal/tlsutil"
	"github.com/BaSui01/depflow/store"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Config configures the Redis connection.
type Config struct {
	Addr     string `yaml:"addr" env:"ADDR" json:"addr"`
	Password string `yaml:"password" env:"PASSWORD" json:"-"`
	DB       int    `yaml:"db" env:"DB" json:"db"`
	// TLS dials Redis over TLS, verifying the certificate against Addr's host.
	TLS bool `yaml:"tls" env:"TLS" json:"tls"`

	// KeyPrefix namespaces every key written by the store.
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX" json:"key_prefix"`

	MaxRetries   int `yaml:"max_retries" env:"MAX_RETRIES" json:"max_retries"`
	PoolSize     int `yaml:"pool_size" env:"POOL_SIZE" json:"pool_size"`
	MinIdleConns int `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS" json:"min_idle_conns"`

	// ScanCount is the COUNT hint passed to SCAN.
	ScanCount int64 `yaml:"scan_count" env:"SCAN_COUNT" json:"scan_count"`

	// HealthCheckInterval is how often the connection is pinged. Zero disables it.
	HealthCheckInterval time.Duration `yaml:"health_check_interval" env:"HEALTH_CHECK_INTERVAL" json:"health_check_interval"`
}

// DefaultConfig returns defaults for a local Redis.
func DefaultConfig() Config {
	return Config{
		Addr:                "localhost:6379",
		KeyPrefix:           "depflow:",
		MaxRetries:          3,
		PoolSize:            10,
		MinIdleConns:        2,
		ScanCount:           256,
		HealthCheckInterval: 30 * time.Second,
	}
}

const mgetChunk = 256

// Store is a Redis-backed store.Store.
type Store struct {
	client *redis.Client
	config Config
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
	stop   chan struct{}
}

var _ store.Store = (*Store)(nil)

// New connects to Redis and verifies the connection with PING.
func New(config Config, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.ScanCount <= 0 {
		config.ScanCount = 256
	}

	opts := &redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		MaxRetries:   config.MaxRetries,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
	}
	if config.TLS {
		opts.TLSConfig = tlsutil.ClientConfig(config.Addr)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	s := &Store{
		client: client,
		config: config,
		logger: logger.With(zap.String("component", "redis_store")),
		stop:   make(chan struct{}),
	}
	if config.HealthCheckInterval > 0 {
		go s.healthCheckLoop()
	}

	s.logger.Info("redis store initialized",
		zap.String("addr", config.Addr),
		zap.String("key_prefix", config.KeyPrefix),
		zap.Bool("tls", config.TLS),
	)
	return s, nil
}

func (s *Store) key(k string) string {
	return s.config.KeyPrefix + k
}

// escapeGlob escapes characters that SCAN MATCH treats as wildcards.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) acquire() error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return store.ErrClosed
	}
	return nil
}

// Put implements store.Store.
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	if err := s.acquire(); err != nil {
		return err
	}
	defer s.mu.RUnlock()

	return store.Unavailable("put", s.client.Set(ctx, s.key(key), value, 0).Err())
}

// Get implements store.Store.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := s.acquire(); err != nil {
		return nil, false, err
	}
	defer s.mu.RUnlock()

	v, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, store.Unavailable("get", err)
	}
	return v, true, nil
}

// Delete implements store.Store.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.acquire(); err != nil {
		return err
	}
	defer s.mu.RUnlock()

	return store.Unavailable("delete", s.client.Del(ctx, s.key(key)).Err())
}

// ScanPrefix implements store.Store. Keys deleted between SCAN and MGET are skipped.
func (s *Store) ScanPrefix(ctx context.Context, prefix string) (store.Iterator, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.mu.RUnlock()

	full := s.key(prefix)
	match := escapeGlob(full) + "*"

	seen := make(map[string]struct{})
	var keys []string
	var cursor uint64
	for {
		batch, next, err := s.client.Scan(ctx, cursor, match, s.config.ScanCount).Result()
		if err != nil {
			return nil, store.Unavailable("scan", err)
		}
		for _, k := range batch {
			if !strings.HasPrefix(k, full) {
				continue
			}
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	kvs := make([]store.KV, 0, len(keys))
	for start := 0; start < len(keys); start += mgetChunk {
		end := min(start+mgetChunk, len(keys))
		vals, err := s.client.MGet(ctx, keys[start:end]...).Result()
		if err != nil {
			return nil, store.Unavailable("scan", err)
		}
		for i, v := range vals {
			str, ok := v.(string)
			if !ok {
				continue
			}
			kvs = append(kvs, store.KV{
				Key:   strings.TrimPrefix(keys[start+i], s.config.KeyPrefix),
				Value: []byte(str),
			})
		}
	}
	return store.NewSliceIterator(kvs), nil
}

// Apply implements store.Store with a MULTI/EXEC transaction.
func (s *Store) Apply(ctx context.Context, batch *store.Batch) error {
	if err := s.acquire(); err != nil {
		return err
	}
	defer s.mu.RUnlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if batch.Len() == 0 {
		return nil
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, op := range batch.Ops() {
			switch op.Kind {
			case store.OpPut:
				pipe.Set(ctx, s.key(op.Key), op.Value, 0)
			case store.OpDelete:
				pipe.Del(ctx, s.key(op.Key))
			}
		}
		return nil
	})
	return store.Unavailable("apply", err)
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.acquire(); err != nil {
		return err
	}
	defer s.mu.RUnlock()

	return s.client.Ping(ctx).Err()
}

// Close closes the client. It is safe to call more than once.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	close(s.stop)
	s.logger.Info("closing redis store")
	return s.client.Close()
}

func (s *Store) healthCheckLoop() {
	ticker := time.NewTicker(s.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := s.Ping(ctx); err != nil {
				s.logger.Error("redis health check failed", zap.Error(err))
			} else {
				s.logger.Debug("redis health check passed")
			}
			cancel()
		}
	}
}
