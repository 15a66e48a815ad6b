package database

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BaSui01/depflow/types"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrPoolClosed is returned by operations on a closed pool. It carries the
// STORE_UNAVAILABLE code so the graph engine treats it as a store failure.
var ErrPoolClosed = types.NewError(types.ErrStoreUnavailable, "database pool is closed")

// PoolConfig tunes the sql.DB behind the GORM handle.
type PoolConfig struct {
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" json:"conn_max_idle_time"`

	// HealthCheckInterval is how often the pool pings the server in the
	// background. Zero disables the loop; Ping still works on demand.
	HealthCheckInterval time.Duration `yaml:"health_check_interval" json:"health_check_interval"`
}

// DefaultPoolConfig suits a networked postgres or mysql server.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxIdleConns:        10,
		MaxOpenConns:        50,
		ConnMaxLifetime:     time.Hour,
		ConnMaxIdleTime:     10 * time.Minute,
		HealthCheckInterval: 30 * time.Second,
	}
}

// SQLitePoolConfig pins the pool to one connection that is never recycled.
// sqlite allows a single writer, and every connection to ":memory:" opens a
// separate empty database.
func SQLitePoolConfig() PoolConfig {
	return PoolConfig{MaxIdleConns: 1, MaxOpenConns: 1}
}

// PoolManager owns the GORM handle used by the sql store.
type PoolManager struct {
	db     *gorm.DB
	sqlDB  *sql.DB
	config PoolConfig
	logger *zap.Logger

	healthy atomic.Bool

	mu     sync.RWMutex
	closed bool
	stop   chan struct{}
}

// NewPoolManager applies config to db's pool and, when configured, starts
// the background health check.
func NewPoolManager(db *gorm.DB, config PoolConfig, logger *zap.Logger) (*PoolManager, error) {
	if db == nil {
		return nil, errors.New("database: gorm handle is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, types.NewError(types.ErrStoreUnavailable, "database: no sql.DB behind gorm handle").WithCause(err)
	}

	sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(config.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	pm := &PoolManager{
		db:     db,
		sqlDB:  sqlDB,
		config: config,
		logger: logger.With(zap.String("component", "db_pool")),
		stop:   make(chan struct{}),
	}
	pm.healthy.Store(true)
	if config.HealthCheckInterval > 0 {
		go pm.watch()
	}

	pm.logger.Info("database pool ready",
		zap.Int("max_open_conns", config.MaxOpenConns),
		zap.Int("max_idle_conns", config.MaxIdleConns),
	)
	return pm, nil
}

// DB returns the GORM handle.
func (pm *PoolManager) DB() *gorm.DB {
	return pm.db
}

// Ping checks the server and records the outcome for Healthy.
func (pm *PoolManager) Ping(ctx context.Context) error {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	if pm.closed {
		return ErrPoolClosed
	}
	err := pm.sqlDB.PingContext(ctx)
	pm.record(err)
	return err
}

// Healthy reports the outcome of the most recent Ping.
func (pm *PoolManager) Healthy() bool {
	return pm.healthy.Load()
}

func (pm *PoolManager) record(err error) {
	was := pm.healthy.Swap(err == nil)
	switch {
	case was && err != nil:
		pm.logger.Warn("database became unreachable", zap.Error(err))
	case !was && err == nil:
		pm.logger.Info("database reachable again")
	}
}

// Stats returns the sql.DB pool statistics.
func (pm *PoolManager) Stats() sql.DBStats {
	return pm.sqlDB.Stats()
}

// IsClosed reports whether Close has been called.
func (pm *PoolManager) IsClosed() bool {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.closed
}

// Close stops the health check and closes every connection. Calling it
// again is a no-op.
func (pm *PoolManager) Close() error {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if pm.closed {
		return nil
	}
	pm.closed = true
	close(pm.stop)
	return pm.sqlDB.Close()
}

func (pm *PoolManager) watch() {
	ticker := time.NewTicker(pm.config.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-pm.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = pm.Ping(ctx)
			cancel()
		}
	}
}

// WithTransaction runs fn in one transaction bound to ctx; an error from fn
// rolls it back.
func (pm *PoolManager) WithTransaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	pm.mu.RLock()
	closed := pm.closed
	pm.mu.RUnlock()
	if closed {
		return ErrPoolClosed
	}
	return pm.db.WithContext(ctx).Transaction(fn)
}
