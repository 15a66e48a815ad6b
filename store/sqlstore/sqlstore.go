// Package sqlstore implements store.Store as a single key/value table accessed
// through GORM. Postgres and MySQL schemas are owned by internal/migration;
// SQLite databases are created with AutoMigrate.
package sqlstore

import (
	"context"
	"strings"
	"time"

	"github.com/BaSui01/depflow/internal/database"
	"github.com/BaSui01/depflow/store"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TableName is the key/value table.
const TableName = "depflow_kv"

type record struct {
	Key       string    `gorm:"column:kv_key;primaryKey;size:512"`
	Value     []byte    `gorm:"column:kv_value;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null"`
}

func (record) TableName() string { return TableName }

// Store is a GORM-backed store.Store.
type Store struct {
	pool   *database.PoolManager
	logger *zap.Logger
	now    func() time.Time
}

var _ store.Store = (*Store)(nil)

// New returns a store over pool. The store takes ownership of the pool and
// closes it on Close.
func New(pool *database.PoolManager, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		pool:   pool,
		logger: logger.With(zap.String("component", "sql_store")),
		now:    time.Now,
	}
}

// AutoMigrate creates the table if it does not exist.
func (s *Store) AutoMigrate(ctx context.Context) error {
	return s.pool.DB().WithContext(ctx).AutoMigrate(&record{})
}

func (s *Store) db(ctx context.Context) (*gorm.DB, error) {
	if s.pool.IsClosed() {
		return nil, store.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.pool.DB().WithContext(ctx), nil
}

func upsert(tx *gorm.DB, key string, value []byte, now time.Time) error {
	if value == nil {
		value = []byte{}
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "kv_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"kv_value", "updated_at"}),
	}).Create(&record{Key: key, Value: value, UpdatedAt: now}).Error
}

func remove(tx *gorm.DB, key string) error {
	return tx.Where("kv_key = ?", key).Delete(&record{}).Error
}

// Put implements store.Store.
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	db, err := s.db(ctx)
	if err != nil {
		return err
	}
	return store.Unavailable("put", upsert(db, key, value, s.now()))
}

// Get implements store.Store.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	db, err := s.db(ctx)
	if err != nil {
		return nil, false, err
	}

	var recs []record
	if err := db.Where("kv_key = ?", key).Limit(1).Find(&recs).Error; err != nil {
		return nil, false, store.Unavailable("get", err)
	}
	if len(recs) == 0 {
		return nil, false, nil
	}
	return recs[0].Value, true, nil
}

// Delete implements store.Store.
func (s *Store) Delete(ctx context.Context, key string) error {
	db, err := s.db(ctx)
	if err != nil {
		return err
	}
	return store.Unavailable("delete", remove(db, key))
}

// likeEscape escapes LIKE wildcards using '!' as the escape character, which
// needs no quoting in any supported dialect.
func likeEscape(s string) string {
	r := strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")
	return r.Replace(s)
}

// ScanPrefix implements store.Store.
func (s *Store) ScanPrefix(ctx context.Context, prefix string) (store.Iterator, error) {
	db, err := s.db(ctx)
	if err != nil {
		return nil, err
	}

	var recs []record
	err = db.Where("kv_key LIKE ? ESCAPE '!'", likeEscape(prefix)+"%").
		Order("kv_key").
		Find(&recs).Error
	if err != nil {
		return nil, store.Unavailable("scan", err)
	}

	kvs := make([]store.KV, 0, len(recs))
	for _, r := range recs {
		// Case-insensitive collations can widen a LIKE match.
		if strings.HasPrefix(r.Key, prefix) {
			kvs = append(kvs, store.KV{Key: r.Key, Value: r.Value})
		}
	}
	return store.NewSliceIterator(kvs), nil
}

// Apply implements store.Store in one database transaction.
func (s *Store) Apply(ctx context.Context, batch *store.Batch) error {
	if s.pool.IsClosed() {
		return store.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	now := s.now()
	err := s.pool.WithTransaction(ctx, func(tx *gorm.DB) error {
		for _, op := range batch.Ops() {
			var err error
			switch op.Kind {
			case store.OpPut:
				err = upsert(tx, op.Key, op.Value, now)
			case store.OpDelete:
				err = remove(tx, op.Key)
			}
			if err != nil {
				return err
			}
		}
		return ctx.Err()
	})
	return store.Unavailable("apply", err)
}

// Close closes the underlying pool.
func (s *Store) Close() error {
	return s.pool.Close()
}
