package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CacheRecord is the table row used by SQLBackend.
type CacheRecord struct {
	Key       string    `gorm:"column:cache_key;primaryKey;size:191"`
	Value     []byte
	CreatedAt time.Time `gorm:"index"`
}

// TableName 指定表名
func (CacheRecord) TableName() string { return "agentgraph_cache_entries" }

// SQLBackend stores entries in a relational database through gorm.
type SQLBackend struct {
	db *gorm.DB
}

// NewSQLBackend migrates the cache table and returns the backend.
func NewSQLBackend(db *gorm.DB) (*SQLBackend, error) {
	if db == nil {
		return nil, errors.New("gorm db is required")
	}
	if err := db.AutoMigrate(&CacheRecord{}); err != nil {
		return nil, fmt.Errorf("migrate cache table: %w", err)
	}
	return &SQLBackend{db: db}, nil
}

func (s *SQLBackend) Get(ctx context.Context, key string) ([]byte, error) {
	var rec CacheRecord
	err := s.db.WithContext(ctx).Where("cache_key = ?", key).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec.Value, nil
}

func (s *SQLBackend) Put(ctx context.Context, key string, value []byte) error {
	rec := CacheRecord{Key: key, Value: value, CreatedAt: time.Now()}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "cache_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "created_at"}),
	}).Create(&rec).Error
}

func (s *SQLBackend) Delete(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Where("cache_key = ?", key).Delete(&CacheRecord{}).Error
}

// Prune deletes entries created more than olderThan ago.
func (s *SQLBackend) Prune(ctx context.Context, olderThan time.Duration) (int, error) {
	res := s.db.WithContext(ctx).
		Where("created_at < ?", time.Now().Add(-olderThan)).
		Delete(&CacheRecord{})
	return int(res.RowsAffected), res.Error
}
