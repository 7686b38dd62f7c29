package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// stateRow maps to the scheduler_state table: one JSON value per key.
type stateRow struct {
	Key       string `gorm:"primaryKey;column:key"`
	Value     string `gorm:"column:value"`
	UpdatedAt time.Time
}

func (stateRow) TableName() string {
	return "scheduler_state"
}

// SqlStore is a Store backed by a SQL DB persisted to disk.
type SqlStore struct {
	db *gorm.DB
	// serializes state writes and history appends (single-writer discipline),
	// reads go through the pool concurrently
	writeMu sync.Mutex
}

// NewSqlStore creates a new SqlStore instance on an open gorm handle.
func NewSqlStore(db *gorm.DB) (*SqlStore, error) {
	sql, err := db.DB()
	if err != nil {
		return nil, err
	}
	sql.SetMaxOpenConns(1)

	if err = db.AutoMigrate(&stateRow{}, &UpdateRecord{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}

	return &SqlStore{db: db}, nil
}

// NewSqliteStore creates a new SQLite store under dataDir.
func NewSqliteStore(dataDir string) (*SqlStore, error) {
	file := filepath.Join(dataDir, "updater.db?cache=shared")
	db, err := gorm.Open(sqlite.Open(file), &gorm.Config{
		Logger:      logger.Default.LogMode(logger.Silent),
		PrepareStmt: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return NewSqlStore(db)
}

func (s *SqlStore) PutState(ctx context.Context, key string, value any) error {
	bs, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal state %s: %w", key, err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&stateRow{Key: key, Value: string(bs), UpdatedAt: time.Now()})
	if result.Error != nil {
		return fmt.Errorf("%w: put state %s: %v", ErrStoreUnavailable, key, result.Error)
	}
	return nil
}

func (s *SqlStore) GetState(ctx context.Context, key string, out any) error {
	var row stateRow
	result := s.db.WithContext(ctx).First(&row, "key = ?", key)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return ErrStateNotFound
		}
		return fmt.Errorf("%w: get state %s: %v", ErrStoreUnavailable, key, result.Error)
	}

	if err := json.Unmarshal([]byte(row.Value), out); err != nil {
		return fmt.Errorf("unmarshal state %s: %w", key, err)
	}
	return nil
}

func (s *SqlStore) DeleteState(ctx context.Context, key string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	result := s.db.WithContext(ctx).Delete(&stateRow{}, "key = ?", key)
	if result.Error != nil {
		return fmt.Errorf("%w: delete state %s: %v", ErrStoreUnavailable, key, result.Error)
	}
	return nil
}

func (s *SqlStore) AppendHistory(ctx context.Context, record *UpdateRecord) error {
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now()
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	result := s.db.WithContext(ctx).Create(record)
	if result.Error != nil {
		return fmt.Errorf("%w: append history: %v", ErrStoreUnavailable, result.Error)
	}
	return nil
}

func (s *SqlStore) GetHistory(ctx context.Context, limit int) ([]UpdateRecord, error) {
	var records []UpdateRecord
	tx := s.db.WithContext(ctx).Order("timestamp desc, id desc")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	if result := tx.Find(&records); result.Error != nil {
		return nil, fmt.Errorf("%w: get history: %v", ErrStoreUnavailable, result.Error)
	}
	return records, nil
}

func (s *SqlStore) CountHistory(ctx context.Context) (int64, error) {
	var count int64
	if result := s.db.WithContext(ctx).Model(&UpdateRecord{}).Count(&count); result.Error != nil {
		return 0, fmt.Errorf("%w: count history: %v", ErrStoreUnavailable, result.Error)
	}
	return count, nil
}

func (s *SqlStore) PruneHistory(ctx context.Context, keep int) error {
	if keep <= 0 {
		return nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	// delete everything older than the newest keep rows
	result := s.db.WithContext(ctx).Exec(
		"DELETE FROM update_history WHERE id NOT IN (SELECT id FROM update_history ORDER BY timestamp DESC, id DESC LIMIT ?)",
		keep,
	)
	if result.Error != nil {
		return fmt.Errorf("%w: prune history: %v", ErrStoreUnavailable, result.Error)
	}
	return nil
}

func (s *SqlStore) Close() error {
	sql, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("get db: %w", err)
	}
	return sql.Close()
}
