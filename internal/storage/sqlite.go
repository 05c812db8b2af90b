package storage

import (
	"errors"
	"fmt"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// kvRow is the single table shared by the SQL backends.
type kvRow struct {
	K []byte `gorm:"column:k;primaryKey"`
	V []byte `gorm:"column:v;not null"`
}

func (kvRow) TableName() string { return "kv" }

// SQLiteDB implements DB on an SQLite file through gorm.
type SQLiteDB struct {
	db *gorm.DB
}

// NewSQLite opens (or creates) an SQLite database. dsn is a file path or any
// DSN understood by the glebarez driver, e.g. "file::memory:?cache=shared".
func NewSQLite(dsn string) (*SQLiteDB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dsn, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite handle: %w", err)
	}
	// SQLite serializes writers; a single connection avoids SQLITE_BUSY.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&kvRow{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return &SQLiteDB{db: db}, nil
}

// Get retrieves a value by key.
func (s *SQLiteDB) Get(key []byte) ([]byte, error) {
	var row kvRow
	err := s.db.Where("k = ?", key).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite get: %w", err)
	}
	if row.V == nil {
		row.V = []byte{}
	}
	return row.V, nil
}

// Put stores a key-value pair, replacing any existing value.
func (s *SQLiteDB) Put(key, value []byte) error {
	row := kvRow{K: key, V: nonNil(value)}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "k"}},
		DoUpdates: clause.AssignmentColumns([]string{"v"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("sqlite put: %w", err)
	}
	return nil
}

// PutIfAbsent inserts a key-value pair unless the key exists.
func (s *SQLiteDB) PutIfAbsent(key, value []byte) (bool, error) {
	row := kvRow{K: key, V: nonNil(value)}
	res := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return false, fmt.Errorf("sqlite put-if-absent: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// Delete removes a key.
func (s *SQLiteDB) Delete(key []byte) error {
	if err := s.db.Where("k = ?", key).Delete(&kvRow{}).Error; err != nil {
		return fmt.Errorf("sqlite delete: %w", err)
	}
	return nil
}

// Has checks if a key exists.
func (s *SQLiteDB) Has(key []byte) (bool, error) {
	var n int64
	if err := s.db.Model(&kvRow{}).Where("k = ?", key).Count(&n).Error; err != nil {
		return false, fmt.Errorf("sqlite has: %w", err)
	}
	return n > 0, nil
}

// ForEach iterates over all keys with the given prefix in key order.
func (s *SQLiteDB) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	q := s.db.Model(&kvRow{}).Where("k >= ?", nonNil(prefix))
	if end := prefixEnd(prefix); end != nil {
		q = q.Where("k < ?", end)
	}
	var rows []kvRow
	if err := q.Order("k").Find(&rows).Error; err != nil {
		return fmt.Errorf("sqlite scan: %w", err)
	}
	for _, r := range rows {
		if err := fn(r.K, nonNil(r.V)); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database.
func (s *SQLiteDB) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
