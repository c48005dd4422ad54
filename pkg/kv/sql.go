package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Compile-time interface check.
var _ Store = (*sqlStore)(nil)

// entry is a kv row. Expiry is stored as unix milliseconds so comparisons
// behave identically on sqlite and postgres.
type entry struct {
	Key       string `gorm:"primaryKey;column:entry_key;size:255"`
	Value     string `gorm:"column:entry_value;not null;default:''"`
	Hits      int64  `gorm:"column:hits;not null;default:0"`
	ExpiresAt int64  `gorm:"column:expires_at;not null;index"`
}

func (entry) TableName() string { return "kv_entries" }

type sqlStore struct {
	db  *gorm.DB
	now Clock
}

// NewSQLStore creates a Store backed by the kv_entries table of db, which
// it migrates. All instances sharing the database share the entries.
func NewSQLStore(ctx context.Context, db *gorm.DB, now Clock) (Store, error) {
	if now == nil {
		now = time.Now
	}

	if err := db.WithContext(ctx).AutoMigrate(&entry{}); err != nil {
		return nil, fmt.Errorf("migrating kv_entries: %w", err)
	}

	return &sqlStore{db: db, now: now}, nil
}

// Incr counts a hit with a single upsert: the insert opens a window and
// the conflict branch either increments a live window or restarts an
// expired one. Concurrent first hits serialize on the key's row, so none
// of them resets a window another has just opened.
func (s *sqlStore) Incr(
	ctx context.Context, key string, ttl time.Duration,
) (int64, time.Time, error) {
	now := s.now().UnixMilli()

	var e entry

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "entry_key"}},
			DoUpdates: clause.Assignments(map[string]any{
				"hits": gorm.Expr(
					"CASE WHEN kv_entries.expires_at > ? THEN kv_entries.hits + 1 ELSE 1 END", now),
				"expires_at": gorm.Expr(
					"CASE WHEN kv_entries.expires_at > ? THEN kv_entries.expires_at ELSE ? END",
					now, now+ttl.Milliseconds()),
				"entry_value": gorm.Expr(
					"CASE WHEN kv_entries.expires_at > ? THEN kv_entries.entry_value ELSE '' END", now),
			}),
		}).Create(&entry{
			Key:       key,
			Hits:      1,
			ExpiresAt: now + ttl.Milliseconds(),
		}).Error
		if err != nil {
			return err
		}

		return tx.Where("entry_key = ?", key).First(&e).Error
	})
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("%w: incrementing %s: %w", ErrUnavailable, key, err)
	}

	return e.Hits, time.UnixMilli(e.ExpiresAt), nil
}

func (s *sqlStore) Set(
	ctx context.Context, key, value string, ttl time.Duration,
) error {
	e := entry{
		Key:       key,
		Value:     value,
		ExpiresAt: s.now().Add(ttl).UnixMilli(),
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "entry_key"}},
		DoUpdates: clause.AssignmentColumns(
			[]string{"entry_value", "hits", "expires_at"},
		),
	}).Create(&e).Error
	if err != nil {
		return fmt.Errorf("%w: setting %s: %w", ErrUnavailable, key, err)
	}

	return nil
}

func (s *sqlStore) Get(ctx context.Context, key string) (string, bool, error) {
	var e entry

	err := s.db.WithContext(ctx).
		Where("entry_key = ? AND expires_at > ?", key, s.now().UnixMilli()).
		First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}

	if err != nil {
		return "", false, fmt.Errorf("%w: getting %s: %w", ErrUnavailable, key, err)
	}

	return e.Value, true, nil
}

func (s *sqlStore) Delete(ctx context.Context, key string) error {
	if err := s.db.WithContext(ctx).
		Where("entry_key = ?", key).
		Delete(&entry{}).Error; err != nil {
		return fmt.Errorf("%w: deleting %s: %w", ErrUnavailable, key, err)
	}

	return nil
}

func (s *sqlStore) DeleteExpired(ctx context.Context) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("expires_at <= ?", s.now().UnixMilli()).
		Delete(&entry{})
	if result.Error != nil {
		return 0, fmt.Errorf("%w: deleting expired entries: %w", ErrUnavailable, result.Error)
	}

	return result.RowsAffected, nil
}
