// Package postgres is the gorm backed SessionStore.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dkeye/Drop/internal/core"
	"github.com/dkeye/Drop/internal/domain"
	"github.com/rs/zerolog/log"
	pgdriver "gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// Config controls GORM/PostgreSQL connectivity.
type Config struct {
	DSN             string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	ConnectRetries  uint64
	LogLevel        gormlogger.LogLevel
}

type Store struct {
	db *gorm.DB
}

var _ core.SessionStore = (*Store)(nil)

// Open connects, retrying with exponential backoff, and migrates the schema.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN is empty")
	}
	if cfg.LogLevel == 0 {
		cfg.LogLevel = gormlogger.Warn
	}

	var db *gorm.DB
	connect := func() error {
		var err error
		db, err = gorm.Open(pgdriver.Open(cfg.DSN), &gorm.Config{
			TranslateError: true,
			Logger:         gormlogger.Default.LogMode(cfg.LogLevel),
		})
		if err != nil {
			log.Warn().Err(err).Str("module", "store.postgres").Msg("connect failed, retrying")
		}
		return err
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), cfg.ConnectRetries), ctx)
	if err := backoff.Retry(connect, policy); err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("retrieve sql db: %w", err)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	s := New(db)
	if err := s.Migrate(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return s, nil
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate applies the schema for sessions and their receivers.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&sessionRow{}, &receiverRow{}); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	log.Info().Str("module", "store.postgres").Msg("database schema up to date")
	return nil
}

func (s *Store) Create(ctx context.Context, sess *domain.Session) error {
	err := s.db.WithContext(ctx).Omit(clause.Associations).Create(newSessionRow(sess)).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return core.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *Store) FindOpen(ctx context.Context, id domain.PublicID) (*domain.Session, error) {
	var row sessionRow
	err := s.db.WithContext(ctx).
		Preload("Receivers").
		Where("public_id = ? AND is_open", string(id)).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find session: %w", err)
	}
	return row.toDomain(), nil
}

const addReceiverSQL = `
INSERT INTO session_receivers (public_id, conn_id)
SELECT public_id, ? FROM sessions WHERE public_id = ? AND is_open
ON CONFLICT DO NOTHING`

func (s *Store) AddReceiver(ctx context.Context, id domain.PublicID, conn domain.ConnID) error {
	res := s.db.WithContext(ctx).Exec(addReceiverSQL, string(conn), string(id))
	if res.Error != nil {
		return fmt.Errorf("add receiver: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}
	// Nothing inserted: either already a receiver or the session is gone.
	var n int64
	if err := s.db.WithContext(ctx).Model(&sessionRow{}).
		Where("public_id = ? AND is_open", string(id)).
		Count(&n).Error; err != nil {
		return fmt.Errorf("add receiver: %w", err)
	}
	if n == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteBySender(ctx context.Context, conn domain.ConnID) ([]*domain.Session, error) {
	var rows []sessionRow
	err := s.db.WithContext(ctx).
		Clauses(clause.Returning{}).
		Where("sender_conn_id = ?", string(conn)).
		Delete(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("delete by sender: %w", err)
	}
	return toDomainList(rows), nil
}

func (s *Store) DeleteBySecret(ctx context.Context, id domain.PublicID, secret string) (*domain.Session, error) {
	var rows []sessionRow
	err := s.db.WithContext(ctx).
		Clauses(clause.Returning{}).
		Where("public_id = ? AND deletion_secret = ?", string(id), secret).
		Delete(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("delete by secret: %w", err)
	}
	if len(rows) == 0 {
		return nil, core.ErrNotFound
	}
	return rows[0].toDomain(), nil
}

func (s *Store) PullReceiver(ctx context.Context, conn domain.ConnID) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("conn_id = ?", string(conn)).
		Delete(&receiverRow{})
	if res.Error != nil {
		return 0, fmt.Errorf("pull receiver: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *Store) DeleteExpired(ctx context.Context, before time.Time) ([]*domain.Session, error) {
	var rows []sessionRow
	err := s.db.WithContext(ctx).
		Clauses(clause.Returning{}).
		Where("created_at < ?", before).
		Delete(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("delete expired: %w", err)
	}
	return toDomainList(rows), nil
}

func (s *Store) sqlDB() (*sql.DB, error) {
	return s.db.DB()
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.sqlDB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) Close() error {
	sqlDB, err := s.sqlDB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
