package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

type document struct {
	Name      string `gorm:"primaryKey;size:64"`
	Body      []byte `gorm:"not null"`
	UpdatedAt time.Time
}

func (document) TableName() string { return "documents" }

// SQLStore keeps documents as rows of a single documents table.
type SQLStore struct {
	db      *gorm.DB
	dialect string
	logger  *slog.Logger
}

func NewSQLStore(dialect, dsn string, logger *slog.Logger) (*SQLStore, error) {
	if logger == nil {
		logger = discardLogger()
	}
	var dialector gorm.Dialector
	switch dialect {
	case BackendSQLite:
		if dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") {
			if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
				return nil, fmt.Errorf("failed to create data dir: %w", err)
			}
		}
		dialector = sqlite.Open(dsn)
	case BackendPostgres:
		if dsn == "" {
			return nil, errors.New("postgres dsn is required")
		}
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported sql dialect %q", dialect)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 gormlogger.Discard,
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open gorm %s: %w", dialect, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("resolve %s sql db handle: %w", dialect, err)
	}
	if dialect == BackendSQLite {
		// One connection keeps sqlite writes serialized.
		sqlDB.SetMaxOpenConns(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect, err)
	}

	store := &SQLStore{
		db:      db,
		dialect: dialect,
		logger:  logger.With("component", "storage", "backend", dialect),
	}
	store.logger.Debug(fmt.Sprintf("creating table: %#v", &document{}))
	if err := db.AutoMigrate(&document{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate documents table: %w", err)
	}
	return store, nil
}

func (s *SQLStore) Load(ctx context.Context, name string, v any) (bool, error) {
	var doc document
	err := s.db.WithContext(ctx).Where("name = ?", name).First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return true, fmt.Errorf("failed to read %s: %w", name, err)
	}
	if err := json.Unmarshal(doc.Body, v); err != nil {
		return true, fmt.Errorf("failed to unmarshal %s: %w", name, err)
	}
	return true, nil
}

func (s *SQLStore) Save(ctx context.Context, name string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", name, err)
	}
	doc := document{Name: name, Body: body, UpdatedAt: time.Now().UTC()}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"body", "updated_at"}),
		}).Create(&doc).Error
	})
	if err != nil {
		return fmt.Errorf("failed to save %s: %w", name, err)
	}
	s.logger.Debug("saved document", "name", name, "bytes", len(body))
	return nil
}

func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
