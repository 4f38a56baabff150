package runindex

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"github.com/testpilot-dev/testpilot/pkg/bundle"
	"github.com/testpilot-dev/testpilot/pkg/config"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// dbStore persists run records in a relational database via gorm.
type dbStore struct {
	log       logrus.FieldLogger
	cfg       *config.IndexConfig
	workspace string
	db        *gorm.DB
}

// Compile-time interface check.
var _ Store = (*dbStore)(nil)

func newDBStore(
	log logrus.FieldLogger,
	cfg *config.IndexConfig,
	workspace string,
) *dbStore {
	return &dbStore{
		log:       log.WithField("component", "runindex"),
		cfg:       cfg,
		workspace: workspace,
	}
}

// Start opens the database connection and runs migrations.
func (s *dbStore) Start(ctx context.Context) error {
	var dialector gorm.Dialector

	gormCfg := &gorm.Config{
		Logger: logger.Discard,
	}

	switch s.cfg.Driver {
	case "sqlite":
		path := s.cfg.SQLitePath
		if path == "" {
			path = filepath.Join(bundle.RunsDir(s.workspace), "index.db")
		}

		dialector = sqlite.Open(path)
	case "postgres":
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			s.cfg.Postgres.Host,
			s.cfg.Postgres.Port,
			s.cfg.Postgres.User,
			s.cfg.Postgres.Password,
			s.cfg.Postgres.Database,
			s.cfg.Postgres.SSLMode,
		)
		dialector = postgres.Open(dsn)
	default:
		return fmt.Errorf("unsupported database driver: %s", s.cfg.Driver)
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return fmt.Errorf("opening run index database: %w", err)
	}

	s.db = db

	if err := s.db.WithContext(ctx).AutoMigrate(&RunRecord{}); err != nil {
		return fmt.Errorf("running index migrations: %w", err)
	}

	s.log.WithField("driver", s.cfg.Driver).Info("Run index database connected")

	return nil
}

// Stop closes the underlying database connection.
func (s *dbStore) Stop() error {
	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}

// Upsert inserts or updates a run record keyed by run_id.
func (s *dbStore) Upsert(ctx context.Context, rec *RunRecord) error {
	result := s.db.WithContext(ctx).
		Where("run_id = ?", rec.RunID).
		Assign(rec).
		FirstOrCreate(rec)
	if result.Error != nil {
		return fmt.Errorf("upserting run: %w", result.Error)
	}

	return nil
}

// ReadAll returns all run records ordered by start time, newest first.
func (s *dbStore) ReadAll(ctx context.Context) ([]RunRecord, error) {
	var records []RunRecord
	if err := s.db.WithContext(ctx).
		Order("started_at DESC").
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}

	return records, nil
}

// ReadOne returns the record for runID or ErrNotFound.
func (s *dbStore) ReadOne(ctx context.Context, runID string) (*RunRecord, error) {
	var rec RunRecord
	if err := s.db.WithContext(ctx).
		Where("run_id = ?", runID).
		First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("reading run: %w", err)
	}

	return &rec, nil
}
