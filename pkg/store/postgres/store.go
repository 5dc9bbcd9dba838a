// Package postgres is the gorm-backed screening.Store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/harunnryd/intervyu/pkg/errorsx"
	"github.com/harunnryd/intervyu/pkg/logging"
	"github.com/harunnryd/intervyu/pkg/screening"
)

type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

// Open connects to the database at dsn. Verbose enables gorm's SQL logging.
func Open(dsn string, verbose bool, log *slog.Logger) (*Store, error) {
	level := logger.Silent
	if verbose {
		level = logger.Info
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(level),
	})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	return New(db, log), nil
}

func New(db *gorm.DB, log *slog.Logger) *Store {
	return &Store{db: db, logger: logging.NewComponentLogger(log, "store_postgres")}
}

// Migrate creates or updates the jobs and applications tables.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&screening.Job{}, &screening.Application{}); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	s.logger.Info("database_migrated")
	return nil
}

func (s *Store) GetApplication(ctx context.Context, id string) (*screening.Application, error) {
	var app screening.Application
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&app).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errorsx.ErrApplicationNotFound
		}
		return nil, fmt.Errorf("find application: %w", err)
	}
	return &app, nil
}

func (s *Store) GetJob(ctx context.Context, id string) (*screening.Job, error) {
	var job screening.Job
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&job).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errorsx.ErrJobNotFound
		}
		return nil, fmt.Errorf("find job: %w", err)
	}
	return &job, nil
}

// UpdateApplication locks the row, applies fn to the fresh copy and saves
// it in one transaction. The BeforeSave hook recomputes derived scores.
func (s *Store) UpdateApplication(ctx context.Context, id string, fn func(*screening.Application) error) (*screening.Application, error) {
	var out screening.Application
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var app screening.Application
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).First(&app).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errorsx.ErrApplicationNotFound
			}
			return fmt.Errorf("lock application: %w", err)
		}
		if err := fn(&app); err != nil {
			return err
		}
		app.ID = id
		if err := tx.Save(&app).Error; err != nil {
			return fmt.Errorf("save application: %w", err)
		}
		out = app
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateJob and CreateApplication exist for seeding and tooling.
func (s *Store) CreateJob(ctx context.Context, job *screening.Job) error {
	if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *Store) CreateApplication(ctx context.Context, app *screening.Application) error {
	if err := s.db.WithContext(ctx).Create(app).Error; err != nil {
		return fmt.Errorf("create application: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
