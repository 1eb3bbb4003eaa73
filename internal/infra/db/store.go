package db

import (
	"context"
	"fmt"
	"log/slog"

	"quotasigner/internal/config"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

type Store struct {
	DB *gorm.DB
}

// NewStore returns a store without a database when POSTGRES_DSN is unset; the
// caller then falls back to the in-memory ledger.
func NewStore(cfg config.Config) (*Store, error) {
	if cfg.PostgresDSN == "" {
		slog.Info("POSTGRES_DSN not set; using in-memory ledger")
		return &Store{DB: nil}, nil
	}

	gdb, err := gorm.Open(postgres.Open(cfg.PostgresDSN), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	return &Store{DB: gdb}, nil
}

func (s *Store) Migrate(ctx context.Context) error {
	if s == nil || s.DB == nil {
		return errDBUnavailable
	}
	return s.DB.WithContext(ctx).AutoMigrate(
		&QuotaAccountModel{},
		&DomainStateModel{},
		&QuotaIncrementModel{},
	)
}
