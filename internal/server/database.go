package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/docintake/internal/common"
	repo "github.com/joseph-ayodele/docintake/internal/repository"
)

// ConnectDB opens the configured store, verifies it answers and applies the
// schema.
func ConnectDB(ctx context.Context, cfg common.DatabaseConfig, logger *slog.Logger) (*repo.DB, error) {
	db, err := repo.Open(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to connect to database", "driver", cfg.Driver, "error", err)
		return nil, err
	}
	if err := PingDB(ctx, db, logger, 5*time.Second); err != nil {
		CloseDB(db, logger)
		return nil, err
	}
	if err := db.Migrate(ctx, logger); err != nil {
		CloseDB(db, logger)
		return nil, err
	}
	logger.Info("successfully connected to database", "driver", cfg.Driver)
	return db, nil
}

// PingDB pings the database to ensure it's responsive
func PingDB(ctx context.Context, db *repo.DB, logger *slog.Logger, timeout time.Duration) error {
	logger.Debug("pinging database")
	if err := db.HealthCheck(ctx, timeout); err != nil {
		logger.Error("database ping failed", "error", err)
		return common.NewAppError("DB_UNAVAILABLE", "database ping failed", err)
	}
	logger.Debug("database ping successful")
	return nil
}

// CloseDB closes the database connections gracefully
func CloseDB(db *repo.DB, logger *slog.Logger) {
	db.Close(logger)
}
