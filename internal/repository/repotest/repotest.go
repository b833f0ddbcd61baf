// Package repotest opens throwaway sqlite stores for tests.
package repotest

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docintake/internal/repository"
)

// Logger discards output.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Open returns a migrated sqlite store under t.TempDir.
func Open(t testing.TB) *repository.DB {
	t.Helper()
	ctx := context.Background()
	db, err := repository.OpenSQLite(ctx, "file:"+filepath.Join(t.TempDir(), "intake.db"), Logger())
	require.NoError(t, err)
	require.NoError(t, db.Migrate(ctx, Logger()))
	t.Cleanup(func() { db.Close(Logger()) })
	return db
}

// Jobs returns a JobRepository over a fresh store.
func Jobs(t testing.TB) (repository.JobRepository, *repository.DB) {
	db := Open(t)
	return repository.NewJobRepository(db, Logger()), db
}
