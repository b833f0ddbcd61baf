package repository

import (
	"context"
	"log/slog"

	"entgo.io/ent/dialect"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS jobs (
		id                BIGSERIAL PRIMARY KEY,
		filename          TEXT NOT NULL,
		original_filename TEXT NOT NULL,
		checksum          TEXT,
		filepath          TEXT NOT NULL,
		status            TEXT NOT NULL DEFAULT 'pending'
			CHECK (status IN ('pending','processing','duplicate','completed','failed')),
		retries           INTEGER NOT NULL DEFAULT 0 CHECK (retries >= 0),
		extracted_text    TEXT,
		name              TEXT,
		registration_id   TEXT,
		role              TEXT,
		employer          TEXT,
		national_id_a     TEXT,
		national_id_b     TEXT,
		equipment_json    JSONB,
		asset_tags_json   JSONB,
		serial_tags_json  JSONB,
		document_date     TEXT,
		owner_id          UUID NOT NULL,
		group_id          UUID,
		created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS jobs_status_idx ON jobs (status)`,
	`CREATE INDEX IF NOT EXISTS jobs_checksum_idx ON jobs (checksum)`,
	`CREATE TABLE IF NOT EXISTS job_checksums (
		checksum   TEXT PRIMARY KEY,
		job_id     BIGINT NOT NULL REFERENCES jobs (id),
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS jobs (
		id                INTEGER PRIMARY KEY AUTOINCREMENT,
		filename          TEXT NOT NULL,
		original_filename TEXT NOT NULL,
		checksum          TEXT,
		filepath          TEXT NOT NULL,
		status            TEXT NOT NULL DEFAULT 'pending'
			CHECK (status IN ('pending','processing','duplicate','completed','failed')),
		retries           INTEGER NOT NULL DEFAULT 0 CHECK (retries >= 0),
		extracted_text    TEXT,
		name              TEXT,
		registration_id   TEXT,
		role              TEXT,
		employer          TEXT,
		national_id_a     TEXT,
		national_id_b     TEXT,
		equipment_json    TEXT,
		asset_tags_json   TEXT,
		serial_tags_json  TEXT,
		document_date     TEXT,
		owner_id          TEXT NOT NULL,
		group_id          TEXT,
		created_at        DATETIME NOT NULL,
		updated_at        DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS jobs_status_idx ON jobs (status)`,
	`CREATE INDEX IF NOT EXISTS jobs_checksum_idx ON jobs (checksum)`,
	`CREATE TABLE IF NOT EXISTS job_checksums (
		checksum   TEXT PRIMARY KEY,
		job_id     INTEGER NOT NULL REFERENCES jobs (id),
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
}

// Migrate creates the jobs and job_checksums tables if they do not exist.
func (d *DB) Migrate(ctx context.Context, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	stmts := sqliteSchema
	if d.Dialect == dialect.Postgres {
		stmts = postgresSchema
	}
	for _, stmt := range stmts {
		if _, err := d.SQL.ExecContext(ctx, stmt); err != nil {
			logger.Error("migration failed", "dialect", d.Dialect, "error", err)
			return err
		}
	}
	logger.Info("schema up to date", "dialect", d.Dialect)
	return nil
}
