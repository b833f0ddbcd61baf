// Package checksum decides whether a submitted document repeats content that
// another job already owns.
package checksum

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"os"

	"github.com/joseph-ayodele/docintake/internal/common"
)

// Registry records a job's checksum and reports which job owns that content.
type Registry interface {
	RegisterChecksum(ctx context.Context, jobID int64, checksum string) (int64, error)
}

// Verdict is the outcome of a duplicate check.
type Verdict struct {
	Checksum  string
	Duplicate bool
	OwnerID   int64
}

type Gate struct {
	registry Registry
	log      *slog.Logger
}

func NewGate(registry Registry, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{registry: registry, log: logger}
}

// Check hashes the file at path and registers the result for jobID.
// An unreadable file fails open: the job is not a duplicate and no checksum
// is written.
func (g *Gate) Check(ctx context.Context, jobID int64, path string) (Verdict, error) {
	sum, err := FileSHA256(ctx, path)
	if err != nil {
		g.log.Warn("checksum skipped, file unreadable", "job_id", jobID, "path", path, "error", err)
		return Verdict{}, nil
	}

	owner, err := g.registry.RegisterChecksum(ctx, jobID, sum)
	if err != nil {
		return Verdict{}, common.WrapError(err, "register checksum")
	}

	v := Verdict{Checksum: sum, OwnerID: owner, Duplicate: owner != jobID}
	if v.Duplicate {
		g.log.Info("duplicate content detected", "job_id", jobID, "owner_id", owner, "checksum", sum)
	}
	return v, nil
}

// FileSHA256 streams the file through SHA-256 and returns the hex digest.
func FileSHA256(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, &ctxReader{ctx: ctx, r: f}); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
