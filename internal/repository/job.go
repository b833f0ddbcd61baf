package repository

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/docintake/constants"
	"github.com/joseph-ayodele/docintake/internal/common"
	"github.com/joseph-ayodele/docintake/internal/entity"
)

const (
	jobsTable      = "jobs"
	checksumsTable = "job_checksums"
)

// ListFilter narrows List. Zero values mean "no filter".
type ListFilter struct {
	Status  constants.JobStatus
	OwnerID uuid.UUID
	Limit   int
	Offset  int
}

type JobRepository interface {
	Create(ctx context.Context, job *entity.Job) (*entity.Job, error)
	Get(ctx context.Context, id int64) (*entity.Job, error)
	// Claim moves a pending job to processing. It reports false, without
	// error, when the job is in any other state.
	Claim(ctx context.Context, id int64) (*entity.Job, bool, error)
	// RegisterChecksum records checksum on the job and in the registry inside
	// one transaction and returns the id of the job that owns the content.
	RegisterChecksum(ctx context.Context, jobID int64, checksum string) (int64, error)
	// Save commits the final state of the attempt that currently holds the job.
	Save(ctx context.Context, out entity.Outcome) error
	// ApplyResult overwrites the job with a finished attempt's outcome. It is
	// a no-op, reported as false, when a newer attempt owns the row.
	ApplyResult(ctx context.Context, out entity.Outcome) (bool, error)
	// RequeueFailed flips failed back to pending while retries stays under max.
	RequeueFailed(ctx context.Context, jobID int64, retries, maxRetries int) (bool, error)
	List(ctx context.Context, filter ListFilter) ([]*entity.Job, error)
	CountByStatus(ctx context.Context) (map[constants.JobStatus]int, error)
	ListPending(ctx context.Context, limit int) ([]*entity.Job, error)
}

type jobRepo struct {
	db  *DB
	log *slog.Logger
	now func() time.Time
}

func NewJobRepository(db *DB, log *slog.Logger) JobRepository {
	if log == nil {
		log = slog.Default()
	}
	return &jobRepo{db: db, log: log, now: func() time.Time { return time.Now().UTC() }}
}

func (r *jobRepo) builder() *entsql.DialectBuilder {
	return entsql.Dialect(r.db.Dialect)
}

func (r *jobRepo) Create(ctx context.Context, job *entity.Job) (*entity.Job, error) {
	if job.Status == "" {
		job.Status = constants.JobStatusPending
	}
	now := r.now()
	var group any
	if job.GroupID != nil {
		group = job.GroupID.String()
	}
	ins := r.builder().Insert(jobsTable).
		Columns("filename", "original_filename", "filepath", "status", "retries", "owner_id", "group_id", "created_at", "updated_at").
		Values(job.Filename, job.OriginalFilename, job.Filepath, string(job.Status), job.Retries, job.OwnerID.String(), group, now, now)

	var id int64
	if r.db.Dialect == dialect.Postgres {
		q, args := ins.Returning("id").Query()
		if err := r.db.SQL.QueryRowContext(ctx, q, args...).Scan(&id); err != nil {
			r.log.Error("job create failed", "filename", job.Filename, "err", err)
			return nil, common.WrapError(err, "create job")
		}
	} else {
		q, args := ins.Query()
		res, err := r.db.SQL.ExecContext(ctx, q, args...)
		if err != nil {
			r.log.Error("job create failed", "filename", job.Filename, "err", err)
			return nil, common.WrapError(err, "create job")
		}
		if id, err = res.LastInsertId(); err != nil {
			return nil, common.WrapError(err, "create job")
		}
	}

	out := *job
	out.ID = id
	out.CreatedAt = now
	out.UpdatedAt = now
	r.log.Info("job created", "job_id", id, "filename", job.Filename, "status", job.Status)
	return &out, nil
}

func (r *jobRepo) Get(ctx context.Context, id int64) (*entity.Job, error) {
	q, args := r.builder().Select(jobColumns...).
		From(entsql.Table(jobsTable)).
		Where(entsql.EQ("id", id)).
		Query()
	job, err := scanJob(r.db.SQL.QueryRowContext(ctx, q, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.NewAppError("NOT_FOUND", "job not found", common.ErrNotFound)
	}
	if err != nil {
		r.log.Error("job get failed", "job_id", id, "err", err)
		return nil, common.WrapError(err, "get job")
	}
	return job, nil
}

func (r *jobRepo) Claim(ctx context.Context, id int64) (*entity.Job, bool, error) {
	q, args := r.builder().Update(jobsTable).
		Set("status", string(constants.JobStatusProcessing)).
		Set("updated_at", r.now()).
		Where(entsql.And(
			entsql.EQ("id", id),
			entsql.EQ("status", string(constants.JobStatusPending)),
		)).
		Query()
	n, err := r.exec(ctx, q, args)
	if err != nil {
		r.log.Error("job claim failed", "job_id", id, "err", err)
		return nil, false, common.WrapError(err, "claim job")
	}
	job, err := r.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if n == 0 {
		r.log.Info("job not claimable", "job_id", id, "status", job.Status)
		return job, false, nil
	}
	r.log.Debug("job claimed", "job_id", id)
	return job, true, nil
}

func (r *jobRepo) RegisterChecksum(ctx context.Context, jobID int64, checksum string) (int64, error) {
	tx, err := r.db.SQL.BeginTx(ctx, nil)
	if err != nil {
		return 0, common.WrapError(err, "begin checksum tx")
	}
	defer func() { _ = tx.Rollback() }()

	now := r.now()
	// a checksum, once set, is never rewritten
	q, args := r.builder().Update(jobsTable).
		Set("checksum", checksum).
		Set("updated_at", now).
		Where(entsql.And(entsql.EQ("id", jobID), entsql.IsNull("checksum"))).
		Query()
	if _, err := tx.ExecContext(ctx, q, args...); err != nil {
		return 0, common.WrapError(err, "set checksum")
	}

	q, args = r.builder().Insert(checksumsTable).
		Columns("checksum", "job_id", "created_at").
		Values(checksum, jobID, now).
		OnConflict(entsql.ConflictColumns("checksum"), entsql.DoNothing()).
		Query()
	if _, err := tx.ExecContext(ctx, q, args...); err != nil {
		return 0, common.WrapError(err, "register checksum")
	}

	q, args = r.builder().Select("job_id").
		From(entsql.Table(checksumsTable)).
		Where(entsql.EQ("checksum", checksum)).
		Query()
	var owner int64
	if err := tx.QueryRowContext(ctx, q, args...).Scan(&owner); err != nil {
		return 0, common.WrapError(err, "read checksum owner")
	}
	if err := tx.Commit(); err != nil {
		return 0, common.WrapError(err, "commit checksum")
	}
	r.log.Debug("checksum registered", "job_id", jobID, "owner_id", owner)
	return owner, nil
}

func (r *jobRepo) Save(ctx context.Context, out entity.Outcome) error {
	pred := entsql.And(
		entsql.EQ("id", out.JobID),
		entsql.EQ("status", string(constants.JobStatusProcessing)),
		entsql.EQ("retries", out.ClaimedRetries),
	)
	n, err := r.writeOutcome(ctx, out, pred)
	if err != nil {
		r.log.Error("job save failed", "job_id", out.JobID, "status", out.Status, "err", err)
		return common.WrapError(err, "save job")
	}
	if n == 0 {
		r.log.Warn("job save skipped, attempt no longer owns the row", "job_id", out.JobID, "status", out.Status)
		return common.ErrStaleResult
	}
	r.log.Info("job saved", "job_id", out.JobID, "status", out.Status, "retries", out.Retries)
	return nil
}

func (r *jobRepo) ApplyResult(ctx context.Context, out entity.Outcome) (bool, error) {
	pred := entsql.And(
		entsql.EQ("id", out.JobID),
		entsql.Or(
			entsql.And(
				entsql.EQ("status", string(out.Status)),
				entsql.EQ("retries", out.Retries),
			),
			entsql.And(
				entsql.EQ("status", string(constants.JobStatusProcessing)),
				entsql.EQ("retries", out.ClaimedRetries),
			),
		),
	)
	n, err := r.writeOutcome(ctx, out, pred)
	if err != nil {
		r.log.Error("apply result failed", "job_id", out.JobID, "err", err)
		return false, common.WrapError(err, "apply result")
	}
	if n == 0 {
		r.log.Info("stale result ignored", "job_id", out.JobID, "status", out.Status, "retries", out.Retries)
		return false, nil
	}
	return true, nil
}

func (r *jobRepo) writeOutcome(ctx context.Context, out entity.Outcome, pred *entsql.Predicate) (int64, error) {
	if !out.Status.Terminal() {
		return 0, common.NewAppError("INVALID_OUTCOME", "outcome status must be terminal: "+out.Status.String(), common.ErrInvalidInput)
	}
	cols, err := outcomeColumns(out)
	if err != nil {
		return 0, err
	}
	upd := r.builder().Update(jobsTable)
	for _, c := range cols {
		upd.Set(c.column, c.value)
	}
	q, args := upd.Set("updated_at", r.now()).Where(pred).Query()
	return r.exec(ctx, q, args)
}

func (r *jobRepo) RequeueFailed(ctx context.Context, jobID int64, retries, maxRetries int) (bool, error) {
	if retries >= maxRetries {
		return false, nil
	}
	q, args := r.builder().Update(jobsTable).
		Set("status", string(constants.JobStatusPending)).
		Set("updated_at", r.now()).
		Where(entsql.And(
			entsql.EQ("id", jobID),
			entsql.EQ("status", string(constants.JobStatusFailed)),
			entsql.EQ("retries", retries),
			entsql.LT("retries", maxRetries),
		)).
		Query()
	n, err := r.exec(ctx, q, args)
	if err != nil {
		r.log.Error("requeue failed", "job_id", jobID, "err", err)
		return false, common.WrapError(err, "requeue job")
	}
	if n > 0 {
		r.log.Info("job requeued", "job_id", jobID, "retries", retries, "max_retries", maxRetries)
	}
	return n > 0, nil
}

func (r *jobRepo) List(ctx context.Context, filter ListFilter) ([]*entity.Job, error) {
	sel := r.builder().Select(jobColumns...).From(entsql.Table(jobsTable))
	var preds []*entsql.Predicate
	if filter.Status != "" {
		preds = append(preds, entsql.EQ("status", string(filter.Status)))
	}
	if filter.OwnerID != uuid.Nil {
		preds = append(preds, entsql.EQ("owner_id", filter.OwnerID.String()))
	}
	if len(preds) > 0 {
		sel.Where(entsql.And(preds...))
	}
	sel.OrderBy(entsql.Desc("id"))
	if filter.Limit > 0 {
		sel.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		sel.Offset(filter.Offset)
	}
	return r.queryJobs(ctx, sel)
}

func (r *jobRepo) ListPending(ctx context.Context, limit int) ([]*entity.Job, error) {
	sel := r.builder().Select(jobColumns...).
		From(entsql.Table(jobsTable)).
		Where(entsql.EQ("status", string(constants.JobStatusPending))).
		OrderBy(entsql.Asc("id"))
	if limit > 0 {
		sel.Limit(limit)
	}
	return r.queryJobs(ctx, sel)
}

func (r *jobRepo) CountByStatus(ctx context.Context) (map[constants.JobStatus]int, error) {
	q, args := r.builder().Select("status", entsql.As(entsql.Count("*"), "n")).
		From(entsql.Table(jobsTable)).
		GroupBy("status").
		Query()
	rows, err := r.db.SQL.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, common.WrapError(err, "count jobs")
	}
	defer rows.Close()

	counts := make(map[constants.JobStatus]int, len(constants.AllJobStatuses))
	for _, st := range constants.AllJobStatuses {
		counts[st] = 0
	}
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, common.WrapError(err, "count jobs")
		}
		if st, ok := constants.ParseJobStatus(status); ok {
			counts[st] = n
		}
	}
	return counts, rows.Err()
}

func (r *jobRepo) queryJobs(ctx context.Context, sel *entsql.Selector) ([]*entity.Job, error) {
	q, args := sel.Query()
	rows, err := r.db.SQL.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, common.WrapError(err, "list jobs")
	}
	defer rows.Close()

	var jobs []*entity.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, common.WrapError(err, "list jobs")
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (r *jobRepo) exec(ctx context.Context, q string, args []any) (int64, error) {
	res, err := r.db.SQL.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
