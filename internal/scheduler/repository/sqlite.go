package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/civimail/civimail/internal/db"
	ddomain "github.com/civimail/civimail/internal/dispatch/domain"
	sdomain "github.com/civimail/civimail/internal/scheduler/domain"
)

type SQLiteRepository struct {
	db *sql.DB
}

func New(database *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: database}
}

var _ sdomain.Repository = (*SQLiteRepository)(nil)

const jobColumns = `id, tenant_key, user_id, subject, body, target_spec, recurrence,
	status, scheduled_at, next_fire_at, last_fire_at, fires_left, created_at`

func (r *SQLiteRepository) Insert(ctx context.Context, j sdomain.Job) error {
	target, err := json.Marshal(j.Target)
	if err != nil {
		return fmt.Errorf("marshal target spec: %w", err)
	}
	var recurrence sql.NullString
	if j.Recurrence != nil {
		b, err := json.Marshal(j.Recurrence)
		if err != nil {
			return fmt.Errorf("marshal recurrence: %w", err)
		}
		recurrence = sql.NullString{String: string(b), Valid: true}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert job: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO scheduled_jobs (`+jobColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID.String(), j.TenantKey, j.UserID.String(), j.Subject, j.Body,
		string(target), recurrence, string(j.Status),
		db.FormatTime(j.ScheduledAt), db.FormatTimePtr(j.NextFireAt),
		db.FormatTimePtr(j.LastFireAt), intPtr(j.FiresLeft), db.FormatTime(j.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	for _, a := range j.Attachments {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO job_attachments (job_id, filename, path) VALUES (?, ?, ?)`,
			j.ID.String(), a.Filename, a.Path)
		if err != nil {
			return fmt.Errorf("insert job attachment: %w", err)
		}
	}
	return tx.Commit()
}

func (r *SQLiteRepository) List(ctx context.Context, tenantKey string) ([]sdomain.Job, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM scheduled_jobs
		 WHERE tenant_key = ? ORDER BY scheduled_at DESC, id`, tenantKey)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []sdomain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return r.loadAttachments(ctx, out)
}

func (r *SQLiteRepository) Get(ctx context.Context, tenantKey string, id uuid.UUID) (sdomain.Job, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM scheduled_jobs WHERE id = ? AND tenant_key = ?`,
		id.String(), tenantKey)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return sdomain.Job{}, sdomain.ErrNotFound
	}
	if err != nil {
		return sdomain.Job{}, err
	}
	jobs, err := r.loadAttachments(ctx, []sdomain.Job{j})
	if err != nil {
		return sdomain.Job{}, err
	}
	return jobs[0], nil
}

// ClaimDue selects due pending jobs and flips them to running in one
// transaction. The single-connection pool serializes this against every
// other writer, so each fire is handed to exactly one caller.
func (r *SQLiteRepository) ClaimDue(ctx context.Context, now time.Time, limit int) ([]sdomain.Job, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM scheduled_jobs
		 WHERE status = ? AND next_fire_at IS NOT NULL AND next_fire_at <= ?
		 ORDER BY next_fire_at, id LIMIT ?`,
		string(sdomain.StatusPending), db.FormatTime(now), limit)
	if err != nil {
		return nil, fmt.Errorf("select due jobs: %w", err)
	}
	var claimed []sdomain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		claimed = append(claimed, j)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("select due jobs: %w", err)
	}
	rows.Close()

	for i := range claimed {
		_, err := tx.ExecContext(ctx,
			`UPDATE scheduled_jobs SET status = ? WHERE id = ? AND status = ?`,
			string(sdomain.StatusRunning), claimed[i].ID.String(), string(sdomain.StatusPending))
		if err != nil {
			return nil, fmt.Errorf("claim job %s: %w", claimed[i].ID, err)
		}
		claimed[i].Status = sdomain.StatusRunning
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}
	return r.loadAttachments(ctx, claimed)
}

func (r *SQLiteRepository) Complete(ctx context.Context, id uuid.UUID, c sdomain.Completion) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE scheduled_jobs
		 SET status = ?, next_fire_at = ?, last_fire_at = ?, fires_left = ?
		 WHERE id = ? AND status = ?`,
		string(c.Status), db.FormatTimePtr(c.NextFireAt),
		db.FormatTime(c.FiredAt), intPtr(c.FiresLeft),
		id.String(), string(sdomain.StatusRunning))
	if err != nil {
		return fmt.Errorf("complete job %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("complete job %s: %w", id, sdomain.ErrNotFound)
	}
	return nil
}

// Cancel flips a pending job to cancelled. Running jobs cannot be
// preempted and terminal jobs stay as they are.
func (r *SQLiteRepository) Cancel(ctx context.Context, tenantKey string, id uuid.UUID) (sdomain.Job, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return sdomain.Job{}, fmt.Errorf("begin cancel: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM scheduled_jobs WHERE id = ? AND tenant_key = ?`,
		id.String(), tenantKey)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return sdomain.Job{}, sdomain.ErrNotFound
	}
	if err != nil {
		return sdomain.Job{}, err
	}
	switch j.Status {
	case sdomain.StatusRunning:
		return sdomain.Job{}, sdomain.ErrAlreadyRunning
	case sdomain.StatusPending:
	default:
		return sdomain.Job{}, sdomain.ErrNotCancellable
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE scheduled_jobs SET status = ?, next_fire_at = NULL WHERE id = ?`,
		string(sdomain.StatusCancelled), id.String())
	if err != nil {
		return sdomain.Job{}, fmt.Errorf("cancel job %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return sdomain.Job{}, fmt.Errorf("commit cancel: %w", err)
	}
	j.Status = sdomain.StatusCancelled
	j.NextFireAt = nil
	return j, nil
}

func (r *SQLiteRepository) RequeueStale(ctx context.Context) (int, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE scheduled_jobs SET status = ? WHERE status = ?`,
		string(sdomain.StatusPending), string(sdomain.StatusRunning))
	if err != nil {
		return 0, fmt.Errorf("requeue stale jobs: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (r *SQLiteRepository) loadAttachments(ctx context.Context, jobs []sdomain.Job) ([]sdomain.Job, error) {
	for i := range jobs {
		rows, err := r.db.QueryContext(ctx,
			`SELECT filename, path FROM job_attachments WHERE job_id = ? ORDER BY filename`,
			jobs[i].ID.String())
		if err != nil {
			return nil, fmt.Errorf("load attachments for %s: %w", jobs[i].ID, err)
		}
		for rows.Next() {
			var a ddomain.Attachment
			if err := rows.Scan(&a.Filename, &a.Path); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan attachment: %w", err)
			}
			jobs[i].Attachments = append(jobs[i].Attachments, a)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("load attachments for %s: %w", jobs[i].ID, err)
		}
		rows.Close()
	}
	return jobs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(s scanner) (sdomain.Job, error) {
	var (
		j           sdomain.Job
		id, userID  string
		target      string
		recurrence  sql.NullString
		status      string
		scheduledAt string
		nextFire    sql.NullString
		lastFire    sql.NullString
		firesLeft   sql.NullInt64
		createdAt   string
	)
	err := s.Scan(&id, &j.TenantKey, &userID, &j.Subject, &j.Body, &target,
		&recurrence, &status, &scheduledAt, &nextFire, &lastFire, &firesLeft, &createdAt)
	if err != nil {
		return sdomain.Job{}, err
	}
	if j.ID, err = uuid.Parse(id); err != nil {
		return sdomain.Job{}, fmt.Errorf("parse job id: %w", err)
	}
	if j.UserID, err = uuid.Parse(userID); err != nil {
		return sdomain.Job{}, fmt.Errorf("parse job user id: %w", err)
	}
	if err = json.Unmarshal([]byte(target), &j.Target); err != nil {
		return sdomain.Job{}, fmt.Errorf("unmarshal target spec: %w", err)
	}
	if recurrence.Valid {
		j.Recurrence = &sdomain.Recurrence{}
		if err = json.Unmarshal([]byte(recurrence.String), j.Recurrence); err != nil {
			return sdomain.Job{}, fmt.Errorf("unmarshal recurrence: %w", err)
		}
	}
	j.Status = sdomain.Status(status)
	if j.ScheduledAt, err = db.ParseTime(scheduledAt); err != nil {
		return sdomain.Job{}, fmt.Errorf("parse scheduled_at: %w", err)
	}
	if j.NextFireAt, err = db.ParseTimePtr(nextFire); err != nil {
		return sdomain.Job{}, fmt.Errorf("parse next_fire_at: %w", err)
	}
	if j.LastFireAt, err = db.ParseTimePtr(lastFire); err != nil {
		return sdomain.Job{}, fmt.Errorf("parse last_fire_at: %w", err)
	}
	if firesLeft.Valid {
		n := int(firesLeft.Int64)
		j.FiresLeft = &n
	}
	if j.CreatedAt, err = db.ParseTime(createdAt); err != nil {
		return sdomain.Job{}, fmt.Errorf("parse created_at: %w", err)
	}
	return j, nil
}

func intPtr(n *int) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*n), Valid: true}
}
