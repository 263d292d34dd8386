package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/civimail/civimail/internal/db"
	domain "github.com/civimail/civimail/internal/templates/domain"
)

type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

func New(database *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: database, now: time.Now}
}

var _ domain.Repository = (*SQLiteRepository)(nil)

func (r *SQLiteRepository) Upsert(ctx context.Context, t domain.Template) (domain.Template, error) {
	now := r.now()
	if t.ID == 0 {
		t.CreatedAt, t.UpdatedAt = now, now
		res, err := r.db.ExecContext(ctx,
			`INSERT INTO templates (tenant_key, name, subject_template, body_template, department, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			t.TenantKey, t.Name, t.SubjectTemplate, t.BodyTemplate, t.Department,
			db.FormatTime(t.CreatedAt), db.FormatTime(t.UpdatedAt))
		if err != nil {
			return domain.Template{}, fmt.Errorf("insert template: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return domain.Template{}, err
		}
		t.ID = id
		return t, nil
	}
	t.UpdatedAt = now
	res, err := r.db.ExecContext(ctx,
		`UPDATE templates SET name = ?, subject_template = ?, body_template = ?, department = ?, updated_at = ?
		 WHERE id = ? AND tenant_key = ?`,
		t.Name, t.SubjectTemplate, t.BodyTemplate, t.Department, db.FormatTime(t.UpdatedAt), t.ID, t.TenantKey)
	if err != nil {
		return domain.Template{}, fmt.Errorf("update template: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.Template{}, domain.ErrNotFound
	}
	return r.Get(ctx, t.TenantKey, t.ID)
}

func (r *SQLiteRepository) List(ctx context.Context, tenantKey, department string) ([]domain.Template, error) {
	q := `SELECT id, tenant_key, name, subject_template, body_template, department, created_at, updated_at
	      FROM templates WHERE tenant_key = ?`
	args := []any{tenantKey}
	if department != "" {
		q += ` AND department = ?`
		args = append(args, department)
	}
	q += ` ORDER BY name`

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	var out []domain.Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) Get(ctx context.Context, tenantKey string, id int64) (domain.Template, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, tenant_key, name, subject_template, body_template, department, created_at, updated_at
		 FROM templates WHERE id = ? AND tenant_key = ?`, id, tenantKey)
	t, err := scanTemplate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Template{}, domain.ErrNotFound
	}
	return t, err
}

type rowScanner interface{ Scan(dest ...any) error }

func scanTemplate(row rowScanner) (domain.Template, error) {
	var t domain.Template
	var createdAt, updatedAt string
	err := row.Scan(&t.ID, &t.TenantKey, &t.Name, &t.SubjectTemplate, &t.BodyTemplate,
		&t.Department, &createdAt, &updatedAt)
	if err != nil {
		return domain.Template{}, err
	}
	if t.CreatedAt, err = db.ParseTime(createdAt); err != nil {
		return domain.Template{}, err
	}
	t.UpdatedAt, err = db.ParseTime(updatedAt)
	return t, err
}
