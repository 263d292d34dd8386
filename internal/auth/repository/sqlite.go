package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	domain "github.com/civimail/civimail/internal/auth/domain"
	"github.com/civimail/civimail/internal/db"
)

type SQLiteRepository struct {
	db *sql.DB
}

func New(database *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: database}
}

var _ domain.Repository = (*SQLiteRepository)(nil)

func (r *SQLiteRepository) CreateUser(ctx context.Context, u domain.User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, email, name, department, phone, password_hash, tenant_key, role, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID.String(), strings.ToLower(u.Email), u.Name, u.Department, u.Phone,
		u.PasswordHash, u.TenantKey, string(u.Role), db.FormatTime(u.CreatedAt))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return domain.ErrEmailTaken
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, email, name, department, phone, password_hash, tenant_key, role, created_at, last_login
		 FROM users WHERE email = ?`, strings.ToLower(strings.TrimSpace(email)))
	return scanUser(row)
}

func (r *SQLiteRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, email, name, department, phone, password_hash, tenant_key, role, created_at, last_login
		 FROM users WHERE id = ?`, id.String())
	return scanUser(row)
}

func (r *SQLiteRepository) UpdateLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET last_login = ? WHERE id = ?`, db.FormatTime(at), id.String())
	if err != nil {
		return fmt.Errorf("update last login: %w", err)
	}
	return nil
}

func scanUser(row *sql.Row) (domain.User, error) {
	var u domain.User
	var id, role, createdAt string
	var lastLogin sql.NullString
	err := row.Scan(&id, &u.Email, &u.Name, &u.Department, &u.Phone,
		&u.PasswordHash, &u.TenantKey, &role, &createdAt, &lastLogin)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.User{}, domain.ErrBadCredentials
	}
	if err != nil {
		return domain.User{}, err
	}
	u.ID, err = uuid.Parse(id)
	if err != nil {
		return domain.User{}, err
	}
	u.Role = domain.Role(role)
	u.CreatedAt, err = db.ParseTime(createdAt)
	if err != nil {
		return domain.User{}, err
	}
	u.LastLogin, err = db.ParseTimePtr(lastLogin)
	return u, err
}
