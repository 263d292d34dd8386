package domain

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrBadCredentials is the single failure surfaced for a rejected login.
// It never distinguishes an unknown email from a wrong password.
var ErrBadCredentials = errors.New("bad credentials")

var ErrEmailTaken = errors.New("email already registered")

// Role is the user's permission level within its tenant.
type Role string

const (
	RoleViewer   Role = "viewer"
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleViewer, RoleOperator, RoleAdmin:
		return true
	}
	return false
}

// AtLeast reports whether r grants the permissions of min.
func (r Role) AtLeast(min Role) bool {
	return rank(r) >= rank(min)
}

func rank(r Role) int {
	switch r {
	case RoleAdmin:
		return 3
	case RoleOperator:
		return 2
	case RoleViewer:
		return 1
	}
	return 0
}

// User belongs to exactly one tenant. The profile fields (name, role,
// department, phone) are what signature templates may reference.
type User struct {
	ID           uuid.UUID  `json:"id"`
	Email        string     `json:"email"`
	Name         string     `json:"name"`
	Department   string     `json:"department,omitempty"`
	Phone        string     `json:"phone,omitempty"`
	PasswordHash string     `json:"-"`
	TenantKey    string     `json:"tenant_key"`
	Role         Role       `json:"role"`
	CreatedAt    time.Time  `json:"created_at"`
	LastLogin    *time.Time `json:"last_login,omitempty"`
}

// Session is the result of a successful authentication.
type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      User      `json:"user"`
}

// CreateUserInput is the admin-facing user provisioning payload.
type CreateUserInput struct {
	Email      string
	Name       string
	Department string
	Phone      string
	Password   string
	TenantKey  string
	Role       Role
}

type Repository interface {
	CreateUser(ctx context.Context, u User) error
	GetByEmail(ctx context.Context, email string) (User, error)
	GetByID(ctx context.Context, id uuid.UUID) (User, error)
	UpdateLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error
}

type Service interface {
	Authenticate(ctx context.Context, email, password string) (Session, error)
	CreateUser(ctx context.Context, actor User, in CreateUserInput) (User, error)
	GetUser(ctx context.Context, id uuid.UUID) (User, error)
}
