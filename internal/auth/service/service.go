package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	adomain "github.com/civimail/civimail/internal/audit/domain"
	domain "github.com/civimail/civimail/internal/auth/domain"
	"github.com/civimail/civimail/internal/config"
	"github.com/civimail/civimail/internal/metrics"
)

// dummyHash keeps the bcrypt comparison on the failure path so a login
// against an unknown email costs the same as a wrong password.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("civimail-dummy"), bcrypt.DefaultCost)

type Service struct {
	repo  domain.Repository
	audit adomain.Service
	cfg   config.Config
	log   zerolog.Logger
	now   func() time.Time
}

func New(repo domain.Repository, audit adomain.Service, cfg config.Config, log zerolog.Logger) *Service {
	return &Service{repo: repo, audit: audit, cfg: cfg, log: log, now: time.Now}
}

// SetClock overrides the time source, for tests.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

var _ domain.Service = (*Service)(nil)

func (s *Service) Authenticate(ctx context.Context, email, password string) (domain.Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return domain.Session{}, domain.ErrBadCredentials
	}

	u, err := s.repo.GetByEmail(ctx, email)
	if errors.Is(err, domain.ErrBadCredentials) {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		s.recordFailure(ctx)
		return domain.Session{}, domain.ErrBadCredentials
	}
	if err != nil {
		return domain.Session{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		s.recordFailure(ctx)
		return domain.Session{}, domain.ErrBadCredentials
	}

	now := s.now()
	if err := s.repo.UpdateLastLogin(ctx, u.ID, now); err != nil {
		return domain.Session{}, err
	}
	u.LastLogin = &now

	expiresAt := now.Add(s.cfg.SessionTTL)
	claims := jwt.MapClaims{
		"sub":  u.ID.String(),
		"ten":  u.TenantKey,
		"role": string(u.Role),
		"exp":  expiresAt.Unix(),
		"iat":  now.Unix(),
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.JWTSigningKey))
	if err != nil {
		return domain.Session{}, fmt.Errorf("sign session token: %w", err)
	}

	metrics.IncLogin("success")
	_ = s.audit.Append(ctx, u.TenantKey, &u.ID, adomain.ActionLogin, "user logged in")
	return domain.Session{Token: tok, ExpiresAt: expiresAt, User: u}, nil
}

// recordFailure audits a rejected login without recording the attempted
// email, so the trail never reveals whether it exists.
func (s *Service) recordFailure(ctx context.Context) {
	metrics.IncLogin("failure")
	_ = s.audit.Append(ctx, "", nil, adomain.ActionLoginFailed, "login rejected")
}

func (s *Service) CreateUser(ctx context.Context, actor domain.User, in domain.CreateUserInput) (domain.User, error) {
	if !actor.Role.AtLeast(domain.RoleAdmin) {
		return domain.User{}, errors.New("only admins may create users")
	}
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if in.Email == "" || in.Password == "" {
		return domain.User{}, errors.New("email and password are required")
	}
	if !in.Role.Valid() {
		return domain.User{}, fmt.Errorf("invalid role %q", in.Role)
	}
	// Admins provision users for their own tenant only.
	if in.TenantKey == "" {
		in.TenantKey = actor.TenantKey
	}
	if in.TenantKey != actor.TenantKey {
		return domain.User{}, errors.New("cannot create a user for another tenant")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return domain.User{}, err
	}
	u := domain.User{
		ID:           uuid.New(),
		Email:        in.Email,
		Name:         in.Name,
		Department:   in.Department,
		Phone:        in.Phone,
		PasswordHash: string(hash),
		TenantKey:    in.TenantKey,
		Role:         in.Role,
		CreatedAt:    s.now(),
	}
	if err := s.repo.CreateUser(ctx, u); err != nil {
		return domain.User{}, err
	}
	_ = s.audit.Append(ctx, u.TenantKey, &actor.ID, adomain.ActionUserCreated,
		fmt.Sprintf("created user %s (%s)", u.Email, u.Role))
	return u, nil
}

func (s *Service) GetUser(ctx context.Context, id uuid.UUID) (domain.User, error) {
	return s.repo.GetByID(ctx, id)
}
