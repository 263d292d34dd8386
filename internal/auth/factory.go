package auth

import (
	"database/sql"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	adomain "github.com/civimail/civimail/internal/audit/domain"
	ctrl "github.com/civimail/civimail/internal/auth/controller"
	domain "github.com/civimail/civimail/internal/auth/domain"
	repo "github.com/civimail/civimail/internal/auth/repository"
	svc "github.com/civimail/civimail/internal/auth/service"
	"github.com/civimail/civimail/internal/config"
)

// Register wires the auth module and registers HTTP routes. It returns the
// service so the scheduler can resolve sender profiles for signatures.
func Register(public, authed *echo.Group, database *sql.DB, cfg config.Config, audit adomain.Service, log zerolog.Logger) domain.Service {
	r := repo.New(database)
	s := svc.New(r, audit, cfg, log)
	c := ctrl.New(s)
	c.Register(public, authed)
	return s
}
