package audit

import (
	"database/sql"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	ctrl "github.com/civimail/civimail/internal/audit/controller"
	adomain "github.com/civimail/civimail/internal/audit/domain"
	repo "github.com/civimail/civimail/internal/audit/repository"
	svc "github.com/civimail/civimail/internal/audit/service"
)

// Register wires the audit module and registers the read-only history
// routes. The service is returned because every other module writes
// through it.
func Register(g *echo.Group, database *sql.DB, log zerolog.Logger) adomain.Service {
	r := repo.New(database)
	s := svc.New(r, log)
	c := ctrl.New(s)
	c.Register(g)
	return s
}
