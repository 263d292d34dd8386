package templates

import (
	"database/sql"

	"github.com/labstack/echo/v4"

	adomain "github.com/civimail/civimail/internal/audit/domain"
	ctrl "github.com/civimail/civimail/internal/templates/controller"
	repo "github.com/civimail/civimail/internal/templates/repository"
	svc "github.com/civimail/civimail/internal/templates/service"
)

// Register wires the templates module and registers HTTP routes.
func Register(g *echo.Group, database *sql.DB, audit adomain.Service) {
	r := repo.New(database)
	s := svc.New(r, audit)
	c := ctrl.New(s)
	c.Register(g)
}
