package directory

import (
	"database/sql"

	"github.com/labstack/echo/v4"

	adomain "github.com/civimail/civimail/internal/audit/domain"
	ctrl "github.com/civimail/civimail/internal/directory/controller"
	domain "github.com/civimail/civimail/internal/directory/domain"
	repo "github.com/civimail/civimail/internal/directory/repository"
	svc "github.com/civimail/civimail/internal/directory/service"
)

// Register wires the directory module and registers HTTP routes. The
// repository is returned for the recipient resolver.
func Register(g *echo.Group, database *sql.DB, audit adomain.Service) domain.Repository {
	r := repo.New(database)
	s := svc.New(r, audit)
	c := ctrl.New(s)
	c.Register(g)
	return r
}
