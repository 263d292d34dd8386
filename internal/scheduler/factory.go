package scheduler

import (
	"database/sql"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/civimail/civimail/internal/attachments"
	adomain "github.com/civimail/civimail/internal/audit/domain"
	audomain "github.com/civimail/civimail/internal/auth/domain"
	dsvc "github.com/civimail/civimail/internal/dispatch/service"
	ctrl "github.com/civimail/civimail/internal/scheduler/controller"
	repo "github.com/civimail/civimail/internal/scheduler/repository"
	svc "github.com/civimail/civimail/internal/scheduler/service"
)

// Register wires the scheduler module and registers the job routes. The
// caller starts the returned service's Run loop and watches Fatal.
func Register(g *echo.Group, database *sql.DB, orch *dsvc.Orchestrator, users audomain.Service, audit adomain.Service, store *attachments.Store, loc *time.Location, interval time.Duration, log zerolog.Logger) *svc.Service {
	r := repo.New(database)
	s := svc.New(r, orch, users, audit, store, loc, interval, log)
	c := ctrl.New(s, users, store)
	c.Register(g)
	return s
}
