package dispatch

import (
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	adomain "github.com/civimail/civimail/internal/audit/domain"
	audomain "github.com/civimail/civimail/internal/auth/domain"
	"github.com/civimail/civimail/internal/attachments"
	ctrl "github.com/civimail/civimail/internal/dispatch/controller"
	svc "github.com/civimail/civimail/internal/dispatch/service"
	ddomain "github.com/civimail/civimail/internal/directory/domain"
	"github.com/civimail/civimail/internal/vault"
)

// Register wires the dispatch module and registers the send-now route. The
// orchestrator is returned for the scheduler, which shares the pipeline.
func Register(g *echo.Group, dir ddomain.Repository, v *vault.Vault, audit adomain.Service, users audomain.Service, store *attachments.Store, log zerolog.Logger) *svc.Orchestrator {
	resolver := svc.NewResolver(dir)
	submitter := svc.NewSMTP(log)
	orch := svc.NewOrchestrator(resolver, v, submitter, audit, log)
	c := ctrl.New(orch, users, store)
	c.Register(g)
	return orch
}
