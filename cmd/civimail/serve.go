package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/civimail/civimail/internal/attachments"
	"github.com/civimail/civimail/internal/audit"
	"github.com/civimail/civimail/internal/auth"
	authmw "github.com/civimail/civimail/internal/auth/middleware"
	"github.com/civimail/civimail/internal/backup"
	"github.com/civimail/civimail/internal/config"
	"github.com/civimail/civimail/internal/db"
	"github.com/civimail/civimail/internal/directory"
	"github.com/civimail/civimail/internal/dispatch"
	"github.com/civimail/civimail/internal/logger"
	"github.com/civimail/civimail/internal/platform/validation"
	"github.com/civimail/civimail/internal/scheduler"
	"github.com/civimail/civimail/internal/templates"
	"github.com/civimail/civimail/internal/vault"
)

func serve(cmd *cobra.Command, cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return exitErr(exitConfig, err)
	}

	log := logger.New(cfg.AppEnv)
	log.Info().Str("addr", cfg.AppAddr).Str("db", cfg.DatabasePath).Msg("starting civimail")

	database, err := db.Open(cfg.DatabasePath)
	if err != nil {
		return exitErr(exitStorage, err)
	}
	defer database.Close()
	if err := db.Migrate(database); err != nil {
		return exitErr(exitStorage, err)
	}

	store, err := attachments.New(cfg.AttachmentsDir)
	if err != nil {
		return exitErr(exitStorage, err)
	}
	credentials := vault.New(cfg)

	if err := smtpCheck(cfg, credentials, log); err != nil {
		return exitErr(exitSMTP, err)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger())
	e.Use(middleware.Secure())
	e.Validator = validation.New()

	public := e.Group("/api/v1")
	authed := e.Group("/api/v1", authmw.NewJWT(cfg))

	auditSvc := audit.Register(authed, database, log)
	users := auth.Register(public, authed, database, cfg, auditSvc, log)
	dir := directory.Register(authed, database, auditSvc)
	templates.Register(authed, database, auditSvc)
	orch := dispatch.Register(authed, dir, credentials, auditSvc, users, store, log)
	sched := scheduler.Register(authed, database, orch, users, auditSvc, store,
		cfg.Location(), cfg.SchedulerInterval, log)

	e.GET("/healthz", func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 500*time.Millisecond)
		defer cancel()

		dbStatus := "ok"
		if err := database.PingContext(ctx); err != nil {
			dbStatus = "down"
		}
		return c.JSON(http.StatusOK, map[string]any{
			"status": "ok",
			"time":   time.Now().UTC().Format(time.RFC3339),
			"db":     dbStatus,
		})
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go sched.Run(ctx)
	go backup.New(database, cfg.BackupDir, cfg.Backup, cfg.Location(), log).Run(ctx)

	serverErr := make(chan error, 1)
	go func() {
		if err := e.Start(cfg.AppAddr); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serverErr:
		runErr = err
	case err := <-sched.Fatal():
		runErr = exitErr(exitStorage, err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
	log.Info().Msg("server stopped")
	return runErr
}

// smtpCheck probes every configured tenant's SMTP endpoint at startup.
// best_effort logs unreachable servers; strict refuses to start.
func smtpCheck(cfg config.Config, credentials *vault.Vault, log zerolog.Logger) error {
	if cfg.SMTPCheck == "off" {
		return nil
	}
	var failed []string
	for _, key := range credentials.TenantKeys() {
		p, err := credentials.Lookup(key)
		if err != nil {
			continue
		}
		if err := probeAddr(p.Addr()); err != nil {
			log.Warn().Err(err).Str("tenant_key", key).Str("addr", p.Addr()).Msg("SMTP server unreachable")
			failed = append(failed, key)
		}
	}
	if len(failed) > 0 && cfg.SMTPCheck == "strict" {
		return fmt.Errorf("SMTP unreachable for tenants %v", failed)
	}
	return nil
}
