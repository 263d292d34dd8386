package controller

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/civimail/civimail/internal/attachments"
	audomain "github.com/civimail/civimail/internal/auth/domain"
	mw "github.com/civimail/civimail/internal/auth/middleware"
	ddomain "github.com/civimail/civimail/internal/dispatch/domain"
	sdomain "github.com/civimail/civimail/internal/scheduler/domain"
	svc "github.com/civimail/civimail/internal/scheduler/service"
)

type Controller struct {
	svc   *svc.Service
	users audomain.Service
	store *attachments.Store
}

func New(s *svc.Service, users audomain.Service, store *attachments.Store) *Controller {
	return &Controller{svc: s, users: users, store: store}
}

func (h *Controller) Register(g *echo.Group) {
	g.POST("/jobs", h.schedule, mw.RequireRole(audomain.RoleOperator))
	g.GET("/jobs", h.list)
	g.GET("/jobs/:id", h.get)
	g.DELETE("/jobs/:id", h.cancel, mw.RequireRole(audomain.RoleOperator))
}

// schedule accepts the same multipart form as an immediate send plus
// scheduled_at (RFC3339) and an optional recurrence JSON object.
// Attachments are stored under the new job's id and live until its last
// fire completes.
func (h *Controller) schedule(c echo.Context) error {
	p, _ := mw.Caller(c)
	user, err := h.users.GetUser(c.Request().Context(), p.UserID)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unknown caller"})
	}

	subject := c.FormValue("subject")
	if subject == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "subject is required"})
	}
	scheduledAt, err := time.Parse(time.RFC3339, c.FormValue("scheduled_at"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "scheduled_at must be RFC3339"})
	}
	var target ddomain.TargetSpec
	if raw := c.FormValue("target_spec"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &target); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid target_spec"})
		}
	}
	var recurrence *sdomain.Recurrence
	if raw := c.FormValue("recurrence"); raw != "" {
		recurrence = &sdomain.Recurrence{}
		if err := json.Unmarshal([]byte(raw), recurrence); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid recurrence"})
		}
		if err := recurrence.Validate(); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
	}

	// The job id is minted here so the uploads land under their final
	// owner directly.
	jobID := uuid.New()
	atts, err := saveUploads(c, h.store, jobID.String())
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	job, err := h.svc.Schedule(c.Request().Context(), user, svc.ScheduleInput{
		ID:          jobID,
		Subject:     subject,
		Body:        c.FormValue("body"),
		Target:      target,
		ScheduledAt: scheduledAt,
		Recurrence:  recurrence,
		Attachments: atts,
	})
	if err != nil {
		_ = h.store.Remove(jobID.String())
		if errors.Is(err, svc.ErrEmptyTarget) {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "target_spec names no targets"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "schedule failed"})
	}
	return c.JSON(http.StatusCreated, job)
}

func (h *Controller) list(c echo.Context) error {
	p, _ := mw.Caller(c)
	jobs, err := h.svc.List(c.Request().Context(), p.TenantKey)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "list failed"})
	}
	return c.JSON(http.StatusOK, map[string]any{"items": jobs})
}

func (h *Controller) get(c echo.Context) error {
	p, _ := mw.Caller(c)
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid id"})
	}
	job, err := h.svc.Get(c.Request().Context(), p.TenantKey, id)
	if errors.Is(err, sdomain.ErrNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "not found"})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "lookup failed"})
	}
	return c.JSON(http.StatusOK, job)
}

func (h *Controller) cancel(c echo.Context) error {
	p, _ := mw.Caller(c)
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid id"})
	}
	job, err := h.svc.Cancel(c.Request().Context(), p.TenantKey, p.UserID, id)
	switch {
	case errors.Is(err, sdomain.ErrNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": "not found"})
	case errors.Is(err, sdomain.ErrAlreadyRunning):
		return c.JSON(http.StatusConflict, map[string]string{"error": "already running"})
	case errors.Is(err, sdomain.ErrNotCancellable):
		return c.JSON(http.StatusConflict, map[string]string{"error": "already finished"})
	case err != nil:
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "cancel failed"})
	}
	return c.JSON(http.StatusOK, job)
}

func saveUploads(c echo.Context, store *attachments.Store, owner string) ([]ddomain.Attachment, error) {
	form, err := c.MultipartForm()
	if err != nil {
		return nil, nil
	}
	var out []ddomain.Attachment
	for _, files := range form.File {
		for _, fh := range files {
			src, err := fh.Open()
			if err != nil {
				return nil, err
			}
			a, err := store.Save(owner, fh.Filename, src)
			src.Close()
			if err != nil {
				return nil, err
			}
			out = append(out, ddomain.Attachment{Filename: a.Filename, Path: a.Path})
		}
	}
	return out, nil
}
