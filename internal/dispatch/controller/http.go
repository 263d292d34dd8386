package controller

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	audomain "github.com/civimail/civimail/internal/auth/domain"
	mw "github.com/civimail/civimail/internal/auth/middleware"
	"github.com/civimail/civimail/internal/attachments"
	domain "github.com/civimail/civimail/internal/dispatch/domain"
	svc "github.com/civimail/civimail/internal/dispatch/service"
	"github.com/civimail/civimail/internal/vault"
)

type Controller struct {
	orch  *svc.Orchestrator
	users audomain.Service
	store *attachments.Store
}

func New(orch *svc.Orchestrator, users audomain.Service, store *attachments.Store) *Controller {
	return &Controller{orch: orch, users: users, store: store}
}

func (h *Controller) Register(g *echo.Group) {
	g.POST("/send", h.sendNow, mw.RequireRole(audomain.RoleOperator))
}

// sendNow accepts a multipart form: subject, body, target_spec (JSON) and
// zero or more attachment file parts. It blocks until the dispatch is
// finished and returns the full SentMessage.
func (h *Controller) sendNow(c echo.Context) error {
	p, _ := mw.Caller(c)
	user, err := h.users.GetUser(c.Request().Context(), p.UserID)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unknown caller"})
	}

	subject := c.FormValue("subject")
	body := c.FormValue("body")
	if subject == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "subject is required"})
	}
	var target domain.TargetSpec
	if raw := c.FormValue("target_spec"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &target); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid target_spec"})
		}
	}
	if target.Empty() {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "target_spec names no targets"})
	}

	// Ad-hoc attachments live only for the duration of this dispatch.
	owner := "adhoc-" + uuid.NewString()
	atts, err := saveUploads(c, h.store, owner)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	defer h.store.Remove(owner)

	sender := svc.Sender{
		UserID:     &user.ID,
		TenantKey:  user.TenantKey,
		Name:       user.Name,
		Role:       string(user.Role),
		Department: user.Department,
		Phone:      user.Phone,
		Email:      user.Email,
	}
	msg, err := h.orch.Dispatch(c.Request().Context(), sender, svc.SendInput{
		Subject:     subject,
		Body:        body,
		Target:      target,
		Attachments: atts,
		Trigger:     svc.TriggerImmediate,
	})
	if errors.Is(err, domain.ErrNoRecipients) {
		return c.JSON(http.StatusUnprocessableEntity, map[string]string{"error": "no recipients after validation"})
	}
	if errors.Is(err, vault.ErrUnconfigured) {
		return c.JSON(http.StatusConflict, map[string]string{"error": "tenant has no SMTP profile"})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "dispatch failed"})
	}
	return c.JSON(http.StatusOK, msg)
}

// saveUploads stores every file part of the multipart form under the
// owner's attachment directory.
func saveUploads(c echo.Context, store *attachments.Store, owner string) ([]domain.Attachment, error) {
	form, err := c.MultipartForm()
	if err != nil {
		// Plain form posts without attachments are fine.
		return nil, nil
	}
	var out []domain.Attachment
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
			out = append(out, domain.Attachment{Filename: a.Filename, Path: a.Path})
		}
	}
	return out, nil
}
