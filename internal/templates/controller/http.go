package controller

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	audomain "github.com/civimail/civimail/internal/auth/domain"
	mw "github.com/civimail/civimail/internal/auth/middleware"
	"github.com/civimail/civimail/internal/platform/validation"
	domain "github.com/civimail/civimail/internal/templates/domain"
)

type Controller struct {
	svc domain.Service
}

func New(svc domain.Service) *Controller {
	return &Controller{svc: svc}
}

func (h *Controller) Register(g *echo.Group) {
	g.GET("/templates", h.list)
	g.GET("/templates/:id", h.get)
	g.POST("/templates", h.upsert, mw.RequireRole(audomain.RoleOperator))
}

type templateReq struct {
	ID              int64  `json:"id"`
	Name            string `json:"name" validate:"required"`
	SubjectTemplate string `json:"subject_template" validate:"required"`
	BodyTemplate    string `json:"body_template"`
	Department      string `json:"department"`
}

func (h *Controller) upsert(c echo.Context) error {
	var req templateReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid json"})
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusBadRequest, validation.ErrorResponse(err))
	}
	p, _ := mw.Caller(c)
	t, err := h.svc.Upsert(c.Request().Context(), p.TenantKey, p.UserID.String(), domain.Template{
		ID:              req.ID,
		Name:            req.Name,
		SubjectTemplate: req.SubjectTemplate,
		BodyTemplate:    req.BodyTemplate,
		Department:      req.Department,
	})
	if errors.Is(err, domain.ErrNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "template not found"})
	}
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	status := http.StatusOK
	if req.ID == 0 {
		status = http.StatusCreated
	}
	return c.JSON(status, t)
}

func (h *Controller) list(c echo.Context) error {
	p, _ := mw.Caller(c)
	list, err := h.svc.List(c.Request().Context(), p.TenantKey, c.QueryParam("department"))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "list failed"})
	}
	return c.JSON(http.StatusOK, map[string]any{"items": list})
}

func (h *Controller) get(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid id"})
	}
	p, _ := mw.Caller(c)
	t, err := h.svc.Get(c.Request().Context(), p.TenantKey, id)
	if errors.Is(err, domain.ErrNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "template not found"})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "get failed"})
	}
	return c.JSON(http.StatusOK, t)
}
