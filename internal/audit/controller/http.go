package controller

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	adomain "github.com/civimail/civimail/internal/audit/domain"
	mw "github.com/civimail/civimail/internal/auth/middleware"
)

type Controller struct {
	svc adomain.Service
}

func New(svc adomain.Service) *Controller {
	return &Controller{svc: svc}
}

func (h *Controller) Register(g *echo.Group) {
	g.GET("/sent", h.listSent)
	g.GET("/sent/:id", h.getSent)
	g.GET("/logs", h.listLogs)
}

func (h *Controller) getSent(c echo.Context) error {
	p, _ := mw.Caller(c)
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid id"})
	}
	m, err := h.svc.GetSent(c.Request().Context(), p.TenantKey, id)
	if errors.Is(err, adomain.ErrNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "not found"})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "lookup failed"})
	}
	return c.JSON(http.StatusOK, m)
}

func (h *Controller) listSent(c echo.Context) error {
	p, _ := mw.Caller(c)
	f := adomain.SentFilter{Limit: intParam(c, "limit")}
	if v := c.QueryParam("user_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid user_id"})
		}
		f.UserID = &id
	}
	if t, ok := timeParam(c, "from"); ok {
		f.From = &t
	}
	if t, ok := timeParam(c, "to"); ok {
		f.To = &t
	}
	list, err := h.svc.ListSent(c.Request().Context(), p.TenantKey, f)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "list failed"})
	}
	return c.JSON(http.StatusOK, map[string]any{"items": list})
}

func (h *Controller) listLogs(c echo.Context) error {
	p, _ := mw.Caller(c)
	f := adomain.LogFilter{
		Action: c.QueryParam("action"),
		Limit:  intParam(c, "limit"),
	}
	list, err := h.svc.ListLogs(c.Request().Context(), p.TenantKey, f)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "list failed"})
	}
	return c.JSON(http.StatusOK, map[string]any{"items": list})
}

func intParam(c echo.Context, name string) int {
	if v := c.QueryParam(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return 0
}

func timeParam(c echo.Context, name string) (time.Time, bool) {
	if v := c.QueryParam(name); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
