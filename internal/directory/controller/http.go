package controller

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	mw "github.com/civimail/civimail/internal/auth/middleware"
	adomain "github.com/civimail/civimail/internal/auth/domain"
	domain "github.com/civimail/civimail/internal/directory/domain"
	"github.com/civimail/civimail/internal/platform/validation"
)

type Controller struct {
	svc domain.Service
}

func New(svc domain.Service) *Controller {
	return &Controller{svc: svc}
}

func (h *Controller) Register(g *echo.Group) {
	g.GET("/employees", h.listEmployees)
	g.POST("/employees", h.upsertEmployee, mw.RequireRole(adomain.RoleOperator))
	g.PATCH("/employees/:id/deactivate", h.deactivateEmployee, mw.RequireRole(adomain.RoleOperator))

	g.GET("/groups", h.listGroups)
	g.POST("/groups", h.upsertGroup, mw.RequireRole(adomain.RoleOperator))
	g.PUT("/groups/:id/members", h.setGroupMembers, mw.RequireRole(adomain.RoleOperator))
}

type employeeReq struct {
	ID         int64  `json:"id"`
	Email      string `json:"email" validate:"required,email"`
	Name       string `json:"name" validate:"required"`
	Department string `json:"department"`
	Phone      string `json:"phone"`
	Active     *bool  `json:"active"`
}

func (h *Controller) upsertEmployee(c echo.Context) error {
	var req employeeReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid json"})
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusBadRequest, validation.ErrorResponse(err))
	}
	p, _ := mw.Caller(c)
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	e, err := h.svc.UpsertEmployee(c.Request().Context(), p.TenantKey, p.UserID.String(), domain.Employee{
		ID:         req.ID,
		Email:      req.Email,
		Name:       req.Name,
		Department: req.Department,
		Phone:      req.Phone,
		Active:     active,
	})
	if errors.Is(err, domain.ErrNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "employee not found"})
	}
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	status := http.StatusOK
	if req.ID == 0 {
		status = http.StatusCreated
	}
	return c.JSON(status, e)
}

func (h *Controller) listEmployees(c echo.Context) error {
	p, _ := mw.Caller(c)
	f := domain.EmployeeFilter{
		Department: c.QueryParam("department"),
		Query:      c.QueryParam("q"),
		Active:     -1,
	}
	if v := c.QueryParam("active"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			if b {
				f.Active = 1
			} else {
				f.Active = 0
			}
		}
	}
	list, err := h.svc.ListEmployees(c.Request().Context(), p.TenantKey, f)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "list failed"})
	}
	return c.JSON(http.StatusOK, map[string]any{"items": list})
}

func (h *Controller) deactivateEmployee(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid id"})
	}
	p, _ := mw.Caller(c)
	err = h.svc.DeactivateEmployee(c.Request().Context(), p.TenantKey, p.UserID.String(), id)
	if errors.Is(err, domain.ErrNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "employee not found"})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "deactivate failed"})
	}
	return c.NoContent(http.StatusNoContent)
}

type groupReq struct {
	ID   int64  `json:"id"`
	Name string `json:"name" validate:"required"`
}

func (h *Controller) upsertGroup(c echo.Context) error {
	var req groupReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid json"})
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusBadRequest, validation.ErrorResponse(err))
	}
	p, _ := mw.Caller(c)
	g, err := h.svc.UpsertGroup(c.Request().Context(), p.TenantKey, p.UserID.String(), domain.Group{
		ID:   req.ID,
		Name: req.Name,
	})
	if errors.Is(err, domain.ErrNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "group not found"})
	}
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	status := http.StatusOK
	if req.ID == 0 {
		status = http.StatusCreated
	}
	return c.JSON(status, g)
}

func (h *Controller) listGroups(c echo.Context) error {
	p, _ := mw.Caller(c)
	list, err := h.svc.ListGroups(c.Request().Context(), p.TenantKey)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "list failed"})
	}
	return c.JSON(http.StatusOK, map[string]any{"items": list})
}

type membersReq struct {
	EmployeeIDs []int64 `json:"employee_ids" validate:"required"`
}

func (h *Controller) setGroupMembers(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid id"})
	}
	var req membersReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid json"})
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusBadRequest, validation.ErrorResponse(err))
	}
	p, _ := mw.Caller(c)
	err = h.svc.SetGroupMembers(c.Request().Context(), p.TenantKey, p.UserID.String(), id, req.EmployeeIDs)
	if errors.Is(err, domain.ErrNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "not found"})
	}
	if errors.Is(err, domain.ErrWrongTenant) {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "member belongs to another tenant"})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "set members failed"})
	}
	return c.NoContent(http.StatusNoContent)
}
