package controller

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	domain "github.com/civimail/civimail/internal/auth/domain"
	mw "github.com/civimail/civimail/internal/auth/middleware"
	"github.com/civimail/civimail/internal/platform/ratelimit"
	"github.com/civimail/civimail/internal/platform/validation"
)

type Controller struct {
	svc domain.Service
}

func New(svc domain.Service) *Controller {
	return &Controller{svc: svc}
}

// Register wires the public login route and the admin user route.
func (h *Controller) Register(public *echo.Group, authed *echo.Group) {
	public.POST("/auth/login", h.login, ratelimit.Middleware(ratelimit.Policy{
		Name:   "auth:login",
		Window: time.Minute,
		Limit:  10,
		Key:    ratelimit.KeyIP("login"),
	}))
	authed.POST("/auth/users", h.createUser, mw.RequireRole(domain.RoleAdmin))
}

type loginReq struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

func (h *Controller) login(c echo.Context) error {
	var req loginReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid json"})
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusBadRequest, validation.ErrorResponse(err))
	}
	sess, err := h.svc.Authenticate(c.Request().Context(), req.Email, req.Password)
	if errors.Is(err, domain.ErrBadCredentials) {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "bad credentials"})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "login failed"})
	}
	return c.JSON(http.StatusOK, sess)
}

type createUserReq struct {
	Email      string `json:"email" validate:"required,email"`
	Name       string `json:"name" validate:"required"`
	Department string `json:"department"`
	Phone      string `json:"phone"`
	Password   string `json:"password" validate:"required,min=10"`
	Role       string `json:"role" validate:"required,oneof=viewer operator admin"`
}

func (h *Controller) createUser(c echo.Context) error {
	var req createUserReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid json"})
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusBadRequest, validation.ErrorResponse(err))
	}
	p, _ := mw.Caller(c)
	actor, err := h.svc.GetUser(c.Request().Context(), p.UserID)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unknown caller"})
	}
	u, err := h.svc.CreateUser(c.Request().Context(), actor, domain.CreateUserInput{
		Email:      req.Email,
		Name:       req.Name,
		Department: req.Department,
		Phone:      req.Phone,
		Password:   req.Password,
		Role:       domain.Role(req.Role),
	})
	if errors.Is(err, domain.ErrEmailTaken) {
		return c.JSON(http.StatusConflict, map[string]string{"error": "email already registered"})
	}
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusCreated, u)
}
