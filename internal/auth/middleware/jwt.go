package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	domain "github.com/civimail/civimail/internal/auth/domain"
	"github.com/civimail/civimail/internal/config"
)

const ctxPrincipalKey = "auth_principal"

// Principal is the authenticated caller extracted from the session token.
type Principal struct {
	UserID    uuid.UUID
	TenantKey string
	Role      domain.Role
}

// NewJWT returns an Echo middleware that validates session JWTs and stores
// the principal in the request context.
func NewJWT(cfg config.Config) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get("Authorization")
			if auth == "" || !strings.HasPrefix(auth, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "missing bearer token"})
			}
			tokStr := strings.TrimPrefix(auth, "Bearer ")

			tok, err := jwt.Parse(tokStr, func(token *jwt.Token) (any, error) {
				return []byte(cfg.JWTSigningKey), nil
			}, jwt.WithLeeway(30*time.Second), jwt.WithIssuedAt(), jwt.WithValidMethods([]string{"HS256"}))
			if err != nil || !tok.Valid {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid token"})
			}

			claims, ok := tok.Claims.(jwt.MapClaims)
			if !ok {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid claims"})
			}
			sub, _ := claims["sub"].(string)
			ten, _ := claims["ten"].(string)
			role, _ := claims["role"].(string)
			uid, err := uuid.Parse(sub)
			if err != nil || ten == "" || !domain.Role(role).Valid() {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid subject, tenant or role"})
			}

			c.Set(ctxPrincipalKey, Principal{UserID: uid, TenantKey: ten, Role: domain.Role(role)})
			return next(c)
		}
	}
}

// RequireRole rejects callers below the given role.
func RequireRole(min domain.Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p, ok := Caller(c)
			if !ok {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
			}
			if !p.Role.AtLeast(min) {
				return c.JSON(http.StatusForbidden, map[string]string{"error": "insufficient role"})
			}
			return next(c)
		}
	}
}

// Caller returns the authenticated principal from context.
func Caller(c echo.Context) (Principal, bool) {
	v := c.Get(ctxPrincipalKey)
	if v == nil {
		return Principal{}, false
	}
	p, ok := v.(Principal)
	return p, ok
}

// SetCaller stores a principal in context; exported for handler tests.
func SetCaller(c echo.Context, p Principal) {
	c.Set(ctxPrincipalKey, p)
}
