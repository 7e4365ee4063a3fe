package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// HasRole reports whether the acting user holds one of roles. Admins hold
// every role.
func HasRole(ctx context.Context, roles ...string) bool {
	for _, held := range RolesFromContext(ctx) {
		if held == RoleAdmin {
			return true
		}
		for _, want := range roles {
			if held == want {
				return true
			}
		}
	}
	return false
}

// RequireRole rejects requests whose user holds none of roles with 403.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	msg := "requires role " + strings.Join(roles, " or ")
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !HasRole(c.Request().Context(), roles...) {
				return echo.NewHTTPError(http.StatusForbidden, msg)
			}
			return next(c)
		}
	}
}
