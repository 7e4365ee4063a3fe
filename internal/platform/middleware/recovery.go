package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/onclinic/clinic/internal/platform/auth"
)

// Recovery turns a handler panic into a 500 and logs the stack.
func Recovery(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				req := c.Request()
				ev := logger.Error().
					Interface("panic", r).
					Str("method", req.Method).
					Str("path", req.URL.Path).
					Bytes("stack", debug.Stack())
				if rid, ok := c.Get("request_id").(string); ok {
					ev = ev.Str("request_id", rid)
				}
				if uid := auth.UserIDFromContext(req.Context()); uid != "" {
					ev = ev.Str("user_id", uid)
				}
				ev.Msg("panic recovered")
				err = echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
			}()
			return next(c)
		}
	}
}
