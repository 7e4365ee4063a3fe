package db

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// Check reports whether one dependency is reachable.
type Check func(ctx context.Context) error

// PoolCheck pings the database.
func PoolCheck(pool *pgxpool.Pool) Check {
	return func(ctx context.Context) error {
		return pool.Ping(ctx)
	}
}

type componentStatus struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// HealthHandler runs every check within five seconds and answers 503 when
// any of them fails.
func HealthHandler(checks map[string]Check) echo.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		code := http.StatusOK
		overall := "healthy"
		components := make([]componentStatus, 0, len(names))
		for _, name := range names {
			st := componentStatus{Name: name, Status: "healthy"}
			if err := checks[name](ctx); err != nil {
				st.Status = "unhealthy"
				st.Error = err.Error()
				code = http.StatusServiceUnavailable
				overall = "unhealthy"
			}
			components = append(components, st)
		}
		return c.JSON(code, map[string]interface{}{
			"status":     overall,
			"components": components,
		})
	}
}
