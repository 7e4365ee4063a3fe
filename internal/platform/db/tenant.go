package db

import (
	"context"
	"fmt"
	"net/http"
	"regexp"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	TenantIDKey contextKey = "tenant_id"
	DBConnKey   contextKey = "db_conn"
)

var tenantIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_]{1,48}$`)

// SchemaFor returns the PostgreSQL schema holding a clinic branch's
// collections.
func SchemaFor(tenantID string) (string, error) {
	if !tenantIDPattern.MatchString(tenantID) {
		return "", fmt.Errorf("invalid tenant identifier: %q", tenantID)
	}
	return "clinic_" + tenantID, nil
}

// AcquireTenant pins a pooled connection whose search_path is the branch
// schema and returns a context carrying it. store.PG picks the connection up
// from that context. release resets the search_path and returns the
// connection to the pool.
func AcquireTenant(ctx context.Context, pool *pgxpool.Pool, tenantID string) (context.Context, func(), error) {
	schema, err := SchemaFor(tenantID)
	if err != nil {
		return ctx, nil, err
	}
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return ctx, nil, fmt.Errorf("acquire connection: %w", err)
	}
	if _, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s, public", schema)); err != nil {
		conn.Release()
		return ctx, nil, fmt.Errorf("set search_path: %w", err)
	}
	release := func() {
		_, _ = conn.Exec(context.Background(), "RESET search_path")
		conn.Release()
	}
	ctx = context.WithValue(ctx, TenantIDKey, tenantID)
	ctx = context.WithValue(ctx, DBConnKey, conn)
	return ctx, release, nil
}

// TenantMiddleware runs each request on its branch's connection.
func TenantMiddleware(pool *pgxpool.Pool, defaultTenant string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tenantID := tenantOf(c, defaultTenant)
			if _, err := SchemaFor(tenantID); err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid tenant identifier")
			}

			ctx, release, err := AcquireTenant(c.Request().Context(), pool, tenantID)
			if err != nil {
				return echo.NewHTTPError(http.StatusServiceUnavailable, "database unavailable")
			}
			defer release()

			c.SetRequest(c.Request().WithContext(ctx))
			c.Set("tenant_id", tenantID)
			return next(c)
		}
	}
}

// tenantOf prefers the token's tenant claim, then X-Tenant-ID.
func tenantOf(c echo.Context, defaultTenant string) string {
	if tid, ok := c.Get("jwt_tenant_id").(string); ok && tid != "" {
		return tid
	}
	if tid := c.Request().Header.Get("X-Tenant-ID"); tid != "" {
		return tid
	}
	return defaultTenant
}

// ConnFromContext returns the branch connection pinned by TenantMiddleware.
func ConnFromContext(ctx context.Context) *pgxpool.Conn {
	conn, _ := ctx.Value(DBConnKey).(*pgxpool.Conn)
	return conn
}

func TenantFromContext(ctx context.Context) string {
	tid, _ := ctx.Value(TenantIDKey).(string)
	return tid
}

// CreateTenantSchema creates a branch schema and applies every migration
// to it.
func CreateTenantSchema(ctx context.Context, m *Migrator, tenantID string) (string, error) {
	schema, err := SchemaFor(tenantID)
	if err != nil {
		return "", err
	}
	if _, err := m.pool.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema)); err != nil {
		return "", fmt.Errorf("create schema %s: %w", schema, err)
	}
	if _, err := m.Up(ctx, schema); err != nil {
		return "", fmt.Errorf("migrate %s: %w", schema, err)
	}
	return schema, nil
}
