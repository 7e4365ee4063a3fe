package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/onclinic/clinic/internal/config"
	"github.com/onclinic/clinic/internal/domain/billing"
	"github.com/onclinic/clinic/internal/domain/inventory"
	"github.com/onclinic/clinic/internal/domain/numbering"
	"github.com/onclinic/clinic/internal/domain/patient"
	"github.com/onclinic/clinic/internal/domain/prescription"
	"github.com/onclinic/clinic/internal/domain/reports"
	"github.com/onclinic/clinic/internal/domain/staff"
	"github.com/onclinic/clinic/internal/platform/auth"
	"github.com/onclinic/clinic/internal/platform/counter"
	"github.com/onclinic/clinic/internal/platform/db"
	"github.com/onclinic/clinic/internal/platform/events"
	"github.com/onclinic/clinic/internal/platform/middleware"
	"github.com/onclinic/clinic/internal/platform/store"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "clinic-server",
		Short:         "Clinic billing, inventory and reporting API server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tenantCmd())
	rootCmd.AddCommand(ledgerCmd())
	rootCmd.AddCommand(numbersCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// app holds the wired services shared by the server and the CLI commands.
type app struct {
	cfg       *config.Config
	logger    zerolog.Logger
	loc       *time.Location
	store     store.Store
	pool      *pgxpool.Pool
	numbers   *numbering.Generator
	inventory *inventory.Service
	billing   *billing.Service
	patients  *patient.Service
	rx        *prescription.Service
	doctors   *staff.Service
	reports   *reports.Service
	checks    map[string]db.Check
	closers   []func() error
}

// newApp opens the configured store and optional Redis counter and Kafka
// publisher, then builds the domain services on top of them.
func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, loc: loc, checks: map[string]db.Check{}}

	switch cfg.StoreBackend {
	case config.BackendPostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, err
		}
		a.pool = pool
		a.store = store.NewPG(pool)
		a.checks["database"] = db.PoolCheck(pool)
		a.closers = append(a.closers, func() error { pool.Close(); return nil })
		logger.Info().Msg("connected to database")
	case config.BackendLocal:
		local, err := store.OpenLocal(cfg.LocalStorePath, store.DefaultUniques)
		if err != nil {
			return nil, err
		}
		a.store = local
		a.checks["store"] = func(ctx context.Context) error {
			_, err := local.List(ctx, store.Doctors, store.Filter{"active": true})
			return err
		}
		a.closers = append(a.closers, local.Close)
		logger.Info().Str("path", cfg.LocalStorePath).Msg("opened local store")
	default:
		a.store = store.NewMemory(store.DefaultUniques)
		logger.Warn().Msg("using in-memory store, data is lost on restart")
	}

	numberOpts := []numbering.Option{numbering.WithMaxRetries(cfg.NumberingMaxRetries)}
	if cfg.RedisURL != "" {
		rc, err := counter.NewRedis(ctx, cfg.RedisURL, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		numberOpts = append(numberOpts, numbering.WithCounter(rc))
		a.checks["redis"] = rc.Healthy
		a.closers = append(a.closers, rc.Close)
	}

	var publisher events.Publisher = events.NewLog(logger)
	if len(cfg.KafkaBrokers) > 0 {
		kp, err := events.NewKafka(cfg.KafkaBrokers, cfg.KafkaTopicStock, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		publisher = kp
		a.closers = append(a.closers, kp.Close)
	}

	a.numbers = numbering.NewGenerator(a.store, loc, logger, numberOpts...)
	a.inventory = inventory.NewService(a.store, loc, logger, inventory.WithPublisher(publisher))
	a.billing = billing.NewService(a.store, a.inventory, a.numbers, logger)
	a.patients = patient.NewService(a.store, a.numbers, logger)
	a.rx = prescription.NewService(a.store, a.numbers, logger)
	a.doctors = staff.NewService(a.store, logger)
	a.reports = reports.NewService(a.store, logger)
	return a, nil
}

// tenantContext returns ctx bound to the default branch schema when the
// store is PostgreSQL.
func (a *app) tenantContext(ctx context.Context) (context.Context, func(), error) {
	if a.pool == nil {
		return ctx, func() {}, nil
	}
	return db.AcquireTenant(ctx, a.pool, a.cfg.DefaultTenant)
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn().Err(err).Msg("close failed")
		}
	}
}

// newServer builds the echo instance with middleware and every route.
func (a *app) newServer() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(a.logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(a.logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: a.cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader, "X-Tenant-ID"},
	}))

	e.GET("/health", db.HealthHandler(a.checks))

	api := e.Group("/api/v1")
	api.Use(middleware.RequestTimeout(30 * time.Second))
	if a.cfg.IsDev() {
		api.Use(auth.DevAuthMiddleware())
	} else {
		api.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     a.cfg.AuthIssuer,
			Audience:   a.cfg.AuthAudience,
			SigningKey: []byte(a.cfg.AuthSigningKey),
		}))
	}
	if a.pool != nil {
		api.Use(db.TenantMiddleware(a.pool, a.cfg.DefaultTenant))
	}

	inventory.NewHandler(a.inventory, a.cfg.ExpiryWindowDays).RegisterRoutes(api)
	billing.NewHandler(a.billing, a.loc).RegisterRoutes(api)
	patient.NewHandler(a.patients).RegisterRoutes(api)
	prescription.NewHandler(a.rx, a.loc).RegisterRoutes(api)
	staff.NewHandler(a.doctors).RegisterRoutes(api)
	reports.NewHandler(a.reports, a.loc).RegisterRoutes(api)
	return e
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg.Env)
	if cfg.IsDev() {
		logger.Warn().Msg("ENV=development: every unauthenticated request runs as admin")
	}

	ctx := context.Background()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to start")
		return err
	}
	defer a.Close()

	e := a.newServer()

	go func() {
		addr := ":" + cfg.Port
		logger.Info().
			Str("addr", addr).
			Str("store", cfg.StoreBackend).
			Str("timezone", a.loc.String()).
			Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
