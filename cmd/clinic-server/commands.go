package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/onclinic/clinic/internal/config"
	"github.com/onclinic/clinic/internal/domain/inventory"
	"github.com/onclinic/clinic/internal/domain/numbering"
	"github.com/onclinic/clinic/internal/platform/db"
	"github.com/onclinic/clinic/migrations"
)

// withMigrator opens a pool for the migration commands, which only apply to
// the PostgreSQL backend.
func withMigrator(fn func(ctx context.Context, cfg *config.Config, m *db.Migrator) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.StoreBackend != config.BackendPostgres {
		return fmt.Errorf("migrations apply to STORE_BACKEND=%s only, got %q", config.BackendPostgres, cfg.StoreBackend)
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(ctx, cfg, db.NewMigrator(pool, migrations.FS))
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations to a branch schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")
			return withMigrator(func(ctx context.Context, cfg *config.Config, m *db.Migrator) error {
				if tenant == "" {
					tenant = cfg.DefaultTenant
				}
				schema, err := db.SchemaFor(tenant)
				if err != nil {
					return err
				}
				fmt.Printf("Running migrations on schema: %s\n", schema)
				if _, err := db.CreateTenantSchema(ctx, m, tenant); err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Println("Schema is up to date.")
				return nil
			})
		},
	}
	upCmd.Flags().String("tenant", "", "Branch identifier (defaults to DEFAULT_TENANT)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")
			return withMigrator(func(ctx context.Context, cfg *config.Config, m *db.Migrator) error {
				if tenant == "" {
					tenant = cfg.DefaultTenant
				}
				schema, err := db.SchemaFor(tenant)
				if err != nil {
					return err
				}
				statuses, err := m.Status(ctx, schema)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				printStatuses(os.Stdout, schema, statuses)
				return nil
			})
		},
	}
	statusCmd.Flags().String("tenant", "", "Branch identifier (defaults to DEFAULT_TENANT)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func printStatuses(w io.Writer, schema string, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "Migration status for schema: %s\n", schema)
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	for _, s := range statuses {
		status, appliedAt := "pending", ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage clinic branches",
	}

	createCmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create and migrate a branch schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(func(ctx context.Context, _ *config.Config, m *db.Migrator) error {
				schema, err := db.CreateTenantSchema(ctx, m, args[0])
				if err != nil {
					return err
				}
				fmt.Printf("Branch schema %s created.\n", schema)
				return nil
			})
		},
	}
	cmd.AddCommand(createCmd)
	return cmd
}

// withApp wires the services the way serve does and binds the context to
// the default branch.
func withApp(fn func(ctx context.Context, a *app) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	ctx := context.Background()
	a, err := newApp(ctx, cfg, newLogger(cfg.Env))
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, release, err := a.tenantContext(ctx)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx, a)
}

func ledgerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Stock ledger maintenance",
	}

	reconcileCmd := &cobra.Command{
		Use:   "reconcile [item-id]",
		Short: "Repair current stock from opening stock plus the ledger",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				var results []*inventory.ReconcileResult
				if len(args) == 1 {
					id, err := uuid.Parse(args[0])
					if err != nil {
						return fmt.Errorf("invalid item id %q", args[0])
					}
					r, err := a.inventory.Reconcile(ctx, id)
					if err != nil {
						return err
					}
					if r != nil {
						results = append(results, r)
					}
				} else {
					var err error
					if results, err = a.inventory.ReconcileAll(ctx); err != nil {
						return err
					}
				}
				printReconcile(os.Stdout, results)
				return nil
			})
		},
	}
	cmd.AddCommand(reconcileCmd)
	return cmd
}

func printReconcile(w io.Writer, results []*inventory.ReconcileResult) {
	if len(results) == 0 {
		fmt.Fprintln(w, "Stock matches the ledger.")
		return
	}
	fmt.Fprintf(w, "%-36s %-30s %8s %8s %s\n", "ITEM", "NAME", "STORED", "LEDGER", "ACTION")
	repaired := 0
	for _, r := range results {
		action := "left unchanged (ledger below zero)"
		if r.Repaired {
			action = "repaired"
			repaired++
		}
		fmt.Fprintf(w, "%-36s %-30s %8d %8d %s\n", r.ItemID, r.ItemName, r.Stored, r.Ledger, action)
	}
	fmt.Fprintf(w, "%d item(s) drifted, %d repaired.\n", len(results), repaired)
}

func numbersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "numbers",
		Short: "Document numbering",
	}

	nextCmd := &cobra.Command{
		Use:   "next <scheme>",
		Short: "Print the next number of a scheme (" + strings.Join(schemeNames(), ", ") + ")",
		Long: "Print the next number of a scheme. With REDIS_URL set the number is taken " +
			"from the counter and will not be handed out again.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scheme, ok := numbering.Schemes[args[0]]
			if !ok {
				return fmt.Errorf("unknown scheme %q, want one of %s", args[0], strings.Join(schemeNames(), ", "))
			}
			return withApp(func(ctx context.Context, a *app) error {
				number, err := a.numbers.Next(ctx, scheme)
				if err != nil {
					return err
				}
				fmt.Println(number)
				return nil
			})
		},
	}
	cmd.AddCommand(nextCmd)
	return cmd
}

func schemeNames() []string {
	names := make([]string, 0, len(numbering.Schemes))
	for name := range numbering.Schemes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
