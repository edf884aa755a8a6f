package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/meterwise/meterwise/internal/clock"
	"github.com/meterwise/meterwise/internal/config"
	"github.com/meterwise/meterwise/internal/customer"
	"github.com/meterwise/meterwise/internal/entitlement"
	"github.com/meterwise/meterwise/internal/idempotency"
	"github.com/meterwise/meterwise/internal/invoice"
	"github.com/meterwise/meterwise/internal/migration"
	"github.com/meterwise/meterwise/internal/observability"
	"github.com/meterwise/meterwise/internal/payment"
	"github.com/meterwise/meterwise/internal/plan"
	"github.com/meterwise/meterwise/internal/redis"
	"github.com/meterwise/meterwise/internal/scheduler"
	"github.com/meterwise/meterwise/internal/server"
	"github.com/meterwise/meterwise/internal/subscription"
	"github.com/meterwise/meterwise/internal/usage"
	"github.com/meterwise/meterwise/pkg/background"
	"github.com/meterwise/meterwise/pkg/db"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "meterwise",
		Short:   "Entitlement and usage metering engine",
		Version: readVersionFromEnv(),
	}
	root.AddCommand(newMigrateCmd(), newServeCmd(), newSchedulerCmd(), newAllCmd())
	return root
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate()
		},
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the metering API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			runServe()
			return nil
		},
	}
}

func newSchedulerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scheduler",
		Short: "Run the billing-cycle scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			runScheduler()
			return nil
		},
	}
}

func newAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "all",
		Short: "Run migrations, then the API server and scheduler together",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := runMigrate(); err != nil {
				return err
			}
			runMonolith()
			return nil
		},
	}
}

func runMigrate() error {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(registerSnowflake),
		db.Module,
		migration.Module,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := app.Start(ctx); err != nil {
		return fmt.Errorf("migrate failed: %w", err)
	}
	_ = app.Stop(context.Background())
	return nil
}

func runServe() {
	app := fx.New(
		append(coreModules(),
			server.Module,
		)...,
	)
	app.Run()
}

func runScheduler() {
	app := fx.New(
		append(coreModules(),
			scheduler.Module,
			fx.Invoke(scheduler.Start),
		)...,
	)
	app.Run()
}

func runMonolith() {
	app := fx.New(
		append(coreModules(),
			server.Module,
			scheduler.Module,
			fx.Invoke(scheduler.Start),
		)...,
	)
	app.Run()
}

func coreModules() []fx.Option {
	return []fx.Option{
		config.Module,
		observability.Module,
		fx.Provide(registerSnowflake),
		db.Module,
		clock.Module,
		redis.Module,
		background.Module,
		idempotency.Module,

		plan.Module,
		customer.Module,
		subscription.Module,
		usage.Module,
		entitlement.Module,
		payment.Module,
		invoice.Module,
	}
}

func registerSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}

func readVersionFromEnv() string {
	if v := strings.TrimSpace(os.Getenv("APP_VERSION")); v != "" {
		return v
	}
	return "dev"
}
