package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/mycelian/cockpit/internal/clock"
	"github.com/mycelian/cockpit/internal/cockpitservice"
	"github.com/mycelian/cockpit/internal/config"
	"github.com/mycelian/cockpit/internal/logger"
)

// loadConfig is replaced in tests.
var loadConfig = config.New

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "cockpitctl",
		Short:         "Operator commands for the cockpit engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.AddCommand(newMigrateCmd(), newPruneCmd(), newDigestCmd())
	return root
}

// withApp builds the engine from the environment, runs fn and closes it.
func withApp(ctx context.Context, fn func(*cockpitservice.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logger.NewWithWriter(os.Stderr, "cockpitctl", cfg.LogLevel)
	app, err := cockpitservice.Build(ctx, cfg, clock.Real{}, log)
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(app)
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded schema to the configured store",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Build migrates on open.
			return withApp(cmd.Context(), func(app *cockpitservice.App) error {
				fmt.Fprintf(cmd.OutOrStdout(), "migrated %s store\n", app.Config.DBDriver)
				return nil
			})
		},
	}
}

func newPruneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prune-shown",
		Short: "Delete suppression rows that can no longer apply a penalty",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(app *cockpitservice.App) error {
				n, err := app.Suppression.Prune(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "pruned %d rows\n", n)
				return nil
			})
		},
	}
}
