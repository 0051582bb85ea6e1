package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/leshachaplin/eventstream/app"
	"github.com/leshachaplin/eventstream/internal/config"
)

var Version = "dev"

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "eventstream",
		Short:         "Multi-tenant e-commerce event ingestion pipeline",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")

	load := func() (config.Config, error) {
		return config.Load(configPath)
	}

	rootCmd.AddCommand(
		roleCmd(app.RoleAPI, "Serve the ingestion and project HTTP API", load),
		roleCmd(app.RoleWorker, "Consume the event stream and persist batches", load),
		roleCmd(app.RoleAll, "Run the API and the worker in one process", load),
		migrateCmd(load),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func roleCmd(role app.Role, short string, load app.LoadConfigFn) *cobra.Command {
	return &cobra.Command{
		Use:   string(role),
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(load)
			if err != nil {
				return err
			}
			if err := a.Start(role); err != nil {
				logger := a.Logger()
				logger.Error().Err(err).Str("role", string(role)).Msg("app crash")
				return err
			}
			return nil
		},
	}
}

func migrateCmd(load app.LoadConfigFn) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(load)
			if err != nil {
				return err
			}
			return a.Migrate()
		},
	}
}
