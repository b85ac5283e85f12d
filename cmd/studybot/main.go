package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/m3rciful/studybot/core/buildinfo"
	corecmd "github.com/m3rciful/studybot/core/cmd"
	"github.com/m3rciful/studybot/core/logger"
	"github.com/m3rciful/studybot/internal/app"
)

const defaultConfigPath = "config.yaml"

func main() {
	if err := rootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "studybot",
		Short:         "Telegram bot for study work requests",
		Version:       buildinfo.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml (overrides CONFIG_PATH)")

	serve := serveCmd(&configPath)
	root.RunE = serve.RunE
	root.AddCommand(serve, migrateCmd(&configPath), versionCmd())
	return root
}

func runnerOptions(configPath string) corecmd.Options {
	return corecmd.Options{
		ConfigPath:        configPath,
		DefaultConfigPath: defaultConfigPath,
	}
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bot and the optional admin API",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			opts := runnerOptions(*configPath)
			opts.Load = func(ctx context.Context, path string) (corecmd.App, error) {
				cfg, err := app.Load(path)
				if err != nil {
					return nil, err
				}
				a, err := app.Build(ctx, cfg)
				if err != nil {
					return nil, err
				}
				return a, nil
			}
			return corecmd.Run(opts)
		},
	}
}

func migrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := runnerOptions(*configPath).ResolveConfigPath()
			if err != nil {
				return err
			}
			cfg, err := app.Load(path)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Shutdown() }()
			return app.Migrate(cmd.Context(), cfg)
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), buildinfo.String())
		},
	}
}
