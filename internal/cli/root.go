package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/yungbote/ontomap-backend/internal/app"
	"github.com/yungbote/ontomap-backend/internal/platform/logger"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "ontomap",
	Short: "ontomap - annotation curation and ontology term prediction",
	Long: `ontomap records curated property-value to ontology-term annotations, keeps the
summary and graph projections up to date through the event fanout, and predicts
ontology terms for new property values.

Configuration comes from an optional YAML file (--config) and ONTOMAP_* environment
variables, e.g. ONTOMAP_DB_DRIVER=sqlite or ONTOMAP_FANOUT_BROKER=redis.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")

	rootCmd.AddCommand(serveCmd, workerCmd, replayCmd, migrateCmd, versionCmd, configCmd)
	configCmd.AddCommand(configShowCmd)

	replayCmd.Flags().StringSlice("projection", nil, "projection(s) to rebuild; all when omitted")
	replayCmd.Flags().Bool("reset", false, "clear the projection before replaying")
}

func loadConfig() (app.Config, error) {
	return app.LoadConfig(cfgFile)
}

// signalContext ends on SIGINT/SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()
	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, outbox relay and projection consumers",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			return a.Serve(ctx)
		})
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the outbox relay and projection consumers without the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			return a.Work(ctx)
		})
	},
}

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Rebuild projections by replaying every recorded annotation",
	RunE: func(cmd *cobra.Command, args []string) error {
		names, err := cmd.Flags().GetStringSlice("projection")
		if err != nil {
			return err
		}
		reset, err := cmd.Flags().GetBool("reset")
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			stats, err := a.Replay(ctx, names, reset)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "replayed %d events into %s: applied=%d skipped=%d in %s\n",
				stats.Events, strings.Join(stats.Projections, ","), stats.Applied, stats.Skipped, stats.Duration)
			return nil
		})
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log, err := logger.NewWithOptions(logger.Options{Mode: cfg.Log.Mode, Level: cfg.Log.Level, Redact: true})
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		defer log.Sync()
		return app.Migrate(cfg, log)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "ontomap %s\n", app.Version)
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as YAML (secrets redacted)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(cfg.Redacted())
	},
}
