// Package commands implements the coldvault CLI's subcommands.
package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	cliconfig "github.com/coldvault/coldvault/cmd/coldvault/commands/config"
	"github.com/coldvault/coldvault/internal/logger"
	"github.com/coldvault/coldvault/internal/telemetry"
	"github.com/coldvault/coldvault/pkg/config"
	"github.com/coldvault/coldvault/pkg/registry"
)

var (
	// Version information injected at build time by main.main.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	cfgFile        string
	repositoryName string

	// telemetryShutdown flushes and closes the trace exporter opened by
	// loadConfig, if any. Execute calls it once after the command runs.
	telemetryShutdown func(context.Context) error

	// profilingShutdown stops the Pyroscope profiler opened by loadConfig,
	// if profiling was enabled. Execute calls it once after the command
	// runs.
	profilingShutdown func() error
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "coldvault",
	Short: "coldvault - client-side deduplicating, encrypted backup repository",
	Long: `coldvault manages a content-addressed, deduplicating, encrypted backup
repository: the fileset history that describes what was backed up and
when, the blocks and blocksets that store deduplicated file content, and
the remote volumes those get packed into.

Use "coldvault [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and runs it. It is
// called once from main.main.
func Execute() error {
	err := rootCmd.Execute()
	if telemetryShutdown != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if serr := telemetryShutdown(shutdownCtx); serr != nil {
			fmt.Fprintf(os.Stderr, "warning: error shutting down telemetry: %v\n", serr)
		}
	}
	if profilingShutdown != nil {
		if serr := profilingShutdown(); serr != nil {
			fmt.Fprintf(os.Stderr, "warning: error stopping profiler: %v\n", serr)
		}
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/coldvault/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&repositoryName, "repository", "r", "", "repository to operate on (default: the config's default_repository)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(purgeCmd)
	rootCmd.AddCommand(compactCmd)
	rootCmd.AddCommand(repairCmd)
	rootCmd.AddCommand(cliconfig.Cmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("coldvault %s (commit: %s, built: %s)\n", Version, Commit, Date)
		return nil
	},
}

// loadConfig loads the config named by --config, initializing the
// structured logger as a side effect.
func loadConfig() (*config.Config, error) {
	cfg, err := config.MustLoad(cfgFile)
	if err != nil {
		return nil, err
	}
	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}

	shutdown, err := telemetry.Init(context.Background(), telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: Version,
		Output:         cfg.Telemetry.Output,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize telemetry: %w", err)
	}
	telemetryShutdown = shutdown

	profShutdown, err := telemetry.InitProfiling(telemetry.ProfilingConfig{
		Enabled:        cfg.Profiling.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: Version,
		Endpoint:       cfg.Profiling.Endpoint,
		ProfileTypes:   cfg.Profiling.ProfileTypes,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize profiling: %w", err)
	}
	profilingShutdown = profShutdown

	return cfg, nil
}

// resolveRepositoryName returns the --repository flag's value, falling
// back to cfg.DefaultRepository.
func resolveRepositoryName(cfg *config.Config) (string, error) {
	if repositoryName != "" {
		return repositoryName, nil
	}
	if cfg.DefaultRepository != "" {
		return cfg.DefaultRepository, nil
	}
	return "", fmt.Errorf("no repository specified: pass --repository or set default_repository in %s", config.GetDefaultConfigPath())
}

// openRepository loads the config and opens the named (or default)
// repository's catalog and object store, returning a registry the
// caller must CloseAll when done.
func openRepository(cmd *cobra.Command) (*registry.Registry, *registry.Repository, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}

	name, err := resolveRepositoryName(cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	repoCfg, ok := cfg.Repositories[name]
	if !ok {
		return nil, nil, nil, fmt.Errorf("repository %q is not defined in %s", name, config.GetDefaultConfigPath())
	}

	reg := registry.NewRegistry()
	repo, err := reg.Open(cmd.Context(), name, repoCfg)
	if err != nil {
		return nil, nil, nil, err
	}
	return reg, repo, cfg, nil
}

// closeRegistry closes reg, logging (rather than failing) a close error
// since the command's own result has already been determined.
func closeRegistry(reg *registry.Registry, shutdownTimeout time.Duration) {
	if err := reg.CloseAll(shutdownTimeout); err != nil {
		fmt.Fprintf(os.Stderr, "warning: error closing repository: %v\n", err)
	}
}
