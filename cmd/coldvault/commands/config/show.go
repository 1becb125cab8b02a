package config

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/coldvault/coldvault/internal/cli/output"
	"github.com/coldvault/coldvault/pkg/config"
)

var showOutput string

const redacted = "********"

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display current configuration",
	Long: `Display the current coldvault configuration, with repository
passphrases and object store credentials redacted.

By default outputs YAML format. Use --output to change format.

Examples:
  # Show default config as YAML
  coldvault config show

  # Show as JSON
  coldvault config show --output json

  # Show a specific config file
  coldvault config show --config /etc/coldvault/config.yaml`,
	RunE: runConfigShow,
}

func init() {
	showCmd.Flags().StringVarP(&showOutput, "output", "o", "yaml", "Output format (yaml|json)")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.MustLoad(configPath)
	if err != nil {
		return err
	}

	redact(cfg)

	format, err := output.ParseFormat(showOutput)
	if err != nil {
		return err
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(os.Stdout, cfg)
	default:
		return output.PrintYAML(os.Stdout, cfg)
	}
}

// redact blanks out credential fields in place before the config is
// printed, so secrets never leave the process through this command.
func redact(cfg *config.Config) {
	for name, repo := range cfg.Repositories {
		if repo.Volume.Passphrase != "" {
			repo.Volume.Passphrase = redacted
		}
		if repo.ObjectStore.S3.SecretAccessKey != "" {
			repo.ObjectStore.S3.SecretAccessKey = redacted
		}
		if repo.ObjectStore.S3.AccessKeyID != "" {
			repo.ObjectStore.S3.AccessKeyID = redacted
		}
		cfg.Repositories[name] = repo
	}
}
