package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/coldvault/coldvault/internal/cli/prompt"
	"github.com/coldvault/coldvault/pkg/config"
)

var (
	initForce       bool
	initInteractive bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Initialize a coldvault configuration file with one repository.

By default, the configuration file is created at $XDG_CONFIG_HOME/coldvault/config.yaml
with a single "home" repository using placeholder settings you must edit
before backing anything up. Use --interactive to be prompted for the
repository's object store backend and passphrase instead.

Examples:
  # Initialize with default location and placeholder settings
  coldvault init

  # Initialize interactively
  coldvault init --interactive

  # Initialize with custom path
  coldvault init --config /etc/coldvault/config.yaml

  # Force overwrite existing config
  coldvault init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
	initCmd.Flags().BoolVarP(&initInteractive, "interactive", "i", false, "Prompt for repository settings instead of writing placeholders")
}

func runInit(cmd *cobra.Command, args []string) error {
	configPath := cfgFile
	if configPath == "" {
		configPath = config.GetDefaultConfigPath()
	}

	if !initForce {
		if _, err := os.Stat(configPath); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", configPath)
		}
	}

	var cfg *config.Config
	var err error
	if initInteractive {
		cfg, err = buildInteractiveConfig()
	} else {
		cfg, err = buildPlaceholderConfig()
	}
	if err != nil {
		return err
	}

	if err := config.SaveConfig(cfg, configPath); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Printf("\nConfiguration file created at: %s\n", configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Check repository status with: coldvault status")
	fmt.Printf("  2. Or specify a custom config: coldvault status --config %s\n", configPath)
	if !initInteractive {
		fmt.Println("\nSecurity note:")
		fmt.Println("  The sample repository ships with a placeholder passphrase. Replace")
		fmt.Println("  it before backing up anything you care about; volume content keys")
		fmt.Println("  are derived from this passphrase and it is never stored remotely.")
	}

	return nil
}

func buildPlaceholderConfig() (*config.Config, error) {
	cfg := config.GetDefaultConfig()
	cfg.Repositories["home"] = config.RepositoryConfig{
		Volume: config.VolumeConfig{
			Passphrase: "change-me-before-first-backup",
		},
	}
	config.ApplyDefaults(cfg)
	return cfg, nil
}

func buildInteractiveConfig() (*config.Config, error) {
	name, err := prompt.Input("Repository name", "home")
	if err != nil {
		return nil, err
	}

	backend, err := prompt.Select("Object store backend", []prompt.SelectOption{
		{Label: "Local filesystem", Value: "local"},
		{Label: "S3-compatible bucket", Value: "s3"},
	})
	if err != nil {
		return nil, err
	}

	passphrase, err := prompt.PasswordWithConfirmation("Repository passphrase", "Confirm passphrase", 12)
	if err != nil {
		return nil, err
	}

	repo := config.RepositoryConfig{
		Volume: config.VolumeConfig{Passphrase: passphrase},
	}

	switch backend {
	case "s3":
		bucket, err := prompt.Input("S3 bucket", "")
		if err != nil {
			return nil, err
		}
		region, err := prompt.Input("S3 region", "us-east-1")
		if err != nil {
			return nil, err
		}
		repo.ObjectStore = config.ObjectStoreConfig{
			Type: "s3",
			S3:   config.S3Config{Bucket: bucket, Region: region},
		}
	default:
		dir, err := prompt.Input("Local volume directory", "")
		if err != nil {
			return nil, err
		}
		repo.ObjectStore = config.ObjectStoreConfig{
			Type:  "local",
			Local: config.LocalConfig{Dir: dir},
		}
	}

	cfg := config.GetDefaultConfig()
	cfg.Repositories[name] = repo
	config.ApplyDefaults(cfg)
	return cfg, nil
}
