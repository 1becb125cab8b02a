package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/coldvault/coldvault/internal/cli/output"
	"github.com/coldvault/coldvault/internal/cli/timeutil"
	"github.com/coldvault/coldvault/pkg/catalog"
)

var statusOutput string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show repository status",
	Long: `Display the current status of a coldvault repository: remote volume
counts by kind and lifecycle state, orphaned file and fileset counts,
and whether the catalog is mid-repair or carries unresolved
active-upload state from a prior crash.

Examples:
  # Check status of the default repository
  coldvault status

  # Check a named repository
  coldvault status --repository offsite

  # Output as JSON
  coldvault status --output json`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", "table", "Output format (table|json|yaml)")
}

// RepositoryStatus summarizes a repository's catalog state.
type RepositoryStatus struct {
	Name                  string                     `json:"name" yaml:"name"`
	MidRepair             bool                       `json:"mid_repair" yaml:"mid_repair"`
	TerminatedWithUploads bool                       `json:"terminated_with_active_uploads" yaml:"terminated_with_active_uploads"`
	ReadyForPurge         bool                       `json:"ready_for_purge" yaml:"ready_for_purge"`
	FilesetCount          int                        `json:"fileset_count" yaml:"fileset_count"`
	LatestFileset         string                     `json:"latest_fileset,omitempty" yaml:"latest_fileset,omitempty"`
	OrphanFiles           int64                      `json:"orphan_files" yaml:"orphan_files"`
	VolumesByKindAndState map[string]map[string]int `json:"volumes_by_kind_and_state" yaml:"volumes_by_kind_and_state"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(statusOutput)
	if err != nil {
		return err
	}

	reg, repo, cfg, err := openRepository(cmd)
	if err != nil {
		return err
	}
	defer closeRegistry(reg, cfg.ShutdownTimeout)

	ctx := cmd.Context()
	name, _ := resolveRepositoryName(cfg)

	status := RepositoryStatus{
		Name:                  name,
		VolumesByKindAndState: map[string]map[string]int{},
	}

	status.MidRepair, err = repo.Store.MidRepair(ctx)
	if err != nil {
		return fmt.Errorf("read mid-repair flag: %w", err)
	}
	status.TerminatedWithUploads, err = repo.Store.TerminatedWithActiveUploads(ctx)
	if err != nil {
		return fmt.Errorf("read active-uploads flag: %w", err)
	}
	status.ReadyForPurge, err = repo.Store.IsReadyForPurge(ctx)
	if err != nil {
		return fmt.Errorf("read ready-for-purge status: %w", err)
	}

	times, err := repo.Store.FilesetTimes(ctx)
	if err != nil {
		return fmt.Errorf("list filesets: %w", err)
	}
	status.FilesetCount = len(times)
	if len(times) > 0 {
		status.LatestFileset = timeutil.FormatTime(times[0].Timestamp.Format(time.RFC3339))
	}

	status.OrphanFiles, err = repo.Store.CountOrphanFiles(ctx)
	if err != nil {
		return fmt.Errorf("count orphan files: %w", err)
	}

	for _, kind := range []catalog.VolumeKind{catalog.VolumeKindDBlock, catalog.VolumeKindDIndex, catalog.VolumeKindDFileset} {
		volumes, err := repo.Store.ListRemoteVolumesByKind(ctx, kind)
		if err != nil {
			return fmt.Errorf("list %s volumes: %w", kind, err)
		}
		byState := map[string]int{}
		for _, v := range volumes {
			byState[string(v.State)]++
		}
		status.VolumesByKindAndState[string(kind)] = byState
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(os.Stdout, status)
	case output.FormatYAML:
		return output.PrintYAML(os.Stdout, status)
	default:
		printStatusTable(status)
	}

	return nil
}

func printStatusTable(status RepositoryStatus) {
	fmt.Println()
	fmt.Printf("Repository: %s\n", status.Name)
	fmt.Println("========================================")
	fmt.Println()

	if status.ReadyForPurge {
		fmt.Printf("  Purge/compact:  \033[32m● ready\033[0m\n")
	} else {
		fmt.Printf("  Purge/compact:  \033[31m○ blocked\033[0m\n")
	}
	if status.MidRepair {
		fmt.Println("  Mid-repair:     yes (run once repair completes)")
	}
	if status.TerminatedWithUploads {
		fmt.Println("  Active uploads: unresolved crash flag set, run \"coldvault repair\"")
	}

	fmt.Printf("  Filesets:       %d\n", status.FilesetCount)
	if status.LatestFileset != "" {
		fmt.Printf("  Latest:         %s\n", status.LatestFileset)
	}
	fmt.Printf("  Orphan files:   %d\n", status.OrphanFiles)
	fmt.Println()

	for _, kind := range []string{"dblock", "dindex", "dfileset"} {
		byState := status.VolumesByKindAndState[kind]
		fmt.Printf("  %s volumes:\n", kind)
		for _, state := range []string{"temporary", "uploading", "uploaded", "verified", "deleting", "deleted"} {
			if n, ok := byState[state]; ok && n > 0 {
				fmt.Printf("    %-10s %d\n", state, n)
			}
		}
	}
	fmt.Println()
}
