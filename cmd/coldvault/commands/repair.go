package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/coldvault/coldvault/internal/cli/prompt"
	"github.com/coldvault/coldvault/pkg/purge"
)

var repairForce bool

var repairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Reconcile catalog and remote state after a crash",
	Long: `Repair restores remote state to match the catalog after a process was
killed between a purge's catalog commit and its upload. It runs a
strict-remote verification, and for every dfileset volume the catalog
believes is durable but the backend does not have, re-materializes the
blob from the fileset's own catalog rows and re-uploads it.

dblock and dindex volumes cannot be rebuilt this way: a missing one is
reported as requiring manual intervention (restore from a mirror, or
re-run backup for the affected files).

Examples:
  coldvault repair
  coldvault repair --force`,
	RunE: runRepair,
}

func init() {
	repairCmd.Flags().BoolVarP(&repairForce, "force", "f", false, "skip the confirmation prompt")
}

func runRepair(cmd *cobra.Command, args []string) error {
	ok, err := prompt.ConfirmWithForce("This will mark the catalog mid-repair and re-upload missing dfileset volumes. Continue?", repairForce)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Println("aborted")
		return nil
	}

	reg, repo, cfg, err := openRepository(cmd)
	if err != nil {
		return err
	}
	defer closeRegistry(reg, cfg.ShutdownTimeout)

	report, err := purge.Reconcile(cmd.Context(), repo.Store, repo.Adapter, repo.PurgeParams())
	if err != nil {
		return err
	}

	for _, record := range report.Records {
		fmt.Printf("  [%s] %s: %s (%s)\n", record.ID, record.VolumeName, record.Action, record.Detail)
	}
	if len(report.Records) == 0 {
		fmt.Println("nothing to repair")
	}
	return nil
}
