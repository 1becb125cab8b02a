package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/coldvault/coldvault/pkg/compact"
	"github.com/coldvault/coldvault/pkg/progress"
)

var (
	compactFractionThreshold float64
	compactWastedThreshold   int64
)

var compactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Reclaim wasted space in dblock volumes",
	Long: `Compact scans every dblock volume for blocks no surviving blockset
still references. A volume is rewritten (its live blocks repacked into
a fresh volume, its old volume retired) when its referenced fraction
falls below --fraction-threshold, or its wasted bytes exceed
--wasted-threshold. A volume with zero references is deleted outright.

Examples:
  coldvault compact
  coldvault compact --fraction-threshold 0.3
  coldvault compact --wasted-threshold 104857600`,
	RunE: runCompact,
}

func init() {
	compactCmd.Flags().Float64Var(&compactFractionThreshold, "fraction-threshold", 0, "rewrite a volume when its referenced fraction falls below this value (default 0.2)")
	compactCmd.Flags().Int64Var(&compactWastedThreshold, "wasted-threshold", 0, "rewrite a volume when its wasted bytes exceed this value (0 disables)")
}

func runCompact(cmd *cobra.Command, args []string) error {
	reg, repo, cfg, err := openRepository(cmd)
	if err != nil {
		return err
	}
	defer closeRegistry(reg, cfg.ShutdownTimeout)

	opts := compact.Options{
		ReferencedFractionThreshold: compactFractionThreshold,
		WastedSpaceThreshold:        compactWastedThreshold,
		Repository:                  repo.CompactParams(),
	}

	ctx := cmd.Context()
	progressCh := make(chan progress.Event)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range progressCh {
			fmt.Printf("\r  %-10s %5.1f%%", ev.Phase, ev.Fraction*100)
		}
		fmt.Println()
	}()

	result, err := compact.Run(ctx, repo.Store, repo.Adapter, opts, progressCh)
	close(progressCh)
	<-done
	if err != nil {
		return err
	}

	printCompactResult(result)
	return nil
}

func printCompactResult(result *compact.Result) {
	fmt.Printf("reaped %d file(s), %d blockset(s)\n", result.FilesReaped, result.BlocksetsReaped)
	fmt.Printf("rewrote %d volume(s), deleted %d, %d unchanged\n", len(result.Rewritten), len(result.Deleted), result.Unchanged)
	fmt.Printf("reclaimed %d bytes\n", result.BytesReclaimed)
	for _, v := range result.Rewritten {
		fmt.Printf("  %s -> %s (+%s): %d blocks retained, %d dropped, referenced fraction %.2f\n",
			v.OldVolumeName, v.NewVolumeName, v.NewDIndexName, v.BlocksRetained, v.BlocksDropped, v.ReferencedFraction)
	}
	for _, name := range result.Deleted {
		fmt.Printf("  deleted %s (zero references)\n", name)
	}
}
