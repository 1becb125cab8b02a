package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/coldvault/coldvault/pkg/catalog"
	"github.com/coldvault/coldvault/pkg/progress"
	"github.com/coldvault/coldvault/pkg/purge"
)

var (
	purgePathGlob    string
	purgeSelector    string
	purgeDryRun      bool
	purgeAutoCompact bool
	purgeNoBackend   bool
	purgeSince       string
	purgeUntil       string
	purgeIndices     []int
)

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Remove path ranges out of fileset history",
	Long: `Purge rewrites every fileset entry matching a path filter, dropping
the matched paths from each fileset's history and replacing the
fileset's dfileset volume with one that omits them.

Exactly one of --path or --selector must be given. Restrict the
filesets considered with --since, --until, or --version (repeatable,
newest fileset is version 0).

Examples:
  coldvault purge --path "*.tmp"
  coldvault purge --path "/home/alice/Downloads/*" --dry-run
  coldvault purge --selector '^/var/log/' --auto-compact`,
	RunE: runPurge,
}

func init() {
	purgeCmd.Flags().StringVar(&purgePathGlob, "path", "", "shell glob matched against fileset entry paths")
	purgeCmd.Flags().StringVar(&purgeSelector, "selector", "", "regular expression matched against fileset entry paths")
	purgeCmd.Flags().BoolVar(&purgeDryRun, "dry-run", false, "compute the rewrite but issue no remote side effects")
	purgeCmd.Flags().BoolVar(&purgeAutoCompact, "auto-compact", false, "run compact immediately after a successful purge")
	purgeCmd.Flags().BoolVar(&purgeNoBackend, "no-backend-verification", false, "skip the pre-purge strict-remote verification pass")
	purgeCmd.Flags().StringVar(&purgeSince, "since", "", "only consider filesets at or after this time (RFC3339)")
	purgeCmd.Flags().StringVar(&purgeUntil, "until", "", "only consider filesets at or before this time (RFC3339)")
	purgeCmd.Flags().IntSliceVar(&purgeIndices, "version", nil, "only consider these fileset versions, newest-first, 0-based (repeatable)")
}

func runPurge(cmd *cobra.Command, args []string) error {
	filter, err := resolvePurgeFilter()
	if err != nil {
		return err
	}

	selection, err := resolveVersionSelector()
	if err != nil {
		return err
	}

	reg, repo, cfg, err := openRepository(cmd)
	if err != nil {
		return err
	}
	defer closeRegistry(reg, cfg.ShutdownTimeout)

	opts := purge.Options{
		Filter:                  filter,
		Selection:               selection,
		DryRun:                  purgeDryRun,
		AutoCompact:             purgeAutoCompact,
		SkipBackendVerification: purgeNoBackend,
		Repository:              repo.PurgeParams(),
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

	result, err := purge.Run(ctx, repo.Store, repo.Adapter, opts, progressCh)
	close(progressCh)
	<-done
	if err != nil {
		return err
	}

	printPurgeResult(result)
	return nil
}

func resolvePurgeFilter() (purge.Filter, error) {
	switch {
	case purgePathGlob != "" && purgeSelector != "":
		return purge.Filter{}, fmt.Errorf("--path and --selector are mutually exclusive")
	case purgePathGlob != "":
		return purge.PathGlob(purgePathGlob), nil
	case purgeSelector != "":
		return purge.CatalogSelector(purgeSelector)
	default:
		return purge.Filter{}, fmt.Errorf("one of --path or --selector is required")
	}
}

func resolveVersionSelector() (catalog.VersionSelector, error) {
	var sel catalog.VersionSelector
	sel.Indices = purgeIndices

	if purgeSince != "" {
		t, err := time.Parse(time.RFC3339, purgeSince)
		if err != nil {
			return sel, fmt.Errorf("invalid --since: %w", err)
		}
		sel.Since = &t
	}
	if purgeUntil != "" {
		t, err := time.Parse(time.RFC3339, purgeUntil)
		if err != nil {
			return sel, fmt.Errorf("invalid --until: %w", err)
		}
		sel.Until = &t
	}
	return sel, nil
}

func printPurgeResult(result *purge.Result) {
	if result.DryRun {
		fmt.Println("dry run, no remote side effects issued")
	}
	fmt.Printf("rewrote %d fileset(s), %d unchanged\n", len(result.Rewritten), result.Unchanged)
	for _, r := range result.Rewritten {
		fmt.Printf("  fileset %d -> %d (%s -> %s), removed %d path(s)\n",
			r.OldFilesetID, r.NewFilesetID, r.OldVolumeName, r.NewVolumeName, len(r.RemovedPaths))
	}
	if result.Compact != nil {
		fmt.Println("auto-compact:")
		printCompactResult(result.Compact)
	}
}
