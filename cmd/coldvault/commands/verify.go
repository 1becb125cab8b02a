package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/coldvault/coldvault/internal/cli/output"
	"github.com/coldvault/coldvault/pkg/verify"
)

var (
	verifyOutput string
	verifyStrict bool
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check catalog (and optionally remote) consistency",
	Long: `Verify runs the repository's structural invariant checks against the
local catalog: fileset monotonicity, blockset/file reference integrity,
and remote-volume lifecycle edges.

With --strict-remote, it additionally lists the backend's actual
objects and reconciles them against the catalog's remote-volume rows,
flagging volumes the catalog believes are durable but which are
missing from the backend, and backend objects with no catalog row.

Examples:
  coldvault verify
  coldvault verify --strict-remote
  coldvault verify --output json`,
	RunE: runVerify,
}

func init() {
	verifyCmd.Flags().StringVarP(&verifyOutput, "output", "o", "table", "Output format (table|json|yaml)")
	verifyCmd.Flags().BoolVar(&verifyStrict, "strict-remote", false, "also reconcile the catalog against the backend's object listing")
}

func runVerify(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(verifyOutput)
	if err != nil {
		return err
	}

	reg, repo, cfg, err := openRepository(cmd)
	if err != nil {
		return err
	}
	defer closeRegistry(reg, cfg.ShutdownTimeout)

	ctx := cmd.Context()

	var report *verify.Report
	if verifyStrict {
		report, err = verify.StrictRemote(ctx, repo.Store, repo.Adapter)
	} else {
		report, err = verify.Local(ctx, repo.Store)
	}
	if err != nil {
		return err
	}

	switch format {
	case output.FormatJSON:
		if err := output.PrintJSON(os.Stdout, report); err != nil {
			return err
		}
	case output.FormatYAML:
		if err := output.PrintYAML(os.Stdout, report); err != nil {
			return err
		}
	default:
		printVerifyTable(report)
	}

	if !report.OK() {
		return fmt.Errorf("repository is not consistent: %d violation(s)", len(report.Catalog.Violations)+len(report.MissingRemote)+len(report.OrphanedRemote))
	}
	return nil
}

func printVerifyTable(report *verify.Report) {
	fmt.Println()
	fmt.Printf("  Blocks:     %d\n", report.Catalog.Blocks)
	fmt.Printf("  Blocksets:  %d\n", report.Catalog.Blocksets)
	fmt.Printf("  Files:      %d\n", report.Catalog.Files)
	fmt.Printf("  Filesets:   %d\n", report.Catalog.Filesets)
	fmt.Println()

	if len(report.Catalog.Violations) > 0 {
		fmt.Println("  Catalog violations:")
		for _, v := range report.Catalog.Violations {
			fmt.Printf("    - %s\n", v)
		}
	}
	if len(report.MissingRemote) > 0 {
		fmt.Println("  Missing from backend:")
		for _, name := range report.MissingRemote {
			fmt.Printf("    - %s\n", name)
		}
	}
	if len(report.OrphanedRemote) > 0 {
		fmt.Println("  Orphaned backend objects:")
		for _, name := range report.OrphanedRemote {
			fmt.Printf("    - %s\n", name)
		}
	}

	if report.OK() {
		fmt.Println("  \033[32m● consistent\033[0m")
	} else {
		fmt.Println("  \033[31m○ inconsistent\033[0m")
	}
	fmt.Println()
}
