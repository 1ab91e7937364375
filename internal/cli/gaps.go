package cli

import (
	"github.com/spf13/cobra"
)

var gapsCmd = &cobra.Command{
	Use:   "gaps",
	Short: "List unanalyzed regions and broken sheet references",
	Args:  cobra.NoArgs,
	RunE:  runGaps,
}

func init() {
	rootCmd.AddCommand(gapsCmd)
}

func runGaps(cmd *cobra.Command, _ []string) error {
	eng, err := openEngine()
	if err != nil {
		return err
	}
	gaps := eng.Gaps()

	cmd.Println("Regions without analysis:")
	if len(gaps.MissingPointers) == 0 {
		cmd.Println("  none")
	}
	for _, mp := range gaps.MissingPointers {
		cmd.Printf("  %s  %s (%s %s)\n", mp.Page, mp.Region, mp.Type, mp.Label)
	}

	cmd.Println("Broken cross-references:")
	if len(gaps.BrokenRefs) == 0 {
		cmd.Println("  none")
	}
	for _, ref := range gaps.BrokenRefs {
		cmd.Printf("  %s\n", ref)
	}
	return nil
}
