package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/planproof/planproof/internal/index"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Rebuild the project index from the store contents",
	Args:  cobra.NoArgs,
	RunE:  runIndex,
}

func init() {
	rootCmd.AddCommand(indexCmd)
}

func runIndex(cmd *cobra.Command, _ []string) error {
	st, _, err := openStore()
	if err != nil {
		return err
	}

	project := projectFlag
	if project == "" {
		// Resolve the default project the same way queries do.
		snap, err := openSnapshot()
		if err != nil {
			return err
		}
		project = snap.Meta.Slug
	}

	ix, err := index.Build(st, project, logger())
	if err != nil {
		return fmt.Errorf("build index: %w", err)
	}
	if err := ix.Write(st, project); err != nil {
		return fmt.Errorf("write index: %w", err)
	}

	cmd.Printf("project %s: %d pages, %d regions analyzed\n", project, ix.Summary.PageCount, ix.Summary.PointerCount)
	cmd.Printf("%d material terms, %d keyword terms, %d modifications, %d broken refs\n",
		ix.Summary.UniqueMaterialCount, ix.Summary.UniqueKeywordCount,
		ix.Summary.ModificationCount, ix.Summary.BrokenRefCount)
	return nil
}
