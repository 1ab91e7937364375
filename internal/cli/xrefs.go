package cli

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/planproof/planproof/internal/query"
)

var xrefsCmd = &cobra.Command{
	Use:   "xrefs [page]",
	Short: "Show a sheet's outgoing and incoming cross-references",
	Args:  cobra.ExactArgs(1),
	RunE:  runXrefs,
}

func init() {
	rootCmd.AddCommand(xrefsCmd)
}

func runXrefs(cmd *cobra.Command, args []string) error {
	eng, err := openEngine()
	if err != nil {
		return err
	}

	xrefs, err := eng.CrossReferences(args[0])
	if errors.Is(err, query.ErrPageNotFound) {
		return fmt.Errorf("no sheet matches %q", args[0])
	}
	if err != nil {
		return err
	}

	cmd.Println("Outgoing:")
	if len(xrefs.Outgoing) == 0 {
		cmd.Println("  none")
	}
	for _, token := range xrefs.Outgoing {
		cmd.Printf("  -> %s\n", token)
	}

	cmd.Println("Incoming:")
	if len(xrefs.Incoming) == 0 {
		cmd.Println("  none")
	}
	tokens := make([]string, 0, len(xrefs.Incoming))
	for token := range xrefs.Incoming {
		tokens = append(tokens, token)
	}
	sort.Strings(tokens)
	for _, token := range tokens {
		cmd.Printf("  <- %s (from %s)\n", token, strings.Join(xrefs.Incoming[token], ", "))
	}
	return nil
}
