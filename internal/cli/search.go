package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/planproof/planproof/internal/query"
)

var searchJSON bool

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search materials, keywords and page content",
	Args:  cobra.ExactArgs(1),
	RunE:  runSearch,
}

func init() {
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "output results as JSON")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	eng, err := openEngine()
	if err != nil {
		return err
	}

	hits, err := eng.Search(args[0])
	if errors.Is(err, query.ErrNoResults) {
		if searchJSON {
			cmd.Println("[]")
			return nil
		}
		cmd.Println("No results.")
		return nil
	}
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}

	if searchJSON {
		data, err := json.MarshalIndent(hits, "", "  ")
		if err != nil {
			return err
		}
		cmd.Println(string(data))
		return nil
	}

	for _, h := range hits {
		loc := h.Page
		if h.Region != "" {
			loc += "/" + h.Region
		}
		cmd.Printf("[%s] %s  (%s)\n", h.Kind, h.Match, loc)
	}
	return nil
}
