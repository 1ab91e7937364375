package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/planproof/planproof/internal/query"
)

var pageJSON bool

var pageCmd = &cobra.Command{
	Use:   "page [name]",
	Short: "Show one sheet: its record and analyzed regions",
	Long: `Resolves the sheet fuzzily: exact name first, then unique prefix,
then case-insensitive substring. "s201", "S-201" and "s 201" all find S-201.`,
	Args: cobra.ExactArgs(1),
	RunE: runPage,
}

func init() {
	pageCmd.Flags().BoolVar(&pageJSON, "json", false, "output the full record as JSON")
	rootCmd.AddCommand(pageCmd)
}

func runPage(cmd *cobra.Command, args []string) error {
	eng, err := openEngine()
	if err != nil {
		return err
	}

	page, err := eng.ResolvePage(args[0])
	if errors.Is(err, query.ErrPageNotFound) {
		return fmt.Errorf("no sheet matches %q", args[0])
	}
	if err != nil {
		return err
	}

	if pageJSON {
		data, err := json.MarshalIndent(map[string]any{
			"name":     page.Name,
			"record":   page.Record,
			"pointers": page.Pointers,
		}, "", "  ")
		if err != nil {
			return err
		}
		cmd.Println(string(data))
		return nil
	}

	rec := page.Record
	cmd.Printf("%s  (%s", page.Name, rec.PageType)
	if rec.Discipline != "" {
		cmd.Printf(", %s", rec.Discipline)
	}
	cmd.Println(")")
	if rec.Summary != "" {
		cmd.Println(rec.Summary)
	}
	if rec.Failed {
		cmd.Printf("FAILED: %s\n", rec.FailureNote)
	}
	cmd.Printf("%d regions, %d analyzed\n", len(rec.Regions), len(page.Pointers))
	for _, region := range rec.Regions {
		status := "analyzed"
		ptr, ok := page.Pointers[region.ID]
		switch {
		case !ok:
			status = "missing"
		case ptr.Failed:
			status = "degraded"
		}
		cmd.Printf("  %-12s %-30s %s\n", region.Type, region.Label, status)
	}
	return nil
}
