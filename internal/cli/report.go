package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/planproof/planproof/internal/report"
)

var (
	reportHTML bool
	reportOut  string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Write the project coverage report",
	Args:  cobra.NoArgs,
	RunE:  runReport,
}

func init() {
	reportCmd.Flags().BoolVar(&reportHTML, "html", false, "render HTML instead of Markdown")
	reportCmd.Flags().StringVarP(&reportOut, "output", "o", "", "write to a file instead of stdout")
	rootCmd.AddCommand(reportCmd)
}

func runReport(cmd *cobra.Command, _ []string) error {
	snap, err := openSnapshot()
	if err != nil {
		return err
	}

	var out string
	if reportHTML {
		out, err = report.HTML(snap, time.Now())
		if err != nil {
			return err
		}
	} else {
		out = report.Markdown(snap, time.Now())
	}

	if reportOut == "" {
		cmd.Print(out)
		return nil
	}
	if err := os.WriteFile(reportOut, []byte(out), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	cmd.Printf("wrote %s\n", reportOut)
	return nil
}
