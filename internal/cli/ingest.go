package cli

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/planproof/planproof/internal/index"
	"github.com/planproof/planproof/internal/ingest"
	"github.com/planproof/planproof/internal/raster"
	"github.com/planproof/planproof/internal/source"
	"github.com/planproof/planproof/internal/vision"
)

var (
	ingestName   string
	ingestForce  bool
	ingestStrict bool
	skipIndex    bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [source-dir]",
	Short: "Ingest a directory of drawing PDFs into the store",
	Long: `Scans the source directory for PDFs, rasterizes every page, runs the
two-stage vision extraction and rebuilds the project index. Safe to rerun:
completed pages are skipped, interrupted pages are redone whole.`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestName, "name", "", "project name (defaults to the source directory name)")
	ingestCmd.Flags().BoolVar(&ingestForce, "force", false, "redo pages even when already complete")
	ingestCmd.Flags().BoolVar(&ingestStrict, "strict-resume", false, "treat pages with any unanalyzed region as incomplete")
	ingestCmd.Flags().BoolVar(&skipIndex, "skip-index", false, "do not rebuild the index after ingestion")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	st, cfg, err := openStore()
	if err != nil {
		return err
	}
	if err := cfg.ValidateIngest(); err != nil {
		return err
	}
	log := logger()

	scanner := source.NewScanner(log)
	scanner.FallbackPdfinfo = cfg.PdfinfoFallback
	docs, err := scanner.Scan(args[0])
	if err != nil {
		return fmt.Errorf("scan source: %w", err)
	}
	if len(docs) == 0 {
		return fmt.Errorf("no PDF documents under %s", args[0])
	}

	client := vision.NewClient(cfg.AnthropicAPIKey, cfg.AnthropicModel, cfg.RequestsPerMinute)
	defer client.Close()

	ing := ingest.New(st, client, client, &raster.Pdftoppm{}, raster.PNGCropper{}, log, ingest.Options{
		Workers:       cfg.Workers,
		RegionWorkers: cfg.RegionWorkers,
		DPI:           cfg.DPI,
		CropPad:       cfg.CropPad,
		StrictResume:  ingestStrict || cfg.StrictResume,
		Force:         ingestForce,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	meta := source.ProjectMetaFor(ingestName, args[0], docs)
	summary, runErr := ing.Run(ctx, meta, docs)
	if summary != nil {
		snap := summary.Snapshot()
		cmd.Printf("project %s: %d pages processed, %d skipped, %d failed; %d regions analyzed, %d failed\n",
			meta.Slug, snap.PagesProcessed, snap.PagesSkipped, snap.PagesFailed,
			snap.RegionsAnalyzed, snap.RegionsFailed)
		for _, e := range snap.Errors {
			cmd.Printf("  error: %s\n", e)
		}
	}
	if runErr != nil {
		return runErr
	}

	if skipIndex {
		return nil
	}
	ix, err := index.Build(st, meta.Slug, log)
	if err != nil {
		return fmt.Errorf("build index: %w", err)
	}
	if err := ix.Write(st, meta.Slug); err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	cmd.Printf("index: %d material terms, %d keyword terms, %d broken refs\n",
		ix.Summary.UniqueMaterialCount, ix.Summary.UniqueKeywordCount, ix.Summary.BrokenRefCount)
	return nil
}
