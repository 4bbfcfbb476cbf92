package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fasalrakshak/fasalrakshak/internal/ingest"
	"github.com/fasalrakshak/fasalrakshak/internal/rag"
	"github.com/spf13/cobra"
)

var (
	rebuild    bool
	ingestJSON bool
)

func init() {
	ingestCmd.Flags().BoolVar(&rebuild, "rebuild", false, "discard any persisted index and build from the documents")
	ingestCmd.Flags().BoolVar(&ingestJSON, "json", false, "print the report as JSON")
}

// ingestCmd builds or reuses the knowledge base index
var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Build the knowledge base index from the documents directory",
	Long: `Load the PDF and text documents under rag.docs_dir, split them into
chunks, embed them and persist the index. A valid persisted index is reused
unless --rebuild is given.

Examples:
  # Build once, reuse afterwards
  fasal ingest

  # Force a rebuild after adding documents
  fasal ingest --rebuild`,
	Args: cobra.NoArgs,
	RunE: runIngest,
}

func runIngest(cmd *cobra.Command, _ []string) error {
	if cfg.RAG.RemoteURL != "" {
		return fmt.Errorf("rag.remote_url is set; ingest on the server at %s instead", cfg.RAG.RemoteURL)
	}

	ctx := cmd.Context()
	a := newApp(cfg)
	defer closeApp(a)

	if err := a.openPipeline(ctx); err != nil {
		return err
	}

	var (
		idx    rag.Index
		report ingest.Report
		err    error
	)
	if rebuild {
		idx, report, err = a.pipeline.Rebuild(ctx)
	} else {
		idx, report, err = a.pipeline.Ingest(ctx)
	}
	if err != nil {
		return fmt.Errorf("ingestion failed: %w", err)
	}
	defer idx.Close()

	out := cmd.OutOrStdout()
	if ingestJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	if report.Loaded {
		fmt.Fprintf(out, "Reused index at %s (%d entries)\n", report.Location, report.Entries)
		return nil
	}
	fmt.Fprintf(out, "Built index at %s\n", report.Location)
	fmt.Fprintf(out, "  Documents: %d\n", report.Documents)
	fmt.Fprintf(out, "  Chunks:    %d\n", report.Chunks)
	fmt.Fprintf(out, "  Embedded:  %d\n", report.Embedded)
	fmt.Fprintf(out, "  Skipped:   %d\n", report.Skipped)
	fmt.Fprintf(out, "  Entries:   %d\n", report.Entries)
	fmt.Fprintf(out, "  Took:      %s\n", report.Duration.Round(time.Millisecond))
	return nil
}
