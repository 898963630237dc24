package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/retail-agent/backend/internal/catalog"
	"github.com/retail-agent/backend/internal/ingestion"
)

var (
	ingestKind   string
	ingestTenant string
	ingestFile   string
	ingestMode   string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Load a spreadsheet into a tenant's catalog",
	Long: `Load an .xlsx or .csv file into the catalog of one tenant. In replace mode
the tenant's existing entries of the kind are deleted first.`,
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestKind, "kind", "", "catalog kind: product, service, accessory or faq (required)")
	ingestCmd.Flags().StringVar(&ingestTenant, "tenant", "", "customer id of the shop (required)")
	ingestCmd.Flags().StringVar(&ingestFile, "file", "", "path to the .xlsx or .csv file (required)")
	ingestCmd.Flags().StringVar(&ingestMode, "mode", string(ingestion.ModeAppend), "replace or append")
	_ = ingestCmd.MarkFlagRequired("kind")
	_ = ingestCmd.MarkFlagRequired("tenant")
	_ = ingestCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	kind, err := catalog.ParseKind(ingestKind)
	if err != nil {
		return err
	}
	mode, err := ingestion.ParseMode(ingestMode)
	if err != nil {
		return err
	}
	content, err := os.ReadFile(ingestFile)
	if err != nil {
		return fmt.Errorf("read %s: %w", ingestFile, err)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Minute)
	defer cancel()

	app, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	var bar *progressbar.ProgressBar
	progress := func(done, total int) {
		if bar == nil {
			bar = progressbar.NewOptions(total,
				progressbar.OptionSetDescription(fmt.Sprintf("Loading %s", kind)),
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionShowCount(),
				progressbar.OptionSetItsString("rows"),
				progressbar.OptionSetWidth(40),
				progressbar.OptionOnCompletion(func() { fmt.Fprint(os.Stderr, "\n") }),
			)
		}
		_ = bar.Set(done)
	}

	result, err := app.Pipeline.Ingest(ctx, kind, ingestTenant, filepath.Base(ingestFile), content, mode,
		ingestion.WithProgress(progress))
	if bar != nil {
		_ = bar.Finish()
	}

	printIngestSummary(cmd, result)
	return err
}

func printIngestSummary(cmd *cobra.Command, result ingestion.IngestResult) {
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	fmt.Fprintf(cmd.OutOrStdout(), "Rows:    %d\n", result.Rows)
	fmt.Fprintf(cmd.OutOrStdout(), "Loaded:  %s\n", green(result.Result.SuccessCount))
	if result.Dropped > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "Dropped: %s\n", yellow(result.Dropped))
	}
	if n := result.Result.FailedCount(); n > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "Failed:  %s\n", red(n))
		for _, f := range result.Result.Failed {
			id := f.ID
			if id == "" {
				id = "-"
			}
			// data rows are 0-based, spreadsheet rows start after the header
			fmt.Fprintf(cmd.OutOrStdout(), "  row %d (%s): %s\n", f.Index+2, id, f.Reason)
		}
	}
}
