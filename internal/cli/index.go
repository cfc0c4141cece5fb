package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tanishqjotwani/picocode/internal/ui"
)

var indexName string

// indexCmd represents the index command
var indexCmd = &cobra.Command{
	Use:   "index [path]",
	Short: "Register and index a source tree",
	Long: `Register a directory as a project and index it.

Indexing is incremental: unchanged files are detected by content hash
and skipped, so re-running is cheap.

Examples:
  # Index the current directory
  picocode index

  # Index a specific directory under a custom name
  picocode index ./backend --name api-server`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIndex,
}

func init() {
	indexCmd.Flags().StringVar(&indexName, "name", "", "project name (defaults to the directory name)")
}

func runIndex(cmd *cobra.Command, args []string) error {
	path := "."
	if len(args) > 0 {
		path = args[0]
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := a.pipeline.IndexPath(ctx, path, indexName)
	if err != nil {
		return fmt.Errorf("indexing failed: %w", err)
	}

	fmt.Println(ui.Success.Render("✓ Indexing complete"))
	fmt.Printf("  project:  %s\n", result.ProjectID)
	fmt.Printf("  indexed:  %d files (%d chunks)\n", result.FilesIndexed, result.ChunksEmbedded)
	fmt.Printf("  skipped:  %d unchanged\n", result.FilesSkipped)
	if result.FilesDeleted > 0 {
		fmt.Printf("  removed:  %d deleted files\n", result.FilesDeleted)
	}
	if result.FilesFailed > 0 {
		fmt.Println(ui.Warning.Render(fmt.Sprintf("  failed:   %d files", result.FilesFailed)))
	}
	fmt.Printf("  took:     %s\n", result.Duration.Round(time.Millisecond))
	return nil
}
