package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/tanishqjotwani/picocode/internal/ui"
)

var statusDeps bool

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status [path]",
	Short: "Show index statistics for a project",
	Long: `Display statistics for an indexed project:
- Number of indexed files and chunks
- Embedding dimensions and language breakdown
- Recorded dependencies with usage counts

Examples:
  # Show status for the current directory's project
  picocode status

  # Show status with dependencies
  picocode status ./backend --deps`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusDeps, "deps", false, "list recorded dependencies")
}

func runStatus(cmd *cobra.Command, args []string) error {
	target := "."
	if len(args) > 0 {
		target = args[0]
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	project, err := a.resolveProject(target)
	if err != nil {
		return err
	}

	stats, err := a.searcher.Stats(project.ID)
	if err != nil {
		return err
	}

	fmt.Printf("%s  %s  %s\n", ui.Bold.Render(project.Name), ui.Dim.Render(project.ID), statusBadge(project.Status))
	fmt.Printf("  path:       %s\n", project.Path)
	fmt.Printf("  files:      %d (%d chunks, %d bytes)\n", stats.Files, stats.Chunks, stats.TotalBytes)
	fmt.Printf("  dimensions: %d\n", stats.Dimensions)
	if len(stats.Languages) > 0 {
		langs := make([]string, 0, len(stats.Languages))
		for lang := range stats.Languages {
			langs = append(langs, lang)
		}
		sort.Strings(langs)
		fmt.Println("  languages:")
		for _, lang := range langs {
			fmt.Printf("    %-12s %d\n", lang, stats.Languages[lang])
		}
	}

	if !statusDeps {
		return nil
	}

	st, err := a.reg.Store(project.ID)
	if err != nil {
		return err
	}
	deps, err := st.ListDependencies(nil)
	if err != nil {
		return err
	}
	if len(deps) == 0 {
		fmt.Println("  dependencies: none recorded")
		return nil
	}
	fmt.Printf("  dependencies: %d\n", len(deps))
	for _, dep := range deps {
		marker := ""
		if dep.Transitive {
			marker = ui.Dim.Render(" (transitive)")
		}
		fmt.Printf("    %-24s %-12s %s used %d times%s\n", dep.Name, dep.Version, ui.Dim.Render(dep.Language), dep.UsageCount, marker)
	}
	return nil
}
