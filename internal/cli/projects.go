package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tanishqjotwani/picocode/internal/registry"
	"github.com/tanishqjotwani/picocode/internal/ui"
)

// projectsCmd represents the projects command
var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "List registered projects",
	Long: `List every registered project with its status.

Examples:
  # List projects
  picocode projects

  # Remove a project and its vector store
  picocode projects rm ./backend`,
	RunE: runProjects,
}

// projectsRmCmd removes a project and deletes its store.
var projectsRmCmd = &cobra.Command{
	Use:   "rm <path-or-id>",
	Short: "Remove a project and delete its vector store",
	Args:  cobra.ExactArgs(1),
	RunE:  runProjectsRm,
}

func init() {
	projectsCmd.AddCommand(projectsRmCmd)
}

func runProjects(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	projects, err := a.reg.List()
	if err != nil {
		return err
	}
	if len(projects) == 0 {
		fmt.Println("No projects registered.")
		fmt.Println()
		fmt.Println("Run 'picocode index [path]' to create one.")
		return nil
	}

	for _, p := range projects {
		fmt.Printf("%s  %s  %s\n", ui.Bold.Render(p.Name), ui.Dim.Render(p.ID), statusBadge(p.Status))
		fmt.Printf("  %s\n", ui.FilePath.Render(p.Path))
		if !p.LastIndexedAt.IsZero() {
			fmt.Printf("  %s\n", ui.Dim.Render("last indexed "+p.LastIndexedAt.Format("2006-01-02 15:04:05")))
		}
	}
	return nil
}

func runProjectsRm(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	project, err := a.resolveProject(args[0])
	if err != nil {
		return err
	}
	if err := a.reg.Delete(project.ID); err != nil {
		return err
	}
	fmt.Println(ui.Success.Render("✓ Removed " + project.Name))
	return nil
}

func statusBadge(s registry.Status) string {
	switch s {
	case registry.StatusReady:
		return ui.Success.Render(string(s))
	case registry.StatusIndexing:
		return ui.Warning.Render(string(s))
	case registry.StatusError:
		return ui.Error.Render(string(s))
	default:
		return ui.Dim.Render(string(s))
	}
}
