package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/tanishqjotwani/picocode/internal/search"
	"github.com/tanishqjotwani/picocode/internal/ui"
)

var (
	queryAnswer  bool
	queryContent bool
	queryLimit   int
	queryJSON    bool
)

// queryCmd represents the query command
var queryCmd = &cobra.Command{
	Use:   "query <query> [path]",
	Short: "Search an indexed project with natural language",
	Long: `Search for code using natural language queries.

The query is embedded and matched against indexed chunks by vector
similarity. The project argument may be a path or a project ID and
defaults to the current directory.

Examples:
  # Basic search in the current directory's project
  picocode query "how does authentication work"

  # Search with content previews
  picocode query "database connection" -c

  # Generate an answer from the top matches
  picocode query "how are errors handled" -a

  # Search another project
  picocode query "token refresh" ./backend`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().BoolVarP(&queryAnswer, "answer", "a", false, "generate an answer from the top matches")
	queryCmd.Flags().BoolVarP(&queryContent, "content", "c", false, "show content snippets in results")
	queryCmd.Flags().IntVarP(&queryLimit, "limit", "m", 10, "maximum number of results")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "emit raw JSON")
}

func runQuery(cmd *cobra.Command, args []string) error {
	query := args[0]
	target := "."
	if len(args) > 1 {
		target = args[1]
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	project, err := a.resolveProject(target)
	if err != nil {
		return err
	}

	if queryAnswer {
		resp, err := a.searcher.Answer(ctx, project.ID, query, queryLimit)
		if err != nil {
			return err
		}
		if queryJSON {
			return printJSON(resp)
		}
		return printAnswer(resp)
	}

	resp, err := a.searcher.Query(ctx, project.ID, query, queryLimit)
	if err != nil {
		return err
	}
	if queryJSON {
		return printJSON(resp)
	}
	printHits(resp.Hits)
	fmt.Println()
	fmt.Println(ui.Dim.Render(fmt.Sprintf("%d results in %.0fms", len(resp.Hits), resp.TookMS)))
	return nil
}

func printHits(hits []search.Hit) {
	if len(hits) == 0 {
		fmt.Println("No results found.")
		return
	}
	for _, hit := range hits {
		fmt.Printf("%s %s\n", ui.FormatHit(hit.Path, hit.ChunkIndex), ui.FormatScore(hit.Score))
		if queryContent && hit.Content != search.ChunkUnavailable {
			snippet := hit.Content
			if len(snippet) > 300 {
				snippet = snippet[:300] + "..."
			}
			fmt.Println(ui.Content.Render(strings.TrimRight(snippet, "\n")))
		}
	}
}

// printAnswer renders the generated answer as markdown, falling back
// to plain text when the renderer cannot be built.
func printAnswer(resp *search.AnswerResponse) error {
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		fmt.Println(resp.Answer)
	} else if out, err := renderer.Render(resp.Answer); err != nil {
		fmt.Println(resp.Answer)
	} else {
		fmt.Print(out)
	}

	if len(resp.Hits) > 0 {
		fmt.Println(ui.Header.Render("Sources"))
		for _, hit := range resp.Hits {
			fmt.Printf("  %s %s\n", ui.FormatHit(hit.Path, hit.ChunkIndex), ui.FormatScore(hit.Score))
		}
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
