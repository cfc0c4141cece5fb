package cli

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/tanishqjotwani/picocode/internal/server"
	"github.com/tanishqjotwani/picocode/internal/watcher"
)

var (
	serveHost    string
	servePort    int
	serveNoWatch bool
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	Long: `Start the HTTP API server with the drift watcher.

On startup any project left mid-index by a previous run is resumed,
and every ready project joins the watcher's poll set.

Examples:
  # Serve on the default address
  picocode serve

  # Serve on a different port without the watcher
  picocode serve --port 9090 --no-watch`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "bind address (default from config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (default from config)")
	serveCmd.Flags().BoolVar(&serveNoWatch, "no-watch", false, "disable the drift watcher")
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Finish anything a previous run left mid-index.
	a.pipeline.Resume(ctx)

	var w *watcher.Watcher
	if a.cfg.Watcher.Enabled && !serveNoWatch {
		w = watcher.New(a.reg, func(ctx context.Context, projectID string, changed []string) error {
			log.Debug("Reindexing after drift", "project", projectID, "changed", changed)
			_, err := a.pipeline.Index(ctx, projectID)
			if err == nil {
				a.searcher.InvalidateProject(projectID)
			}
			return err
		}, watcher.Options{
			Interval: time.Duration(a.cfg.Watcher.Interval) * time.Second,
			Debounce: time.Duration(a.cfg.Watcher.Debounce) * time.Second,
		})
		if err := w.WatchAll(); err != nil {
			log.Warn("watch registration failed", "error", err)
		}
		if err := w.Start(ctx); err != nil {
			return err
		}
		defer w.Stop()
	}

	host := a.cfg.Server.Host
	if serveHost != "" {
		host = serveHost
	}
	port := a.cfg.Server.Port
	if servePort > 0 {
		port = servePort
	}

	srv := server.New(a.reg, a.pipeline, a.searcher, a.gw, w, server.Options{
		Host: host,
		Port: port,
	})
	return srv.ListenAndServe(ctx)
}
