package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/conneroisu/htmlforge/internal/config"
	"github.com/conneroisu/htmlforge/internal/server"
	"github.com/conneroisu/htmlforge/internal/watcher"
)

// watchDebounce coalesces the notifications of a single save.
const watchDebounce = 100 * time.Millisecond

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"s"},
	Short:   "Build, watch and serve with live reload",
	Long: `Start the development server. The build output is kept in memory
and rebuilt whenever a file under the project directory changes; connected
browsers reload after every successful rebuild.

Examples:
  htmlforge serve                  # Serve on localhost:9999
  htmlforge serve -p 8080 --open   # Serve on port 8080 and open a browser
  htmlforge serve --no-hot-reload  # Serve without the reload client`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntP("port", "p", 9999, "port to serve on")
	serveCmd.Flags().String("host", "localhost", "host to bind to")
	serveCmd.Flags().Bool("open", false, "open a browser once the server is listening")
	serveCmd.Flags().Bool("no-hot-reload", false, "do not inject the live reload client")

	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.open", serveCmd.Flags().Lookup("open"))
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if noReload, _ := cmd.Flags().GetBool("no-hot-reload"); noReload {
		cfg.Development.HotReload = false
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg)
}

// serve runs the watch loop and the dev server until ctx is done.
func serve(ctx context.Context, cfg *config.Config) error {
	bc := cfg.Bundler()
	if cfg.Development.HotReload {
		bc = server.WithClientEntry(bc)
	}

	p, err := newPipeline(cfg, bc, afero.NewMemMapFs())
	if err != nil {
		return err
	}

	srv := server.New(cfg.DevServer(), p.compiler,
		server.WithPlugin(p.plugin),
		server.WithLogger(p.logger),
		server.WithMetrics(p.metrics, p.registry),
	)

	fw, err := watcher.NewFileWatcher(watchDebounce, p.logger)
	if err != nil {
		return err
	}
	defer fw.Stop()
	fw.AddFilter(watcher.IgnoreDirs("node_modules", ".git"))
	fw.AddFilter(watcher.IgnoreTree(cfg.Build.Output))
	fw.AddFilter(watcher.NoEditorTempFilter)
	fw.AddHandler(func(events []watcher.ChangeEvent) error {
		for _, ev := range events {
			p.logger.Debug(ctx, "file changed", "path", ev.Path, "type", ev.Type.String())
		}
		p.compiler.Invalidate()
		return nil
	})
	if err := fw.AddRecursive(cfg.Build.Context); err != nil {
		return fmt.Errorf("watch %s: %w", cfg.Build.Context, err)
	}

	g, ctx := errgroup.WithContext(ctx)
	fw.Start(ctx)
	g.Go(func() error {
		return p.compiler.Watch(ctx, cfg.Build.AggregateTimeout)
	})
	g.Go(func() error {
		return srv.Start(ctx)
	})

	url := "http://" + cfg.DevServer().Addr()
	p.logger.Info(ctx, "serving", "url", url, "hot_reload", cfg.Development.HotReload)
	if cfg.Server.Open {
		if err := server.OpenBrowser(url); err != nil {
			p.logger.Warn(ctx, err, "could not open browser", "url", url)
		}
	}

	return g.Wait()
}
