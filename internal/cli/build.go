package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/stagehand/internal/config"
	"github.com/roach88/stagehand/internal/pipeline"
	"github.com/roach88/stagehand/internal/serve"
	"github.com/roach88/stagehand/internal/store"
	"github.com/roach88/stagehand/internal/watch"
)

// BuildOptions holds flags for the build command. Flags that are set
// override the definition file.
type BuildOptions struct {
	*RootOptions
	Root        string
	Out         string
	Concurrency int
	Watch       bool
	Serve       bool
	Host        string
	Port        int
	TLSCert     string
	TLSKey      string
	Journal     string

	// IDs allows overriding the generation id generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	IDs pipeline.IDGenerator
}

// BuildResult is the output of a successful build.
type BuildResult struct {
	Generation string `json:"generation"`
	Root       string `json:"root"`
	Out        string `json:"out"`
	Tasks      int    `json:"tasks"`
	Watched    int    `json:"watched"`
}

// NewBuildCommand creates the build command.
func NewBuildCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BuildOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Run the pipeline once, optionally watching and serving",
		Long: `Run every task of the pipeline definition in order and write the
output tree.

With --watch, changes to sources and declared dependencies are rebuilt
incrementally until interrupted. With --serve, the output tree is served
over HTTP (or HTTPS with --tls-cert and --tls-key).

Examples:
  stagehand build
  stagehand build --config site.cue --out dist
  stagehand build --watch --serve --port 8080
  stagehand build --journal ./build.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Root, "root", "", "source root (overrides definition)")
	cmd.Flags().StringVarP(&opts.Out, "out", "o", "", "output root (overrides definition)")
	cmd.Flags().IntVar(&opts.Concurrency, "concurrency", 0, "files processed at once per task (<0: unbounded)")
	cmd.Flags().BoolVarP(&opts.Watch, "watch", "w", false, "rebuild on file changes")
	cmd.Flags().BoolVarP(&opts.Serve, "serve", "s", false, "serve the output root")
	cmd.Flags().StringVar(&opts.Host, "host", serve.DefaultHost, "serve host")
	cmd.Flags().IntVar(&opts.Port, "port", serve.DefaultPort, "serve port")
	cmd.Flags().StringVar(&opts.TLSCert, "tls-cert", "", "TLS certificate file for --serve")
	cmd.Flags().StringVar(&opts.TLSKey, "tls-key", "", "TLS key file for --serve")
	cmd.Flags().StringVar(&opts.Journal, "journal", "", "record build steps into this SQLite file")

	return cmd
}

// applyOverrides copies explicitly set flags onto cfg.
func (o *BuildOptions) applyOverrides(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("root") {
		cfg.Root = o.Root
	}
	if flags.Changed("out") {
		cfg.Out = o.Out
	}
	if flags.Changed("concurrency") {
		cfg.Concurrency = o.Concurrency
	}
	applyServeOverrides(cmd, cfg, o.Host, o.Port, o.TLSCert, o.TLSKey)
}

func applyServeOverrides(cmd *cobra.Command, cfg *config.Config, host string, port int, cert, key string) {
	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Serve.Host = host
	}
	if flags.Changed("port") {
		cfg.Serve.Port = port
	}
	if flags.Changed("tls-cert") {
		cfg.Serve.TLS.Cert = cert
	}
	if flags.Changed("tls-key") {
		cfg.Serve.TLS.Key = key
	}
}

func runBuild(opts *BuildOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	logger := setupLogging(opts.RootOptions, cmd.ErrOrStderr())

	cfg, err := loadDefinition(formatter, opts.Config)
	if err != nil {
		return err
	}
	opts.applyOverrides(cmd, cfg)
	formatter.VerboseLog("Loaded %d task(s) from %s", len(cfg.Tasks), opts.Config)

	popts := cfg.Options(logger)
	popts.IDs = opts.IDs
	if opts.Journal != "" {
		st, err := store.Open(opts.Journal)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeJournal, "failed to open journal", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				logger.Error("error closing journal", "error", closeErr)
			}
		}()
		popts.Recorder = st
	}

	p := pipeline.New(popts)
	if err := cfg.Apply(p, logger); err != nil {
		return formatter.Fail(ExitFailure, config.ErrCodeInvalid, err.Error(), err)
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	if err := p.Build(ctx, cfg.Out); err != nil {
		return formatter.Fail(ExitFailure, ErrCodeBuildFailed, err.Error(), err)
	}

	gen := p.Generation()
	result := BuildResult{
		Generation: gen.ID,
		Root:       p.Root(),
		Out:        gen.OutDir,
		Tasks:      len(p.Tasks()),
		Watched:    len(gen.WatchedPaths()),
	}
	if err := formatter.Render(result, func(w io.Writer) {
		fmt.Fprintf(w, "✓ Built %d task(s) into %s\n", result.Tasks, result.Out)
		fmt.Fprintf(w, "  Generation: %s\n", result.Generation)
	}); err != nil {
		return err
	}

	if !opts.Watch && !opts.Serve {
		return nil
	}
	return runSession(ctx, opts, cfg, p, gen.OutDir, logger, cmd)
}

// runSession watches and/or serves until ctx is cancelled. A server that
// fails to start ends the session.
func runSession(ctx context.Context, opts *BuildOptions, cfg *config.Config, p *pipeline.Pipeline, outDir string, logger *slog.Logger, cmd *cobra.Command) error {
	g, gctx := errgroup.WithContext(ctx)

	if opts.Serve {
		srv := newServer(cfg, outDir, logger)
		g.Go(func() error {
			return srv.ListenAndServe(gctx)
		})
		fmt.Fprintf(cmd.ErrOrStderr(), "Serving %s at %s://%s\n", outDir, srv.Scheme(), srv.Addr())
	}

	if opts.Watch {
		w, err := watch.New()
		if err != nil {
			return WrapExitError(ExitFailure, "failed to start watcher", err)
		}
		defer w.Close()
		g.Go(func() error {
			return p.Watch(gctx, w)
		})
	}

	fmt.Fprintln(cmd.ErrOrStderr(), "Press Ctrl-C to stop.")
	if err := g.Wait(); err != nil {
		return WrapExitError(ExitFailure, "session failed", err)
	}
	logger.Info("stopped")
	return nil
}

func newServer(cfg *config.Config, outDir string, logger *slog.Logger) *serve.Server {
	srv := &serve.Server{
		Root:   outDir,
		Host:   cfg.Serve.Host,
		Port:   cfg.Serve.Port,
		Logger: logger,
	}
	if cfg.Serve.TLS.Cert != "" && cfg.Serve.TLS.Key != "" {
		srv.TLS = &serve.TLSConfig{CertFile: cfg.Serve.TLS.Cert, KeyFile: cfg.Serve.TLS.Key}
	}
	return srv
}

// outputDir resolves cfg.Out the way the pipeline does.
func outputDir(cfg *config.Config) string {
	if filepath.IsAbs(cfg.Out) {
		return cfg.Out
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		root = cfg.Root
	}
	return filepath.Join(root, cfg.Out)
}
