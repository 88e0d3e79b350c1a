package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/stagehand/internal/config"
	"github.com/roach88/stagehand/internal/serve"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Host    string
	Port    int
	TLSCert string
	TLSKey  string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve [dir]",
		Short: "Serve a built output tree",
		Long: `Serve a directory over HTTP or HTTPS without building.

Without an argument the output root of the pipeline definition is served.

Examples:
  stagehand serve
  stagehand serve ./build --port 8080
  stagehand serve --tls-cert cert.pem --tls-key key.pem`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Host, "host", serve.DefaultHost, "serve host")
	cmd.Flags().IntVar(&opts.Port, "port", serve.DefaultPort, "serve port")
	cmd.Flags().StringVar(&opts.TLSCert, "tls-cert", "", "TLS certificate file")
	cmd.Flags().StringVar(&opts.TLSKey, "tls-key", "", "TLS key file")

	return cmd
}

func runServe(opts *ServeOptions, args []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	logger := setupLogging(opts.RootOptions, cmd.ErrOrStderr())

	var cfg *config.Config
	var dir string
	if len(args) == 1 {
		cfg = &config.Config{Serve: config.ServeConfig{Host: serve.DefaultHost, Port: serve.DefaultPort}}
		dir = args[0]
	} else {
		loaded, err := loadDefinition(formatter, opts.Config)
		if err != nil {
			return err
		}
		cfg = loaded
		dir = outputDir(cfg)
	}
	applyServeOverrides(cmd, cfg, opts.Host, opts.Port, opts.TLSCert, opts.TLSKey)
	if (cfg.Serve.TLS.Cert == "") != (cfg.Serve.TLS.Key == "") {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, "--tls-cert and --tls-key must be set together", nil)
	}

	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return formatter.Fail(ExitCommandError, config.ErrCodeNotFound, fmt.Sprintf("output directory not found: %s", dir), err)
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	srv := newServer(cfg, dir, logger)
	fmt.Fprintf(cmd.ErrOrStderr(), "Serving %s at %s://%s\n", dir, srv.Scheme(), srv.Addr())
	if err := srv.ListenAndServe(ctx); err != nil {
		return WrapExitError(ExitFailure, "server error", err)
	}
	return nil
}
