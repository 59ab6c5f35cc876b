package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/settlewatch/internal/httpapi"
	"github.com/roach88/settlewatch/internal/metrics"
	"github.com/roach88/settlewatch/internal/push"
	"github.com/roach88/settlewatch/internal/reconcile"
	"github.com/roach88/settlewatch/internal/simulator"
	"github.com/roach88/settlewatch/internal/store"
	"github.com/roach88/settlewatch/internal/webhook"
)

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 5 * time.Second

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions

	// Ready, if set, receives the bound address once the server is listening.
	Ready func(addr string)
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return newServeCommand(&ServeOptions{RootOptions: rootOpts})
}

func newServeCommand(opts *ServeOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the settlement API server",
		Long: `Run the settlewatch API server.

The server stores orders in SQLite, derives their status from elapsed time,
accepts signed settlement webhooks and runs server-side reconciliation
sessions. It stops gracefully on SIGINT or SIGTERM.

Example:
  SETTLEWATCH_WEBHOOK_SECRET=whsec_dev settlewatch serve --listen :8080 --db ./settlewatch.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().String("listen", "", "listen address (default :8080)")
	cmd.Flags().String("db", "", "path to SQLite database (default settlewatch.db)")
	cmd.Flags().String("secret", "", "webhook signing secret")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.RequireSecret(); err != nil {
		return WrapExitError(ExitCommandError, "cannot serve", err)
	}

	metrics.Register()

	slog.Info("opening database", "path", cfg.Database)
	st, err := store.Open(cfg.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := push.NewBus()
	source := simulator.New(st)
	engineOpts := append(cfg.EngineOptions(), reconcile.WithOutcomeSink(reconcile.StoreSink(st)))
	eng := reconcile.New(source, bus, engineOpts...)

	verifier := webhook.NewVerifier([]byte(cfg.Webhook.Secret), webhook.WithTolerance(cfg.Webhook.Tolerance))
	receiver := webhook.NewReceiver(verifier, webhook.MustSchema(), st, bus)

	api := httpapi.New(httpapi.Deps{
		Store:    st,
		Source:   source,
		Receiver: receiver,
		Engine:   eng,
	},
		httpapi.WithRateLimit(cfg.Webhook.RatePerSecond, cfg.Webhook.Burst),
		httpapi.WithBaseContext(ctx),
	)

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}
	srv := &http.Server{
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	runDone := make(chan error, 1)
	go func() { runDone <- eng.Run(context.Background()) }()

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ln) }()

	addr := ln.Addr().String()
	slog.Info("server listening", "addr", addr, "db", cfg.Database)
	fmt.Fprintf(cmd.OutOrStdout(), "Listening on %s. Press Ctrl-C to stop.\n", addr)
	if opts.Ready != nil {
		opts.Ready(addr)
	}

	var result error
	select {
	case <-ctx.Done():
		slog.Info("shutting down", "reason", context.Cause(ctx))
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			result = WrapExitError(ExitFailure, "server error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown", "error", err)
	}

	// Close cancels live sessions; Run drains their outcomes into the store.
	eng.Close()
	if err := <-runDone; err != nil {
		slog.Error("outcome dispatcher stopped", "error", err)
	}

	slog.Info("server stopped gracefully")
	return result
}
