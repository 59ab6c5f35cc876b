package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/settlewatch/internal/client"
	"github.com/roach88/settlewatch/internal/reconcile"
)

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <order-id>",
		Short: "Poll an order until it reaches a final status",
		Long: `Watch an order from this machine by polling the server.

Polls every poll interval, bounds each request by the request timeout and
gives up at the deadline. Polling pauses after repeated failures. Progress is
printed to stderr; the single outcome is printed to stdout.

Exit codes:
  0  the order settled or failed
  1  the session timed out, was aborted (unknown order) or was interrupted

Example:
  settlewatch watch ord_0x1a2b3c4d
  settlewatch watch ord_0x1a2b3c4d --deadline 2m --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(rootOpts, cmd, args[0])
		},
	}

	cmd.Flags().String("server", "", "server URL (default http://localhost:8080)")
	cmd.Flags().Duration("poll-interval", 0, "time between polls (default 3s)")
	cmd.Flags().Duration("deadline", 0, "give up after this long (default 1m30s)")

	return cmd
}

func runWatch(opts *RootOptions, cmd *cobra.Command, orderID string) error {
	out := opts.formatter(cmd)

	cfg, err := opts.loadConfig(cmd)
	if err != nil {
		return err
	}

	progress := func(t reconcile.Trace) {
		if t.Kind == reconcile.TracePollStarted {
			out.VerboseLog("%s", t)
			return
		}
		out.Progress("%s", t)
	}

	src := client.New(cfg.ServerURL)
	eng := reconcile.New(src, nil, append(cfg.EngineOptions(), reconcile.WithTracer(progress))...)
	defer eng.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess, err := eng.Watch(ctx, orderID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start watching", err)
	}

	// The session is bound to ctx, so an interrupt ends it as cancelled.
	<-sess.Done()
	o, _ := sess.Outcome()

	if o.State != reconcile.StateFinalized {
		_ = out.Error(CodeNotFinal, fmt.Sprintf("session %s", o.State), o)
		return NewExitError(ExitFailure, fmt.Sprintf("order %s not finalized: %s", orderID, o.State))
	}
	return out.Success(outcomeView{o})
}
