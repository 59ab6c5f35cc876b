package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/roach88/settlewatch/internal/client"
)

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <order-id>",
		Short: "Query an order's current status once",
		Long: `Query an order's current status once.

Example:
  settlewatch status ord_0x1a2b3c4d`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(rootOpts, cmd, args[0])
		},
	}

	cmd.Flags().String("server", "", "server URL (default http://localhost:8080)")
	return cmd
}

func runStatus(opts *RootOptions, cmd *cobra.Command, orderID string) error {
	out := opts.formatter(cmd)

	cfg, err := opts.loadConfig(cmd)
	if err != nil {
		return err
	}

	o, err := client.New(cfg.ServerURL).Fetch(cmd.Context(), orderID)
	if err != nil {
		return reportClientError(out, "status query failed", err)
	}
	return out.Success(orderView{o})
}

// reportClientError prints err and maps it to an exit code: server refusals
// exit 1, transport failures exit 2.
func reportClientError(out *OutputFormatter, message string, err error) error {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.Code
		if code == "" {
			code = "http_error"
		}
		_ = out.Error(CodeServer, code, apiErr.Message)
		return WrapExitError(ExitFailure, message, err)
	}
	_ = out.Error(CodeTransport, err.Error(), nil)
	return WrapExitError(ExitCommandError, message, err)
}
