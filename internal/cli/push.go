package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/settlewatch/internal/client"
	"github.com/roach88/settlewatch/internal/order"
)

// NewPushCommand creates the push command.
func NewPushCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "push <order-id> <status>",
		Short: "Sign and deliver a settlement webhook",
		Long: `Sign a settlement notification with the webhook secret and deliver it.

Status is one of created, processing, settled, failed.

Example:
  settlewatch push ord_0x1a2b3c4d settled --secret whsec_dev`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPush(rootOpts, cmd, args[0], args[1])
		},
	}

	cmd.Flags().String("server", "", "server URL (default http://localhost:8080)")
	cmd.Flags().String("secret", "", "webhook signing secret")

	return cmd
}

func runPush(opts *RootOptions, cmd *cobra.Command, orderID, status string) error {
	out := opts.formatter(cmd)

	st, err := order.ParseStatus(status)
	if err != nil {
		_ = out.Error(CodeInput, err.Error(), order.AllStatuses)
		return WrapExitError(ExitCommandError, "invalid status", err)
	}

	cfg, err := opts.loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.RequireSecret(); err != nil {
		_ = out.Error(CodeConfig, err.Error(), nil)
		return WrapExitError(ExitCommandError, "cannot push", err)
	}

	c := client.New(cfg.ServerURL, client.WithSecret([]byte(cfg.Webhook.Secret)))
	res, err := c.Push(cmd.Context(), orderID, st)
	if err != nil {
		return reportClientError(out, "push failed", err)
	}
	return out.Success(pushView{res})
}
