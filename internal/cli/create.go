package cli

import (
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/roach88/settlewatch/internal/client"
	"github.com/roach88/settlewatch/internal/order"
)

// CreateOptions holds flags for the create command.
type CreateOptions struct {
	*RootOptions
	Amount   string
	Currency string
	Token    string
	Note     string
}

// NewCreateCommand creates the create command.
func NewCreateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CreateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an order",
		Long: `Create an order on a settlewatch server.

Example:
  settlewatch create --amount 1500.50 --currency KES --token USDC
  settlewatch create --amount 20 --currency USD --token USDT --note "invoice 42" --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCreate(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Amount, "amount", "", "order amount (required)")
	cmd.Flags().StringVar(&opts.Currency, "currency", "", "ISO 4217 currency code (required)")
	cmd.Flags().StringVar(&opts.Token, "token", "", "settlement token (required)")
	cmd.Flags().StringVar(&opts.Note, "note", "", "free-form note")
	cmd.Flags().String("server", "", "server URL (default http://localhost:8080)")
	_ = cmd.MarkFlagRequired("amount")
	_ = cmd.MarkFlagRequired("currency")
	_ = cmd.MarkFlagRequired("token")

	return cmd
}

func runCreate(opts *CreateOptions, cmd *cobra.Command) error {
	out := opts.formatter(cmd)

	amount, err := decimal.NewFromString(opts.Amount)
	if err != nil {
		_ = out.Error(CodeInput, "amount must be a decimal number", opts.Amount)
		return WrapExitError(ExitCommandError, "invalid amount", err)
	}

	cfg, err := opts.loadConfig(cmd)
	if err != nil {
		return err
	}

	o, err := client.New(cfg.ServerURL).Create(cmd.Context(), order.CreateRequest{
		Amount:   &amount,
		Currency: opts.Currency,
		Token:    opts.Token,
		Note:     opts.Note,
	})
	if err != nil {
		return reportClientError(out, "create failed", err)
	}
	return out.Success(orderView{o})
}
