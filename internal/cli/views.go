package cli

import (
	"fmt"
	"strings"

	"github.com/roach88/settlewatch/internal/client"
	"github.com/roach88/settlewatch/internal/order"
	"github.com/roach88/settlewatch/internal/reconcile"
)

// orderView renders an order as one line of text.
type orderView struct {
	order.Order
}

func (v orderView) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s  %-10s  %s %s  %s", v.ID, v.Status, v.Amount.String(), v.Currency, v.Token)
	if v.Note != "" {
		fmt.Fprintf(&b, "  %q", v.Note)
	}
	return b.String()
}

// outcomeView renders a session outcome.
type outcomeView struct {
	reconcile.Outcome
}

func (v outcomeView) String() string {
	switch v.State {
	case reconcile.StateFinalized:
		return fmt.Sprintf("%s %s via %s (attempt %d)", v.OrderID, v.Status, v.Source, v.Attempt)
	case reconcile.StateAborted:
		return fmt.Sprintf("%s aborted: %s", v.OrderID, v.Error)
	default:
		return fmt.Sprintf("%s %s (attempt %d)", v.OrderID, v.State, v.Attempt)
	}
}

// signView is a computed signature header.
type signView struct {
	Header    string `json:"header"`
	Timestamp int64  `json:"timestamp"`
	Signature string `json:"signature"`
}

func (v signView) String() string {
	return v.Header
}

// pushView is the server's answer to a delivered push.
type pushView struct {
	client.PushResult
}

func (v pushView) String() string {
	if v.Applied {
		return fmt.Sprintf("%s %s (applied)", v.OrderID, v.Status)
	}
	return fmt.Sprintf("%s %s (not applied; stored status kept)", v.OrderID, v.Status)
}
