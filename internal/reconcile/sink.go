package reconcile

import (
	"context"

	"github.com/roach88/settlewatch/internal/store"
)

// OutcomeRecorder is the subset of the store that keeps the finalization log.
type OutcomeRecorder interface {
	RecordOutcome(ctx context.Context, rec store.OutcomeRecord) error
}

// StoreSink appends every outcome to the store's finalization log.
func StoreSink(st OutcomeRecorder) OutcomeSink {
	return OutcomeSinkFunc(func(ctx context.Context, o Outcome) error {
		return st.RecordOutcome(ctx, store.OutcomeRecord{
			SessionID: o.SessionID,
			Attempt:   o.Attempt,
			OrderID:   o.OrderID,
			State:     string(o.State),
			Source:    string(o.Source),
			Status:    string(o.Status),
			Error:     o.Error,
			At:        o.At,
		})
	})
}
