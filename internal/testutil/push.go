package testutil

import (
	"fmt"

	"github.com/roach88/settlewatch/internal/order"
	"github.com/roach88/settlewatch/internal/webhook"
)

// PushBody builds a push body for orderID and st.
func PushBody(orderID string, st order.Status) []byte {
	return []byte(fmt.Sprintf(`{"type":"order.%s","data":{"order_id":%q,"status":%q}}`, st, orderID, st))
}

// SignedPush returns a header and body for a push signed at ts.
func SignedPush(secret []byte, ts int64, orderID string, st order.Status) (string, []byte) {
	body := PushBody(orderID, st)
	return webhook.SignHeader(secret, ts, body), body
}
