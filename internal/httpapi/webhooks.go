package httpapi

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/roach88/settlewatch/internal/metrics"
	"github.com/roach88/settlewatch/internal/webhook"
)

// handleWebhook accepts a signed settlement push.
//
// Status mapping:
//   - 401 missing_signature: no signature header
//   - 403 invalid_signature: malformed, stale or mismatched signature
//   - 400 invalid_json / invalid_payload / invalid_status
//   - 404 order_not_found
//   - 429 rate_limited
func (s *Server) handleWebhook(c *gin.Context) {
	if !s.limiter.Allow() {
		metrics.WebhookRequestsTotal.WithLabelValues("rate_limited").Inc()
		abort(c, http.StatusTooManyRequests, CodeRateLimited, "Too many webhook requests")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodySize))
	if err != nil {
		metrics.WebhookRequestsTotal.WithLabelValues("invalid").Inc()
		abort(c, http.StatusBadRequest, webhook.CodeInvalidJSON, "Request body could not be read")
		return
	}

	res, err := s.receiver.Receive(c.Request.Context(), c.GetHeader(webhook.HeaderName), body)
	category := webhook.Classify(err)
	metrics.WebhookRequestsTotal.WithLabelValues(category.String()).Inc()

	switch category {
	case webhook.CategoryAccepted:
		c.JSON(http.StatusOK, gin.H{
			"message":  "Webhook processed",
			"order_id": res.OrderID,
			"status":   res.Status,
			"applied":  res.Applied,
		})
	case webhook.CategoryUnauthenticated:
		abort(c, http.StatusUnauthorized, CodeMissingSignature, "Missing webhook signature")
	case webhook.CategoryForbidden:
		abort(c, http.StatusForbidden, CodeInvalidSignature, "Invalid webhook signature")
	case webhook.CategoryInvalid:
		abort(c, http.StatusBadRequest, payloadCode(err), err.Error())
	case webhook.CategoryNotFound:
		notFound(c)
	default:
		slog.Error("webhook processing failed", "error", err)
		internal(c)
	}
}

func payloadCode(err error) string {
	var pe *webhook.PayloadError
	if errors.As(err, &pe) && pe.Code != "" {
		return pe.Code
	}
	return webhook.CodeInvalidPayload
}
