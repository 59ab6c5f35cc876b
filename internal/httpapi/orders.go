package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/roach88/settlewatch/internal/order"
	"github.com/roach88/settlewatch/internal/store"
	"github.com/roach88/settlewatch/internal/webhook"
)

// createAttempts bounds retries on an order id collision.
const createAttempts = 3

func (s *Server) handleCreateOrder(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodySize)

	var req order.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, webhook.CodeInvalidJSON, "Request body must be a JSON object")
		return
	}

	req, err := req.Normalize()
	if err != nil {
		var ve *order.ValidationError
		if errors.As(err, &ve) {
			c.AbortWithStatusJSON(http.StatusBadRequest, ErrorBody{Error: ve.Code, Message: ve.Message, Field: ve.Field})
			return
		}
		internal(c)
		return
	}

	ctx := c.Request.Context()
	for i := 0; i < createAttempts; i++ {
		o := order.NewOrder(s.ids.Generate(), req, s.clock.Now())
		created, err := s.store.CreateOrder(ctx, o)
		if err != nil {
			slog.Error("failed to create order", "error", err)
			internal(c)
			return
		}
		if created {
			slog.Info("order created", "order_id", o.ID, "amount", o.Amount.String(), "currency", o.Currency)
			c.JSON(http.StatusOK, o)
			return
		}
		slog.Warn("order id collision", "order_id", o.ID)
	}
	internal(c)
}

func (s *Server) handleListOrders(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	orders, err := s.store.ListOrders(c.Request.Context(), limit)
	if err != nil {
		slog.Error("failed to list orders", "error", err)
		internal(c)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders, "count": len(orders)})
}

// handleGetOrder answers a status query through the status source, which
// advances the stored status as time passes.
func (s *Server) handleGetOrder(c *gin.Context) {
	o, err := s.source.Fetch(c.Request.Context(), c.Param("order_id"))
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			notFound(c)
			return
		}
		slog.Error("status query failed", "order_id", c.Param("order_id"), "error", err)
		internal(c)
		return
	}

	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, o)
}

func (s *Server) handleHistory(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("order_id")

	o, err := s.store.GetOrder(ctx, id)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			notFound(c)
			return
		}
		internal(c)
		return
	}

	transitions, err := s.store.Transitions(ctx, id)
	if err != nil {
		slog.Error("failed to read transitions", "order_id", id, "error", err)
		internal(c)
		return
	}
	outcomes, err := s.store.Outcomes(ctx, id)
	if err != nil {
		slog.Error("failed to read outcomes", "order_id", id, "error", err)
		internal(c)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"order":       o,
		"transitions": transitionViews(transitions),
		"outcomes":    outcomeViews(outcomes),
	})
}

type transitionView struct {
	From   string `json:"from,omitempty"`
	To     string `json:"to"`
	Source string `json:"source"`
	At     string `json:"at"`
}

type outcomeView struct {
	SessionID string `json:"session_id"`
	Attempt   int    `json:"attempt"`
	State     string `json:"state"`
	Source    string `json:"source,omitempty"`
	Status    string `json:"status,omitempty"`
	Error     string `json:"error,omitempty"`
	At        string `json:"at"`
}

const timeLayout = "2006-01-02T15:04:05.000Z07:00"

func transitionViews(ts []store.Transition) []transitionView {
	out := make([]transitionView, len(ts))
	for i, t := range ts {
		out[i] = transitionView{
			From:   string(t.From),
			To:     string(t.To),
			Source: t.Source,
			At:     t.At.Format(timeLayout),
		}
	}
	return out
}

func outcomeViews(rs []store.OutcomeRecord) []outcomeView {
	out := make([]outcomeView, len(rs))
	for i, r := range rs {
		out[i] = outcomeView{
			SessionID: r.SessionID,
			Attempt:   r.Attempt,
			State:     r.State,
			Source:    r.Source,
			Status:    r.Status,
			Error:     r.Error,
			At:        r.At.Format(timeLayout),
		}
	}
	return out
}
