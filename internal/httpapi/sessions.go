package httpapi

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/roach88/settlewatch/internal/order"
	"github.com/roach88/settlewatch/internal/reconcile"
)

// handleWatch starts a server-side reconciliation session for an order.
func (s *Server) handleWatch(c *gin.Context) {
	id := c.Param("order_id")
	if _, err := s.store.GetOrder(c.Request.Context(), id); err != nil {
		if errors.Is(err, order.ErrNotFound) {
			notFound(c)
			return
		}
		internal(c)
		return
	}

	sess, err := s.engine.Watch(s.baseCtx, id)
	if err != nil {
		if errors.Is(err, reconcile.ErrEngineClosed) {
			abort(c, http.StatusServiceUnavailable, CodeUnavailable, "Reconciliation is shutting down")
			return
		}
		slog.Error("failed to start session", "order_id", id, "error", err)
		internal(c)
		return
	}
	c.JSON(http.StatusAccepted, sess.Snapshot())
}

func (s *Server) handleSnapshot(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, sess.Snapshot())
}

// handleRefresh polls immediately and resumes polling if it was paused.
func (s *Server) handleRefresh(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	if !sess.Refresh() {
		abort(c, http.StatusConflict, CodeSessionEnded, "Session has already ended")
		return
	}
	c.JSON(http.StatusAccepted, sess.Snapshot())
}

// handleRetry starts a new attempt after a timeout.
func (s *Server) handleRetry(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}

	switch err := sess.Retry(s.baseCtx); {
	case err == nil:
		c.JSON(http.StatusAccepted, sess.Snapshot())
	case errors.Is(err, reconcile.ErrRetryNotAllowed):
		abort(c, http.StatusConflict, CodeRetryNotAllowed, "Retry is only allowed after a timeout")
	case errors.Is(err, reconcile.ErrEngineClosed):
		abort(c, http.StatusServiceUnavailable, CodeUnavailable, "Reconciliation is shutting down")
	default:
		internal(c)
	}
}

// handleStopWatch cancels the session and stops tracking it.
func (s *Server) handleStopWatch(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	s.engine.Forget(sess.OrderID())
	c.JSON(http.StatusOK, sess.Snapshot())
}

func (s *Server) session(c *gin.Context) (*reconcile.Session, bool) {
	sess := s.engine.Session(c.Param("order_id"))
	if sess == nil {
		abort(c, http.StatusNotFound, CodeSessionNotFound, "No session for this order")
		return nil, false
	}
	return sess, true
}
