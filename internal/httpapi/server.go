// Package httpapi exposes orders, the settlement webhook and reconciliation
// sessions over HTTP using gin.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/facebookgo/clock"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/roach88/settlewatch/internal/metrics"
	"github.com/roach88/settlewatch/internal/order"
	"github.com/roach88/settlewatch/internal/reconcile"
	"github.com/roach88/settlewatch/internal/store"
	"github.com/roach88/settlewatch/internal/webhook"
)

// maxBodySize bounds request bodies on every JSON endpoint.
const maxBodySize = 1 << 20 // 1MB

// Store is the persistence surface the API reads and writes.
// Implemented by store.Store.
type Store interface {
	CreateOrder(ctx context.Context, o order.Order) (bool, error)
	GetOrder(ctx context.Context, id string) (order.Order, error)
	ListOrders(ctx context.Context, limit int) ([]order.Order, error)
	Transitions(ctx context.Context, orderID string) ([]store.Transition, error)
	Outcomes(ctx context.Context, orderID string) ([]store.OutcomeRecord, error)
	Ping(ctx context.Context) error
}

// Deps are the components a Server routes to.
type Deps struct {
	Store    Store
	Source   reconcile.StatusSource
	Receiver *webhook.Receiver
	Engine   *reconcile.Engine
}

// Server is the settlewatch HTTP API.
type Server struct {
	store    Store
	source   reconcile.StatusSource
	receiver *webhook.Receiver
	engine   *reconcile.Engine
	ids      order.IDGenerator
	clock    clock.Clock
	limiter  *rate.Limiter
	baseCtx  context.Context
	router   *gin.Engine
}

// Option configures a Server.
type Option func(*Server)

// WithClock stamps created orders with c.
func WithClock(c clock.Clock) Option {
	return func(s *Server) {
		s.clock = c
	}
}

// WithIDGenerator overrides order id generation.
func WithIDGenerator(g order.IDGenerator) Option {
	return func(s *Server) {
		s.ids = g
	}
}

// WithRateLimit bounds webhook ingress to perSecond requests with the given burst.
//
// Default: 20/s, burst 40
func WithRateLimit(perSecond float64, burst int) Option {
	return func(s *Server) {
		s.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithBaseContext sets the parent context of sessions started over HTTP.
// Sessions outlive the request that started them; cancelling base cancels them.
func WithBaseContext(base context.Context) Option {
	return func(s *Server) {
		s.baseCtx = base
	}
}

// New builds the router.
func New(d Deps, opts ...Option) *Server {
	s := &Server{
		store:    d.Store,
		source:   d.Source,
		receiver: d.Receiver,
		engine:   d.Engine,
		ids:      order.RandomGenerator{},
		clock:    clock.New(),
		limiter:  rate.NewLimiter(20, 40),
		baseCtx:  context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}

	router := gin.New()
	router.Use(gin.Recovery(), observe())
	s.router = router

	router.GET("/health", s.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	{
		api.POST("/orders", s.handleCreateOrder)
		api.GET("/orders", s.handleListOrders)
		api.GET("/orders/:order_id", s.handleGetOrder)
		api.GET("/orders/:order_id/history", s.handleHistory)

		api.POST("/orders/:order_id/watch", s.handleWatch)
		api.GET("/orders/:order_id/watch", s.handleSnapshot)
		api.DELETE("/orders/:order_id/watch", s.handleStopWatch)
		api.POST("/orders/:order_id/watch/refresh", s.handleRefresh)
		api.POST("/orders/:order_id/watch/retry", s.handleRetry)

		api.POST("/webhooks/settlement", s.handleWebhook)
	}

	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		slog.Error("health check failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// observe records request latency and logs each request at debug level.
func observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		code := c.Writer.Status()
		elapsed := time.Since(start)

		metrics.HTTPRequestDuration.
			WithLabelValues(route, c.Request.Method, strconv.Itoa(code)).
			Observe(elapsed.Seconds())

		slog.Debug("http request",
			"method", c.Request.Method,
			"route", route,
			"status", code,
			"duration", elapsed,
		)
	}
}
