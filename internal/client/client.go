// Package client talks to a settlewatch server over HTTP.
//
// Client implements reconcile.StatusSource, so a reconciliation session can
// run on the caller's side of the network against a remote server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/facebookgo/clock"

	"github.com/roach88/settlewatch/internal/order"
	"github.com/roach88/settlewatch/internal/webhook"
)

// DefaultTimeout bounds requests made with the default HTTP client.
// Polls carry their own, shorter deadline through the context.
const DefaultTimeout = 30 * time.Second

// maxResponseSize bounds how much of a response body is read.
const maxResponseSize = 1 << 20

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("server returned %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("server returned %d", e.StatusCode)
}

// PushResult is the server's answer to an accepted push.
type PushResult struct {
	Message string       `json:"message"`
	OrderID string       `json:"order_id"`
	Status  order.Status `json:"status"`
	Applied bool         `json:"applied"`
}

// Client is a settlewatch API client. Safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
	secret  []byte
	clock   clock.Clock
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		c.http = h
	}
}

// WithSecret sets the webhook secret used by Push.
func WithSecret(secret []byte) Option {
	return func(c *Client) {
		c.secret = append([]byte(nil), secret...)
	}
}

// WithClock sets the clock used to timestamp pushes.
func WithClock(clk clock.Clock) Option {
	return func(c *Client) {
		c.clock = clk
	}
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: DefaultTimeout},
		clock:   clock.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch queries an order's current status. Caching is disabled on every
// request so each poll reaches the server.
//
// A 404 returns an error wrapping both order.ErrNotFound and the *APIError;
// any other failure is transient from the caller's point of view.
func (c *Client) Fetch(ctx context.Context, orderID string) (order.Order, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/orders/"+url.PathEscape(orderID), nil)
	if err != nil {
		return order.Order{}, fmt.Errorf("fetch %s: %w", orderID, err)
	}
	req.Header.Set("Cache-Control", "no-cache, no-store")
	req.Header.Set("Pragma", "no-cache")

	var o order.Order
	if err := c.do(req, &o); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return order.Order{}, fmt.Errorf("fetch %s: %w: %w", orderID, order.ErrNotFound, apiErr)
		}
		return order.Order{}, fmt.Errorf("fetch %s: %w", orderID, err)
	}
	return o, nil
}

// Create submits a new order.
func (c *Client) Create(ctx context.Context, r order.CreateRequest) (order.Order, error) {
	body, err := json.Marshal(r)
	if err != nil {
		return order.Order{}, fmt.Errorf("encode order: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/orders", bytes.NewReader(body))
	if err != nil {
		return order.Order{}, fmt.Errorf("create order: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var o order.Order
	if err := c.do(req, &o); err != nil {
		return order.Order{}, fmt.Errorf("create order: %w", err)
	}
	return o, nil
}

// Push signs a settlement notification for orderID with the configured
// secret and delivers it.
func (c *Client) Push(ctx context.Context, orderID string, st order.Status) (PushResult, error) {
	if len(c.secret) == 0 {
		return PushResult{}, fmt.Errorf("push %s: no webhook secret configured", orderID)
	}

	body, err := json.Marshal(webhook.Payload{
		Type: "order." + string(st),
		Data: webhook.PayloadData{OrderID: orderID, Status: st},
	})
	if err != nil {
		return PushResult{}, fmt.Errorf("encode push: %w", err)
	}

	header := webhook.SignHeader(c.secret, c.clock.Now().Unix(), body)
	return c.Deliver(ctx, header, body)
}

// Deliver posts a pre-signed push body.
func (c *Client) Deliver(ctx context.Context, header string, body []byte) (PushResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/webhooks/settlement", bytes.NewReader(body))
	if err != nil {
		return PushResult{}, fmt.Errorf("deliver push: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if header != "" {
		req.Header.Set(webhook.HeaderName, header)
	}

	var res PushResult
	if err := c.do(req, &res); err != nil {
		return PushResult{}, fmt.Errorf("deliver push: %w", err)
	}
	return res, nil
}

// do sends req and decodes a 2xx JSON body into out.
// Non-2xx responses become *APIError.
func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var eb struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if json.Unmarshal(body, &eb) == nil {
			apiErr.Code = eb.Error
			apiErr.Message = eb.Message
		}
		return apiErr
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
