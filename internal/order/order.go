package order

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/unicode/norm"
)

// ErrNotFound is returned when an order id is unknown.
// Storage and transport layers wrap it; match with errors.Is.
var ErrNotFound = errors.New("order not found")

// Order is one settlement attempt.
//
// ID, Amount, Currency, Token, Note and CreatedAt are immutable after creation.
// Status moves forward only; see Status.CanAdvanceTo.
type Order struct {
	ID        string          `json:"order_id"`
	Status    Status          `json:"status"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Token     string          `json:"token"`
	Note      string          `json:"note,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt *time.Time      `json:"updated_at,omitempty"`
}

// Elapsed returns how long the order has existed at now.
func (o Order) Elapsed(now time.Time) time.Duration {
	return now.Sub(o.CreatedAt)
}

// Validation error codes returned to API callers.
const (
	CodeMissingFields   = "missing_fields"
	CodeInvalidAmount   = "invalid_amount"
	CodeInvalidCurrency = "invalid_currency"
)

// ValidationError reports a rejected order creation request.
type ValidationError struct {
	Code    string
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (field=%s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsValidationError returns true if err is or wraps a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// CreateRequest carries the caller-supplied fields of a new order.
type CreateRequest struct {
	Amount   *decimal.Decimal `json:"amount"`
	Currency string           `json:"currency"`
	Token    string           `json:"token"`
	Note     string           `json:"note,omitempty"`
}

// Normalize validates the request and returns a canonical copy.
//
// Currency must be an ISO 4217 code and is upper-cased. Token is upper-cased.
// Note is trimmed and NFC-normalized so equal text compares equal in storage.
func (r CreateRequest) Normalize() (CreateRequest, error) {
	var missing []string
	if r.Amount == nil {
		missing = append(missing, "amount")
	}
	if strings.TrimSpace(r.Currency) == "" {
		missing = append(missing, "currency")
	}
	if strings.TrimSpace(r.Token) == "" {
		missing = append(missing, "token")
	}
	if len(missing) > 0 {
		return CreateRequest{}, &ValidationError{
			Code:    CodeMissingFields,
			Field:   strings.Join(missing, ","),
			Message: "amount, currency and token are required",
		}
	}

	if !r.Amount.IsPositive() {
		return CreateRequest{}, &ValidationError{
			Code:    CodeInvalidAmount,
			Field:   "amount",
			Message: "amount must be greater than 0",
		}
	}

	unit, err := currency.ParseISO(strings.ToUpper(strings.TrimSpace(r.Currency)))
	if err != nil {
		return CreateRequest{}, &ValidationError{
			Code:    CodeInvalidCurrency,
			Field:   "currency",
			Message: fmt.Sprintf("unknown currency %q", r.Currency),
		}
	}

	amount := *r.Amount
	return CreateRequest{
		Amount:   &amount,
		Currency: unit.String(),
		Token:    strings.ToUpper(strings.TrimSpace(r.Token)),
		Note:     norm.NFC.String(strings.TrimSpace(r.Note)),
	}, nil
}

// NewOrder builds a fresh order in the created status.
// The request must already be normalized.
func NewOrder(id string, req CreateRequest, now time.Time) Order {
	return Order{
		ID:        id,
		Status:    StatusCreated,
		Amount:    *req.Amount,
		Currency:  req.Currency,
		Token:     req.Token,
		Note:      req.Note,
		CreatedAt: now,
	}
}
