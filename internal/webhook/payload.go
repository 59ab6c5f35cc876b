package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/roach88/settlewatch/internal/order"
)

// Payload validation codes.
const (
	CodeInvalidJSON    = "invalid_json"
	CodeInvalidPayload = "invalid_payload"
	CodeInvalidStatus  = "invalid_status"
)

// pushSchema is the structural contract of a push body.
// Extra fields are allowed at both levels; status values are checked after
// unification so an unknown status gets its own error code.
const pushSchema = `
#Push: {
	type: string & !=""
	data: {
		order_id: string & !=""
		status:   string & !=""
		...
	}
	...
}
`

// PayloadError is a structurally invalid push body.
type PayloadError struct {
	Code   string
	Detail string
}

func (e *PayloadError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Detail)
}

// IsPayloadError returns true if err is or wraps a PayloadError.
func IsPayloadError(err error) bool {
	var pe *PayloadError
	return errors.As(err, &pe)
}

// Payload is a decoded push body.
type Payload struct {
	Type string      `json:"type"`
	Data PayloadData `json:"data"`
}

// PayloadData is the data member of a push body.
type PayloadData struct {
	OrderID string       `json:"order_id"`
	Status  order.Status `json:"status"`
}

// Schema validates push bodies against the CUE #Push definition.
// A cue.Context is not safe for concurrent use, so calls are serialized.
type Schema struct {
	mu   sync.Mutex
	ctx  *cue.Context
	push cue.Value
}

// NewSchema compiles the push schema.
func NewSchema() (*Schema, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(pushSchema)
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("compile push schema: %w", err)
	}
	push := v.LookupPath(cue.ParsePath("#Push"))
	if !push.Exists() {
		return nil, errors.New("compile push schema: #Push not found")
	}
	return &Schema{ctx: ctx, push: push}, nil
}

// MustSchema is NewSchema for package-level setup; it panics on error.
func MustSchema() *Schema {
	s, err := NewSchema()
	if err != nil {
		panic(err)
	}
	return s
}

// Decode parses and validates a push body.
// Any failure is a *PayloadError with one of the Code constants.
func (s *Schema) Decode(body []byte) (Payload, error) {
	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		return Payload{}, &PayloadError{Code: CodeInvalidJSON, Detail: err.Error()}
	}

	p, err := s.unify(raw)
	if err != nil {
		return Payload{}, &PayloadError{Code: CodeInvalidPayload, Detail: err.Error()}
	}

	st, err := order.ParseStatus(string(p.Data.Status))
	if err != nil {
		return Payload{}, &PayloadError{Code: CodeInvalidStatus, Detail: err.Error()}
	}
	p.Data.Status = st
	return p, nil
}

func (s *Schema) unify(raw any) (Payload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := s.push.Unify(s.ctx.Encode(raw))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return Payload{}, err
	}

	var p Payload
	if err := v.Decode(&p); err != nil {
		return Payload{}, err
	}
	return p, nil
}
