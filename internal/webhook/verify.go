package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/facebookgo/clock"
)

// HeaderName is the HTTP header carrying the signature.
const HeaderName = "X-Webhook-Signature"

// DefaultTolerance is the freshness window in either direction.
const DefaultTolerance = 300 * time.Second

// Rejection reasons reported by Verify.
const (
	ReasonMissingHeader   = "missing_header"
	ReasonMalformedHeader = "malformed_header"
	ReasonStaleTimestamp  = "stale_timestamp"
	ReasonBadSignature    = "bad_signature"
)

// VerifyError is an authentication failure.
type VerifyError struct {
	Reason string
	Detail string
}

func (e *VerifyError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("webhook %s: %s", e.Reason, e.Detail)
	}
	return "webhook " + e.Reason
}

// IsVerifyError returns true if err is or wraps a VerifyError.
func IsVerifyError(err error) bool {
	var ve *VerifyError
	return errors.As(err, &ve)
}

// ReasonOf returns the rejection reason of a VerifyError, or "" for other errors.
func ReasonOf(err error) string {
	var ve *VerifyError
	if errors.As(err, &ve) {
		return ve.Reason
	}
	return ""
}

// Signature is a parsed signature header.
type Signature struct {
	Timestamp int64
	V1        string
}

// ParseHeader parses "t=<unix>,v1=<base64>".
//
// Pairs are split on the first '=' only, so base64 padding survives.
// Unknown keys are ignored; the first occurrence of t and v1 wins.
func ParseHeader(header string) (Signature, error) {
	if strings.TrimSpace(header) == "" {
		return Signature{}, &VerifyError{Reason: ReasonMissingHeader}
	}

	var (
		sig          Signature
		haveT, haveV bool
	)
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			if haveT {
				continue
			}
			ts, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return Signature{}, &VerifyError{Reason: ReasonMalformedHeader, Detail: fmt.Sprintf("timestamp %q is not an integer", value)}
			}
			sig.Timestamp = ts
			haveT = true
		case "v1":
			if haveV {
				continue
			}
			sig.V1 = value
			haveV = true
		}
	}

	if !haveT || !haveV || sig.V1 == "" {
		return Signature{}, &VerifyError{Reason: ReasonMalformedHeader, Detail: "header must carry t and v1"}
	}
	return sig, nil
}

// Sign returns base64(HMAC-SHA256(secret, "<ts>.<body>")).
func Sign(secret []byte, ts int64, body []byte) string {
	return base64.StdEncoding.EncodeToString(digest(secret, ts, body))
}

// FormatHeader renders a signature header value.
func FormatHeader(ts int64, signature string) string {
	return fmt.Sprintf("t=%d,v1=%s", ts, signature)
}

// SignHeader signs body at ts and returns the complete header value.
func SignHeader(secret []byte, ts int64, body []byte) string {
	return FormatHeader(ts, Sign(secret, ts, body))
}

func digest(secret []byte, ts int64, body []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte{'.'})
	mac.Write(body)
	return mac.Sum(nil)
}

// Verifier checks signature headers against a shared secret.
// Verifier is stateless apart from its configuration and safe for concurrent use.
type Verifier struct {
	secret    []byte
	tolerance time.Duration
	clock     clock.Clock
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithTolerance overrides the freshness window.
func WithTolerance(d time.Duration) VerifierOption {
	return func(v *Verifier) {
		v.tolerance = d
	}
}

// WithVerifierClock overrides the clock used for freshness.
func WithVerifierClock(c clock.Clock) VerifierOption {
	return func(v *Verifier) {
		v.clock = c
	}
}

// NewVerifier creates a Verifier for secret.
func NewVerifier(secret []byte, opts ...VerifierOption) *Verifier {
	v := &Verifier{
		secret:    append([]byte(nil), secret...),
		tolerance: DefaultTolerance,
		clock:     clock.New(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify authenticates body against header and returns the verified send time.
// Any failure is a *VerifyError.
func (v *Verifier) Verify(header string, body []byte) (time.Time, error) {
	sig, err := ParseHeader(header)
	if err != nil {
		return time.Time{}, err
	}

	sent := time.Unix(sig.Timestamp, 0)
	skew := v.clock.Now().Sub(sent)
	if skew > v.tolerance || skew < -v.tolerance {
		return time.Time{}, &VerifyError{
			Reason: ReasonStaleTimestamp,
			Detail: fmt.Sprintf("timestamp is %s from now, tolerance %s", skew.Truncate(time.Second), v.tolerance),
		}
	}

	received, err := base64.StdEncoding.DecodeString(sig.V1)
	if err != nil {
		return time.Time{}, &VerifyError{Reason: ReasonBadSignature, Detail: "signature is not valid base64"}
	}
	if !hmac.Equal(received, digest(v.secret, sig.Timestamp, body)) {
		return time.Time{}, &VerifyError{Reason: ReasonBadSignature}
	}

	return sent, nil
}
