// Package webhook authenticates and applies settlement push notifications.
//
// A push is a JSON body plus a signature header:
//
//	X-Webhook-Signature: t=<unix-seconds>,v1=<base64 HMAC-SHA256>
//
// The signed payload is "<t>.<raw body>" keyed by a shared secret.
//
// Checks run in a fixed order, cheapest first:
//  1. header present and parseable (missing_header, malformed_header)
//  2. timestamp within ±300s of now (stale_timestamp)
//  3. constant-time digest comparison (bad_signature)
//  4. JSON well-formed (invalid_json)
//  5. payload shape matches the CUE #Push schema (invalid_payload)
//  6. status is one of the four known values (invalid_status)
//
// Nothing is trusted, stored or published until every check has passed.
// Freshness alone never authenticates: the timestamp is only trusted once the
// signature over it has been verified.
package webhook
