// Package testutil provides deterministic fixtures for reconciliation tests:
// a scripted status source, a trace recorder with wait helpers, and signed
// push builders.
package testutil
