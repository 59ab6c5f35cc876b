// Package order defines the settlement order record and its status lattice.
//
// This package contains domain types only. Every other internal package
// imports order; order imports nothing internal.
//
// Key constraints:
//   - Status only moves forward: created → processing → {settled | failed}
//   - settled and failed are terminal and absorbing
//   - Amounts are decimals, never floats
//   - All JSON tags use snake_case
package order
