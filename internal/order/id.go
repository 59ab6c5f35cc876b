package order

import (
	"encoding/hex"
	"sync"

	"github.com/google/uuid"
)

// IDPrefix starts every generated order id.
const IDPrefix = "ord_0x"

// IDGenerator assigns order ids.
type IDGenerator interface {
	Generate() string
}

// RandomGenerator produces ids of the form ord_0x followed by 8 hex digits,
// taken from the random bits of a version 4 UUID.
type RandomGenerator struct{}

// Generate returns a new random order id.
func (RandomGenerator) Generate() string {
	u := uuid.New()
	return IDPrefix + hex.EncodeToString(u[:4])
}

// FixedGenerator returns predetermined ids in order.
// Panics when exhausted.
type FixedGenerator struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewFixedGenerator creates a generator that hands out ids in sequence.
func NewFixedGenerator(ids ...string) *FixedGenerator {
	return &FixedGenerator{ids: ids}
}

// Generate returns the next predetermined id.
func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.idx >= len(g.ids) {
		panic("FixedGenerator: no more ids")
	}
	id := g.ids[g.idx]
	g.idx++
	return id
}
