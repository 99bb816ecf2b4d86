package dispatch

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/roach88/yardcam/internal/region"
)

// WorkOrder is the JSON body of a dispatch request.
type WorkOrder struct {
	ModelProcessCode string       `json:"modelProcessCode"`
	FromSystem       string       `json:"fromSystem"`
	OrderID          string       `json:"orderId"`
	TaskOrderDetail  []TaskDetail `json:"taskOrderDetail"`
}

// TaskDetail is one leg of a work order.
type TaskDetail struct {
	TaskPath string `json:"taskPath"` // "<start>,<end>"
}

// TaskPath encodes a Start/End pairing the way the receiver expects it.
func TaskPath(start, end region.ID) string {
	return fmt.Sprintf("%s,%s", start, end)
}

// OrderIDGenerator produces order ids. Every call must return a new id.
// Implemented by UUIDv7Generator (production) and FixedGenerator (tests).
type OrderIDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable order ids of the form
// "<prefix>_<uuidv7>". Without a prefix the bare UUID is returned.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct {
	Prefix string
}

// Generate creates a new UUIDv7-based order id.
//
// Panics if UUID generation fails (should never happen in practice).
func (g UUIDv7Generator) Generate() string {
	id := uuid.Must(uuid.NewV7()).String()
	if g.Prefix == "" {
		return id
	}
	return g.Prefix + "_" + id
}

// FixedGenerator returns predetermined order ids for testing.
//
// Thread-safety: FixedGenerator is safe for concurrent use via internal mutex.
type FixedGenerator struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewFixedGenerator creates a generator that returns ids in order.
func NewFixedGenerator(ids ...string) *FixedGenerator {
	return &FixedGenerator{ids: ids}
}

// Generate returns the next predetermined id.
//
// Panics if all ids have been consumed, so a test that dispatches more often
// than expected fails loudly.
func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.ids) {
		panic("FixedGenerator: all order ids exhausted")
	}
	id := g.ids[g.idx]
	g.idx++
	return id
}
