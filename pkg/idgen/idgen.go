package idgen

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// Prefixes for every entity kind the store persists, matching spec.md §2.
const (
	PrefixOutcome      = "out"
	PrefixTask         = "task"
	PrefixWorker       = "wrk"
	PrefixEscalation   = "esc"
	PrefixAlert        = "alrt"
	PrefixJob          = "job"
	PrefixProgress     = "prog"
	PrefixDiscovery    = "disc"
	PrefixDecision     = "dec"
	PrefixConstraint   = "cnst"
	PrefixInjection    = "inj"
	PrefixObservation  = "obsv"
)

// Generator mints IDs of the form "<prefix>_<counter>_<entropy>". The
// counter is monotonic per-process and gives every ID a stable creation
// order even when two IDs are minted within the same clock tick; the uuid
// suffix guarantees global uniqueness across process restarts.
type Generator struct {
	counter atomic.Uint64
}

// NewGenerator returns a ready-to-use Generator.
func NewGenerator() *Generator {
	return &Generator{}
}

// New mints a new ID with the given prefix.
func (g *Generator) New(prefix string) string {
	n := g.counter.Add(1)
	return fmt.Sprintf("%s_%014d_%s", prefix, n, shortEntropy())
}

func shortEntropy() string {
	u := uuid.New()
	return u.String()[:8]
}

// ProgressSeq is a dedicated monotonic counter for ProgressEntry ids, kept
// separate from Generator so ordering is strictly per-process-monotonic
// regardless of how many other IDs were minted in between (spec.md §4.4's
// ordering guarantee: "ProgressEntries for a single worker are strictly
// ordered by their monotonic id").
type ProgressSeq struct {
	counter atomic.Int64
}

// NewProgressSeq returns a ProgressSeq starting from seed (exclusive).
func NewProgressSeq(seed int64) *ProgressSeq {
	p := &ProgressSeq{}
	p.counter.Store(seed)
	return p
}

// Next returns the next monotonic sequence value.
func (p *ProgressSeq) Next() int64 {
	return p.counter.Add(1)
}
