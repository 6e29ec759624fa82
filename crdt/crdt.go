// Package crdt is the replicated-state runtime for generated programs: a
// library of convergent types whose Merge is commutative, associative, and
// idempotent. Every type carries its causal metadata with it, serializes to
// a JSON wire form shared by the journal and gossip layers, and accepts
// partial states (deltas) through the same merge path as full snapshots.
package crdt

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
)

// ReplicaID identifies one replica of a value. IDs order writes between
// replicas when clocks tie, so they must be unique per process.
type ReplicaID string

// NewReplicaID returns a fresh process-unique replica identifier.
func NewReplicaID() ReplicaID {
	return ReplicaID(uuid.NewString())
}

// Replicated is the uniform wire surface of every convergent type. State
// serializes the full value; MergeState folds in a remote state or delta.
// Subscribe registers a sink that receives a serialized delta after every
// local mutation; the journal and gossip layers attach here.
type Replicated interface {
	State() ([]byte, error)
	MergeState(data []byte) error
	Subscribe(fn func(delta []byte))
}

// VClock is a vector clock: per-replica observation counters.
type VClock map[ReplicaID]uint64

// Tick advances the clock for one replica and returns the new count.
func (c VClock) Tick(r ReplicaID) uint64 {
	c[r]++
	return c[r]
}

// Dominates reports whether c has observed everything in other, and other
// not everything in c. Equal clocks dominate in neither direction.
func (c VClock) Dominates(other VClock) bool {
	greater := false
	for r, n := range other {
		if c[r] < n {
			return false
		}
	}
	for r, n := range c {
		if n > other[r] {
			greater = true
		}
	}
	return greater
}

// Concurrent reports whether neither clock dominates the other and they
// are not equal.
func (c VClock) Concurrent(other VClock) bool {
	return !c.Dominates(other) && !other.Dominates(c) && !c.Equal(other)
}

// Equal reports whether both clocks carry identical counters.
func (c VClock) Equal(other VClock) bool {
	for r, n := range other {
		if c[r] != n {
			return false
		}
	}
	for r, n := range c {
		if other[r] != n {
			return false
		}
	}
	return true
}

// Join folds other into c entry-wise by maximum.
func (c VClock) Join(other VClock) {
	for r, n := range other {
		if n > c[r] {
			c[r] = n
		}
	}
}

// Clone returns an independent copy of the clock.
func (c VClock) Clone() VClock {
	out := make(VClock, len(c))
	for r, n := range c {
		out[r] = n
	}
	return out
}

// Dot is one unique event: the n-th update a replica produced.
type Dot struct {
	Replica ReplicaID `json:"r"`
	Counter uint64    `json:"n"`
}

// DotContext is the compact causal history of a replica: for each source,
// the highest counter such that every dot up to it has been observed.
// Replicas allot counters contiguously, so the context never needs to
// track gaps from local operation; gaps from remote delivery are kept in
// the loose set until the floor catches up.
type DotContext struct {
	Floor VClock
	Loose map[Dot]bool
}

type dotContextWire struct {
	Floor VClock `json:"floor"`
	Loose []Dot  `json:"loose,omitempty"`
}

// MarshalJSON flattens the loose set into a sorted-independent list.
func (c *DotContext) MarshalJSON() ([]byte, error) {
	w := dotContextWire{Floor: c.Floor}
	for d := range c.Loose {
		w.Loose = append(w.Loose, d)
	}
	return json.Marshal(w)
}

// UnmarshalJSON rebuilds the context, re-compacting the loose set.
func (c *DotContext) UnmarshalJSON(data []byte) error {
	var w dotContextWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	c.Floor = w.Floor
	if c.Floor == nil {
		c.Floor = make(VClock)
	}
	c.Loose = make(map[Dot]bool)
	for _, d := range w.Loose {
		c.Add(d)
	}
	return nil
}

// NewDotContext returns an empty context.
func NewDotContext() *DotContext {
	return &DotContext{Floor: make(VClock), Loose: make(map[Dot]bool)}
}

// Next allots a fresh dot for r and records it as observed.
func (c *DotContext) Next(r ReplicaID) Dot {
	return Dot{Replica: r, Counter: c.Floor.Tick(r)}
}

// Contains reports whether the dot has been observed.
func (c *DotContext) Contains(d Dot) bool {
	return d.Counter <= c.Floor[d.Replica] || c.Loose[d.Canonical()]
}

// Add records an observed dot and compacts the loose set.
func (c *DotContext) Add(d Dot) {
	if d.Counter == c.Floor[d.Replica]+1 {
		c.Floor[d.Replica] = d.Counter
		c.compact(d.Replica)
		return
	}
	if d.Counter > c.Floor[d.Replica] {
		c.Loose[d.Canonical()] = true
	}
}

// Join folds another context into this one.
func (c *DotContext) Join(other *DotContext) {
	c.Floor.Join(other.Floor)
	for d := range other.Loose {
		c.Add(d)
	}
	for r := range c.Floor {
		c.compact(r)
	}
}

func (c *DotContext) compact(r ReplicaID) {
	for {
		next := Dot{Replica: r, Counter: c.Floor[r] + 1}
		if !c.Loose[next] {
			return
		}
		delete(c.Loose, next)
		c.Floor[r] = next.Counter
	}
}

// Canonical returns d itself; it exists so map keys read intentionally.
func (d Dot) Canonical() Dot { return d }

// Bias selects the winner when an add and a remove of the same element are
// concurrent.
type Bias int

const (
	AddWins Bias = iota
	RemoveWins
)

// notifier is the shared local-mutation fan-out embedded by every type.
type notifier struct {
	mu    sync.Mutex
	sinks []func(delta []byte)
}

func (n *notifier) Subscribe(fn func(delta []byte)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sinks = append(n.sinks, fn)
}

// emit serializes a delta and hands it to every sink. Serialization errors
// are impossible for the types below (plain maps and slices), so emit
// swallows them rather than making every mutation fallible.
func (n *notifier) emit(delta func() ([]byte, error)) {
	n.mu.Lock()
	sinks := make([]func([]byte), len(n.sinks))
	copy(sinks, n.sinks)
	n.mu.Unlock()
	if len(sinks) == 0 {
		return
	}
	data, err := delta()
	if err != nil {
		return
	}
	for _, fn := range sinks {
		fn(data)
	}
}
