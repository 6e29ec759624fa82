package crdt

import (
	"encoding/json"
	"sync"
)

// GCounter is a grow-only counter: each replica owns one monotone slot and
// merge takes the slot-wise maximum.
type GCounter struct {
	notifier
	mu      sync.Mutex
	replica ReplicaID
	counts  map[ReplicaID]int64
}

type gcounterState struct {
	Counts map[ReplicaID]int64 `json:"counts"`
}

// NewGCounter returns an empty counter owned by replica.
func NewGCounter(replica ReplicaID) *GCounter {
	return &GCounter{replica: replica, counts: make(map[ReplicaID]int64)}
}

// Increment grows the counter by n. Negative amounts are rejected by the
// compiler's vocabulary check; at runtime they are ignored.
func (c *GCounter) Increment(n int64) {
	if n <= 0 {
		return
	}
	c.mu.Lock()
	c.counts[c.replica] += n
	own := map[ReplicaID]int64{c.replica: c.counts[c.replica]}
	c.mu.Unlock()
	c.emit(func() ([]byte, error) {
		return json.Marshal(gcounterState{Counts: own})
	})
}

// Value returns the converged total.
func (c *GCounter) Value() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var total int64
	for _, n := range c.counts {
		total += n
	}
	return total
}

// Merge folds another counter in, slot-wise maximum.
func (c *GCounter) Merge(other *GCounter) {
	other.mu.Lock()
	counts := make(map[ReplicaID]int64, len(other.counts))
	for r, n := range other.counts {
		counts[r] = n
	}
	other.mu.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mergeCounts(counts)
}

func (c *GCounter) mergeCounts(counts map[ReplicaID]int64) {
	for r, n := range counts {
		if n > c.counts[r] {
			c.counts[r] = n
		}
	}
}

// State serializes the full counter.
func (c *GCounter) State() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return json.Marshal(gcounterState{Counts: c.counts})
}

// MergeState folds in a serialized state or delta.
func (c *GCounter) MergeState(data []byte) error {
	var s gcounterState
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mergeCounts(s.Counts)
	return nil
}

// PNCounter is a bidirectional counter built from two grow-only maps, one
// for increments and one for decrements. Totals may go negative.
type PNCounter struct {
	notifier
	mu      sync.Mutex
	replica ReplicaID
	pos     map[ReplicaID]int64
	neg     map[ReplicaID]int64
}

type pncounterState struct {
	Pos map[ReplicaID]int64 `json:"pos"`
	Neg map[ReplicaID]int64 `json:"neg"`
}

// NewPNCounter returns an empty tally owned by replica.
func NewPNCounter(replica ReplicaID) *PNCounter {
	return &PNCounter{
		replica: replica,
		pos:     make(map[ReplicaID]int64),
		neg:     make(map[ReplicaID]int64),
	}
}

// Increment grows the tally by n.
func (c *PNCounter) Increment(n int64) {
	if n <= 0 {
		return
	}
	c.mu.Lock()
	c.pos[c.replica] += n
	own := pncounterState{Pos: map[ReplicaID]int64{c.replica: c.pos[c.replica]}}
	c.mu.Unlock()
	c.emit(func() ([]byte, error) { return json.Marshal(own) })
}

// Decrement shrinks the tally by n.
func (c *PNCounter) Decrement(n int64) {
	if n <= 0 {
		return
	}
	c.mu.Lock()
	c.neg[c.replica] += n
	own := pncounterState{Neg: map[ReplicaID]int64{c.replica: c.neg[c.replica]}}
	c.mu.Unlock()
	c.emit(func() ([]byte, error) { return json.Marshal(own) })
}

// Value returns total increments minus total decrements.
func (c *PNCounter) Value() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var total int64
	for _, n := range c.pos {
		total += n
	}
	for _, n := range c.neg {
		total -= n
	}
	return total
}

// Merge folds another tally in.
func (c *PNCounter) Merge(other *PNCounter) {
	other.mu.Lock()
	s := pncounterState{
		Pos: make(map[ReplicaID]int64, len(other.pos)),
		Neg: make(map[ReplicaID]int64, len(other.neg)),
	}
	for r, n := range other.pos {
		s.Pos[r] = n
	}
	for r, n := range other.neg {
		s.Neg[r] = n
	}
	other.mu.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mergeState(s)
}

func (c *PNCounter) mergeState(s pncounterState) {
	for r, n := range s.Pos {
		if n > c.pos[r] {
			c.pos[r] = n
		}
	}
	for r, n := range s.Neg {
		if n > c.neg[r] {
			c.neg[r] = n
		}
	}
}

// State serializes the full tally.
func (c *PNCounter) State() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return json.Marshal(pncounterState{Pos: c.pos, Neg: c.neg})
}

// MergeState folds in a serialized state or delta.
func (c *PNCounter) MergeState(data []byte) error {
	var s pncounterState
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mergeState(s)
	return nil
}
