package crdt

import (
	"encoding/json"
	"sort"
	"sync"
)

// nodeID orders sequence insertions: a Lamport timestamp with the replica
// as tie-break. The zero ID is the root sentinel before the first element.
type nodeID struct {
	Seq     uint64    `json:"seq"`
	Replica ReplicaID `json:"replica"`
}

func (a nodeID) less(b nodeID) bool {
	if a.Seq != b.Seq {
		return a.Seq < b.Seq
	}
	return a.Replica < b.Replica
}

func (a nodeID) isRoot() bool { return a.Seq == 0 && a.Replica == "" }

type rgaNode[T any] struct {
	ID        nodeID `json:"id"`
	Left      nodeID `json:"left"`
	Value     T      `json:"value"`
	Tombstone bool   `json:"tombstone,omitempty"`
}

type rgaState[T any] struct {
	Nodes []rgaNode[T] `json:"nodes"`
}

// RGA is a replicated growable array: every insertion names the element it
// follows, deletions leave tombstones, and the document order is a pure
// function of the node set, so any interleaving of merges converges.
// Siblings inserted after the same element order newest-first, which keeps
// each replica's own consecutive insertions adjacent.
type RGA[T any] struct {
	notifier
	mu      sync.Mutex
	replica ReplicaID
	clock   uint64
	nodes   map[nodeID]*rgaNode[T]
	order   []nodeID // document order incl. tombstones
	dirty   bool
}

// NewRGA returns an empty sequence owned by replica.
func NewRGA[T any](replica ReplicaID) *RGA[T] {
	return &RGA[T]{replica: replica, nodes: make(map[nodeID]*rgaNode[T])}
}

// Append inserts v after the last live element.
func (r *RGA[T]) Append(v T) {
	r.mu.Lock()
	left := r.lastLive()
	n := r.insertLocked(left, v)
	r.mu.Unlock()
	r.emitNode(n)
}

// InsertAt inserts v so it lands at live index i.
func (r *RGA[T]) InsertAt(i int, v T) {
	r.mu.Lock()
	left := r.liveIDBefore(i)
	n := r.insertLocked(left, v)
	r.mu.Unlock()
	r.emitNode(n)
}

// RemoveAt tombstones the element at live index i. Out-of-range indexes
// are ignored.
func (r *RGA[T]) RemoveAt(i int) {
	r.mu.Lock()
	id, ok := r.liveIDAt(i)
	if !ok {
		r.mu.Unlock()
		return
	}
	n := r.nodes[id]
	n.Tombstone = true
	copyN := *n
	r.mu.Unlock()
	r.emitNode(copyN)
}

// Get returns the element at live index i; the zero value out of range.
func (r *RGA[T]) Get(i int) T {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.liveIDAt(i); ok {
		return r.nodes[id].Value
	}
	var zero T
	return zero
}

// Len returns the number of live elements.
func (r *RGA[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, id := range r.ordered() {
		if !r.nodes[id].Tombstone {
			n++
		}
	}
	return n
}

// Slice returns the live elements in document order.
func (r *RGA[T]) Slice() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []T
	for _, id := range r.ordered() {
		if n := r.nodes[id]; !n.Tombstone {
			out = append(out, n.Value)
		}
	}
	return out
}

// Merge folds another sequence in.
func (r *RGA[T]) Merge(other *RGA[T]) {
	data, err := other.State()
	if err != nil {
		return
	}
	_ = r.MergeState(data)
}

// State serializes every node, tombstones included.
func (r *RGA[T]) State() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := rgaState[T]{Nodes: make([]rgaNode[T], 0, len(r.nodes))}
	for _, id := range r.ordered() {
		st.Nodes = append(st.Nodes, *r.nodes[id])
	}
	return json.Marshal(st)
}

// MergeState folds in a serialized state or delta: union of nodes, with
// tombstones sticky.
func (r *RGA[T]) MergeState(data []byte) error {
	var st rgaState[T]
	if err := json.Unmarshal(data, &st); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range st.Nodes {
		node := n
		if existing, ok := r.nodes[n.ID]; ok {
			if node.Tombstone {
				existing.Tombstone = true
			}
		} else {
			r.nodes[n.ID] = &node
			r.dirty = true
		}
		if n.ID.Seq > r.clock {
			r.clock = n.ID.Seq
		}
	}
	return nil
}

func (r *RGA[T]) insertLocked(left nodeID, v T) rgaNode[T] {
	r.clock++
	n := &rgaNode[T]{
		ID:    nodeID{Seq: r.clock, Replica: r.replica},
		Left:  left,
		Value: v,
	}
	r.nodes[n.ID] = n
	r.dirty = true
	return *n
}

func (r *RGA[T]) emitNode(n rgaNode[T]) {
	r.emit(func() ([]byte, error) {
		return json.Marshal(rgaState[T]{Nodes: []rgaNode[T]{n}})
	})
}

// ordered rebuilds the document order when the node set changed: a
// depth-first walk where the children of each element are its direct
// successors, newest insertion first.
func (r *RGA[T]) ordered() []nodeID {
	if !r.dirty {
		return r.order
	}
	children := make(map[nodeID][]nodeID, len(r.nodes))
	for id, n := range r.nodes {
		children[n.Left] = append(children[n.Left], id)
	}
	for _, kids := range children {
		sort.Slice(kids, func(i, j int) bool { return kids[j].less(kids[i]) })
	}
	r.order = r.order[:0]
	var walk func(nodeID)
	walk = func(left nodeID) {
		for _, id := range children[left] {
			r.order = append(r.order, id)
			walk(id)
		}
	}
	walk(nodeID{})
	r.dirty = false
	return r.order
}

func (r *RGA[T]) lastLive() nodeID {
	ids := r.ordered()
	for i := len(ids) - 1; i >= 0; i-- {
		if !r.nodes[ids[i]].Tombstone {
			return ids[i]
		}
	}
	return nodeID{}
}

// liveIDBefore returns the ID of the live element before index i, or the
// root for i <= 0. Indexes past the end return the last live element.
func (r *RGA[T]) liveIDBefore(i int) nodeID {
	if i <= 0 {
		return nodeID{}
	}
	seen := 0
	for _, id := range r.ordered() {
		if r.nodes[id].Tombstone {
			continue
		}
		seen++
		if seen == i {
			return id
		}
	}
	return r.lastLive()
}

func (r *RGA[T]) liveIDAt(i int) (nodeID, bool) {
	if i < 0 {
		return nodeID{}, false
	}
	seen := 0
	for _, id := range r.ordered() {
		if r.nodes[id].Tombstone {
			continue
		}
		if seen == i {
			return id, true
		}
		seen++
	}
	return nodeID{}, false
}

// Text is a collaborative character sequence: the RGA specialized to runes
// with string-oriented operations.
type Text struct {
	seq *RGA[rune]
}

// NewText returns an empty text owned by replica.
func NewText(replica ReplicaID) *Text {
	return &Text{seq: NewRGA[rune](replica)}
}

// Append adds s at the end of the text.
func (t *Text) Append(s string) {
	for _, ch := range s {
		t.seq.Append(ch)
	}
}

// InsertAt inserts s so its first rune lands at rune index i.
func (t *Text) InsertAt(i int, s string) {
	for _, ch := range s {
		t.seq.InsertAt(i, ch)
		i++
	}
}

// RemoveAt deletes the rune at index i.
func (t *Text) RemoveAt(i int) {
	t.seq.RemoveAt(i)
}

// Len returns the rune count.
func (t *Text) Len() int { return t.seq.Len() }

// String renders the current text.
func (t *Text) String() string {
	return string(t.seq.Slice())
}

// State serializes the underlying sequence.
func (t *Text) State() ([]byte, error) { return t.seq.State() }

// MergeState folds in a serialized state or delta.
func (t *Text) MergeState(data []byte) error { return t.seq.MergeState(data) }

// Subscribe registers a delta sink.
func (t *Text) Subscribe(fn func(delta []byte)) { t.seq.Subscribe(fn) }

// Merge folds another text in.
func (t *Text) Merge(other *Text) { t.seq.Merge(other.seq) }
