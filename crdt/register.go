package crdt

import (
	"encoding/json"
	"sync"
	"time"
)

// LWWRegister is a last-writer-wins register: each set is timestamped and
// merge keeps the newest write, breaking clock ties by replica ID so both
// sides pick the same winner.
type LWWRegister[T any] struct {
	notifier
	mu      sync.Mutex
	replica ReplicaID
	value   T
	ts      int64
	by      ReplicaID
}

type lwwState[T any] struct {
	Value   T         `json:"value"`
	TS      int64     `json:"ts"`
	Replica ReplicaID `json:"replica"`
}

// NewLWWRegister returns a register owned by replica holding T's zero
// value at timestamp zero.
func NewLWWRegister[T any](replica ReplicaID) *LWWRegister[T] {
	return &LWWRegister[T]{replica: replica}
}

// Set writes a new value with the current wall clock. Writes within the
// same nanosecond still advance the timestamp, so a replica's own writes
// never tie with themselves.
func (r *LWWRegister[T]) Set(v T) {
	r.mu.Lock()
	ts := time.Now().UnixNano()
	if ts <= r.ts {
		ts = r.ts + 1
	}
	r.value, r.ts, r.by = v, ts, r.replica
	s := lwwState[T]{Value: v, TS: ts, Replica: r.replica}
	r.mu.Unlock()
	r.emit(func() ([]byte, error) { return json.Marshal(s) })
}

// Get returns the current winner.
func (r *LWWRegister[T]) Get() T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.value
}

// Merge folds another register in.
func (r *LWWRegister[T]) Merge(other *LWWRegister[T]) {
	other.mu.Lock()
	s := lwwState[T]{Value: other.value, TS: other.ts, Replica: other.by}
	other.mu.Unlock()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mergeState(s)
}

func (r *LWWRegister[T]) mergeState(s lwwState[T]) {
	if s.TS > r.ts || (s.TS == r.ts && s.Replica > r.by) {
		r.value, r.ts, r.by = s.Value, s.TS, s.Replica
	}
}

// State serializes the register.
func (r *LWWRegister[T]) State() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return json.Marshal(lwwState[T]{Value: r.value, TS: r.ts, Replica: r.by})
}

// MergeState folds in a serialized state.
func (r *LWWRegister[T]) MergeState(data []byte) error {
	var s lwwState[T]
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mergeState(s)
	return nil
}

// MVRegister is a multi-value register: concurrent writes are all kept and
// surface as a conflict the program resolves explicitly. Each write carries
// a vector clock; merge drops versions another version dominates.
type MVRegister[T any] struct {
	notifier
	mu       sync.Mutex
	replica  ReplicaID
	versions []mvVersion[T]
}

type mvVersion[T any] struct {
	Value T      `json:"value"`
	Clock VClock `json:"clock"`
}

type mvState[T any] struct {
	Versions []mvVersion[T] `json:"versions"`
}

// NewMVRegister returns an empty register owned by replica.
func NewMVRegister[T any](replica ReplicaID) *MVRegister[T] {
	return &MVRegister[T]{replica: replica}
}

// Set writes a value that supersedes every version this replica has seen.
func (r *MVRegister[T]) Set(v T) {
	r.mu.Lock()
	clock := make(VClock)
	for _, ver := range r.versions {
		clock.Join(ver.Clock)
	}
	clock.Tick(r.replica)
	r.versions = []mvVersion[T]{{Value: v, Clock: clock}}
	s := mvState[T]{Versions: r.versions}
	r.mu.Unlock()
	r.emit(func() ([]byte, error) { return json.Marshal(s) })
}

// Resolve collapses a conflict to the chosen value. It is Set under a name
// that states intent.
func (r *MVRegister[T]) Resolve(v T) { r.Set(v) }

// Values returns every live version; more than one means conflict.
func (r *MVRegister[T]) Values() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]T, len(r.versions))
	for i, ver := range r.versions {
		out[i] = ver.Value
	}
	return out
}

// HasConflict reports whether concurrent unmerged writes are pending.
func (r *MVRegister[T]) HasConflict() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.versions) > 1
}

// Get returns one live value; with a pending conflict it returns the
// first, which is stable for a given merge history.
func (r *MVRegister[T]) Get() T {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.versions) == 0 {
		var zero T
		return zero
	}
	return r.versions[0].Value
}

// Merge folds another register in, keeping only undominated versions.
func (r *MVRegister[T]) Merge(other *MVRegister[T]) {
	other.mu.Lock()
	s := mvState[T]{Versions: append([]mvVersion[T](nil), other.versions...)}
	other.mu.Unlock()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mergeState(s)
}

func (r *MVRegister[T]) mergeState(s mvState[T]) {
	combined := append(append([]mvVersion[T](nil), r.versions...), s.Versions...)
	var live []mvVersion[T]
	for i, v := range combined {
		dominated := false
		for j, w := range combined {
			if i == j {
				continue
			}
			if w.Clock.Dominates(v.Clock) {
				dominated = true
				break
			}
			// Duplicates keep only their first occurrence.
			if j < i && w.Clock.Equal(v.Clock) {
				dominated = true
				break
			}
		}
		if !dominated {
			live = append(live, v)
		}
	}
	r.versions = live
}

// State serializes every live version.
func (r *MVRegister[T]) State() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return json.Marshal(mvState[T]{Versions: r.versions})
}

// MergeState folds in a serialized state.
func (r *MVRegister[T]) MergeState(data []byte) error {
	var s mvState[T]
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mergeState(s)
	return nil
}
