package crdt

import (
	"encoding/json"
	"sync"
	"time"
)

// ORSet is an observed-remove set. Every add allots a unique dot and
// records the adder's causal history; a remove records the history it
// observed. The declared bias decides concurrent add/remove of the same
// element: add-wins keeps the element unless the remove had observed the
// add, remove-wins keeps it only when the add is causally after the
// remove.
type ORSet[T comparable] struct {
	notifier
	mu      sync.Mutex
	replica ReplicaID
	bias    Bias
	ctx     *DotContext
	entries map[T]map[Dot]VClock // live add events with birth clocks
	removes map[T]VClock         // joined history observed by removals
}

type orsetAdd struct {
	Dot   Dot    `json:"dot"`
	Birth VClock `json:"birth"`
}

type orsetEntry[T comparable] struct {
	Elem T          `json:"elem"`
	Adds []orsetAdd `json:"adds,omitempty"`
}

type orsetRemove[T comparable] struct {
	Elem  T      `json:"elem"`
	Clock VClock `json:"clock"`
}

type orsetState[T comparable] struct {
	Entries []orsetEntry[T]  `json:"entries,omitempty"`
	Removes []orsetRemove[T] `json:"removes,omitempty"`
	Context *DotContext      `json:"context,omitempty"`
}

// NewORSet returns an empty set owned by replica with the given bias.
func NewORSet[T comparable](replica ReplicaID, bias Bias) *ORSet[T] {
	return &ORSet[T]{
		replica: replica,
		bias:    bias,
		ctx:     NewDotContext(),
		entries: make(map[T]map[Dot]VClock),
		removes: make(map[T]VClock),
	}
}

// Add inserts v.
func (s *ORSet[T]) Add(v T) {
	s.mu.Lock()
	d := s.ctx.Next(s.replica)
	birth := s.ctx.Floor.Clone()
	if s.entries[v] == nil {
		s.entries[v] = make(map[Dot]VClock)
	}
	s.entries[v][d] = birth
	delta := orsetState[T]{
		Entries: []orsetEntry[T]{{Elem: v, Adds: []orsetAdd{{Dot: d, Birth: birth}}}},
	}
	s.mu.Unlock()
	s.emit(func() ([]byte, error) { return json.Marshal(delta) })
}

// Remove deletes v, recording the history observed so far. The removal
// allots a dot of its own so later adds can prove they are causally after
// it; unobserved concurrent adds are decided by the bias during merge.
func (s *ORSet[T]) Remove(v T) {
	s.mu.Lock()
	s.ctx.Next(s.replica)
	observed := s.ctx.Floor.Clone()
	if s.removes[v] == nil {
		s.removes[v] = make(VClock)
	}
	s.removes[v].Join(observed)
	s.prune(v)
	delta := orsetState[T]{
		Removes: []orsetRemove[T]{{Elem: v, Clock: s.removes[v].Clone()}},
		Context: &DotContext{Floor: observed},
	}
	s.mu.Unlock()
	s.emit(func() ([]byte, error) { return json.Marshal(delta) })
}

// Contains reports membership.
func (s *ORSet[T]) Contains(v T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries[v]) > 0
}

// Len returns the number of live elements.
func (s *ORSet[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, adds := range s.entries {
		if len(adds) > 0 {
			n++
		}
	}
	return n
}

// Elements returns the live elements in unspecified order.
func (s *ORSet[T]) Elements() []T {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]T, 0, len(s.entries))
	for v, adds := range s.entries {
		if len(adds) > 0 {
			out = append(out, v)
		}
	}
	return out
}

// Merge folds another set in.
func (s *ORSet[T]) Merge(other *ORSet[T]) {
	data, err := other.State()
	if err != nil {
		return
	}
	_ = s.MergeState(data)
}

// State serializes the full set.
func (s *ORSet[T]) State() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return json.Marshal(s.wireState())
}

func (s *ORSet[T]) wireState() orsetState[T] {
	var st orsetState[T]
	for v, adds := range s.entries {
		e := orsetEntry[T]{Elem: v}
		for d, birth := range adds {
			e.Adds = append(e.Adds, orsetAdd{Dot: d, Birth: birth})
		}
		st.Entries = append(st.Entries, e)
	}
	for v, clock := range s.removes {
		st.Removes = append(st.Removes, orsetRemove[T]{Elem: v, Clock: clock})
	}
	st.Context = s.ctx
	return st
}

// MergeState folds in a serialized state or delta.
func (s *ORSet[T]) MergeState(data []byte) error {
	var st orsetState[T]
	if err := json.Unmarshal(data, &st); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range st.Entries {
		if s.entries[e.Elem] == nil {
			s.entries[e.Elem] = make(map[Dot]VClock)
		}
		for _, a := range e.Adds {
			s.entries[e.Elem][a.Dot] = a.Birth
			s.ctx.Add(a.Dot)
		}
	}
	for _, r := range st.Removes {
		if s.removes[r.Elem] == nil {
			s.removes[r.Elem] = make(VClock)
		}
		s.removes[r.Elem].Join(r.Clock)
	}
	if st.Context != nil {
		s.ctx.Join(st.Context)
	}
	for v := range s.entries {
		s.prune(v)
	}
	return nil
}

// prune drops add events the element's removal history kills under the
// declared bias.
func (s *ORSet[T]) prune(v T) {
	removed := s.removes[v]
	if removed == nil {
		return
	}
	for d, birth := range s.entries[v] {
		if s.killed(d, birth, removed) {
			delete(s.entries[v], d)
		}
	}
	if len(s.entries[v]) == 0 {
		delete(s.entries, v)
	}
}

func (s *ORSet[T]) killed(d Dot, birth VClock, removed VClock) bool {
	return killedUnder(s.bias, d, birth, removed)
}

// ORMap is an observed-remove map: keys live and die like OR-set elements,
// and each key carries a value. Plain values are last-writer-wins; values
// that are themselves replicated merge recursively.
type ORMap[K comparable, V any] struct {
	notifier
	mu       sync.Mutex
	replica  ReplicaID
	bias     Bias
	ctx      *DotContext
	keys     map[K]map[Dot]VClock
	removes  map[K]VClock
	values   map[K]*mapSlot[V]
	newValue func() V // nil unless values are replicated
}

type mapSlot[V any] struct {
	value   V
	ts      int64
	replica ReplicaID
}

type ormapEntry[K comparable] struct {
	Key     K               `json:"key"`
	Adds    []orsetAdd      `json:"adds,omitempty"`
	Value   json.RawMessage `json:"value,omitempty"`
	TS      int64           `json:"ts,omitempty"`
	Replica ReplicaID       `json:"replica,omitempty"`
}

type ormapRemove[K comparable] struct {
	Key   K      `json:"key"`
	Clock VClock `json:"clock"`
}

type ormapState[K comparable] struct {
	Entries []ormapEntry[K]  `json:"entries,omitempty"`
	Removes []ormapRemove[K] `json:"removes,omitempty"`
	Context *DotContext      `json:"context,omitempty"`
}

// NewORMap returns an empty map owned by replica. newValue constructs
// fresh replicated values for maps whose values merge recursively; pass
// nil for plain last-writer-wins values.
func NewORMap[K comparable, V any](replica ReplicaID, bias Bias, newValue func() V) *ORMap[K, V] {
	return &ORMap[K, V]{
		replica:  replica,
		bias:     bias,
		ctx:      NewDotContext(),
		keys:     make(map[K]map[Dot]VClock),
		removes:  make(map[K]VClock),
		values:   make(map[K]*mapSlot[V]),
		newValue: newValue,
	}
}

// Put writes a value under k, inserting the key if needed.
func (m *ORMap[K, V]) Put(k K, v V) {
	m.mu.Lock()
	d := m.ctx.Next(m.replica)
	birth := m.ctx.Floor.Clone()
	if m.keys[k] == nil {
		m.keys[k] = make(map[Dot]VClock)
	}
	m.keys[k][d] = birth
	ts := time.Now().UnixNano()
	if slot := m.values[k]; slot != nil && ts <= slot.ts {
		ts = slot.ts + 1
	}
	m.values[k] = &mapSlot[V]{value: v, ts: ts, replica: m.replica}
	delta, err := m.entryWire(k)
	m.mu.Unlock()
	if err == nil {
		m.emit(func() ([]byte, error) {
			return json.Marshal(ormapState[K]{Entries: []ormapEntry[K]{delta}})
		})
	}
}

// At returns the value under k, creating a fresh replicated value on first
// access when the map was built with a constructor. The inserted key is
// registered like a put.
func (m *ORMap[K, V]) At(k K) V {
	m.mu.Lock()
	if slot := m.values[k]; slot != nil && len(m.keys[k]) > 0 {
		v := slot.value
		m.mu.Unlock()
		return v
	}
	if m.newValue == nil {
		var zero V
		m.mu.Unlock()
		return zero
	}
	v := m.newValue()
	d := m.ctx.Next(m.replica)
	birth := m.ctx.Floor.Clone()
	if m.keys[k] == nil {
		m.keys[k] = make(map[Dot]VClock)
	}
	m.keys[k][d] = birth
	m.values[k] = &mapSlot[V]{value: v, ts: time.Now().UnixNano(), replica: m.replica}
	m.mu.Unlock()
	return v
}

// Get returns the value under k and whether the key is live.
func (m *ORMap[K, V]) Get(k K) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if slot := m.values[k]; slot != nil && len(m.keys[k]) > 0 {
		return slot.value, true
	}
	var zero V
	return zero, false
}

// Remove deletes k under the map's bias. Like the set, the removal allots
// its own dot.
func (m *ORMap[K, V]) Remove(k K) {
	m.mu.Lock()
	m.ctx.Next(m.replica)
	observed := m.ctx.Floor.Clone()
	if m.removes[k] == nil {
		m.removes[k] = make(VClock)
	}
	m.removes[k].Join(observed)
	m.pruneKey(k)
	delta := ormapState[K]{
		Removes: []ormapRemove[K]{{Key: k, Clock: m.removes[k].Clone()}},
		Context: &DotContext{Floor: observed},
	}
	m.mu.Unlock()
	m.emit(func() ([]byte, error) { return json.Marshal(delta) })
}

// Contains reports whether k is live.
func (m *ORMap[K, V]) Contains(k K) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.keys[k]) > 0
}

// Len returns the number of live keys.
func (m *ORMap[K, V]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, adds := range m.keys {
		if len(adds) > 0 {
			n++
		}
	}
	return n
}

// Keys returns the live keys in unspecified order.
func (m *ORMap[K, V]) Keys() []K {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]K, 0, len(m.keys))
	for k, adds := range m.keys {
		if len(adds) > 0 {
			out = append(out, k)
		}
	}
	return out
}

// Merge folds another map in.
func (m *ORMap[K, V]) Merge(other *ORMap[K, V]) {
	data, err := other.State()
	if err != nil {
		return
	}
	_ = m.MergeState(data)
}

func (m *ORMap[K, V]) entryWire(k K) (ormapEntry[K], error) {
	e := ormapEntry[K]{Key: k}
	for d, birth := range m.keys[k] {
		e.Adds = append(e.Adds, orsetAdd{Dot: d, Birth: birth})
	}
	if slot := m.values[k]; slot != nil {
		raw, err := marshalValue(slot.value)
		if err != nil {
			return e, err
		}
		e.Value = raw
		e.TS = slot.ts
		e.Replica = slot.replica
	}
	return e, nil
}

func marshalValue[V any](v V) (json.RawMessage, error) {
	if rep, ok := any(v).(Replicated); ok {
		return rep.State()
	}
	return json.Marshal(v)
}

// State serializes the full map.
func (m *ORMap[K, V]) State() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var st ormapState[K]
	for k := range m.keys {
		e, err := m.entryWire(k)
		if err != nil {
			return nil, err
		}
		st.Entries = append(st.Entries, e)
	}
	for k, clock := range m.removes {
		st.Removes = append(st.Removes, ormapRemove[K]{Key: k, Clock: clock})
	}
	st.Context = m.ctx
	return json.Marshal(st)
}

// MergeState folds in a serialized state or delta.
func (m *ORMap[K, V]) MergeState(data []byte) error {
	var st ormapState[K]
	if err := json.Unmarshal(data, &st); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range st.Entries {
		if m.keys[e.Key] == nil {
			m.keys[e.Key] = make(map[Dot]VClock)
		}
		for _, a := range e.Adds {
			m.keys[e.Key][a.Dot] = a.Birth
			m.ctx.Add(a.Dot)
		}
		if e.Value != nil {
			if err := m.mergeValue(e); err != nil {
				return err
			}
		}
	}
	for _, r := range st.Removes {
		if m.removes[r.Key] == nil {
			m.removes[r.Key] = make(VClock)
		}
		m.removes[r.Key].Join(r.Clock)
	}
	if st.Context != nil {
		m.ctx.Join(st.Context)
	}
	for k := range m.keys {
		m.pruneKey(k)
	}
	return nil
}

func (m *ORMap[K, V]) mergeValue(e ormapEntry[K]) error {
	slot := m.values[e.Key]
	if m.newValue != nil {
		// Replicated values merge recursively.
		if slot == nil {
			slot = &mapSlot[V]{value: m.newValue(), ts: e.TS, replica: e.Replica}
			m.values[e.Key] = slot
		}
		if rep, ok := any(slot.value).(Replicated); ok {
			return rep.MergeState(e.Value)
		}
		return nil
	}
	// Plain values: last writer wins.
	if slot == nil || e.TS > slot.ts || (e.TS == slot.ts && e.Replica > slot.replica) {
		var v V
		if err := json.Unmarshal(e.Value, &v); err != nil {
			return err
		}
		m.values[e.Key] = &mapSlot[V]{value: v, ts: e.TS, replica: e.Replica}
	}
	return nil
}

func (m *ORMap[K, V]) pruneKey(k K) {
	removed := m.removes[k]
	if removed == nil {
		return
	}
	for d, birth := range m.keys[k] {
		if killedUnder(m.bias, d, birth, removed) {
			delete(m.keys[k], d)
		}
	}
	if len(m.keys[k]) == 0 {
		delete(m.keys, k)
		delete(m.values, k)
	}
}

// killedUnder decides whether a removal history kills one add event. An
// add the removal observed always dies. Under remove-wins a concurrent add
// dies too: only adds whose birth clock covers the whole removal history
// are causally after it and survive.
func killedUnder(bias Bias, d Dot, birth VClock, removed VClock) bool {
	if d.Counter <= removed[d.Replica] {
		return true
	}
	if bias == RemoveWins {
		for r, n := range removed {
			if birth[r] < n {
				return true
			}
		}
	}
	return false
}
