// Package gossip replicates shared state between processes: values bind to
// named topics, local mutations fan out as deltas, and inbound deltas merge
// through the value's own merge algebra, so duplicated, reordered, or
// delayed delivery all converge.
package gossip

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/loqui-lang/loqui/crdt"
)

// ErrTopicClaimed is returned when a topic already has a bound value.
// Topics are single-owner within a node.
var ErrTopicClaimed = errors.New("gossip: topic already claimed")

// Message is one topic-tagged delta or state.
type Message struct {
	Topic   string
	Payload []byte
}

// Transport moves messages between peers. Broadcast sends to every peer;
// Inbound yields messages the peers sent us and may close when the
// transport shuts down.
type Transport interface {
	Broadcast(ctx context.Context, topic string, payload []byte) error
	Inbound() <-chan Message
	Close() error
}

// Node is a topic registry bound to one transport.
type Node struct {
	mu        sync.Mutex
	transport Transport
	topics    map[string]crdt.Replicated
	started   bool
}

// NewNode returns a node on the given transport. A nil transport keeps
// every topic process-local.
func NewNode(t Transport) *Node {
	return &Node{transport: t, topics: make(map[string]crdt.Replicated)}
}

// Sync binds x to topic for the life of ctx: the current state is
// broadcast, every further local mutation is broadcast as a delta, and
// inbound messages for the topic merge into x. A topic holds one value.
func (n *Node) Sync(ctx context.Context, topic string, x crdt.Replicated) error {
	n.mu.Lock()
	if _, taken := n.topics[topic]; taken {
		n.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTopicClaimed, topic)
	}
	n.topics[topic] = x
	if n.transport != nil && !n.started {
		n.started = true
		go n.mergeLoop(ctx)
	}
	n.mu.Unlock()

	if n.transport == nil {
		return nil
	}
	// Announce the full state so peers merge everything that happened here
	// before joining; catch-up in the other direction rides on the next
	// delta a peer broadcasts. Then subscribe future deltas.
	state, err := x.State()
	if err != nil {
		return fmt.Errorf("gossip: %w", err)
	}
	if err := n.Publish(ctx, topic, state); err != nil {
		return err
	}
	x.Subscribe(func(delta []byte) {
		_ = n.Publish(ctx, topic, delta)
	})
	return nil
}

// Publish broadcasts one payload under topic.
func (n *Node) Publish(ctx context.Context, topic string, payload []byte) error {
	n.mu.Lock()
	t := n.transport
	n.mu.Unlock()
	if t == nil {
		return nil
	}
	return t.Broadcast(ctx, topic, payload)
}

// mergeLoop is the background half of SubscribeAndMerge: it drains the
// transport and merges each message into its topic's value. Messages for
// unclaimed topics are dropped; merges are idempotent, so duplicates and
// reordering are harmless.
func (n *Node) mergeLoop(ctx context.Context) {
	in := n.transport.Inbound()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-in:
			if !ok {
				return
			}
			n.mu.Lock()
			x := n.topics[m.Topic]
			n.mu.Unlock()
			if x != nil {
				_ = x.MergeState(m.Payload)
			}
		}
	}
}

var (
	defaultMu   sync.Mutex
	defaultNode = NewNode(nil)
)

// Configure replaces the process-wide node's transport. Call before any
// Sync; generated programs leave it unset and stay process-local unless
// their config wires a transport in.
func Configure(t Transport) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultNode = NewNode(t)
}

// Sync binds x to topic on the process-wide node.
func Sync(ctx context.Context, topic string, x crdt.Replicated) error {
	defaultMu.Lock()
	n := defaultNode
	defaultMu.Unlock()
	return n.Sync(ctx, topic, x)
}
