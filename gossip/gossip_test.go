package gossip

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/loqui-lang/loqui/crdt"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestLoopbackConvergence(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mesh := NewMesh()
	n1 := NewNode(mesh.Join())
	n2 := NewNode(mesh.Join())

	c1 := crdt.NewGCounter("replica-1")
	c2 := crdt.NewGCounter("replica-2")
	require.NoError(t, n1.Sync(ctx, "hits", c1))
	require.NoError(t, n2.Sync(ctx, "hits", c2))

	c1.Increment(10)
	c1.Increment(5)
	c2.Increment(7)

	waitFor(t, func() bool {
		return c1.Value() == 22 && c2.Value() == 22
	})
}

func TestLateJoinerCatchesUp(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mesh := NewMesh()
	n1 := NewNode(mesh.Join())
	c1 := crdt.NewGCounter("replica-1")
	require.NoError(t, n1.Sync(ctx, "hits", c1))
	c1.Increment(9)

	// The second node announces its (empty) state; the first node's merge
	// is a no-op, but any mutation after the join reaches both. A fresh
	// increment on the first node carries its full counter entry, which is
	// exactly the catch-up the joiner needs here.
	n2 := NewNode(mesh.Join())
	c2 := crdt.NewGCounter("replica-2")
	require.NoError(t, n2.Sync(ctx, "hits", c2))
	c1.Increment(1)

	waitFor(t, func() bool {
		return c2.Value() == 10
	})
}

func TestDuplicateAndReplayedDeliveryConverges(t *testing.T) {
	ctx := context.Background()

	mesh := NewMesh()
	port := mesh.Join()
	n := NewNode(mesh.Join())
	c := crdt.NewGCounter("replica-1")
	require.NoError(t, n.Sync(ctx, "hits", c))

	remote := crdt.NewGCounter("replica-2")
	remote.Increment(4)
	state, err := remote.State()
	require.NoError(t, err)

	// Send the same state three times; idempotent merge keeps the value
	// at 4.
	for i := 0; i < 3; i++ {
		require.NoError(t, port.Broadcast(ctx, "hits", state))
	}
	waitFor(t, func() bool { return c.Value() == 4 })
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, int64(4), c.Value())
}

func TestTopicSingleOwner(t *testing.T) {
	ctx := context.Background()
	n := NewNode(nil)

	require.NoError(t, n.Sync(ctx, "hits", crdt.NewGCounter("replica-1")))
	err := n.Sync(ctx, "hits", crdt.NewGCounter("replica-2"))
	require.ErrorIs(t, err, ErrTopicClaimed)

	// A different topic is fine.
	require.NoError(t, n.Sync(ctx, "misses", crdt.NewGCounter("replica-1")))
}

func TestUnclaimedTopicDropped(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mesh := NewMesh()
	port := mesh.Join()
	n := NewNode(mesh.Join())
	c := crdt.NewGCounter("replica-1")
	require.NoError(t, n.Sync(ctx, "hits", c))

	require.NoError(t, port.Broadcast(ctx, "other", []byte("not json")))
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, int64(0), c.Value())
}

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeFrame(&buf, "hits", []byte(`{"counts":{"a":1}}`)))

	topic, payload, err := readFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, "hits", topic)
	require.JSONEq(t, `{"counts":{"a":1}}`, string(payload))
}

func TestFrameRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xff, 0xff, 0xff, 0xff})
	_, _, err := readFrame(&buf)
	require.Error(t, err)
}

func TestQUICTransportRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := ListenQUIC(ctx, "127.0.0.1:0", nil)
	require.NoError(t, err)
	defer a.Close()

	b, err := ListenQUIC(ctx, "127.0.0.1:0", []string{a.Addr()})
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, b.Broadcast(ctx, "hits", []byte(`{"counts":{"b":3}}`)))

	select {
	case m := <-a.Inbound():
		require.Equal(t, "hits", m.Topic)
		require.JSONEq(t, `{"counts":{"b":3}}`, string(m.Payload))
	case <-time.After(5 * time.Second):
		t.Fatal("message did not arrive over QUIC")
	}
}
