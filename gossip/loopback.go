package gossip

import (
	"context"
	"sync"
)

// Mesh is an in-process transport fabric: every joined endpoint receives
// what the others broadcast. It exists for tests and single-process
// multi-replica setups.
type Mesh struct {
	mu    sync.Mutex
	ports []*MeshPort
}

// NewMesh returns an empty mesh.
func NewMesh() *Mesh {
	return &Mesh{}
}

// Join adds an endpoint to the mesh.
func (m *Mesh) Join() *MeshPort {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := &MeshPort{mesh: m, in: make(chan Message, 256)}
	m.ports = append(m.ports, p)
	return p
}

// MeshPort is one endpoint of a mesh.
type MeshPort struct {
	mesh *Mesh
	in   chan Message
}

// Broadcast delivers to every other port on the mesh.
func (p *MeshPort) Broadcast(ctx context.Context, topic string, payload []byte) error {
	p.mesh.mu.Lock()
	ports := make([]*MeshPort, len(p.mesh.ports))
	copy(ports, p.mesh.ports)
	p.mesh.mu.Unlock()

	msg := Message{Topic: topic, Payload: append([]byte(nil), payload...)}
	for _, q := range ports {
		if q == p {
			continue
		}
		select {
		case q.in <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Inbound yields messages broadcast by the other ports.
func (p *MeshPort) Inbound() <-chan Message {
	return p.in
}

// Close detaches the port from the mesh. The inbound channel is left open
// so concurrent broadcasters never race a close; nothing sends on it once
// the port is detached.
func (p *MeshPort) Close() error {
	p.mesh.mu.Lock()
	defer p.mesh.mu.Unlock()
	for i, q := range p.mesh.ports {
		if q == p {
			p.mesh.ports = append(p.mesh.ports[:i], p.mesh.ports[i+1:]...)
			break
		}
	}
	return nil
}
