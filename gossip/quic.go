package gossip

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/binary"
	"fmt"
	"io"
	"math/big"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
)

const alpnProtocol = "loqui-gossip-1"

// maxFrameSize caps a single message on the wire.
const maxFrameSize = 16 << 20

// QUICTransport gossips over QUIC: each message travels on a stream of its
// own, length-prefixed topic then payload. Peers are static; dialing is
// lazy and failed peers are redialed on the next broadcast.
type QUICTransport struct {
	ln     *quic.Listener
	peers  []string
	tlsCfg *tls.Config

	mu    sync.Mutex
	conns map[string]*quic.Conn

	in     chan Message
	cancel context.CancelFunc
}

// ListenQUIC starts a transport listening on addr and gossiping to peers.
// The TLS identity is an ephemeral self-signed certificate; peers accept
// any certificate speaking the right protocol.
func ListenQUIC(ctx context.Context, addr string, peers []string) (*QUICTransport, error) {
	serverCfg, err := ephemeralTLS()
	if err != nil {
		return nil, err
	}
	ln, err := quic.ListenAddr(addr, serverCfg, &quic.Config{MaxIdleTimeout: 2 * time.Minute})
	if err != nil {
		return nil, fmt.Errorf("gossip: listen %s: %w", addr, err)
	}
	ctx, cancel := context.WithCancel(ctx)
	t := &QUICTransport{
		ln:    ln,
		peers: peers,
		tlsCfg: &tls.Config{
			InsecureSkipVerify: true,
			NextProtos:         []string{alpnProtocol},
		},
		conns:  make(map[string]*quic.Conn),
		in:     make(chan Message, 256),
		cancel: cancel,
	}
	go t.acceptLoop(ctx)
	return t, nil
}

// Addr returns the bound listen address.
func (t *QUICTransport) Addr() string {
	return t.ln.Addr().String()
}

// Broadcast sends one message to every peer, a stream per peer.
func (t *QUICTransport) Broadcast(ctx context.Context, topic string, payload []byte) error {
	var firstErr error
	for _, peer := range t.peers {
		if err := t.sendTo(ctx, peer, topic, payload); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Inbound yields messages received from peers.
func (t *QUICTransport) Inbound() <-chan Message {
	return t.in
}

// Close stops the listener and drops peer connections.
func (t *QUICTransport) Close() error {
	t.cancel()
	t.mu.Lock()
	for _, c := range t.conns {
		_ = c.CloseWithError(0, "shutdown")
	}
	t.conns = make(map[string]*quic.Conn)
	t.mu.Unlock()
	return t.ln.Close()
}

func (t *QUICTransport) sendTo(ctx context.Context, peer, topic string, payload []byte) error {
	conn, err := t.peerConn(ctx, peer)
	if err != nil {
		return err
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		// Stale connection; drop it and dial once more.
		t.dropConn(peer)
		if conn, err = t.peerConn(ctx, peer); err != nil {
			return err
		}
		if stream, err = conn.OpenStreamSync(ctx); err != nil {
			return fmt.Errorf("gossip: open stream to %s: %w", peer, err)
		}
	}
	defer stream.Close()
	return writeFrame(stream, topic, payload)
}

func (t *QUICTransport) peerConn(ctx context.Context, peer string) (*quic.Conn, error) {
	t.mu.Lock()
	conn := t.conns[peer]
	t.mu.Unlock()
	if conn != nil {
		return conn, nil
	}
	conn, err := quic.DialAddr(ctx, peer, t.tlsCfg, nil)
	if err != nil {
		return nil, fmt.Errorf("gossip: dial %s: %w", peer, err)
	}
	t.mu.Lock()
	t.conns[peer] = conn
	t.mu.Unlock()
	return conn, nil
}

func (t *QUICTransport) dropConn(peer string) {
	t.mu.Lock()
	if c := t.conns[peer]; c != nil {
		_ = c.CloseWithError(0, "stale")
		delete(t.conns, peer)
	}
	t.mu.Unlock()
}

func (t *QUICTransport) acceptLoop(ctx context.Context) {
	for {
		conn, err := t.ln.Accept(ctx)
		if err != nil {
			return
		}
		go t.acceptStreams(ctx, conn)
	}
}

func (t *QUICTransport) acceptStreams(ctx context.Context, conn *quic.Conn) {
	for {
		stream, err := conn.AcceptStream(ctx)
		if err != nil {
			return
		}
		go func() {
			topic, payload, err := readFrame(stream)
			if err != nil {
				return
			}
			select {
			case t.in <- Message{Topic: topic, Payload: payload}:
			case <-ctx.Done():
			}
		}()
	}
}

func writeFrame(w io.Writer, topic string, payload []byte) error {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(topic)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if _, err := io.WriteString(w, topic); err != nil {
		return err
	}
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

func readFrame(r io.Reader) (topic string, payload []byte, err error) {
	var hdr [4]byte
	if _, err = io.ReadFull(r, hdr[:]); err != nil {
		return "", nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > maxFrameSize {
		return "", nil, fmt.Errorf("gossip: topic length %d exceeds limit", n)
	}
	rawTopic := make([]byte, n)
	if _, err = io.ReadFull(r, rawTopic); err != nil {
		return "", nil, err
	}
	if _, err = io.ReadFull(r, hdr[:]); err != nil {
		return "", nil, err
	}
	n = binary.BigEndian.Uint32(hdr[:])
	if n > maxFrameSize {
		return "", nil, fmt.Errorf("gossip: payload length %d exceeds limit", n)
	}
	payload = make([]byte, n)
	if _, err = io.ReadFull(r, payload); err != nil {
		return "", nil, err
	}
	return string(rawTopic), payload, nil
}

// ephemeralTLS builds a throwaway self-signed server certificate.
func ephemeralTLS() (*tls.Config, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("gossip: %w", err)
	}
	tmpl := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "loqui-gossip"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("gossip: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{{
			Certificate: [][]byte{der},
			PrivateKey:  key,
		}},
		NextProtos: []string{alpnProtocol},
	}, nil
}
