// Package transport is the connection substrate: QUIC endpoints with
// node identities derived from certificate public keys, ALPN-negotiated
// application protocols, and bidirectional streams.
package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/sirupsen/logrus"

	"github.com/dignifiedquire/iroh-drop/internal/protocol"
)

var (
	// ErrNoKnownAddress means the peer has not been seen by discovery, so
	// there is nothing to dial.
	ErrNoKnownAddress = errors.New("no known address for peer")

	// ErrIdentityMismatch means the dialed address answered with a
	// certificate that does not hash to the expected node id.
	ErrIdentityMismatch = errors.New("remote identity mismatch")
)

func defaultQUICConfig() *quic.Config {
	return &quic.Config{
		KeepAlivePeriod: 10 * time.Second,
		MaxIdleTimeout:  30 * time.Second,
	}
}

// Endpoint listens for and dials peer connections. It owns this node's
// identity and an address book mapping node ids to dialable addresses,
// which discovery keeps fresh.
type Endpoint struct {
	id       protocol.NodeID
	cert     tls.Certificate
	alpns    []string
	quicConf *quic.Config
	listener *quic.Listener
	log      *logrus.Logger

	mu    sync.RWMutex
	addrs map[protocol.NodeID]string
}

// NewEndpoint generates a fresh identity and starts listening on addr.
// alpns lists every application protocol this endpoint accepts; dialers
// pick one per connection.
func NewEndpoint(addr string, alpns []string, log *logrus.Logger) (*Endpoint, error) {
	cert, err := GenerateIdentity()
	if err != nil {
		return nil, fmt.Errorf("generating identity: %w", err)
	}

	id, err := localNodeID(cert)
	if err != nil {
		return nil, err
	}

	serverTLS := &tls.Config{
		Certificates:       []tls.Certificate{cert},
		ClientAuth:         tls.RequireAnyClientCert,
		InsecureSkipVerify: true,
		NextProtos:         alpns,
	}

	listener, err := quic.ListenAddr(addr, serverTLS, defaultQUICConfig())
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}

	return &Endpoint{
		id:       id,
		cert:     cert,
		alpns:    alpns,
		quicConf: defaultQUICConfig(),
		listener: listener,
		log:      log,
		addrs:    make(map[protocol.NodeID]string),
	}, nil
}

func (e *Endpoint) NodeID() protocol.NodeID {
	return e.id
}

func (e *Endpoint) LocalAddr() net.Addr {
	return e.listener.Addr()
}

// Port returns the UDP port the endpoint listens on, for discovery
// advertisements.
func (e *Endpoint) Port() int {
	if udp, ok := e.listener.Addr().(*net.UDPAddr); ok {
		return udp.Port
	}
	return 0
}

// AddAddr records where id can be dialed. Later sightings overwrite
// earlier ones.
func (e *Endpoint) AddAddr(id protocol.NodeID, addr string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.addrs[id] = addr
}

func (e *Endpoint) Addr(id protocol.NodeID) (string, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	addr, ok := e.addrs[id]
	return addr, ok
}

// Accept waits for the next inbound connection and derives the remote
// peer's identity from its certificate.
func (e *Endpoint) Accept(ctx context.Context) (*Conn, error) {
	qc, err := e.listener.Accept(ctx)
	if err != nil {
		return nil, err
	}

	conn, err := newConn(qc)
	if err != nil {
		_ = qc.CloseWithError(1, "bad certificate")
		return nil, err
	}
	return conn, nil
}

// Connect dials id for the given application protocol. The connection is
// rejected if the remote's certificate does not hash to id.
func (e *Endpoint) Connect(ctx context.Context, id protocol.NodeID, alpn string) (*Conn, error) {
	addr, ok := e.Addr(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoKnownAddress, id.Short())
	}

	clientTLS := &tls.Config{
		Certificates:       []tls.Certificate{e.cert},
		InsecureSkipVerify: true,
		NextProtos:         []string{alpn},
	}

	qc, err := quic.DialAddr(ctx, addr, clientTLS, e.quicConf)
	if err != nil {
		return nil, fmt.Errorf("dialing %s at %s: %w", id.Short(), addr, err)
	}

	conn, err := newConn(qc)
	if err != nil {
		_ = qc.CloseWithError(1, "bad certificate")
		return nil, err
	}
	if conn.RemoteID() != id {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: dialed %s, got %s", ErrIdentityMismatch, id.Short(), conn.RemoteID().Short())
	}
	return conn, nil
}

func (e *Endpoint) Close() error {
	return e.listener.Close()
}

// Conn is one encrypted connection to a peer. The substrate multiplexes
// streams over it; the drop protocol uses exactly one bidirectional stream
// per logical exchange.
type Conn struct {
	qc     *quic.Conn
	remote protocol.NodeID
	alpn   string
}

func newConn(qc *quic.Conn) (*Conn, error) {
	state := qc.ConnectionState().TLS
	if len(state.PeerCertificates) == 0 {
		return nil, errors.New("peer presented no certificate")
	}
	return &Conn{
		qc:     qc,
		remote: CertNodeID(state.PeerCertificates[0]),
		alpn:   state.NegotiatedProtocol,
	}, nil
}

// RemoteID is the peer's identity, anchored by the connection's
// certificate rather than by anything the peer claims in-band.
func (c *Conn) RemoteID() protocol.NodeID {
	return c.remote
}

// ALPN is the application protocol negotiated for this connection.
func (c *Conn) ALPN() string {
	return c.alpn
}

// OpenStream opens a bidirectional stream. Closing the stream closes only
// the write half; reading the peer's EOF acknowledges a full stop.
func (c *Conn) OpenStream(ctx context.Context) (*quic.Stream, error) {
	return c.qc.OpenStreamSync(ctx)
}

// AcceptStream waits for the peer to open a bidirectional stream.
func (c *Conn) AcceptStream(ctx context.Context) (*quic.Stream, error) {
	return c.qc.AcceptStream(ctx)
}

func (c *Conn) RemoteAddr() string {
	return c.qc.RemoteAddr().String()
}

func (c *Conn) Close() error {
	return c.qc.CloseWithError(0, "")
}
