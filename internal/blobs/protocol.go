package blobs

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"lukechampine.com/blake3"

	"github.com/dignifiedquire/iroh-drop/internal/protocol"
	"github.com/dignifiedquire/iroh-drop/internal/transport"
)

// ALPN identifies the blob-transfer protocol during connection negotiation.
const ALPN = "iroh-drop/blobs/0"

// maxBlobSize bounds what a fetch will accept from a remote node.
const maxBlobSize = 1 << 30

const (
	statusNotFound byte = 0
	statusFound    byte = 1
)

var (
	ErrNotFound     = errors.New("blob not found on remote")
	ErrHashMismatch = errors.New("fetched bytes do not match requested hash")
	ErrTooLarge     = errors.New("remote blob exceeds size limit")
)

// Server answers blob requests from peers. One request per stream: the
// peer writes a hash and closes its write half; the server answers with a
// status byte and, when found, the size and the bytes.
type Server struct {
	store *Store
	log   *logrus.Logger
}

func NewServer(store *Store, log *logrus.Logger) *Server {
	return &Server{store: store, log: log}
}

// Serve handles one accepted blobs connection.
func (s *Server) Serve(ctx context.Context, conn *transport.Conn) {
	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		s.log.Warnf("blobs: accepting stream from %s: %v", conn.RemoteID().Short(), err)
		return
	}
	defer func() { _ = stream.Close() }()

	var hashBytes [protocol.HashSize]byte
	if _, err := io.ReadFull(stream, hashBytes[:]); err != nil {
		s.log.Warnf("blobs: reading request from %s: %v", conn.RemoteID().Short(), err)
		return
	}
	hash := protocol.Hash(hashBytes)

	data, err := s.store.Get(hash)
	if err != nil {
		s.log.Debugf("blobs: %s requested unknown blob %s", conn.RemoteID().Short(), hash)
		_, _ = stream.Write([]byte{statusNotFound})
		return
	}

	if _, err := stream.Write([]byte{statusFound}); err != nil {
		s.log.Warnf("blobs: writing status to %s: %v", conn.RemoteID().Short(), err)
		return
	}
	var sizeBuf [8]byte
	binary.BigEndian.PutUint64(sizeBuf[:], uint64(len(data)))
	if _, err := stream.Write(sizeBuf[:]); err != nil {
		s.log.Warnf("blobs: writing size to %s: %v", conn.RemoteID().Short(), err)
		return
	}
	if _, err := stream.Write(data); err != nil {
		s.log.Warnf("blobs: writing blob to %s: %v", conn.RemoteID().Short(), err)
		return
	}

	s.log.Debugf("blobs: served %s (%d bytes) to %s", hash, len(data), conn.RemoteID().Short())
}

// Client fetches blobs by hash from specific peers and stores them locally.
// It implements the content-store surface the drop engine consumes.
type Client struct {
	store  *Store
	dialer dialer
	log    *logrus.Logger
}

type dialer interface {
	Connect(ctx context.Context, id protocol.NodeID, alpn string) (*transport.Conn, error)
}

func NewClient(store *Store, dialer dialer, log *logrus.Logger) *Client {
	return &Client{store: store, dialer: dialer, log: log}
}

// Add publishes bytes to the local store.
func (c *Client) Add(data []byte) (Descriptor, error) {
	return c.store.Add(data)
}

// Fetch retrieves the blob identified by hash from the given peer and
// verifies it before storing. A blob already present locally is not
// fetched again.
func (c *Client) Fetch(ctx context.Context, from protocol.NodeID, hash protocol.Hash) error {
	if c.store.Has(hash) {
		c.log.Debugf("blobs: %s already present, skipping fetch", hash)
		return nil
	}

	conn, err := c.dialer.Connect(ctx, from, ALPN)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", from.Short(), err)
	}
	defer func() { _ = conn.Close() }()

	stream, err := conn.OpenStream(ctx)
	if err != nil {
		return fmt.Errorf("opening blob stream: %w", err)
	}

	if _, err := stream.Write(hash[:]); err != nil {
		return fmt.Errorf("writing blob request: %w", err)
	}
	if err := stream.Close(); err != nil {
		return fmt.Errorf("closing request half: %w", err)
	}

	var status [1]byte
	if _, err := io.ReadFull(stream, status[:]); err != nil {
		return fmt.Errorf("reading blob status: %w", err)
	}
	if status[0] != statusFound {
		return fmt.Errorf("%w: %s", ErrNotFound, hash)
	}

	var sizeBuf [8]byte
	if _, err := io.ReadFull(stream, sizeBuf[:]); err != nil {
		return fmt.Errorf("reading blob size: %w", err)
	}
	size := binary.BigEndian.Uint64(sizeBuf[:])
	if size > maxBlobSize {
		return fmt.Errorf("%w: %d bytes", ErrTooLarge, size)
	}

	data := make([]byte, size)
	if _, err := io.ReadFull(stream, data); err != nil {
		return fmt.Errorf("reading blob bytes: %w", err)
	}

	if got := protocol.Hash(blake3.Sum256(data)); got != hash {
		return fmt.Errorf("%w: got %s", ErrHashMismatch, got)
	}

	if _, err := c.store.Add(data); err != nil {
		return fmt.Errorf("storing fetched blob: %w", err)
	}

	c.log.Debugf("blobs: fetched %s (%d bytes) from %s", hash, size, from.Short())
	return nil
}
