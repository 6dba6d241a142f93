// Package drop implements the file-drop exchange protocol: the inbound
// connection state machine, the outbound introduce and send-file
// procedures, and the event relay to the host.
package drop

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/dignifiedquire/iroh-drop/internal/blobs"
	"github.com/dignifiedquire/iroh-drop/internal/protocol"
	"github.com/dignifiedquire/iroh-drop/internal/registry"
	"github.com/dignifiedquire/iroh-drop/internal/transport"
)

var (
	// ErrUnknownPeer rejects a send to a peer no introduction has been
	// exchanged with. Nothing is dialed in that case.
	ErrUnknownPeer = errors.New("unknown peer")

	// ErrUnexpectedMessage is a protocol violation: the peer answered an
	// introduction with something other than an intro response.
	ErrUnexpectedMessage = errors.New("unexpected message")

	// ErrPeerAborted means the peer closed the stream without answering.
	ErrPeerAborted = errors.New("peer aborted")
)

const defaultEventBuffer = 16

// ContentStore is the slice of the blob layer the engine needs: publish
// locally, fetch remotely by hash.
type ContentStore interface {
	Add(data []byte) (blobs.Descriptor, error)
	Fetch(ctx context.Context, from protocol.NodeID, hash protocol.Hash) error
}

// Dialer opens protocol connections to peers by identity.
type Dialer interface {
	Connect(ctx context.Context, id protocol.NodeID, alpn string) (*transport.Conn, error)
}

type Options struct {
	// Name is this node's display name, announced in introductions.
	Name     string
	Registry *registry.Registry
	Store    ContentStore
	Dialer   Dialer
	Logger   *logrus.Logger
	// EventBuffer sizes the event relay; 0 means the default. When the
	// relay is full, receive paths block rather than drop events.
	EventBuffer int
}

type Engine struct {
	name     string
	registry *registry.Registry
	store    ContentStore
	dialer   Dialer
	codec    *protocol.Codec
	log      *logrus.Logger
	events   chan Event
}

func New(opts Options) *Engine {
	buffer := opts.EventBuffer
	if buffer == 0 {
		buffer = defaultEventBuffer
	}
	return &Engine{
		name:     opts.Name,
		registry: opts.Registry,
		store:    opts.Store,
		dialer:   opts.Dialer,
		codec:    protocol.NewCodec(),
		log:      opts.Logger,
		events:   make(chan Event, buffer),
	}
}

// Events is the relay's receive side. The consumer must keep draining it;
// producers block when it fills up.
func (e *Engine) Events() <-chan Event {
	return e.events
}

// HandleConn runs the inbound role for one accepted connection: accept the
// exchange stream, read and dispatch messages until Finish or a stream
// error, then drain. The connection is closed on return.
func (e *Engine) HandleConn(ctx context.Context, conn *transport.Conn) {
	defer func() { _ = conn.Close() }()

	remote := conn.RemoteID()
	e.log.Infof("accepted connection from %s", remote.Short())

	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		e.log.Warnf("accepting stream from %s: %v", remote.Short(), err)
		return
	}

loop:
	for {
		msg, err := e.codec.Decode(stream)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			var de *protocol.DecodeError
			if errors.As(err, &de) {
				// The malformed frame was consumed; keep reading.
				e.log.Warnf("malformed frame from %s: %v", remote.Short(), err)
				continue
			}
			e.log.Warnf("stream error from %s: %v", remote.Short(), err)
			break
		}

		switch m := msg.(type) {
		case *protocol.IntroRequest:
			e.registry.Upsert(remote, m.Name)
			e.log.Debugf("intro request from %s (%q)", remote.Short(), m.Name)
			if err := e.codec.Encode(stream, &protocol.IntroResponse{Name: e.name}); err != nil {
				e.log.Warnf("sending intro response to %s: %v", remote.Short(), err)
			}

		case *protocol.IntroResponse:
			e.registry.Upsert(remote, m.Name)
			e.log.Debugf("intro response from %s (%q)", remote.Short(), m.Name)

		case *protocol.SendRequest:
			e.handleSendRequest(ctx, remote, m)

		case *protocol.Finish:
			break loop
		}
	}

	// Drain: signal no more data, then wait for the peer's EOF.
	if err := stream.Close(); err != nil {
		e.log.Debugf("closing stream to %s: %v", remote.Short(), err)
	}
	if _, err := io.Copy(io.Discard, stream); err != nil {
		e.log.Debugf("draining stream from %s: %v", remote.Short(), err)
	}
}

// handleSendRequest is the receive path of a transfer: fetch the content
// from the sender's blob store and announce the download. Offers from
// peers we were never introduced to are dropped without a reply.
func (e *Engine) handleSendRequest(ctx context.Context, remote protocol.NodeID, m *protocol.SendRequest) {
	sender, ok := e.registry.Get(remote)
	if !ok {
		e.log.Infof("ignoring send request from unknown peer %s", remote.Short())
		return
	}

	e.log.Infof("incoming file %q (%d bytes) from %s", m.Name, m.Size, sender.Name)

	if err := e.store.Fetch(ctx, remote, m.Hash); err != nil {
		e.log.Warnf("fetching %s from %s: %v", m.Hash, remote.Short(), err)
		return
	}

	select {
	case e.events <- FileDownloaded{Name: m.Name, Hash: m.Hash, Size: m.Size, From: remote}:
	case <-ctx.Done():
	}
}

// Introduce exchanges display names with a peer and records it in the
// registry. The returned name is what the peer calls itself. Callers
// should skip peers already present in the registry; a repeated
// introduction is harmless but performs a full handshake.
func (e *Engine) Introduce(ctx context.Context, id protocol.NodeID) (string, error) {
	conn, err := e.dialer.Connect(ctx, id, protocol.ALPN)
	if err != nil {
		return "", fmt.Errorf("connecting to %s: %w", id.Short(), err)
	}
	defer func() { _ = conn.Close() }()

	stream, err := conn.OpenStream(ctx)
	if err != nil {
		return "", fmt.Errorf("opening stream to %s: %w", id.Short(), err)
	}

	if err := e.codec.Encode(stream, &protocol.IntroRequest{Name: e.name}); err != nil {
		return "", fmt.Errorf("sending intro request: %w", err)
	}

	msg, err := e.codec.Decode(stream)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return "", ErrPeerAborted
		}
		return "", fmt.Errorf("reading intro response: %w", err)
	}
	res, ok := msg.(*protocol.IntroResponse)
	if !ok {
		return "", fmt.Errorf("%w: got %s, want %s", ErrUnexpectedMessage, msg.Type(), protocol.MsgIntroResponse)
	}

	e.registry.Upsert(id, res.Name)

	if err := e.codec.Encode(stream, &protocol.Finish{}); err != nil {
		return "", fmt.Errorf("sending finish: %w", err)
	}
	e.finishStream(stream)

	return res.Name, nil
}

// SendFile is the send path of a transfer: publish the bytes to the blob
// store and offer the resulting descriptor to the peer. The peer fetches
// the bytes out of band through the blob protocol.
func (e *Engine) SendFile(ctx context.Context, id protocol.NodeID, fileName string, data []byte) error {
	if _, ok := e.registry.Get(id); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, id.Short())
	}

	desc, err := e.store.Add(data)
	if err != nil {
		return fmt.Errorf("publishing content: %w", err)
	}

	conn, err := e.dialer.Connect(ctx, id, protocol.ALPN)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", id.Short(), err)
	}
	defer func() { _ = conn.Close() }()

	stream, err := conn.OpenStream(ctx)
	if err != nil {
		return fmt.Errorf("opening stream to %s: %w", id.Short(), err)
	}

	req := &protocol.SendRequest{Name: fileName, Hash: desc.Hash, Size: desc.Size}
	if err := e.codec.Encode(stream, req); err != nil {
		return fmt.Errorf("sending send request: %w", err)
	}
	if err := e.codec.Encode(stream, &protocol.Finish{}); err != nil {
		return fmt.Errorf("sending finish: %w", err)
	}
	e.finishStream(stream)

	e.log.Infof("offered %q (%d bytes) to %s", fileName, desc.Size, id.Short())
	return nil
}

// finishStream closes the write half and waits, best effort, for the peer
// to stop the stream.
func (e *Engine) finishStream(stream io.ReadWriteCloser) {
	if err := stream.Close(); err != nil {
		e.log.Debugf("closing stream: %v", err)
	}
	if _, err := io.Copy(io.Discard, stream); err != nil {
		e.log.Debugf("draining stream: %v", err)
	}
}
