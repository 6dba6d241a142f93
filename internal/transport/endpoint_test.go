package transport

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/dignifiedquire/iroh-drop/internal/logger"
	"github.com/dignifiedquire/iroh-drop/internal/protocol"
)

func newTestEndpoint(t *testing.T, alpns ...string) *Endpoint {
	t.Helper()
	if len(alpns) == 0 {
		alpns = []string{protocol.ALPN}
	}
	ep, err := NewEndpoint("127.0.0.1:0", alpns, logger.New())
	if err != nil {
		t.Fatalf("NewEndpoint failed: %v", err)
	}
	t.Cleanup(func() { _ = ep.Close() })
	return ep
}

func TestEndpointCreateAndClose(t *testing.T) {
	ep := newTestEndpoint(t)

	if ep.LocalAddr() == nil {
		t.Error("Expected non-nil local address")
	}
	if ep.Port() == 0 {
		t.Error("Expected non-zero port")
	}
	if ep.NodeID() == (protocol.NodeID{}) {
		t.Error("Expected non-zero node id")
	}
}

func TestEndpointDistinctIdentities(t *testing.T) {
	a := newTestEndpoint(t)
	b := newTestEndpoint(t)

	if a.NodeID() == b.NodeID() {
		t.Error("Two endpoints should not share a node id")
	}
}

func TestEndpointConnectUnknownPeer(t *testing.T) {
	ep := newTestEndpoint(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var unknown protocol.NodeID
	copy(unknown[:], "never-seen")

	_, err := ep.Connect(ctx, unknown, protocol.ALPN)
	if err == nil {
		t.Fatal("Expected error dialing unknown peer")
	}
}

func TestEndpointDialAcceptIdentity(t *testing.T) {
	server := newTestEndpoint(t)
	client := newTestEndpoint(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client.AddAddr(server.NodeID(), server.LocalAddr().String())

	accepted := make(chan *Conn, 1)
	errChan := make(chan error, 1)

	go func() {
		conn, err := server.Accept(ctx)
		if err != nil {
			errChan <- err
			return
		}
		accepted <- conn
	}()

	clientConn, err := client.Connect(ctx, server.NodeID(), protocol.ALPN)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer func() { _ = clientConn.Close() }()

	if clientConn.RemoteID() != server.NodeID() {
		t.Errorf("Client sees remote %s, want %s", clientConn.RemoteID(), server.NodeID())
	}
	if clientConn.ALPN() != protocol.ALPN {
		t.Errorf("Expected ALPN %q, got %q", protocol.ALPN, clientConn.ALPN())
	}

	select {
	case serverConn := <-accepted:
		defer func() { _ = serverConn.Close() }()
		if serverConn.RemoteID() != client.NodeID() {
			t.Errorf("Server sees remote %s, want %s", serverConn.RemoteID(), client.NodeID())
		}
		if serverConn.ALPN() != protocol.ALPN {
			t.Errorf("Expected ALPN %q, got %q", protocol.ALPN, serverConn.ALPN())
		}
	case err := <-errChan:
		t.Fatalf("Accept failed: %v", err)
	case <-ctx.Done():
		t.Fatal("Timeout waiting for connection")
	}
}

func TestEndpointStreamEcho(t *testing.T) {
	server := newTestEndpoint(t)
	client := newTestEndpoint(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client.AddAddr(server.NodeID(), server.LocalAddr().String())

	errChan := make(chan error, 1)
	go func() {
		conn, err := server.Accept(ctx)
		if err != nil {
			errChan <- err
			return
		}
		defer func() { _ = conn.Close() }()

		stream, err := conn.AcceptStream(ctx)
		if err != nil {
			errChan <- err
			return
		}
		data, err := io.ReadAll(stream)
		if err != nil {
			errChan <- err
			return
		}
		if _, err := stream.Write(data); err != nil {
			errChan <- err
			return
		}
		errChan <- stream.Close()
	}()

	conn, err := client.Connect(ctx, server.NodeID(), protocol.ALPN)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer func() { _ = conn.Close() }()

	stream, err := conn.OpenStream(ctx)
	if err != nil {
		t.Fatalf("OpenStream failed: %v", err)
	}
	if _, err := stream.Write([]byte("ping")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	// Close the write half; the server reads to EOF, echoes, and closes.
	if err := stream.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	echoed, err := io.ReadAll(stream)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if string(echoed) != "ping" {
		t.Errorf("Expected echo 'ping', got %q", echoed)
	}

	if err := <-errChan; err != nil {
		t.Fatalf("Server error: %v", err)
	}
}

func TestEndpointALPNSelection(t *testing.T) {
	const blobsALPN = "iroh-drop/blobs/0"

	server := newTestEndpoint(t, protocol.ALPN, blobsALPN)
	client := newTestEndpoint(t, protocol.ALPN, blobsALPN)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client.AddAddr(server.NodeID(), server.LocalAddr().String())

	accepted := make(chan *Conn, 1)
	errChan := make(chan error, 1)
	go func() {
		conn, err := server.Accept(ctx)
		if err != nil {
			errChan <- err
			return
		}
		accepted <- conn
	}()

	conn, err := client.Connect(ctx, server.NodeID(), blobsALPN)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer func() { _ = conn.Close() }()

	select {
	case serverConn := <-accepted:
		defer func() { _ = serverConn.Close() }()
		if serverConn.ALPN() != blobsALPN {
			t.Errorf("Expected negotiated ALPN %q, got %q", blobsALPN, serverConn.ALPN())
		}
	case err := <-errChan:
		t.Fatalf("Accept failed: %v", err)
	case <-ctx.Done():
		t.Fatal("Timeout waiting for connection")
	}
}
