package blobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dignifiedquire/iroh-drop/internal/logger"
	"github.com/dignifiedquire/iroh-drop/internal/protocol"
	"github.com/dignifiedquire/iroh-drop/internal/transport"
)

// testBlobNode is an endpoint plus a blob store, serving blob requests in
// the background.
type testBlobNode struct {
	ep     *transport.Endpoint
	store  *Store
	client *Client
}

func newTestBlobNode(t *testing.T, ctx context.Context) *testBlobNode {
	t.Helper()
	log := logger.New()

	ep, err := transport.NewEndpoint("127.0.0.1:0", []string{ALPN}, log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ep.Close() })

	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	server := NewServer(store, log)
	go func() {
		for {
			conn, err := ep.Accept(ctx)
			if err != nil {
				return
			}
			go func() {
				defer func() { _ = conn.Close() }()
				server.Serve(ctx, conn)
			}()
		}
	}()

	return &testBlobNode{
		ep:     ep,
		store:  store,
		client: NewClient(store, ep, log),
	}
}

func (n *testBlobNode) learn(other *testBlobNode) {
	n.ep.AddAddr(other.ep.NodeID(), other.ep.LocalAddr().String())
}

func TestFetchFromPeer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	alice := newTestBlobNode(t, ctx)
	bob := newTestBlobNode(t, ctx)
	bob.learn(alice)

	data := []byte("the file being dropped")
	desc, err := alice.store.Add(data)
	require.NoError(t, err)

	require.NoError(t, bob.client.Fetch(ctx, alice.ep.NodeID(), desc.Hash))

	got, err := bob.store.Get(desc.Hash)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestFetchNotFound(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	alice := newTestBlobNode(t, ctx)
	bob := newTestBlobNode(t, ctx)
	bob.learn(alice)

	var missing protocol.Hash
	copy(missing[:], "not-published")

	err := bob.client.Fetch(ctx, alice.ep.NodeID(), missing)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound), "expected ErrNotFound, got %v", err)
	assert.False(t, bob.store.Has(missing))
}

func TestFetchSkipsPresentBlob(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	bob := newTestBlobNode(t, ctx)

	data := []byte("already here")
	desc, err := bob.store.Add(data)
	require.NoError(t, err)

	// No address for this peer is known; a network fetch would fail, so a
	// nil error proves the local copy short-circuited it.
	var unknown protocol.NodeID
	copy(unknown[:], "unreachable")
	assert.NoError(t, bob.client.Fetch(ctx, unknown, desc.Hash))
}

func TestFetchUnreachablePeer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	bob := newTestBlobNode(t, ctx)

	var unknown protocol.NodeID
	copy(unknown[:], "unreachable")
	var hash protocol.Hash
	copy(hash[:], "some-hash")

	err := bob.client.Fetch(ctx, unknown, hash)
	assert.Error(t, err)
}
