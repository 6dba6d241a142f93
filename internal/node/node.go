// Package node assembles the endpoint, discovery, blob store, and drop
// engine into the running application and exposes the host-facing
// operations: discover peers, send a file, observe events.
package node

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"lukechampine.com/blake3"

	"github.com/dignifiedquire/iroh-drop/internal/blobs"
	"github.com/dignifiedquire/iroh-drop/internal/discovery"
	"github.com/dignifiedquire/iroh-drop/internal/drop"
	"github.com/dignifiedquire/iroh-drop/internal/history"
	"github.com/dignifiedquire/iroh-drop/internal/logger"
	"github.com/dignifiedquire/iroh-drop/internal/protocol"
	"github.com/dignifiedquire/iroh-drop/internal/registry"
	"github.com/dignifiedquire/iroh-drop/internal/transport"
)

// freshnessWindow filters discovery sightings before an introduction is
// attempted.
const freshnessWindow = 60 * time.Second

// Discovery is the slice of the discovery service the node consumes,
// declared here so tests can inject sightings without real mDNS.
type Discovery interface {
	Advertise(id protocol.NodeID, name string, port int) error
	Browse(ctx context.Context) error
	Events() <-chan discovery.Peer
	Visible(window time.Duration) []discovery.Peer
	Close()
}

// Peer is a successfully introduced peer, as returned by Discover.
type Peer struct {
	Name string
	ID   protocol.NodeID
}

type Options struct {
	// Name is the display name announced to other nodes.
	Name string
	// ListenAddr is the UDP address the endpoint binds; ":0" picks a port.
	ListenAddr string
	// DataDir holds the blob store and the transfer history.
	DataDir string
	Logger  *logrus.Logger
	// Discovery overrides the mDNS service, for tests.
	Discovery Discovery
}

type Node struct {
	name     string
	log      *logrus.Logger
	endpoint *transport.Endpoint
	registry *registry.Registry
	engine   *drop.Engine
	blobSrv  *blobs.Server
	disc     Discovery
	history  *history.Store

	// OnDiscovery fires when a peer from the live discovery stream has
	// been introduced. OnFileDownloaded fires when a transfer completed.
	// Both must be set before Run.
	OnDiscovery      func(name, id string)
	OnFileDownloaded func(name, hashHex string, size uint64)
}

func New(opts Options) (*Node, error) {
	log := opts.Logger
	if log == nil {
		log = logger.New()
	}

	listenAddr := opts.ListenAddr
	if listenAddr == "" {
		listenAddr = "0.0.0.0:0"
	}

	endpoint, err := transport.NewEndpoint(listenAddr, []string{protocol.ALPN, blobs.ALPN}, log)
	if err != nil {
		return nil, err
	}

	store, err := blobs.NewStore(filepath.Join(opts.DataDir, "blobs"))
	if err != nil {
		_ = endpoint.Close()
		return nil, err
	}

	hist, err := history.NewStore(filepath.Join(opts.DataDir, "history.db"))
	if err != nil {
		_ = endpoint.Close()
		return nil, err
	}

	reg := registry.New()
	engine := drop.New(drop.Options{
		Name:     opts.Name,
		Registry: reg,
		Store:    blobs.NewClient(store, endpoint, log),
		Dialer:   endpoint,
		Logger:   log,
	})

	disc := opts.Discovery
	if disc == nil {
		disc = discovery.New(endpoint.NodeID(), log)
	}

	return &Node{
		name:     opts.Name,
		log:      log,
		endpoint: endpoint,
		registry: reg,
		engine:   engine,
		blobSrv:  blobs.NewServer(store, log),
		disc:     disc,
		history:  hist,
	}, nil
}

func (n *Node) ID() protocol.NodeID {
	return n.endpoint.NodeID()
}

// IDString returns this node's identity for display.
func (n *Node) IDString() string {
	return n.endpoint.NodeID().String()
}

// ListenAddr reports the bound UDP address of the node's endpoint.
func (n *Node) ListenAddr() string {
	return n.endpoint.LocalAddr().String()
}

func (n *Node) Name() string {
	return n.name
}

func (n *Node) Registry() *registry.Registry {
	return n.registry
}

// Run advertises the node, serves inbound connections, and pumps the
// discovery stream and the event relay until ctx is cancelled.
func (n *Node) Run(ctx context.Context) error {
	if err := n.disc.Advertise(n.endpoint.NodeID(), n.name, n.endpoint.Port()); err != nil {
		return fmt.Errorf("advertising: %w", err)
	}
	if err := n.disc.Browse(ctx); err != nil {
		return fmt.Errorf("browsing: %w", err)
	}

	n.log.Infof("node %s (%q) listening on %s", n.endpoint.NodeID().Short(), n.name, n.endpoint.LocalAddr())

	go n.acceptLoop(ctx)
	n.eventLoop(ctx)
	return nil
}

func (n *Node) Close() {
	n.disc.Close()
	_ = n.endpoint.Close()
}

// acceptLoop routes inbound connections by negotiated protocol: drop
// exchanges to the engine, blob requests to the blob server. Each
// connection gets its own task.
func (n *Node) acceptLoop(ctx context.Context) {
	for {
		conn, err := n.endpoint.Accept(ctx)
		if err != nil {
			if ctx.Err() == nil {
				n.log.Warnf("accept: %v", err)
			}
			return
		}

		switch conn.ALPN() {
		case protocol.ALPN:
			go n.engine.HandleConn(ctx, conn)
		case blobs.ALPN:
			go func() {
				defer func() { _ = conn.Close() }()
				n.blobSrv.Serve(ctx, conn)
			}()
		default:
			n.log.Warnf("connection from %s with unknown protocol %q", conn.RemoteID().Short(), conn.ALPN())
			_ = conn.Close()
		}
	}
}

// eventLoop multiplexes the discovery stream and the engine's event relay.
// Neither source can starve the other; discovery handling spawns
// introductions as separate tasks so a slow peer cannot block the loop.
func (n *Node) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case peer := <-n.disc.Events():
			n.handleSeen(ctx, peer)
		case ev := <-n.engine.Events():
			n.handleEvent(ev)
		}
	}
}

func (n *Node) handleSeen(ctx context.Context, peer discovery.Peer) {
	n.endpoint.AddAddr(peer.ID, peer.Addr)

	// Re-introduction on rediscovery would be a redundant handshake.
	if n.registry.Contains(peer.ID) {
		return
	}

	go func() {
		name, err := n.engine.Introduce(ctx, peer.ID)
		if err != nil {
			n.log.Warnf("introduction to %s failed: %v", peer.ID.Short(), err)
			return
		}
		n.log.Infof("introduced to %q (%s)", name, peer.ID.Short())
		if n.OnDiscovery != nil {
			n.OnDiscovery(name, peer.ID.String())
		}
	}()
}

func (n *Node) handleEvent(ev drop.Event) {
	switch ev := ev.(type) {
	case drop.FileDownloaded:
		peerName := ""
		if node, ok := n.registry.Get(ev.From); ok {
			peerName = node.Name
		}
		n.log.Infof("downloaded %q (%d bytes) from %q", ev.Name, ev.Size, peerName)

		err := n.history.Record(history.Transfer{
			Direction: history.DirectionReceive,
			PeerID:    ev.From.String(),
			PeerName:  peerName,
			FileName:  ev.Name,
			Hash:      ev.Hash.String(),
			Size:      ev.Size,
		})
		if err != nil {
			n.log.Warnf("recording download: %v", err)
		}

		if n.OnFileDownloaded != nil {
			n.OnFileDownloaded(ev.Name, ev.Hash.String(), ev.Size)
		}
	}
}

// Discover scans peers seen within the freshness window, introduces the
// unknown ones, and returns every peer that ended up introduced.
// Introductions run concurrently; one unresponsive peer does not stall
// the scan.
func (n *Node) Discover(ctx context.Context) []Peer {
	visible := n.disc.Visible(freshnessWindow)

	var (
		mu    sync.Mutex
		wg    sync.WaitGroup
		peers []Peer
	)
	for _, seen := range visible {
		n.endpoint.AddAddr(seen.ID, seen.Addr)

		wg.Add(1)
		go func(seen discovery.Peer) {
			defer wg.Done()

			if node, ok := n.registry.Get(seen.ID); ok {
				mu.Lock()
				peers = append(peers, Peer{Name: node.Name, ID: seen.ID})
				mu.Unlock()
				return
			}

			name, err := n.engine.Introduce(ctx, seen.ID)
			if err != nil {
				n.log.Warnf("introduction to %s failed: %v", seen.ID.Short(), err)
				return
			}
			mu.Lock()
			peers = append(peers, Peer{Name: name, ID: seen.ID})
			mu.Unlock()
		}(seen)
	}
	wg.Wait()

	n.log.Infof("discover: %d visible, %d introduced", len(visible), len(peers))
	return peers
}

// SendFile publishes data and offers it to the identified peer.
func (n *Node) SendFile(ctx context.Context, idStr, fileName string, data []byte) error {
	id, err := protocol.ParseNodeID(idStr)
	if err != nil {
		return err
	}

	if err := n.engine.SendFile(ctx, id, fileName, data); err != nil {
		return err
	}

	peerName := ""
	if node, ok := n.registry.Get(id); ok {
		peerName = node.Name
	}
	hash := protocol.Hash(blake3.Sum256(data))
	recErr := n.history.Record(history.Transfer{
		Direction: history.DirectionSend,
		PeerID:    id.String(),
		PeerName:  peerName,
		FileName:  fileName,
		Hash:      hash.String(),
		Size:      uint64(len(data)),
	})
	if recErr != nil {
		n.log.Warnf("recording send: %v", recErr)
	}
	return nil
}

// Recent lists the newest entries of the transfer history.
func (n *Node) Recent(limit int) ([]history.Transfer, error) {
	return n.history.Recent(limit)
}
