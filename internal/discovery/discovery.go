// Package discovery announces this node on the local network over mDNS and
// watches for other iroh-drop nodes, producing a stream of "peer seen"
// events with last-seen timestamps.
package discovery

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/sirupsen/logrus"

	"github.com/dignifiedquire/iroh-drop/internal/protocol"
)

const (
	serviceType = "_iroh-drop._tcp"
	domain      = "local."

	eventBuffer = 16
)

// Peer is one sighting of a remote node.
type Peer struct {
	ID       protocol.NodeID
	Name     string
	Addr     string
	LastSeen time.Time
}

// Service wraps mDNS advertise and browse. Events() delivers every sighting
// of a remote node; Visible filters the sighting cache by freshness.
type Service struct {
	self protocol.NodeID
	log  *logrus.Logger

	events chan Peer

	mu     sync.Mutex
	server *zeroconf.Server
	seen   map[protocol.NodeID]Peer
}

func New(self protocol.NodeID, log *logrus.Logger) *Service {
	return &Service{
		self:   self,
		log:    log,
		events: make(chan Peer, eventBuffer),
		seen:   make(map[protocol.NodeID]Peer),
	}
}

// Advertise registers this node's mDNS service. The node id and display
// name travel in TXT records; the port is the endpoint's QUIC port.
func (s *Service) Advertise(id protocol.NodeID, name string, port int) error {
	instance := fmt.Sprintf("iroh-drop-%s", id.Short())
	txt := []string{
		"id=" + id.String(),
		"name=" + name,
	}

	server, err := zeroconf.Register(instance, serviceType, domain, port, txt, nil)
	if err != nil {
		return fmt.Errorf("registering mDNS service: %w", err)
	}

	s.mu.Lock()
	s.server = server
	s.mu.Unlock()

	s.log.Debugf("advertising %s on port %d", instance, port)
	return nil
}

// Browse starts watching for peers until ctx is cancelled. Sightings are
// recorded in the cache and forwarded to Events().
func (s *Service) Browse(ctx context.Context) error {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return fmt.Errorf("creating mDNS resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry, eventBuffer)
	if err := resolver.Browse(ctx, serviceType, domain, entries); err != nil {
		return fmt.Errorf("browsing mDNS: %w", err)
	}

	go func() {
		for entry := range entries {
			peer, ok := parseEntry(entry)
			if !ok {
				s.log.Debugf("ignoring malformed mDNS entry %q", entry.Instance)
				continue
			}
			if peer.ID == s.self {
				continue
			}

			s.mu.Lock()
			s.seen[peer.ID] = peer
			s.mu.Unlock()

			select {
			case s.events <- peer:
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

func (s *Service) Events() <-chan Peer {
	return s.events
}

// Visible returns peers seen within the given window.
func (s *Service) Visible(window time.Duration) []Peer {
	cutoff := time.Now().Add(-window)

	s.mu.Lock()
	defer s.mu.Unlock()

	var peers []Peer
	for _, p := range s.seen {
		if p.LastSeen.After(cutoff) {
			peers = append(peers, p)
		}
	}
	return peers
}

func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		s.server.Shutdown()
		s.server = nil
	}
}

// parseEntry extracts a Peer from an mDNS service entry. Entries without a
// parseable id TXT record or without any address are ignored.
func parseEntry(entry *zeroconf.ServiceEntry) (Peer, bool) {
	var idStr, name string
	for _, txt := range entry.Text {
		if v, ok := strings.CutPrefix(txt, "id="); ok {
			idStr = v
		}
		if v, ok := strings.CutPrefix(txt, "name="); ok {
			name = v
		}
	}

	id, err := protocol.ParseNodeID(idStr)
	if err != nil {
		return Peer{}, false
	}

	var ip net.IP
	switch {
	case len(entry.AddrIPv4) > 0:
		ip = entry.AddrIPv4[0]
	case len(entry.AddrIPv6) > 0:
		ip = entry.AddrIPv6[0]
	default:
		return Peer{}, false
	}

	return Peer{
		ID:       id,
		Name:     name,
		Addr:     net.JoinHostPort(ip.String(), strconv.Itoa(entry.Port)),
		LastSeen: time.Now(),
	}, true
}
