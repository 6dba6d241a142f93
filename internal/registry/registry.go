// Package registry tracks the peers this node has exchanged introductions
// with. A peer present in the registry is trusted to send transfer requests.
package registry

import (
	"sync"

	"github.com/dignifiedquire/iroh-drop/internal/protocol"
)

// RemoteNode holds what we know about an introduced peer.
type RemoteNode struct {
	Name string
}

// Registry is shared by all connection tasks. Entries are never removed;
// concurrent upserts for the same peer resolve last-write-wins.
type Registry struct {
	mu    sync.RWMutex
	nodes map[protocol.NodeID]RemoteNode
}

func New() *Registry {
	return &Registry{
		nodes: make(map[protocol.NodeID]RemoteNode),
	}
}

// Upsert inserts or overwrites the entry for id.
func (r *Registry) Upsert(id protocol.NodeID, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes[id] = RemoteNode{Name: name}
}

func (r *Registry) Contains(id protocol.NodeID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.nodes[id]
	return ok
}

func (r *Registry) Get(id protocol.NodeID) (RemoteNode, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	node, ok := r.nodes[id]
	return node, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nodes)
}
