// Package blobs is the content-addressed store: bytes are published under
// their blake3 digest and fetched from other nodes by that digest over a
// dedicated blob-transfer protocol.
package blobs

import (
	"fmt"
	"os"
	"path/filepath"

	"lukechampine.com/blake3"

	"github.com/dignifiedquire/iroh-drop/internal/protocol"
)

// Descriptor references stored bytes by content hash.
type Descriptor struct {
	Hash protocol.Hash
	Size uint64
}

// Store keeps blobs on disk under root, sharded by the first hex byte of
// the hash so a single directory never collects every blob.
type Store struct {
	root string
}

func NewStore(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating blob root: %w", err)
	}
	return &Store{root: root}, nil
}

// Add publishes data and returns its descriptor. Adding the same bytes
// twice is a no-op yielding the same descriptor.
func (s *Store) Add(data []byte) (Descriptor, error) {
	hash := protocol.Hash(blake3.Sum256(data))
	desc := Descriptor{Hash: hash, Size: uint64(len(data))}

	path := s.path(hash)
	if _, err := os.Stat(path); err == nil {
		return desc, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Descriptor{}, fmt.Errorf("creating blob dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return Descriptor{}, fmt.Errorf("writing blob %s: %w", hash, err)
	}
	return desc, nil
}

func (s *Store) Get(hash protocol.Hash) ([]byte, error) {
	data, err := os.ReadFile(s.path(hash))
	if err != nil {
		return nil, fmt.Errorf("reading blob %s: %w", hash, err)
	}
	return data, nil
}

func (s *Store) Has(hash protocol.Hash) bool {
	_, err := os.Stat(s.path(hash))
	return err == nil
}

func (s *Store) path(hash protocol.Hash) string {
	hex := hash.String()
	return filepath.Join(s.root, hex[:2], hex)
}
