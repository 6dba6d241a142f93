package protocol

import (
	"encoding/hex"
	"fmt"
)

// Hash is a blake3 digest referencing bytes held by the blob store.
type Hash [HashSize]byte

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

func ParseHash(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("parsing hash: %w", err)
	}
	if len(b) != HashSize {
		return h, fmt.Errorf("parsing hash: expected %d bytes, got %d", HashSize, len(b))
	}
	copy(h[:], b)
	return h, nil
}

// NodeID is the identity the transport assigns to a node, derived from its
// certificate public key. It is opaque to the protocol layer.
type NodeID [NodeIDSize]byte

func (id NodeID) String() string {
	return hex.EncodeToString(id[:])
}

// Short returns an abbreviated form for log lines.
func (id NodeID) Short() string {
	return hex.EncodeToString(id[:4])
}

func ParseNodeID(s string) (NodeID, error) {
	var id NodeID
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("parsing node id: %w", err)
	}
	if len(b) != NodeIDSize {
		return id, fmt.Errorf("parsing node id: expected %d bytes, got %d", NodeIDSize, len(b))
	}
	copy(id[:], b)
	return id, nil
}
