package drop

import "github.com/dignifiedquire/iroh-drop/internal/protocol"

// Event is what the engine reports to the host application through the
// event relay.
type Event interface {
	isEvent()
}

// FileDownloaded fires after the receive path fetched the offered content
// and stored it locally.
type FileDownloaded struct {
	Name string
	Hash protocol.Hash
	Size uint64
	From protocol.NodeID
}

func (FileDownloaded) isEvent() {}
