package protocol

type Message interface {
	Type() MessageType
}

// IntroRequest announces the sender's display name and asks the remote
// node to answer with its own.
type IntroRequest struct {
	Name string
}

func (IntroRequest) Type() MessageType { return MsgIntroRequest }

// IntroResponse carries the responder's display name.
type IntroResponse struct {
	Name string
}

func (IntroResponse) Type() MessageType { return MsgIntroResponse }

// SendRequest offers a file by content descriptor. The bytes themselves
// never cross this stream; the receiver fetches them from the blob store
// of the sending node, keyed by Hash.
type SendRequest struct {
	Name string
	Hash Hash
	Size uint64
}

func (SendRequest) Type() MessageType { return MsgSendRequest }

// Finish terminates the logical exchange on a stream.
type Finish struct{}

func (Finish) Type() MessageType { return MsgFinish }
