package protocol

// ALPN identifies the drop protocol during connection negotiation.
const ALPN = "iroh-drop/0"

const (
	HashSize   = 32
	NodeIDSize = 32
	// MaxFrameSize caps a single message frame on the wire. Frames only
	// carry names and a content descriptor, never file bytes.
	MaxFrameSize = 64 * 1024
	// MaxNameLen bounds display names and file names inside a frame.
	MaxNameLen = 1024
)

type MessageType uint16

const (
	MsgIntroRequest  MessageType = 0x0001
	MsgIntroResponse MessageType = 0x0002
	MsgSendRequest   MessageType = 0x0010
	MsgFinish        MessageType = 0x00FF
)

func (t MessageType) String() string {
	switch t {
	case MsgIntroRequest:
		return "INTRO_REQUEST"
	case MsgIntroResponse:
		return "INTRO_RESPONSE"
	case MsgSendRequest:
		return "SEND_REQUEST"
	case MsgFinish:
		return "FINISH"
	default:
		return "UNKNOWN"
	}
}
