package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrFrameTooLarge is returned when a length prefix exceeds MaxFrameSize.
// There is no way to resync the stream after it, so the caller must treat
// the stream as dead.
var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

// DecodeError marks a malformed frame whose bytes were fully consumed from
// the stream. The stream itself remains usable and the caller may continue
// reading frames after logging the error.
type DecodeError struct {
	reason string
}

func (e *DecodeError) Error() string {
	return "decode: " + e.reason
}

func decodeErrorf(format string, args ...any) *DecodeError {
	return &DecodeError{reason: fmt.Sprintf(format, args...)}
}

// Codec frames protocol messages on an ordered byte stream. Each frame is a
// 4-byte big-endian length prefix followed by the payload: a 2-byte message
// type tag and the message fields in fixed order. Strings are a 2-byte
// length followed by UTF-8 bytes. Both ends of a connection use the same
// codec for reading and writing.
type Codec struct{}

func NewCodec() *Codec {
	return &Codec{}
}

func (c *Codec) Encode(w io.Writer, msg Message) error {
	payload, err := marshal(msg)
	if err != nil {
		return err
	}

	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return err
	}
	return nil
}

// Decode reads one frame. A clean end of stream at a frame boundary is
// io.EOF; a stream ending mid-frame is io.ErrUnexpectedEOF. Malformed
// payloads surface as *DecodeError.
func (c *Codec) Decode(r io.Reader) (Message, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(hdr[:])
	if length > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}

	return unmarshal(payload)
}

func (c *Codec) EncodeToBytes(msg Message) ([]byte, error) {
	var buf bytes.Buffer
	if err := c.Encode(&buf, msg); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *Codec) DecodeFromBytes(data []byte) (Message, error) {
	return c.Decode(bytes.NewReader(data))
}

func marshal(msg Message) ([]byte, error) {
	buf := make([]byte, 2, 64)
	binary.BigEndian.PutUint16(buf, uint16(msg.Type()))

	var err error
	switch m := msg.(type) {
	case *IntroRequest:
		buf, err = appendString(buf, m.Name)
	case *IntroResponse:
		buf, err = appendString(buf, m.Name)
	case *SendRequest:
		if buf, err = appendString(buf, m.Name); err != nil {
			return nil, err
		}
		buf = append(buf, m.Hash[:]...)
		buf = binary.BigEndian.AppendUint64(buf, m.Size)
	case *Finish:
	default:
		return nil, fmt.Errorf("cannot encode message type %T", msg)
	}
	if err != nil {
		return nil, err
	}
	return buf, nil
}

func unmarshal(payload []byte) (Message, error) {
	if len(payload) < 2 {
		return nil, decodeErrorf("frame shorter than type tag")
	}
	typ := MessageType(binary.BigEndian.Uint16(payload))
	rest := payload[2:]

	switch typ {
	case MsgIntroRequest:
		name, rest, err := readString(rest)
		if err != nil {
			return nil, err
		}
		if len(rest) != 0 {
			return nil, decodeErrorf("%s: %d trailing bytes", typ, len(rest))
		}
		return &IntroRequest{Name: name}, nil

	case MsgIntroResponse:
		name, rest, err := readString(rest)
		if err != nil {
			return nil, err
		}
		if len(rest) != 0 {
			return nil, decodeErrorf("%s: %d trailing bytes", typ, len(rest))
		}
		return &IntroResponse{Name: name}, nil

	case MsgSendRequest:
		name, rest, err := readString(rest)
		if err != nil {
			return nil, err
		}
		if len(rest) != HashSize+8 {
			return nil, decodeErrorf("%s: expected %d descriptor bytes, got %d", typ, HashSize+8, len(rest))
		}
		var h Hash
		copy(h[:], rest[:HashSize])
		size := binary.BigEndian.Uint64(rest[HashSize:])
		return &SendRequest{Name: name, Hash: h, Size: size}, nil

	case MsgFinish:
		if len(rest) != 0 {
			return nil, decodeErrorf("%s: %d trailing bytes", typ, len(rest))
		}
		return &Finish{}, nil

	default:
		return nil, decodeErrorf("unknown message type 0x%04x", uint16(typ))
	}
}

func appendString(buf []byte, s string) ([]byte, error) {
	if len(s) > MaxNameLen {
		return nil, fmt.Errorf("string of %d bytes exceeds maximum of %d", len(s), MaxNameLen)
	}
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...), nil
}

func readString(b []byte) (string, []byte, error) {
	if len(b) < 2 {
		return "", nil, decodeErrorf("string length prefix truncated")
	}
	n := int(binary.BigEndian.Uint16(b))
	b = b[2:]
	if n > MaxNameLen {
		return "", nil, decodeErrorf("string of %d bytes exceeds maximum of %d", n, MaxNameLen)
	}
	if len(b) < n {
		return "", nil, decodeErrorf("string truncated: want %d bytes, have %d", n, len(b))
	}
	return string(b[:n]), b[n:], nil
}
