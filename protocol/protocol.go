// Package protocol implements the binary frame format used by echostream transports.
//
// It solves TCP's sticky packet problem by using a fixed-size 14-byte header
// followed by a variable-length body. The receiver reads the header first to
// determine the body length, then reads exactly that many bytes.
//
// Frame format:
//
//	0      3  4  5  6         10        14
//	┌──────┬──┬──┬──┬─────────┬─────────┬───────────────┐
//	│magic │v │ct│mt│   id    │ bodyLen │    body ...    │
//	│ ecs  │01│  │  │ uint32  │ uint32  │ bodyLen bytes  │
//	└──────┴──┴──┴──┴─────────┴─────────┴───────────────┘
//
// The body is one codec-encoded message.Message. The id duplicates the message id so a
// transport can route or log a frame without decoding its body.
package protocol

import (
	"encoding/binary"
	"fmt"
	"io"

	"echostream/message"
)

// Magic number bytes: "ecs" (echostream).
// Used to quickly identify whether the incoming data is a valid echostream frame,
// rejecting non-protocol connections (e.g., HTTP clients hitting the wrong port).
const (
	MagicNumber byte = 0x65 // 'e'
	MagicByte2  byte = 0x63 // 'c'
	MagicByte3  byte = 0x73 // 's'
	Version     byte = 0x01
	HeaderSize  int  = 14 // 3 (magic) + 1 (version) + 1 (codec) + 1 (msgType) + 4 (id) + 4 (bodyLen)

	// MaxBodyLen bounds a single frame so a corrupt length cannot trigger a huge allocation.
	MaxBodyLen uint32 = 64 << 20
)

// MsgType mirrors message.Kind on the wire, plus the body-less heartbeat.
type MsgType byte

const (
	MsgTypeRequest   MsgType = 0 // RPC request
	MsgTypeResponse  MsgType = 1 // RPC response
	MsgTypeHeartbeat MsgType = 2 // KeepAlive probe (no body)
	MsgTypeEvent     MsgType = 3 // Fire-and-forget event
	MsgTypeStream    MsgType = 4 // Stream frame
)

// Codec type constants, mirrored from codec package to avoid circular import.
const (
	CodecTypeJSON    byte = 0
	CodecTypeBinary  byte = 1
	CodecTypeMsgPack byte = 2
)

// Header represents the fixed 14-byte frame header.
type Header struct {
	CodecType byte    // Serialization format of the body
	MsgType   MsgType // Request, Response, Event, Stream or Heartbeat
	Seq       uint32  // Message id: request/response correlation key, event id or stream id
	BodyLen   uint32  // Body length in bytes, solves TCP sticky packet problem
}

// MsgTypeOf returns the frame type for msg.
func MsgTypeOf(msg message.Message) MsgType {
	switch msg.Kind() {
	case message.KindResponse:
		return MsgTypeResponse
	case message.KindEvent:
		return MsgTypeEvent
	case message.KindStream:
		return MsgTypeStream
	default:
		return MsgTypeRequest
	}
}

// Encode writes a complete frame (header + body) to w.
// The caller must hold a write lock if multiple goroutines share the same writer,
// otherwise frames from different messages will interleave and corrupt the stream.
func Encode(w io.Writer, h *Header, body []byte) error {
	buf := make([]byte, HeaderSize, HeaderSize+len(body))

	copy(buf[0:3], []byte{MagicNumber, MagicByte2, MagicByte3})
	buf[3] = Version
	buf[4] = h.CodecType
	buf[5] = byte(h.MsgType)
	binary.BigEndian.PutUint32(buf[6:10], h.Seq)
	binary.BigEndian.PutUint32(buf[10:14], uint32(len(body)))

	// One Write per frame: a websocket message writer or a net.Conn sees the frame as a unit.
	buf = append(buf, body...)
	_, err := w.Write(buf)
	return err
}

// Decode reads a complete frame (header + body) from r.
// It validates the magic number, version, codec type, message type and body length.
// Uses io.ReadFull to guarantee exactly N bytes are read, preventing partial reads.
func Decode(r io.Reader) (*Header, []byte, error) {
	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return nil, nil, err
	}

	if headerBuf[0] != MagicNumber || headerBuf[1] != MagicByte2 || headerBuf[2] != MagicByte3 {
		return nil, nil, fmt.Errorf("invalid magic number: %x", headerBuf[0:3])
	}

	if headerBuf[3] != Version {
		return nil, nil, fmt.Errorf("unsupported version: %d", headerBuf[3])
	}

	if headerBuf[4] != CodecTypeJSON && headerBuf[4] != CodecTypeBinary && headerBuf[4] != CodecTypeMsgPack {
		return nil, nil, fmt.Errorf("unsupported codec type: %d", headerBuf[4])
	}

	msgType := MsgType(headerBuf[5])
	if msgType > MsgTypeStream {
		return nil, nil, fmt.Errorf("unsupported message type: %d", msgType)
	}

	seq := binary.BigEndian.Uint32(headerBuf[6:10])
	bodyLen := binary.BigEndian.Uint32(headerBuf[10:14])
	if bodyLen > MaxBodyLen {
		return nil, nil, fmt.Errorf("body length %d exceeds limit %d", bodyLen, MaxBodyLen)
	}

	// Read exactly bodyLen bytes: this is how we solve TCP sticky packet
	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, nil, err
	}

	return &Header{
		CodecType: headerBuf[4],
		MsgType:   msgType,
		Seq:       seq,
		BodyLen:   bodyLen,
	}, body, nil
}
