// Package codec turns a message.Message into bytes and back.
//
// The core never depends on a concrete format; a codec only has to round-trip every
// Message exactly, including the absence of optional fields (nil data, nil response message).
package codec

import (
	"fmt"

	"echostream/message"
)

type CodecType byte

const (
	CodecTypeJSON    CodecType = 0
	CodecTypeBinary  CodecType = 1
	CodecTypeMsgPack CodecType = 2
)

func (t CodecType) String() string {
	switch t {
	case CodecTypeJSON:
		return "json"
	case CodecTypeBinary:
		return "binary"
	case CodecTypeMsgPack:
		return "msgpack"
	default:
		return fmt.Sprintf("codec(%d)", byte(t))
	}
}

type Codec interface {
	Encode(msg message.Message) ([]byte, error)
	Decode(data []byte) (message.Message, error)
	Type() CodecType
}

// GetCodec returns the codec for codecType, falling back to the binary codec.
func GetCodec(codecType CodecType) Codec {
	switch codecType {
	case CodecTypeJSON:
		return &JSONCodec{}
	case CodecTypeMsgPack:
		return &MsgPackCodec{}
	default:
		return &BinaryCodec{}
	}
}

// ParseCodecType maps a config name ("json", "binary", "msgpack") to its CodecType.
func ParseCodecType(name string) (CodecType, error) {
	switch name {
	case "json":
		return CodecTypeJSON, nil
	case "binary", "":
		return CodecTypeBinary, nil
	case "msgpack":
		return CodecTypeMsgPack, nil
	default:
		return 0, fmt.Errorf("unknown codec %q", name)
	}
}

// Valid reports whether t names a known codec.
func (t CodecType) Valid() bool {
	return t == CodecTypeJSON || t == CodecTypeBinary || t == CodecTypeMsgPack
}

// envelope is the self-describing shape used by the JSON and MsgPack codecs:
// the kind tag plus exactly one populated variant.
type envelope struct {
	Kind     message.Kind         `json:"kind" msgpack:"k"`
	Request  *message.RequestMsg  `json:"request,omitempty" msgpack:"req,omitempty"`
	Response *message.ResponseMsg `json:"response,omitempty" msgpack:"res,omitempty"`
	Event    *message.EventMsg    `json:"event,omitempty" msgpack:"evt,omitempty"`
	Stream   *message.StreamMsg   `json:"stream,omitempty" msgpack:"str,omitempty"`
}

func wrap(msg message.Message) (*envelope, error) {
	switch m := msg.(type) {
	case *message.RequestMsg:
		return &envelope{Kind: message.KindRequest, Request: m}, nil
	case *message.ResponseMsg:
		return &envelope{Kind: message.KindResponse, Response: m}, nil
	case *message.EventMsg:
		return &envelope{Kind: message.KindEvent, Event: m}, nil
	case *message.StreamMsg:
		return &envelope{Kind: message.KindStream, Stream: m}, nil
	default:
		return nil, fmt.Errorf("unsupported message %T", msg)
	}
}

func (e *envelope) unwrap() (message.Message, error) {
	var msg message.Message
	switch e.Kind {
	case message.KindRequest:
		if e.Request != nil {
			msg = e.Request
		}
	case message.KindResponse:
		if e.Response != nil {
			msg = e.Response
		}
	case message.KindEvent:
		if e.Event != nil {
			msg = e.Event
		}
	case message.KindStream:
		if e.Stream != nil {
			msg = e.Stream
		}
	}
	if msg == nil {
		return nil, fmt.Errorf("envelope of kind %d has no %s body", e.Kind, e.Kind)
	}
	return msg, nil
}
