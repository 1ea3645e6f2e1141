package codec

import (
	"echostream/errs"
	"echostream/message"

	"github.com/vmihailenco/msgpack/v5"
)

// MsgPackCodec encodes the same envelope as JSONCodec with MessagePack:
// byte slices stay raw binary and field names are one to three letters.
type MsgPackCodec struct{}

func (c *MsgPackCodec) Encode(msg message.Message) ([]byte, error) {
	env, err := wrap(msg)
	if err != nil {
		return nil, errs.Serialization(err)
	}
	data, err := msgpack.Marshal(env)
	if err != nil {
		return nil, errs.Serialization(err)
	}
	return data, nil
}

func (c *MsgPackCodec) Decode(data []byte) (message.Message, error) {
	var env envelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return nil, errs.Serialization(err)
	}
	msg, err := env.unwrap()
	if err != nil {
		return nil, errs.Serialization(err)
	}
	return msg, nil
}

func (c *MsgPackCodec) Type() CodecType {
	return CodecTypeMsgPack
}
