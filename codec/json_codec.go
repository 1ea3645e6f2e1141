package codec

import (
	"encoding/json"

	"echostream/errs"
	"echostream/message"
)

// JSONCodec uses Go's standard library encoding/json for serialization.
// Pros: human-readable, cross-language, easy to debug.
// Cons: slower due to reflection + string parsing, larger payload (byte slices become base64).
type JSONCodec struct{}

func (c *JSONCodec) Encode(msg message.Message) ([]byte, error) {
	env, err := wrap(msg)
	if err != nil {
		return nil, errs.Serialization(err)
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, errs.Serialization(err)
	}
	return data, nil
}

func (c *JSONCodec) Decode(data []byte) (message.Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errs.Serialization(err)
	}
	msg, err := env.unwrap()
	if err != nil {
		return nil, errs.Serialization(err)
	}
	return msg, nil
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}
