package codec

import (
	"encoding/binary"
	"errors"
	"fmt"

	"echostream/errs"
	"echostream/message"
)

// BinaryCodec is a hand-written big-endian layout. Every body starts with the kind byte:
//
//	request  : kind | id u32 | name | opt(data) | opt(metadata)
//	response : kind | id u32 | code u16 | opt(message) | opt(data)
//	event    : kind | id u32 | name | opt(data)
//	stream   : kind | id u32 | name | seq u32 | sender_ts u64 | opt(data) | fin u8 | opt(metadata)
//
// name is u16 length + bytes; opt(x) is a presence byte (0 = absent) followed by a u32
// length + bytes, or for metadata a u16 pair count + u16-prefixed key/value strings.
type BinaryCodec struct{}

var errTruncated = errors.New("BinaryCodec: truncated body")

func (c *BinaryCodec) Encode(msg message.Message) ([]byte, error) {
	w := &writer{}
	switch m := msg.(type) {
	case *message.RequestMsg:
		w.u8(byte(message.KindRequest))
		w.u32(m.ID)
		if err := w.str16(m.Name); err != nil {
			return nil, errs.Serialization(err)
		}
		w.optBytes(m.Data)
		if err := w.metadata(m.Metadata); err != nil {
			return nil, errs.Serialization(err)
		}
	case *message.ResponseMsg:
		w.u8(byte(message.KindResponse))
		w.u32(m.ID)
		w.u16(uint16(m.Code))
		if m.Message == nil {
			w.u8(0)
		} else {
			w.u8(1)
			w.bytes32([]byte(*m.Message))
		}
		w.optBytes(m.Data)
	case *message.EventMsg:
		w.u8(byte(message.KindEvent))
		w.u32(m.ID)
		if err := w.str16(m.Name); err != nil {
			return nil, errs.Serialization(err)
		}
		w.optBytes(m.Data)
	case *message.StreamMsg:
		w.u8(byte(message.KindStream))
		w.u32(m.ID)
		if err := w.str16(m.Name); err != nil {
			return nil, errs.Serialization(err)
		}
		w.u32(m.Seq)
		w.u64(uint64(m.SenderTS))
		w.optBytes(m.Data)
		if m.Fin {
			w.u8(1)
		} else {
			w.u8(0)
		}
		if err := w.metadata(m.Metadata); err != nil {
			return nil, errs.Serialization(err)
		}
	default:
		return nil, errs.Serialization(fmt.Errorf("BinaryCodec: unsupported message %T", msg))
	}
	return w.buf, nil
}

func (c *BinaryCodec) Decode(data []byte) (message.Message, error) {
	r := &reader{buf: data}
	kind := message.Kind(r.u8())
	var msg message.Message
	switch kind {
	case message.KindRequest:
		m := &message.RequestMsg{ID: r.u32(), Name: r.str16()}
		m.Data = r.optBytes()
		m.Metadata = r.metadata()
		msg = m
	case message.KindResponse:
		m := &message.ResponseMsg{ID: r.u32(), Code: message.StatusCode(r.u16())}
		if r.u8() != 0 {
			text := string(r.bytes32())
			m.Message = &text
		}
		m.Data = r.optBytes()
		msg = m
	case message.KindEvent:
		m := &message.EventMsg{ID: r.u32(), Name: r.str16()}
		m.Data = r.optBytes()
		msg = m
	case message.KindStream:
		m := &message.StreamMsg{ID: r.u32(), Name: r.str16()}
		m.Seq = r.u32()
		m.SenderTS = message.Timestamp(r.u64())
		m.Data = r.optBytes()
		m.Fin = r.u8() != 0
		m.Metadata = r.metadata()
		msg = m
	default:
		if r.err != nil {
			return nil, errs.Serialization(r.err)
		}
		return nil, errs.Serialization(fmt.Errorf("BinaryCodec: unknown kind %d", kind))
	}
	if r.err != nil {
		return nil, errs.Serialization(r.err)
	}
	if r.off != len(r.buf) {
		return nil, errs.Serialization(fmt.Errorf("BinaryCodec: %d trailing bytes", len(r.buf)-r.off))
	}
	return msg, nil
}

func (c *BinaryCodec) Type() CodecType {
	return CodecTypeBinary
}

type writer struct {
	buf []byte
}

func (w *writer) u8(v byte) { w.buf = append(w.buf, v) }

func (w *writer) u16(v uint16) { w.buf = binary.BigEndian.AppendUint16(w.buf, v) }

func (w *writer) u32(v uint32) { w.buf = binary.BigEndian.AppendUint32(w.buf, v) }

func (w *writer) u64(v uint64) { w.buf = binary.BigEndian.AppendUint64(w.buf, v) }

func (w *writer) str16(s string) error {
	if len(s) > 0xFFFF {
		return fmt.Errorf("BinaryCodec: string of %d bytes exceeds 65535", len(s))
	}
	w.u16(uint16(len(s)))
	w.buf = append(w.buf, s...)
	return nil
}

func (w *writer) bytes32(b []byte) {
	w.u32(uint32(len(b)))
	w.buf = append(w.buf, b...)
}

func (w *writer) optBytes(b []byte) {
	if b == nil {
		w.u8(0)
		return
	}
	w.u8(1)
	w.bytes32(b)
}

// metadata writes an empty map as absent, like the omitempty tags of the other codecs.
func (w *writer) metadata(md message.Metadata) error {
	if len(md) == 0 {
		w.u8(0)
		return nil
	}
	if len(md) > 0xFFFF {
		return fmt.Errorf("BinaryCodec: %d metadata entries exceed 65535", len(md))
	}
	w.u8(1)
	w.u16(uint16(len(md)))
	for k, v := range md {
		if err := w.str16(k); err != nil {
			return err
		}
		if err := w.str16(v); err != nil {
			return err
		}
	}
	return nil
}

// reader latches the first error; later reads return zero values.
type reader struct {
	buf []byte
	off int
	err error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || len(r.buf)-r.off < n {
		r.err = errTruncated
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) u8() byte {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) u16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (r *reader) u32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (r *reader) u64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func (r *reader) str16() string {
	return string(r.take(int(r.u16())))
}

// bytes32 copies so the message never aliases the frame buffer.
func (r *reader) bytes32() []byte {
	n := r.u32()
	if uint64(n) > uint64(len(r.buf)-r.off) {
		r.err = errTruncated
		return nil
	}
	b := r.take(int(n))
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func (r *reader) optBytes() []byte {
	if r.u8() == 0 {
		return nil
	}
	return r.bytes32()
}

func (r *reader) metadata() message.Metadata {
	if r.u8() == 0 {
		return nil
	}
	n := int(r.u16())
	md := make(message.Metadata, n)
	for i := 0; i < n && r.err == nil; i++ {
		k := r.str16()
		md[k] = r.str16()
	}
	return md
}
