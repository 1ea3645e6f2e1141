package protocol

import (
	"bytes"
	"testing"

	"echostream/message"
)

func TestEncodeDecode(t *testing.T) {
	header := Header{
		CodecType: CodecTypeJSON,
		MsgType:   MsgTypeRequest,
		Seq:       12345,
		BodyLen:   11,
	}
	body := []byte("hello world")

	var buf bytes.Buffer
	if err := Encode(&buf, &header, body); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	decodedHeader, decodedBody, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if decodedHeader.CodecType != header.CodecType {
		t.Errorf("CodecType mismatch: got %d, want %d", decodedHeader.CodecType, header.CodecType)
	}
	if decodedHeader.MsgType != header.MsgType {
		t.Errorf("MsgType mismatch: got %d, want %d", decodedHeader.MsgType, header.MsgType)
	}
	if decodedHeader.Seq != header.Seq {
		t.Errorf("Seq mismatch: got %d, want %d", decodedHeader.Seq, header.Seq)
	}
	if decodedHeader.BodyLen != header.BodyLen {
		t.Errorf("BodyLen mismatch: got %d, want %d", decodedHeader.BodyLen, header.BodyLen)
	}
	if !bytes.Equal(decodedBody, body) {
		t.Errorf("Body mismatch: got %s, want %s", string(decodedBody), string(body))
	}
}

func TestDecodeInvalidMagic(t *testing.T) {
	invalidHeader := []byte{0x00, 0x00, 0x00, Version, CodecTypeJSON, byte(MsgTypeRequest), 0x00, 0x00, 0x30, 0x39, 0x00, 0x00, 0x00, 0x0B}
	var buf bytes.Buffer
	buf.Write(invalidHeader)
	buf.Write([]byte("hello world"))

	_, _, err := Decode(&buf)
	if err == nil {
		t.Fatal("Expected error for invalid magic number, but got nil")
	}
	if !bytes.Contains([]byte(err.Error()), []byte("invalid magic number")) {
		t.Errorf("Error message should contain 'invalid magic', instead: %v", err)
	}
}

func TestDecodeEmptyBody(t *testing.T) {
	header := Header{
		CodecType: CodecTypeBinary,
		MsgType:   MsgTypeHeartbeat,
	}
	var buf bytes.Buffer
	if err := Encode(&buf, &header, nil); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	decodedHeader, decodedBody, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if decodedHeader.MsgType != MsgTypeHeartbeat {
		t.Errorf("MsgType mismatch: got %d, want %d", decodedHeader.MsgType, MsgTypeHeartbeat)
	}
	if decodedHeader.BodyLen != 0 || len(decodedBody) != 0 {
		t.Errorf("Expected empty body, got length %d", len(decodedBody))
	}
}

func TestDecodeInvalidVersion(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{
		MagicNumber, MagicByte2, MagicByte3,
		0xFF, // wrong version
		CodecTypeJSON,
		byte(MsgTypeRequest),
		0, 0, 0, 1, // Seq
		0, 0, 0, 0, // BodyLen
	})

	_, _, err := Decode(&buf)
	if err == nil {
		t.Fatal("expected an error for a bad version")
	}
	if !bytes.Contains([]byte(err.Error()), []byte("unsupported version")) {
		t.Errorf("error should mention 'unsupported version', got: %v", err)
	}
}

func TestDecodeRejectsUnknownTypes(t *testing.T) {
	frames := map[string][]byte{
		"codec":   {MagicNumber, MagicByte2, MagicByte3, Version, 9, byte(MsgTypeRequest), 0, 0, 0, 1, 0, 0, 0, 0},
		"msgType": {MagicNumber, MagicByte2, MagicByte3, Version, CodecTypeBinary, 42, 0, 0, 0, 1, 0, 0, 0, 0},
		"bodyLen": {MagicNumber, MagicByte2, MagicByte3, Version, CodecTypeBinary, byte(MsgTypeEvent), 0, 0, 0, 1, 0xFF, 0xFF, 0xFF, 0xFF},
	}
	for name, frame := range frames {
		if _, _, err := Decode(bytes.NewReader(frame)); err == nil {
			t.Errorf("%s: expected an error", name)
		}
	}
}

func TestDecodeLargeBody(t *testing.T) {
	var buf bytes.Buffer

	largeBody := make([]byte, 1024*1024)
	for i := range largeBody {
		largeBody[i] = byte(i % 256)
	}

	header := &Header{
		CodecType: CodecTypeBinary,
		MsgType:   MsgTypeStream,
		Seq:       999,
	}
	if err := Encode(&buf, header, largeBody); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	_, decodedBody, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !bytes.Equal(decodedBody, largeBody) {
		t.Errorf("large body mismatch")
	}
	t.Logf("encoded and decoded %d bytes", len(largeBody))
}

func TestMsgTypeOf(t *testing.T) {
	cases := map[MsgType]message.Message{
		MsgTypeRequest:  &message.RequestMsg{},
		MsgTypeResponse: &message.ResponseMsg{},
		MsgTypeEvent:    &message.EventMsg{},
		MsgTypeStream:   &message.StreamMsg{},
	}
	for want, msg := range cases {
		if got := MsgTypeOf(msg); got != want {
			t.Errorf("MsgTypeOf(%s) = %d, want %d", msg.Kind(), got, want)
		}
	}
}
