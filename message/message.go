// Package message defines the logical messages exchanged between two echostream endpoints.
//
// Every frame on a connection carries exactly one Message, which is one of four shapes:
//
//	RequestMsg   ──►  correlated by id  ──►  ResponseMsg
//	EventMsg     fire-and-forget, no reply
//	StreamMsg    sequenced binary frame, ended by a fin frame
//
// Messages get serialized by the codec layer and wrapped in a protocol frame for transmission.
// Optional byte payloads use nil to mean "absent"; an empty non-nil slice is a present, empty payload.
package message

// Kind identifies which of the four message shapes a Message is.
type Kind byte

const (
	KindRequest  Kind = 1
	KindResponse Kind = 2
	KindEvent    Kind = 3
	KindStream   Kind = 4
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindResponse:
		return "response"
	case KindEvent:
		return "event"
	case KindStream:
		return "stream"
	default:
		return "unknown"
	}
}

// Message is the tagged union of RequestMsg, ResponseMsg, EventMsg and StreamMsg.
// The set of implementations is closed.
type Message interface {
	Kind() Kind
	// MessageID is the request id, response id, event id or stream id depending on the kind.
	MessageID() uint32
	isMessage()
}

// Metadata carries optional string key/values alongside requests and stream frames.
type Metadata map[string]string

// RequestMsg asks the peer to run the RPC handler registered under Name.
type RequestMsg struct {
	ID       uint32   `json:"id" msgpack:"id"`
	Name     string   `json:"name" msgpack:"name"`
	Data     []byte   `json:"data" msgpack:"data"`
	Metadata Metadata `json:"metadata,omitempty" msgpack:"metadata,omitempty"`
}

// ResponseMsg answers the RequestMsg with the same ID.
//   - Code == StatusSuccess: Data holds the handler's reply.
//   - Code != StatusSuccess: Message (if present) describes the failure.
type ResponseMsg struct {
	ID      uint32     `json:"id" msgpack:"id"`
	Code    StatusCode `json:"code" msgpack:"code"`
	Message *string    `json:"message" msgpack:"message"`
	Data    []byte     `json:"data" msgpack:"data"`
}

// EventMsg is a one-way notification handled by the event handler registered under Name.
type EventMsg struct {
	ID   uint32 `json:"id" msgpack:"id"`
	Name string `json:"name" msgpack:"name"`
	Data []byte `json:"data" msgpack:"data"`
}

// StreamMsg is one frame of the stream ID, delivered to the stream handler registered under Name.
// Seq must not decrease within a stream; Fin marks the last frame.
type StreamMsg struct {
	ID       uint32    `json:"id" msgpack:"id"`
	Name     string    `json:"name" msgpack:"name"`
	Seq      uint32    `json:"seq" msgpack:"seq"`
	SenderTS Timestamp `json:"sender_ts" msgpack:"sender_ts"`
	Data     []byte    `json:"data" msgpack:"data"`
	Fin      bool      `json:"fin,omitempty" msgpack:"fin,omitempty"`
	Metadata Metadata  `json:"metadata,omitempty" msgpack:"metadata,omitempty"`
}

func (*RequestMsg) Kind() Kind  { return KindRequest }
func (*ResponseMsg) Kind() Kind { return KindResponse }
func (*EventMsg) Kind() Kind    { return KindEvent }
func (*StreamMsg) Kind() Kind   { return KindStream }

func (m *RequestMsg) MessageID() uint32  { return m.ID }
func (m *ResponseMsg) MessageID() uint32 { return m.ID }
func (m *EventMsg) MessageID() uint32    { return m.ID }
func (m *StreamMsg) MessageID() uint32   { return m.ID }

func (*RequestMsg) isMessage()  {}
func (*ResponseMsg) isMessage() {}
func (*EventMsg) isMessage()    {}
func (*StreamMsg) isMessage()   {}

// NewResponse builds a response for the request id.
func NewResponse(id uint32, code StatusCode, data []byte) *ResponseMsg {
	return &ResponseMsg{ID: id, Code: code, Data: data}
}

// NewErrorResponse builds a failed response carrying a human-readable reason.
func NewErrorResponse(id uint32, code StatusCode, reason string) *ResponseMsg {
	return &ResponseMsg{ID: id, Code: code, Message: &reason}
}

// Text returns the optional response message, or "" when absent.
func (m *ResponseMsg) Text() string {
	if m.Message == nil {
		return ""
	}
	return *m.Message
}
