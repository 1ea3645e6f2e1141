package transport

import (
	"bufio"
	"bytes"
	"fmt"
	"net"
	"sync"

	"echostream/protocol"

	"github.com/gorilla/websocket"
)

// framePipe carries whole protocol frames. Reads happen on one goroutine; writes are
// serialized by the Conn that owns the pipe.
type framePipe interface {
	ReadFrame() (*protocol.Header, []byte, error)
	WriteFrame(h *protocol.Header, body []byte) error
	Close() error
	RemoteAddr() string
}

// tcpPipe frames a byte stream with the 14-byte protocol header.
type tcpPipe struct {
	conn net.Conn
	r    *bufio.Reader
}

func newTCPPipe(conn net.Conn) *tcpPipe {
	return &tcpPipe{conn: conn, r: bufio.NewReader(conn)}
}

func (p *tcpPipe) ReadFrame() (*protocol.Header, []byte, error) {
	return protocol.Decode(p.r)
}

func (p *tcpPipe) WriteFrame(h *protocol.Header, body []byte) error {
	return protocol.Encode(p.conn, h, body)
}

func (p *tcpPipe) Close() error { return p.conn.Close() }

func (p *tcpPipe) RemoteAddr() string { return p.conn.RemoteAddr().String() }

// wsPipe sends one protocol frame per binary websocket message.
type wsPipe struct {
	conn      *websocket.Conn
	closeOnce sync.Once
}

func newWSPipe(conn *websocket.Conn) *wsPipe {
	return &wsPipe{conn: conn}
}

func (p *wsPipe) ReadFrame() (*protocol.Header, []byte, error) {
	kind, data, err := p.conn.ReadMessage()
	if err != nil {
		return nil, nil, err
	}
	if kind != websocket.BinaryMessage {
		return nil, nil, fmt.Errorf("unexpected websocket message type %d", kind)
	}
	return protocol.Decode(bytes.NewReader(data))
}

func (p *wsPipe) WriteFrame(h *protocol.Header, body []byte) error {
	w, err := p.conn.NextWriter(websocket.BinaryMessage)
	if err != nil {
		return err
	}
	if err := protocol.Encode(w, h, body); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

func (p *wsPipe) Close() error {
	var err error
	p.closeOnce.Do(func() {
		// best effort close handshake; the peer may already be gone
		_ = p.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadlineSoon())
		err = p.conn.Close()
	})
	return err
}

func (p *wsPipe) RemoteAddr() string { return p.conn.RemoteAddr().String() }
