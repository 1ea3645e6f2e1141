// Package transport implements core.Transport over TCP and WebSocket connections.
//
// A Conn multiplexes every message of a Session over one connection. A single goroutine
// (recvLoop) reads frames and hands each decoded message to the Session; writers share the
// connection under a mutex so frames never interleave.
//
//	goroutine-1 ──Write(req id=1)──┐
//	goroutine-2 ──Write(evt id=9)──┼──→ single conn ──→ peer
//	heartbeat   ──Write(hb)────────┘
//
//	recvLoop: ←── frame → codec.Decode → Session.Dispatch
package transport

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"echostream/codec"
	"echostream/core"
	"echostream/errs"
	"echostream/message"
	"echostream/protocol"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const DefaultHeartbeatInterval = 30 * time.Second

type Option func(*Conn)

// WithCodec sets the codec used for outbound messages.
func WithCodec(t codec.CodecType) Option {
	return func(c *Conn) { c.codec.Store(uint32(t)) }
}

// WithHeartbeat sets the heartbeat interval; zero or less disables heartbeats.
func WithHeartbeat(d time.Duration) Option {
	return func(c *Conn) { c.heartbeat = d }
}

// Conn is a core.Transport. A dialed Conn redials on every Connect; an accepted Conn can
// only be connected once.
type Conn struct {
	dial      func(ctx context.Context) (framePipe, error)
	codec     atomic.Uint32
	heartbeat time.Duration
	// follow makes outbound messages use the codec of the last inbound frame.
	follow bool

	sending sync.Mutex // serializes frame writes

	mu     sync.Mutex
	pipe   framePipe
	used   bool
	closed bool
	done   chan struct{}
}

func newConn(opts []Option) *Conn {
	c := &Conn{heartbeat: DefaultHeartbeatInterval}
	c.codec.Store(uint32(codec.CodecTypeBinary))
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DialTCP returns a Conn that dials addr over TCP when its Session connects.
func DialTCP(addr string, opts ...Option) *Conn {
	c := newConn(opts)
	c.dial = func(ctx context.Context) (framePipe, error) {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, err
		}
		return newTCPPipe(conn), nil
	}
	return c
}

// DialWebSocket returns a Conn that dials the websocket url (ws:// or wss://) when its
// Session connects.
func DialWebSocket(url string, opts ...Option) *Conn {
	c := newConn(opts)
	c.dial = func(ctx context.Context) (framePipe, error) {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err != nil {
			return nil, err
		}
		return newWSPipe(conn), nil
	}
	return c
}

// AcceptTCP wraps a server-side TCP connection. Replies use the codec the peer writes with.
func AcceptTCP(conn net.Conn, opts ...Option) *Conn {
	c := newConn(opts)
	c.pipe = newTCPPipe(conn)
	c.follow = true
	return c
}

// AcceptWebSocket wraps an upgraded server-side websocket connection.
func AcceptWebSocket(conn *websocket.Conn, opts ...Option) *Conn {
	c := newConn(opts)
	c.pipe = newWSPipe(conn)
	c.follow = true
	return c
}

// Connect dials (if needed) and starts the receive and heartbeat loops.
func (c *Conn) Connect(ctx context.Context, r core.Receiver) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.dial != nil {
		pipe, err := c.dial(ctx)
		if err != nil {
			return errs.IO(err)
		}
		c.pipe = pipe
	} else if c.used {
		return errs.ErrConnectionClosed
	}
	c.used = true
	c.closed = false
	c.done = make(chan struct{})

	go c.recvLoop(r, c.pipe, c.done)
	if c.heartbeat > 0 {
		go c.heartbeatLoop(c.pipe, c.done)
	}
	return nil
}

// Write encodes msg with the current codec and sends it as one frame.
func (c *Conn) Write(msg message.Message) error {
	c.mu.Lock()
	pipe, closed := c.pipe, c.closed || c.pipe == nil
	c.mu.Unlock()
	if closed {
		return errs.ErrConnectionClosed
	}

	ct := codec.CodecType(c.codec.Load())
	body, err := codec.GetCodec(ct).Encode(msg)
	if err != nil {
		return err
	}
	header := protocol.Header{
		CodecType: byte(ct),
		MsgType:   protocol.MsgTypeOf(msg),
		Seq:       msg.MessageID(),
	}

	c.sending.Lock()
	err = pipe.WriteFrame(&header, body)
	c.sending.Unlock()
	if err != nil {
		return errs.IO(err)
	}
	return nil
}

// Close stops the loops and closes the connection without waiting for them.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed || c.pipe == nil {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	pipe := c.pipe
	c.mu.Unlock()
	return pipe.Close()
}

// RemoteAddr returns the peer address, or "" before the first Connect.
func (c *Conn) RemoteAddr() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pipe == nil {
		return ""
	}
	return c.pipe.RemoteAddr()
}

// recvLoop is the only reader of pipe. Any read or decode failure is fatal for the session;
// a failure after done is closed comes from Close and is not reported.
func (c *Conn) recvLoop(r core.Receiver, pipe framePipe, done chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-done
		cancel()
	}()

	for {
		header, body, err := pipe.ReadFrame()
		if err != nil {
			// done belongs to this pipe; a redial may already have reopened the Conn
			select {
			case <-done:
			default:
				r.Fail(errs.IO(err))
			}
			return
		}
		if header.MsgType == protocol.MsgTypeHeartbeat {
			continue
		}

		msg, err := codec.GetCodec(codec.CodecType(header.CodecType)).Decode(body)
		if err != nil {
			r.Fail(err)
			return
		}
		if protocol.MsgTypeOf(msg) != header.MsgType || msg.MessageID() != header.Seq {
			r.Fail(errs.Protocol("frame header (type %d, id %d) does not match its %s %d body",
				header.MsgType, header.Seq, msg.Kind(), msg.MessageID()))
			return
		}
		if c.follow {
			c.codec.Store(uint32(header.CodecType))
		}

		if err := r.Dispatch(ctx, msg); err != nil {
			log.Debug().Err(err).Str("remote", pipe.RemoteAddr()).Msg("dispatch rejected message")
		}
	}
}

// heartbeatLoop sends periodic body-less frames so idle connections stay open and dead ones
// surface as write errors.
func (c *Conn) heartbeatLoop(pipe framePipe, done chan struct{}) {
	ticker := time.NewTicker(c.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			header := &protocol.Header{
				CodecType: byte(c.codec.Load()),
				MsgType:   protocol.MsgTypeHeartbeat,
			}
			c.sending.Lock()
			err := pipe.WriteFrame(header, nil)
			c.sending.Unlock()
			if err != nil {
				return // the receive loop reports the broken connection
			}
		}
	}
}

func deadlineSoon() time.Time {
	return time.Now().Add(time.Second)
}
