package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"echostream/codec"
	"echostream/core"
	"echostream/errs"
	"echostream/logging"
	"echostream/message"

	"github.com/gorilla/websocket"
)

func TestMain(m *testing.M) {
	logging.ConfigureTests()
	os.Exit(m.Run())
}

func newServerContext(t *testing.T) *core.Context {
	t.Helper()
	ctx := core.NewContext()
	ctx.RegisterHandler(core.RPCFunc("echo", func(_ context.Context, _ *core.Session, req *message.RequestMsg) (*message.ResponseMsg, error) {
		return message.NewResponse(req.ID, message.StatusSuccess, req.Data), nil
	}))
	if err := ctx.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ctx.Stop() })
	return ctx
}

// serveTCP accepts connections on a loopback port and connects a session for each.
func serveTCP(t *testing.T, ctx *core.Context, opts ...Option) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			s := ctx.NewSession(AcceptTCP(conn, opts...))
			if err := s.Connect(context.Background()); err != nil {
				conn.Close()
			}
		}
	}()
	return ln.Addr().String()
}

func dialSession(t *testing.T, conn *Conn) *core.Session {
	t.Helper()
	ctx := core.NewContext()
	if err := ctx.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ctx.Stop() })
	s := ctx.NewSession(conn)
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	return s
}

// Serial requests over one connection, with each codec.
func TestClientTransportSerial(t *testing.T) {
	addr := serveTCP(t, newServerContext(t))

	for _, ct := range []codec.CodecType{codec.CodecTypeJSON, codec.CodecTypeBinary, codec.CodecTypeMsgPack} {
		s := dialSession(t, DialTCP(addr, WithCodec(ct)))
		for _, want := range []string{"a", "bb", "ccc"} {
			got, err := s.SendRequest(context.Background(), "echo", []byte(want), time.Second)
			if err != nil {
				t.Fatalf("%s: %v", ct, err)
			}
			if string(got) != want {
				t.Fatalf("%s: expect %q, got %q", ct, want, got)
			}
		}
	}
}

// Concurrent requests multiplexed on one connection.
func TestClientTransportConcurrent(t *testing.T) {
	addr := serveTCP(t, newServerContext(t))
	s := dialSession(t, DialTCP(addr))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			want := fmt.Sprintf("req-%d", i)
			got, err := s.SendRequest(context.Background(), "echo", []byte(want), 2*time.Second)
			if err != nil {
				t.Errorf("request %d: %v", i, err)
				return
			}
			if string(got) != want {
				t.Errorf("request %d: got %q", i, got)
			}
		}()
	}
	wg.Wait()
}

func TestHeartbeatsAreSwallowed(t *testing.T) {
	addr := serveTCP(t, newServerContext(t), WithHeartbeat(5*time.Millisecond))
	s := dialSession(t, DialTCP(addr, WithHeartbeat(5*time.Millisecond)))

	time.Sleep(50 * time.Millisecond)
	got, err := s.SendRequest(context.Background(), "echo", []byte("alive"), time.Second)
	if err != nil || string(got) != "alive" {
		t.Fatalf("expect alive, got %q %v", got, err)
	}
	if s.Status() != core.SessionConnected {
		t.Fatalf("heartbeats must not disturb the session, got %s", s.Status())
	}
}

func TestStreamOverTCP(t *testing.T) {
	server := newServerContext(t)
	frames := make(chan *message.StreamMsg, 10)
	server.RegisterHandler(core.StreamFunc("audio", func(_ context.Context, _ *core.Session, f *message.StreamMsg) error {
		frames <- f
		return nil
	}))
	s := dialSession(t, DialTCP(serveTCP(t, server)))

	md := message.Metadata{"format": "opus"}
	for seq := uint32(1); seq <= 3; seq++ {
		if err := s.SendStream(11, "audio", seq, message.Now(), []byte{byte(seq)}, md, seq == 3); err != nil {
			t.Fatal(err)
		}
	}
	for seq := uint32(1); seq <= 3; seq++ {
		select {
		case f := <-frames:
			if f.Seq != seq || f.ID != 11 || f.Metadata["format"] != "opus" || f.Fin != (seq == 3) {
				t.Fatalf("unexpected frame %+v", f)
			}
		case <-time.After(time.Second):
			t.Fatal("frame not delivered")
		}
	}
}

func TestPeerCloseDisconnectsSession(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	s := dialSession(t, DialTCP(ln.Addr().String()))
	failed := make(chan error, 1)
	s.OnError(func(_ *core.Session, err error) { failed <- err })

	pending := make(chan error, 1)
	go func() {
		_, err := s.SendRequest(context.Background(), "echo", nil, 5*time.Second)
		pending <- err
	}()

	conn := <-accepted
	time.Sleep(20 * time.Millisecond)
	conn.Close()

	if err := <-failed; !errors.Is(err, errs.ErrIO) {
		t.Fatalf("expect io error, got %v", err)
	}
	if err := <-pending; !errors.Is(err, errs.ErrConnectionClosed) {
		t.Fatalf("pending request should fail with connection closed, got %v", err)
	}
}

func TestMalformedFrameIsFatal(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		conn.Write([]byte("GET / HTTP/1.1\r\n\r\n"))
	}()

	s := dialSession(t, DialTCP(ln.Addr().String()))
	disconnected := make(chan struct{})
	s.OnDisconnected(func(*core.Session) { close(disconnected) })
	select {
	case <-disconnected:
	case <-time.After(time.Second):
		t.Fatal("garbage input should disconnect the session")
	}
}

func TestDialFailure(t *testing.T) {
	ctx := core.NewContext()
	ctx.Start()
	defer ctx.Stop()

	s := ctx.NewSession(DialTCP("127.0.0.1:1"))
	if err := s.Connect(context.Background()); !errors.Is(err, errs.ErrIO) {
		t.Fatalf("expect io error, got %v", err)
	}
	if s.Status() != core.SessionDisconnected {
		t.Fatalf("expect disconnected, got %s", s.Status())
	}
}

func TestWriteAfterClose(t *testing.T) {
	c := DialTCP("127.0.0.1:1")
	if err := c.Write(&message.EventMsg{ID: 1, Name: "x"}); !errors.Is(err, errs.ErrConnectionClosed) {
		t.Fatalf("expect connection closed, got %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("closing an unused conn should be a no-op, got %v", err)
	}
}

func TestWebSocketTransport(t *testing.T) {
	server := newServerContext(t)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s := server.NewSession(AcceptWebSocket(conn))
		if err := s.Connect(r.Context()); err != nil {
			conn.Close()
		}
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	s := dialSession(t, DialWebSocket(url, WithCodec(codec.CodecTypeMsgPack)))

	got, err := s.SendRequest(context.Background(), "echo", []byte("over ws"), time.Second)
	if err != nil || string(got) != "over ws" {
		t.Fatalf("expect 'over ws', got %q %v", got, err)
	}

	_, err = s.SendRequest(context.Background(), "nope", nil, time.Second)
	var remote *errs.RemoteError
	if !errors.As(err, &remote) || remote.Code != message.StatusNotFound {
		t.Fatalf("expect NOT_FOUND, got %v", err)
	}
}
