package app

import (
	"bytes"
	"context"
	"errors"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"echostream/config"
	"echostream/core"
	"echostream/logging"
	"echostream/message"
	"echostream/registry"
	"echostream/transport"
)

func TestMain(m *testing.M) {
	logging.ConfigureTests()
	os.Exit(m.Run())
}

func startDemo(t *testing.T) string {
	t.Helper()
	cfg := config.Default()
	cfg.HeartbeatInterval = time.Hour
	svr, err := NewServer(cfg)
	if err != nil {
		t.Fatal(err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go svr.ServeListener(ln)
	t.Cleanup(func() { svr.Shutdown(time.Second) })
	return ln.Addr().String()
}

func runCall(t *testing.T, args ...string) (string, error) {
	t.Helper()
	a := Instance()
	var out bytes.Buffer
	a.Writer = &out
	a.ErrWriter = &bytes.Buffer{}
	err := a.RunContext(context.Background(), append([]string{"echostream", "call"}, args...))
	return strings.TrimSpace(out.String()), err
}

func TestCallCommand(t *testing.T) {
	addr := startDemo(t)

	tests := []struct {
		args []string
		want string
	}{
		{[]string{"--addr", addr, "--name", "ping"}, "pong"},
		{[]string{"--addr", addr, "--name", "echo", "--data", "hello"}, "hello"},
		{[]string{"--addr", addr, "--name", "Arith.Add", "--data", `{"A":2,"B":3}`, "--codec", "json"}, `{"Result":5}`},
		{[]string{"-a", addr, "-n", "Arith.Multiply", "-d", `{"A":4,"B":6}`, "--codec", "msgpack"}, `{"Result":24}`},
	}
	for _, tt := range tests {
		got, err := runCall(t, tt.args...)
		if err != nil {
			t.Fatalf("%v: %v", tt.args, err)
		}
		if got != tt.want {
			t.Fatalf("%v: expect %q, got %q", tt.args, tt.want, got)
		}
	}
}

func TestCallCommandErrors(t *testing.T) {
	addr := startDemo(t)

	if _, err := runCall(t, "--addr", addr, "--name", "Arith.Divide", "--data", `{"A":1}`); err == nil || !strings.Contains(err.Error(), "divide by zero") {
		t.Fatalf("expect remote divide error, got %v", err)
	}
	if _, err := runCall(t, "--addr", addr, "--name", "ping", "--codec", "xml"); err == nil {
		t.Fatal("expect unknown codec error")
	}
	if _, err := runCall(t, "--addr", addr); err == nil {
		t.Fatal("expect missing --name error")
	}
}

func TestDemoBroadcastAndStreamEcho(t *testing.T) {
	addr := startDemo(t)

	c := core.NewContext()
	c.Start()
	defer c.Stop()

	news := make(chan string, 1)
	c.RegisterHandler(core.EventFunc("broadcast", func(_ context.Context, _ *core.Session, evt *message.EventMsg) error {
		news <- string(evt.Data)
		return nil
	}))
	echoed := make(chan *message.StreamMsg, 4)
	c.RegisterHandler(core.StreamFunc("echo", func(_ context.Context, _ *core.Session, frame *message.StreamMsg) error {
		echoed <- frame
		return nil
	}))

	dial := func() *core.Session {
		s := c.NewSession(transport.DialTCP(addr, transport.WithHeartbeat(0)))
		if err := s.Connect(context.Background()); err != nil {
			t.Fatal(err)
		}
		return s
	}
	listener, sender := dial(), dial()

	// the server must have both sessions before the broadcast fans out
	if _, err := sender.SendRequest(context.Background(), "ping", nil, time.Second); err != nil {
		t.Fatal(err)
	}
	if _, err := listener.SendRequest(context.Background(), "ping", nil, time.Second); err != nil {
		t.Fatal(err)
	}

	if err := sender.SendEvent("broadcast", []byte("hi all")); err != nil {
		t.Fatal(err)
	}
	select {
	case got := <-news:
		if got != "hi all" {
			t.Fatalf("expect hi all, got %q", got)
		}
	case <-time.After(time.Second):
		t.Fatal("broadcast not received")
	}

	for seq := uint32(1); seq <= 2; seq++ {
		if err := sender.SendStream(7, "echo", seq, 0, []byte{byte(seq)}, nil, seq == 2); err != nil {
			t.Fatal(err)
		}
	}
	for want := uint32(1); want <= 2; want++ {
		select {
		case frame := <-echoed:
			if frame.ID != 7 || frame.Seq != want || frame.Fin != (want == 2) {
				t.Fatalf("unexpected echoed frame %+v", frame)
			}
		case <-time.After(time.Second):
			t.Fatal("stream frame not echoed")
		}
	}
}

type rejectingRegistry struct {
	*registry.MemoryRegistry
	closed bool
}

var errRejected = errors.New("registration rejected")

func (r *rejectingRegistry) Register(context.Context, string, registry.ServiceInstance, int64) error {
	return errRejected
}

func (r *rejectingRegistry) Close() error {
	r.closed = true
	return nil
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	return ln.Addr().String()
}

func TestServeShutsDownWhenAnnounceFails(t *testing.T) {
	reg := &rejectingRegistry{MemoryRegistry: registry.NewMemoryRegistry()}
	saved := openRegistry
	openRegistry = func([]string) (announceRegistry, error) { return reg, nil }
	defer func() { openRegistry = saved }()

	cfg := config.Default()
	cfg.Listen = freeAddr(t)
	cfg.WSListen = freeAddr(t)
	cfg.EtcdEndpoints = []string{"etcd:2379"}
	cfg.ShutdownTimeout = time.Second

	done := make(chan error, 1)
	go func() { done <- Serve(context.Background(), cfg) }()
	select {
	case err := <-done:
		if !errors.Is(err, errRejected) {
			t.Fatalf("expect rejected registration, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Serve kept running after the announcement failed")
	}

	if !reg.closed {
		t.Fatal("expect registry to be closed")
	}
	for _, addr := range []string{cfg.Listen, cfg.WSListen} {
		if conn, err := net.DialTimeout("tcp", addr, 200*time.Millisecond); err == nil {
			conn.Close()
			t.Fatalf("expect %s to be closed", addr)
		}
	}
}

func TestServeReportsRegistryOpenError(t *testing.T) {
	saved := openRegistry
	openRegistry = func([]string) (announceRegistry, error) { return nil, errRejected }
	defer func() { openRegistry = saved }()

	cfg := config.Default()
	cfg.Listen = freeAddr(t)
	cfg.EtcdEndpoints = []string{"etcd:2379"}
	cfg.ShutdownTimeout = time.Second

	if err := Serve(context.Background(), cfg); !errors.Is(err, errRejected) {
		t.Fatalf("expect registry error, got %v", err)
	}
	if conn, err := net.DialTimeout("tcp", cfg.Listen, 200*time.Millisecond); err == nil {
		conn.Close()
		t.Fatal("expect listener to be closed")
	}
}
