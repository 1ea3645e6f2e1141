// Package client runs the client role of echostream: it discovers servers through a
// registry, picks one with a load balancer and calls its RPC handlers over a Session that
// is kept open per server address.
//
//	Call("Arith.Add") → instances("Arith") → Balancer.Pick → session(addr) → Session.SendRequest
package client

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"echostream/codec"
	"echostream/core"
	"echostream/errs"
	"echostream/loadbalance"
	"echostream/registry"
	"echostream/transport"

	"github.com/rs/zerolog/log"
)

type Option func(*Client)

// WithBalancer sets the load balancing strategy (round robin by default).
func WithBalancer(b loadbalance.Balancer) Option {
	return func(c *Client) { c.balancer = b }
}

// WithCodec sets the codec of new connections.
func WithCodec(t codec.CodecType) Option {
	return func(c *Client) { c.codec = t }
}

// WithHeartbeat sets the heartbeat interval of new connections.
func WithHeartbeat(d time.Duration) Option {
	return func(c *Client) { c.heartbeat = d }
}

// WithTimeout sets the per-attempt request timeout; zero uses the Context default.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithRetry retries a call up to max more times when it times out or its connection
// drops, sleeping base, 2*base, 4*base... between attempts.
func WithRetry(max int, base time.Duration) Option {
	return func(c *Client) {
		c.retries = max
		c.backoff = base
	}
}

// WithContextOptions passes options to the client's core.Context.
func WithContextOptions(opts ...core.Option) Option {
	return func(c *Client) { c.ctxOpts = append(c.ctxOpts, opts...) }
}

type affinityKey struct{}

// WithAffinity makes calls made with ctx prefer the instance that key hashes to, when the
// balancer supports keys.
func WithAffinity(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, affinityKey{}, key)
}

type Client struct {
	ctx       *core.Context
	ctxOpts   []core.Option
	registry  registry.Registry
	target    *registry.ServiceInstance // fixed server, set by Dial
	balancer  loadbalance.Balancer
	codec     codec.CodecType
	heartbeat time.Duration
	timeout   time.Duration
	retries   int
	backoff   time.Duration

	watchCtx    context.Context
	stopWatches context.CancelFunc

	mu        sync.Mutex
	sessions  map[string]*core.Session              // by instance address
	instances map[string][]registry.ServiceInstance // by service name, kept fresh by Watch
}

// NewClient returns a client that finds servers through reg.
func NewClient(reg registry.Registry, opts ...Option) *Client {
	c := &Client{
		registry:  reg,
		balancer:  &loadbalance.RoundRobinBalancer{},
		codec:     codec.CodecTypeBinary,
		heartbeat: transport.DefaultHeartbeatInterval,
		sessions:  make(map[string]*core.Session),
		instances: make(map[string][]registry.ServiceInstance),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.watchCtx, c.stopWatches = context.WithCancel(context.Background())
	c.ctx = core.NewContext(c.ctxOpts...)
	_ = c.ctx.Start() // a fresh Context always starts
	return c
}

// Dial returns a client bound to one TCP server, connected eagerly.
func Dial(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	return dialInstance(ctx, registry.ServiceInstance{Addr: addr, Protocol: registry.ProtocolTCP}, opts)
}

// DialWebSocket returns a client bound to one websocket server (ws:// or wss:// url).
func DialWebSocket(ctx context.Context, url string, opts ...Option) (*Client, error) {
	return dialInstance(ctx, registry.ServiceInstance{Addr: url, Protocol: registry.ProtocolWebSocket}, opts)
}

func dialInstance(ctx context.Context, inst registry.ServiceInstance, opts []Option) (*Client, error) {
	c := NewClient(nil, opts...)
	c.target = &inst
	if _, err := c.session(ctx, inst); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// Context returns the client's Context. Handlers registered on it serve requests, events
// and streams the servers send back.
func (c *Client) Context() *core.Context { return c.ctx }

// Call invokes serviceMethod ("Service.Method") with args encoded as JSON and decodes the
// result into reply, which may be nil.
func (c *Client) Call(ctx context.Context, serviceMethod string, args any, reply any) error {
	payload, err := json.Marshal(args)
	if err != nil {
		return errs.Serialization(err)
	}
	data, err := c.CallRaw(ctx, serviceMethod, payload)
	if err != nil {
		return err
	}
	if reply == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, reply); err != nil {
		return errs.Serialization(err)
	}
	return nil
}

// CallRaw is Call without the JSON encoding.
func (c *Client) CallRaw(ctx context.Context, serviceMethod string, payload []byte) ([]byte, error) {
	service, err := serviceOf(serviceMethod)
	if err != nil && c.target == nil {
		return nil, err
	}

	for attempt := 0; ; attempt++ {
		data, err := c.call(ctx, service, serviceMethod, payload)
		if err == nil || attempt >= c.retries || !retryable(err) {
			return data, err
		}
		wait := c.backoff << attempt
		log.Debug().Err(err).Str("method", serviceMethod).Int("attempt", attempt+1).Dur("backoff", wait).Msg("retrying call")
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, err
		}
	}
}

// Notify sends a fire-and-forget event to one instance of service.
func (c *Client) Notify(ctx context.Context, service, name string, data []byte) error {
	sess, err := c.pick(ctx, service)
	if err != nil {
		return err
	}
	return sess.SendEvent(name, data)
}

// Session returns the connected session used for service, dialing when needed. Use it for
// streams and events.
func (c *Client) Session(ctx context.Context, service string) (*core.Session, error) {
	return c.pick(ctx, service)
}

func (c *Client) call(ctx context.Context, service, serviceMethod string, payload []byte) ([]byte, error) {
	sess, err := c.pick(ctx, service)
	if err != nil {
		return nil, err
	}
	return sess.SendRequest(ctx, serviceMethod, payload, c.timeout)
}

func (c *Client) pick(ctx context.Context, service string) (*core.Session, error) {
	if c.target != nil {
		return c.session(ctx, *c.target)
	}

	list, err := c.discover(ctx, service)
	if err != nil {
		return nil, err
	}
	var inst *registry.ServiceInstance
	key, ok := ctx.Value(affinityKey{}).(string)
	if kb, keyed := c.balancer.(loadbalance.KeyedBalancer); ok && keyed {
		inst, err = kb.PickKey(list, key)
	} else {
		inst, err = c.balancer.Pick(list)
	}
	if err != nil {
		return nil, err
	}
	return c.session(ctx, *inst)
}

// discover returns the cached instances of service. The first lookup starts a registry
// watch that keeps the cache current until Close.
func (c *Client) discover(ctx context.Context, service string) ([]registry.ServiceInstance, error) {
	if c.registry == nil {
		return nil, errs.InvalidParam("client has no registry")
	}
	c.mu.Lock()
	list, ok := c.instances[service]
	c.mu.Unlock()
	if ok {
		return list, nil
	}

	list, err := c.registry.Discover(ctx, service)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	if _, ok := c.instances[service]; !ok {
		c.instances[service] = list
		go c.watch(service)
	}
	c.mu.Unlock()
	return list, nil
}

func (c *Client) watch(service string) {
	for list := range c.registry.Watch(c.watchCtx, service) {
		c.mu.Lock()
		c.instances[service] = list
		c.mu.Unlock()
		log.Debug().Str("service", service).Int("instances", len(list)).Msg("service instances changed")
	}
}

// session returns the connected session for inst, replacing one that has dropped.
func (c *Client) session(ctx context.Context, inst registry.ServiceInstance) (*core.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if sess, ok := c.sessions[inst.Addr]; ok {
		switch sess.Status() {
		case core.SessionConnected:
			return sess, nil
		case core.SessionDisconnected:
			// dialed transports redial, so the session keeps its id and hooks
			if err := sess.Connect(ctx); err != nil {
				return nil, err
			}
			return sess, nil
		}
	}

	topts := []transport.Option{transport.WithCodec(c.codec), transport.WithHeartbeat(c.heartbeat)}
	var t *transport.Conn
	if inst.Protocol == registry.ProtocolWebSocket {
		t = transport.DialWebSocket(inst.Addr, topts...)
	} else {
		t = transport.DialTCP(inst.Addr, topts...)
	}
	sess := c.ctx.NewSession(t)
	if err := sess.Connect(ctx); err != nil {
		return nil, err
	}
	c.sessions[inst.Addr] = sess
	return sess, nil
}

// Close disconnects every session and stops registry watches.
func (c *Client) Close() error {
	c.stopWatches()
	return c.ctx.Stop()
}

func serviceOf(serviceMethod string) (string, error) {
	service, method, ok := strings.Cut(serviceMethod, ".")
	if !ok || service == "" || method == "" {
		return "", errs.InvalidParam("invalid serviceMethod format: %q", serviceMethod)
	}
	return service, nil
}

func retryable(err error) bool {
	return errors.Is(err, errs.ErrTimeout) || errors.Is(err, errs.ErrConnectionClosed) || errors.Is(err, errs.ErrIO)
}
