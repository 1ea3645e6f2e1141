// Package registry announces and discovers echostream servers.
package registry

import (
	"context"
	"sort"
	"sync"
)

// Instance protocols.
const (
	ProtocolTCP       = "tcp"
	ProtocolWebSocket = "ws"
)

// ServiceInstance is one reachable server. Addr is host:port for tcp and a ws:// url for ws.
type ServiceInstance struct {
	Addr     string `json:"addr"`
	Protocol string `json:"protocol,omitempty"`
	Weight   int    `json:"weight"` // Weight for load balancing
	Version  string `json:"version,omitempty"`
}

type Registry interface {
	Register(ctx context.Context, serviceName string, instance ServiceInstance, ttl int64) error
	Deregister(ctx context.Context, serviceName string, addr string) error
	Discover(ctx context.Context, serviceName string) ([]ServiceInstance, error)
	Watch(ctx context.Context, serviceName string) <-chan []ServiceInstance
}

// MemoryRegistry keeps instances in process. TTLs are ignored. Useful for fixed
// deployments and tests.
type MemoryRegistry struct {
	mu       sync.Mutex
	services map[string]map[string]ServiceInstance
	watchers map[string][]chan []ServiceInstance
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		services: make(map[string]map[string]ServiceInstance),
		watchers: make(map[string][]chan []ServiceInstance),
	}
}

func (r *MemoryRegistry) Register(_ context.Context, serviceName string, instance ServiceInstance, _ int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.services[serviceName] == nil {
		r.services[serviceName] = make(map[string]ServiceInstance)
	}
	r.services[serviceName][instance.Addr] = instance
	r.notify(serviceName)
	return nil
}

func (r *MemoryRegistry) Deregister(_ context.Context, serviceName string, addr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.services[serviceName], addr)
	r.notify(serviceName)
	return nil
}

func (r *MemoryRegistry) Discover(_ context.Context, serviceName string) ([]ServiceInstance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.list(serviceName), nil
}

// Watch emits the instance list after every change until ctx is done.
// A watcher that falls behind only sees the latest list.
func (r *MemoryRegistry) Watch(ctx context.Context, serviceName string) <-chan []ServiceInstance {
	ch := make(chan []ServiceInstance, 1)
	r.mu.Lock()
	r.watchers[serviceName] = append(r.watchers[serviceName], ch)
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		r.mu.Lock()
		defer r.mu.Unlock()
		list := r.watchers[serviceName]
		for i, w := range list {
			if w == ch {
				r.watchers[serviceName] = append(list[:i:i], list[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch
}

func (r *MemoryRegistry) list(serviceName string) []ServiceInstance {
	out := make([]ServiceInstance, 0, len(r.services[serviceName]))
	for _, inst := range r.services[serviceName] {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Addr < out[j].Addr })
	return out
}

// notify must be called with r.mu held.
func (r *MemoryRegistry) notify(serviceName string) {
	list := r.list(serviceName)
	for _, ch := range r.watchers[serviceName] {
		select {
		case <-ch:
		default:
		}
		ch <- list
	}
}
