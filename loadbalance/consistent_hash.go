package loadbalance

import (
	"fmt"
	"hash/crc32"
	"slices"
	"sort"
	"strings"
	"sync"

	"echostream/registry"
)

// ConsistentHashBalancer maps keys to instances on a hash ring.
// The same key always maps to the same instance until the instance set changes.
//
// Each real instance is placed on the ring as N virtual nodes so a few instances do not
// cluster together.
//
//	Hash Ring:
//	                  0
//	                ╱   ╲
//	              ╱       ╲
//	         B ●               ● A
//	           │    key ◆──►   │   (clockwise to nearest node → A)
//	         C ●               ● A' (virtual node of A)
//	              ╲       ╱
//	                ╲   ╱
type ConsistentHashBalancer struct {
	replicas int

	mu    sync.RWMutex
	ring  []uint32                            // sorted virtual node hashes
	nodes map[uint32]registry.ServiceInstance // virtual node hash → instance
	addrs string                              // instance set the ring was built from
}

// NewConsistentHashBalancer creates a hash ring with 100 virtual nodes per instance.
func NewConsistentHashBalancer() *ConsistentHashBalancer {
	return &ConsistentHashBalancer{
		replicas: 100,
		nodes:    make(map[uint32]registry.ServiceInstance),
	}
}

// Add places an instance onto the ring.
func (b *ConsistentHashBalancer) Add(instance registry.ServiceInstance) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.add(instance)
	sort.Slice(b.ring, func(i, j int) bool { return b.ring[i] < b.ring[j] })
}

func (b *ConsistentHashBalancer) add(instance registry.ServiceInstance) {
	for i := 0; i < b.replicas; i++ {
		hash := crc32.ChecksumIEEE([]byte(fmt.Sprintf("%s#%d", instance.Addr, i)))
		b.ring = append(b.ring, hash)
		b.nodes[hash] = instance
	}
}

// Get finds the instance responsible for key: the first virtual node clockwise from the
// key's hash, wrapping around past the largest hash.
func (b *ConsistentHashBalancer) Get(key string) (*registry.ServiceInstance, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.ring) == 0 {
		return nil, ErrNoInstances
	}
	hash := crc32.ChecksumIEEE([]byte(key))
	idx := sort.Search(len(b.ring), func(i int) bool {
		return b.ring[i] >= hash
	})
	if idx == len(b.ring) {
		idx = 0
	}
	inst := b.nodes[b.ring[idx]]
	return &inst, nil
}

// PickKey rebuilds the ring when the instance set changed, then maps key onto it.
func (b *ConsistentHashBalancer) PickKey(instances []registry.ServiceInstance, key string) (*registry.ServiceInstance, error) {
	if len(instances) == 0 {
		return nil, ErrNoInstances
	}
	b.sync(instances)
	return b.Get(key)
}

// Pick maps the empty key, so every call without affinity lands on one stable instance.
func (b *ConsistentHashBalancer) Pick(instances []registry.ServiceInstance) (*registry.ServiceInstance, error) {
	return b.PickKey(instances, "")
}

func (b *ConsistentHashBalancer) Name() string {
	return "ConsistentHash"
}

func (b *ConsistentHashBalancer) sync(instances []registry.ServiceInstance) {
	addrs := make([]string, len(instances))
	for i, inst := range instances {
		addrs[i] = inst.Addr
	}
	slices.Sort(addrs)
	set := strings.Join(addrs, ",")

	b.mu.RLock()
	same := set == b.addrs
	b.mu.RUnlock()
	if same {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.ring = b.ring[:0]
	clear(b.nodes)
	for _, inst := range instances {
		b.add(inst)
	}
	sort.Slice(b.ring, func(i, j int) bool { return b.ring[i] < b.ring[j] })
	b.addrs = set
}
