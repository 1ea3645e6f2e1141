// Package loadbalance picks which discovered server a client session should use.
//
// Three strategies are implemented:
//   - RoundRobin:      equal-capacity instances
//   - WeightedRandom:  heterogeneous instances, by ServiceInstance.Weight
//   - ConsistentHash:  affinity, the same key keeps landing on the same instance
package loadbalance

import (
	"fmt"

	"echostream/registry"
)

// ErrNoInstances is returned by every strategy for an empty instance list.
var ErrNoInstances = fmt.Errorf("no instances available")

// Balancer selects a target instance. Pick is called per request and must be goroutine-safe.
type Balancer interface {
	Pick(instances []registry.ServiceInstance) (*registry.ServiceInstance, error)
	Name() string
}

// KeyedBalancer also picks by an affinity key.
type KeyedBalancer interface {
	Balancer
	PickKey(instances []registry.ServiceInstance, key string) (*registry.ServiceInstance, error)
}

// New returns the strategy registered under name: "round_robin", "weighted_random" or
// "consistent_hash".
func New(name string) (Balancer, error) {
	switch name {
	case "round_robin", "":
		return &RoundRobinBalancer{}, nil
	case "weighted_random":
		return &WeightedRandomBalancer{}, nil
	case "consistent_hash":
		return NewConsistentHashBalancer(), nil
	default:
		return nil, fmt.Errorf("unknown balancer %q", name)
	}
}
