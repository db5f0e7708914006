package loadbalance

import (
	"sync/atomic"
)

// RoundRobinBalancer distributes requests evenly across alive instances in
// order. Uses an atomic counter for lock-free, goroutine-safe operation.
//
// Best for: stateless services where all instances have similar capacity.
type RoundRobinBalancer struct {
	counter int64 // Atomic counter, incremented on each Pick()
}

// Pick selects the next alive instance in round-robin order.
func (b *RoundRobinBalancer) Pick(candidates []Candidate) (Candidate, error) {
	alive := aliveOnly(candidates)
	if len(alive) == 0 {
		return nil, errNoneAlive
	}
	index := atomic.AddInt64(&b.counter, 1) % int64(len(alive))
	return alive[index], nil
}

func (b *RoundRobinBalancer) Name() string {
	return "RoundRobin"
}
