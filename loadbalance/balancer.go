// Package loadbalance provides pluggable strategies for picking one
// instance out of a Service's alive set. Strategies depend only on a small
// Candidate interface rather than on the service package's concrete type,
// so service can depend on loadbalance without loadbalance depending back
// on service.
//
// Four strategies are implemented:
//   - UniformRandom:   the runtime's default (spec.md §4.5's "select
//     uniformly at random from instances reported alive")
//   - RoundRobin:      stateless services, equal-capacity instances
//   - WeightedRandom:  heterogeneous instances (different CPU/memory)
//   - ConsistentHash:  stateful services requiring cache affinity
package loadbalance

import "fmt"

// Candidate is the subset of a service.ServiceInstance a Balancer needs:
// an address to dial, a weight for proportional strategies, and whether
// its Connection currently reports Responsive.
type Candidate interface {
	Addr() string
	Weight() int
	Alive() bool
}

// Balancer picks one instance from a candidate set. Pick is called on
// every connect attempt and must be goroutine-safe.
type Balancer interface {
	Pick(candidates []Candidate) (Candidate, error)
	Name() string
}

// aliveOnly filters candidates down to those currently reporting alive.
func aliveOnly(candidates []Candidate) []Candidate {
	out := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Alive() {
			out = append(out, c)
		}
	}
	return out
}

var errNoneAlive = fmt.Errorf("no alive instances available")
