package loadbalance

import "math/rand"

// UniformRandomBalancer picks uniformly at random among alive candidates.
// This is the runtime's default strategy, matching spec.md §4.5 exactly:
// "select uniformly at random from instances reported alive".
type UniformRandomBalancer struct{}

func (b *UniformRandomBalancer) Pick(candidates []Candidate) (Candidate, error) {
	alive := aliveOnly(candidates)
	if len(alive) == 0 {
		return nil, errNoneAlive
	}
	return alive[rand.Intn(len(alive))], nil
}

func (b *UniformRandomBalancer) Name() string {
	return "UniformRandom"
}
