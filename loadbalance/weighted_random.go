package loadbalance

import "math/rand"

// WeightedRandomBalancer selects alive instances probabilistically based
// on their weight. An instance with weight 10 gets roughly 2x the traffic
// of one with weight 5.
//
// Best for: heterogeneous instances (e.g., some servers have more CPU/memory).
//
// Algorithm:
//  1. Sum all weights → totalWeight
//  2. Generate random number r in [0, totalWeight)
//  3. Subtract each instance's weight from r until r < 0
//  4. The instance that makes r negative is selected
type WeightedRandomBalancer struct{}

func (b *WeightedRandomBalancer) Pick(candidates []Candidate) (Candidate, error) {
	alive := aliveOnly(candidates)
	if len(alive) == 0 {
		return nil, errNoneAlive
	}

	totalWeight := 0
	for _, c := range alive {
		totalWeight += weightOf(c)
	}
	if totalWeight == 0 {
		return alive[rand.Intn(len(alive))], nil
	}

	r := rand.Intn(totalWeight)
	for _, c := range alive {
		r -= weightOf(c)
		if r < 0 {
			return c, nil
		}
	}
	return alive[len(alive)-1], nil
}

func weightOf(c Candidate) int {
	if w := c.Weight(); w > 0 {
		return w
	}
	return 1
}

func (b *WeightedRandomBalancer) Name() string {
	return "WeightedRandom"
}
