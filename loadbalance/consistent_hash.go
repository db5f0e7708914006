package loadbalance

import (
	"fmt"
	"hash/crc32"
	"sort"
)

// ConsistentHashBalancer maps keys to candidates using a hash ring. The
// same key always maps to the same candidate (until the ring changes),
// providing cache affinity — useful for stateful services or local caches.
//
// Virtual nodes: each real instance is mapped to N virtual nodes on the
// ring. Without virtual nodes, a handful of instances might cluster
// together on the ring, causing uneven load distribution.
//
// Note: unlike the other strategies, Pick takes a string key rather than a
// candidate list, since consistent hashing is key-based — the ring is built
// ahead of time via Add/Remove rather than the candidate set being passed
// in fresh on every call. It does not implement the Balancer interface.
type ConsistentHashBalancer struct {
	replicas int
	ring     []uint32
	nodes    map[uint32]Candidate
}

// NewConsistentHashBalancer creates a hash ring with 100 virtual nodes per
// instance.
func NewConsistentHashBalancer() *ConsistentHashBalancer {
	return &ConsistentHashBalancer{
		replicas: 100,
		nodes:    make(map[uint32]Candidate),
	}
}

// Add places a candidate onto the hash ring with N virtual nodes.
func (b *ConsistentHashBalancer) Add(c Candidate) {
	for i := 0; i < b.replicas; i++ {
		key := fmt.Sprintf("%s#%d", c.Addr(), i)
		hash := crc32.ChecksumIEEE([]byte(key))
		b.ring = append(b.ring, hash)
		b.nodes[hash] = c
	}
	sort.Slice(b.ring, func(i, j int) bool {
		return b.ring[i] < b.ring[j]
	})
}

// Pick finds the candidate responsible for the given key by hashing it and
// walking clockwise to the first node on the ring.
func (b *ConsistentHashBalancer) Pick(key string) (Candidate, error) {
	if len(b.ring) == 0 {
		return nil, errNoneAlive
	}
	hash := crc32.ChecksumIEEE([]byte(key))

	idx := sort.Search(len(b.ring), func(i int) bool {
		return b.ring[i] >= hash
	})
	if idx == len(b.ring) {
		idx = 0
	}

	return b.nodes[b.ring[idx]], nil
}

func (b *ConsistentHashBalancer) Name() string {
	return "ConsistentHash"
}
