package loadbalance

import "testing"

type fakeCandidate struct {
	addr   string
	weight int
	alive  bool
}

func (c *fakeCandidate) Addr() string { return c.addr }
func (c *fakeCandidate) Weight() int  { return c.weight }
func (c *fakeCandidate) Alive() bool  { return c.alive }

func TestUniformRandomPicksOnlyAlive(t *testing.T) {
	candidates := []Candidate{
		&fakeCandidate{addr: "a", alive: false},
		&fakeCandidate{addr: "b", alive: true},
		&fakeCandidate{addr: "c", alive: false},
	}
	b := &UniformRandomBalancer{}
	for i := 0; i < 20; i++ {
		picked, err := b.Pick(candidates)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if picked.Addr() != "b" {
			t.Fatalf("expected only alive candidate b, got %s", picked.Addr())
		}
	}
}

func TestUniformRandomFailsWhenNoneAlive(t *testing.T) {
	b := &UniformRandomBalancer{}
	_, err := b.Pick([]Candidate{&fakeCandidate{addr: "a", alive: false}})
	if err == nil {
		t.Fatal("expected error when no candidates are alive")
	}
}

func TestRoundRobinCyclesThroughAlive(t *testing.T) {
	candidates := []Candidate{
		&fakeCandidate{addr: "a", alive: true},
		&fakeCandidate{addr: "b", alive: true},
	}
	b := &RoundRobinBalancer{}
	seen := map[string]int{}
	for i := 0; i < 10; i++ {
		picked, err := b.Pick(candidates)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		seen[picked.Addr()]++
	}
	if seen["a"] == 0 || seen["b"] == 0 {
		t.Fatalf("expected both instances to be picked, got %v", seen)
	}
}

func TestWeightedRandomFavorsHigherWeight(t *testing.T) {
	candidates := []Candidate{
		&fakeCandidate{addr: "heavy", weight: 99, alive: true},
		&fakeCandidate{addr: "light", weight: 1, alive: true},
	}
	b := &WeightedRandomBalancer{}
	counts := map[string]int{}
	for i := 0; i < 200; i++ {
		picked, err := b.Pick(candidates)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		counts[picked.Addr()]++
	}
	if counts["heavy"] <= counts["light"] {
		t.Fatalf("expected heavy to dominate, got %v", counts)
	}
}

func TestConsistentHashIsStableForSameKey(t *testing.T) {
	b := NewConsistentHashBalancer()
	b.Add(&fakeCandidate{addr: "a", alive: true})
	b.Add(&fakeCandidate{addr: "b", alive: true})
	b.Add(&fakeCandidate{addr: "c", alive: true})

	first, err := b.Pick("user-42")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := b.Pick("user-42")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if again.Addr() != first.Addr() {
			t.Fatalf("expected stable mapping, got %s then %s", first.Addr(), again.Addr())
		}
	}
}
