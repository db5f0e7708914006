package stats

import "testing"

func TestPDegradesWithDtOnEmptyWindow(t *testing.T) {
	w := NewSampleWindow(100, 1000)

	p1 := w.P(1.0)
	p2 := w.P(2.0)

	if !(p2 < p1) {
		t.Fatalf("expected P to decrease as dt grows on an empty window, got P(1)=%v P(2)=%v", p1, p2)
	}
	if Phi(p1) <= 0 {
		t.Fatalf("expected a positive phi for an empty window at dt=1, got %v", Phi(p1))
	}
	if !(Phi(p2) > Phi(p1)) {
		t.Fatalf("expected phi to strictly increase with dt, got phi(1)=%v phi(2)=%v", Phi(p1), Phi(p2))
	}
}

func TestPStaysHighForFreshWindowAtSmallDt(t *testing.T) {
	w := NewSampleWindow(100, 1000)
	for i := 0; i < 10; i++ {
		w.Add(0.01) // 10ms round trips
	}

	if p := w.P(0.01); p < 0.4 {
		t.Fatalf("expected a typical round trip to still look plausible, got P=%v", p)
	}
}
