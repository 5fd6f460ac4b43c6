package buffer

import "testing"

func TestRingKeepsMostRecent(t *testing.T) {
	ring := NewRing[int](3)
	for i := 1; i <= 5; i++ {
		ring.Append(i)
	}

	items := ring.Items()
	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(items))
	}
	for i, want := range []int{3, 4, 5} {
		if items[i] != want {
			t.Fatalf("items[%d] = %d, want %d", i, items[i], want)
		}
	}
}

func TestRingPartialFill(t *testing.T) {
	ring := NewRing[string](4)
	ring.Append("a")
	ring.Append("b")

	if ring.Len() != 2 {
		t.Fatalf("expected len 2, got %d", ring.Len())
	}
	if ring.Cap() != 4 {
		t.Fatalf("expected cap 4, got %d", ring.Cap())
	}
	items := ring.Items()
	if len(items) != 2 || items[0] != "a" || items[1] != "b" {
		t.Fatalf("unexpected items %v", items)
	}
}

func TestRingZeroCapacityClampsToOne(t *testing.T) {
	ring := NewRing[int](0)
	ring.Append(7)
	ring.Append(8)

	items := ring.Items()
	if len(items) != 1 || items[0] != 8 {
		t.Fatalf("unexpected items %v", items)
	}
}

func TestNilRingIsSafe(t *testing.T) {
	var ring *Ring[int]
	ring.Append(1)
	if ring.Len() != 0 || ring.Cap() != 0 || ring.Items() != nil {
		t.Fatalf("nil ring should be inert")
	}
}
