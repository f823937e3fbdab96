package mathx

import (
	"testing"
	"time"
)

func TestClamp(t *testing.T) {
	if got := Clamp(5, 10, 0); got != 5 {
		t.Fatalf("swapped bounds: %d", got)
	}
	if got := Clamp(-1, 0, 10); got != 0 {
		t.Fatalf("low: %d", got)
	}
	if got := Clamp(11*time.Second, 0, 10*time.Second); got != 10*time.Second {
		t.Fatalf("high: %v", got)
	}
}

func TestAtLeastAndSatSub(t *testing.T) {
	if got := AtLeast(10*time.Second, 30*time.Second); got != 30*time.Second {
		t.Fatalf("AtLeast = %v", got)
	}
	if got := SatSub[uint32](3, 5); got != 0 {
		t.Fatalf("SatSub underflow = %d", got)
	}
	if got := SatSub[uint32](7, 5); got != 2 {
		t.Fatalf("SatSub = %d", got)
	}
}

func TestCeilDivPercent(t *testing.T) {
	if CeilDiv[uint32](10, 4) != 3 || CeilDiv[uint32](8, 4) != 2 || CeilDiv[uint32](1, 0) != 0 {
		t.Fatal("CeilDiv")
	}
	if Percent[uint32](1, 4) != 25 || Percent[uint32](4, 4) != 100 || Percent[uint32](0, 0) != 100 {
		t.Fatal("Percent")
	}
}
