package timex

import (
	"testing"
	"time"
)

func TestUnixSecondsRoundTrip(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	if got := FromUnixSeconds(UnixSeconds(ts)); !got.Equal(ts) {
		t.Fatalf("round trip: %v", got)
	}
	if UnixSeconds(time.Time{}) != 0 {
		t.Fatal("zero time should map to 0")
	}
	if !FromUnixSeconds(0).IsZero() {
		t.Fatal("0 should map to zero time")
	}
	if WholeSeconds(1500*time.Millisecond) != time.Second {
		t.Fatal("WholeSeconds")
	}
}
