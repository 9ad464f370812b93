package reconnect

import (
	"testing"
	"time"
)

func TestNextBackoffCapsAtMax(t *testing.T) {
	cases := []struct {
		name    string
		current time.Duration
		want    time.Duration
	}{
		{"below cap doubles", time.Second, 2 * time.Second},
		{"at cap stays", 30 * time.Second, 30 * time.Second},
		{"just under cap clamps", 20 * time.Second, 30 * time.Second},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := nextBackoff(tc.current, 2.0, 30*time.Second)
			if got != tc.want {
				t.Errorf("nextBackoff(%v) = %v, want %v", tc.current, got, tc.want)
			}
		})
	}
}

func TestBackoffNextNeverNegative(t *testing.T) {
	b := DefaultBackoff()
	for i := 0; i < 20; i++ {
		d := b.Next()
		if d < 0 {
			t.Fatalf("Next() returned negative duration %v at iteration %d", d, i)
		}
	}
}

func TestBackoffResetReturnsToBase(t *testing.T) {
	b := DefaultBackoff()
	b.JitterFraction = 0 // deterministic for this assertion
	first := b.Next()
	if first != b.Base {
		t.Fatalf("first Next() = %v, want base %v", first, b.Base)
	}
	_ = b.Next()
	_ = b.Next()
	b.Reset()
	again := b.Next()
	if again != b.Base {
		t.Fatalf("Next() after Reset() = %v, want base %v", again, b.Base)
	}
}

func TestJitterWithinBounds(t *testing.T) {
	d := time.Second
	for i := 0; i < 50; i++ {
		j := jitter(d, 0.2)
		if j < 800*time.Millisecond || j > 1200*time.Millisecond {
			t.Fatalf("jitter(%v, 0.2) = %v, out of expected [0.8s,1.2s] bound", d, j)
		}
	}
}
