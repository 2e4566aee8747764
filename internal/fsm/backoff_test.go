package fsm

import (
	"testing"
	"time"
)

func TestBackoffDoublesUpToCap(t *testing.T) {
	base := time.Second
	cap := 10 * time.Second

	for attempt, wantBase := range map[int]time.Duration{
		0: time.Second,
		1: 2 * time.Second,
		2: 4 * time.Second,
		3: 8 * time.Second,
		4: cap, // would be 16s, clamped
		9: cap,
	} {
		d := backoff(attempt, base, cap)
		if d < wantBase || d > wantBase+wantBase/5 {
			t.Fatalf("attempt %d: got %v, want in [%v, %v]", attempt, d, wantBase, wantBase+wantBase/5)
		}
	}
}

func TestBackoffNeverExceedsCapPlusJitter(t *testing.T) {
	base := time.Second
	cap := 5 * time.Second
	for attempt := 0; attempt < 20; attempt++ {
		d := backoff(attempt, base, cap)
		if d > cap+cap/5 {
			t.Fatalf("attempt %d produced %v, exceeding cap+jitter %v", attempt, d, cap+cap/5)
		}
	}
}

func TestBackoffTreatsNegativeAttemptAsZero(t *testing.T) {
	d := backoff(-3, time.Second, 10*time.Second)
	if d < time.Second || d > 2*time.Second {
		t.Fatalf("negative attempt produced %v, expected around base duration", d)
	}
}
