package patchchan

import (
	"testing"
	"time"
)

func TestBackoffSchedule(t *testing.T) {
	b := NewBackoff(time.Second, 8*time.Second)

	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		8 * time.Second,
		8 * time.Second,
	}
	for i, w := range want {
		if got := b.Next(); got != w {
			t.Errorf("retry %d: delay = %v, want %v", i+1, got, w)
		}
	}
}

func TestBackoffResetAfterSuccess(t *testing.T) {
	b := NewBackoff(time.Second, 8*time.Second)
	b.Next()
	b.Next()
	b.Next()

	b.Reset()

	if got := b.Next(); got != time.Second {
		t.Errorf("delay after reset = %v, want 1s", got)
	}
}

func TestBackoffDefaults(t *testing.T) {
	b := NewBackoff(0, 0)
	if b.Base != time.Second || b.Cap != 8*time.Second {
		t.Errorf("defaults = %v/%v, want 1s/8s", b.Base, b.Cap)
	}
}
