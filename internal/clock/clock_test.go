package clock_test

import (
	"testing"
	"time"

	"github.com/relaygrid/fleetsched/internal/clock"
)

func TestFixedClock(t *testing.T) {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := clock.Fixed{At: at}
	if !c.Now().Equal(at) {
		t.Errorf("Now() = %v, want %v", c.Now(), at)
	}
}

func TestSequenceClock(t *testing.T) {
	t1 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Minute)
	c := clock.NewSequence(t1, t2)

	if got := c.Now(); !got.Equal(t1) {
		t.Errorf("first Now() = %v, want %v", got, t1)
	}
	if got := c.Now(); !got.Equal(t2) {
		t.Errorf("second Now() = %v, want %v", got, t2)
	}
	if got := c.Now(); !got.Equal(t2) {
		t.Errorf("third Now() should repeat last instant, got %v, want %v", got, t2)
	}
}

func TestRealClockIsUTC(t *testing.T) {
	c := clock.Real{}
	if c.Now().Location() != time.UTC {
		t.Errorf("Real clock should report UTC, got %v", c.Now().Location())
	}
}
