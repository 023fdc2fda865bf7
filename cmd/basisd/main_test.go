package main

import (
	"testing"
	"time"
)

func TestRefreshTick_AlignsToHourBoundary(t *testing.T) {
	last := time.Date(2024, 3, 1, 13, 0, 0, 0, time.UTC)

	// A tick late in the next hour fires once, at that hour's boundary.
	ts, ok := refreshTick(time.Date(2024, 3, 1, 14, 23, 7, 123, time.UTC), last)
	if !ok {
		t.Fatal("tick crossing into a new hour did not fire")
	}
	want := time.Date(2024, 3, 1, 14, 0, 0, 0, time.UTC)
	if !ts.Equal(want) {
		t.Errorf("fired at %s, want hour boundary %s", ts, want)
	}
	if ts.Minute() != 0 || ts.Second() != 0 || ts.Nanosecond() != 0 {
		t.Errorf("trigger time %s not hour-aligned", ts)
	}
}

func TestRefreshTick_OncePerHour(t *testing.T) {
	last := time.Date(2024, 3, 1, 13, 0, 0, 0, time.UTC)

	ts, ok := refreshTick(time.Date(2024, 3, 1, 14, 5, 0, 0, time.UTC), last)
	if !ok {
		t.Fatal("first tick of the hour did not fire")
	}

	// Later ticks inside the same hour are suppressed.
	if _, ok := refreshTick(time.Date(2024, 3, 1, 14, 35, 0, 0, time.UTC), ts); ok {
		t.Error("second tick in the same hour fired again")
	}
	if _, ok := refreshTick(time.Date(2024, 3, 1, 14, 59, 59, 0, time.UTC), ts); ok {
		t.Error("tick at the end of the hour fired again")
	}

	// The next hour fires again.
	next, ok := refreshTick(time.Date(2024, 3, 1, 15, 0, 1, 0, time.UTC), ts)
	if !ok {
		t.Fatal("tick in the following hour did not fire")
	}
	if !next.Equal(time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC)) {
		t.Errorf("fired at %s, want 15:00", next)
	}
}
