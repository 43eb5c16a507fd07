package models

import (
	"testing"
	"time"
)

func TestBusinessYearFollowsBusinessTimezone(t *testing.T) {
	// 18:00 UTC on Dec 31 is already Jan 1 in Yangon (UTC+6:30)
	instant := time.Date(2025, time.December, 31, 18, 0, 0, 0, time.UTC)

	yangon := &Business{Timezone: "Asia/Yangon"}
	if got := businessYear(yangon, instant); got != 2026 {
		t.Fatalf("year in Asia/Yangon = %d, want 2026", got)
	}

	utc := &Business{Timezone: "UTC"}
	if got := businessYear(utc, instant); got != 2025 {
		t.Fatalf("year in UTC = %d, want 2025", got)
	}
}

func TestBusinessYearFallsBackOnBadTimezone(t *testing.T) {
	instant := time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)

	if got := businessYear(&Business{Timezone: "Not/AZone"}, instant); got != instant.Year() {
		t.Fatalf("unknown zone produced year %d, want %d", got, instant.Year())
	}
	if got := businessYear(&Business{}, instant); got != instant.Year() {
		t.Fatalf("empty zone produced year %d, want %d", got, instant.Year())
	}
}
