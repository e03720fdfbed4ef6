package duedate

import (
	"testing"
	"time"
)

func TestParse(t *testing.T) {
	// Fixed reference time for deterministic tests
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		input   string
		want    time.Time
		wantErr bool
	}{
		{
			name:  "calendar date is UTC midnight",
			input: "2025-07-01",
			want:  time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:  "RFC3339 keeps the instant",
			input: "2025-07-01T09:30:00+02:00",
			want:  time.Date(2025, 7, 1, 7, 30, 0, 0, time.UTC),
		},
		{
			name:  "+6h adds 6 hours",
			input: "+6h",
			want:  time.Date(2025, 6, 15, 18, 0, 0, 0, time.UTC),
		},
		{
			name:  "3d without sign is in the future",
			input: "3d",
			want:  time.Date(2025, 6, 18, 12, 0, 0, 0, time.UTC),
		},
		{
			name:  "-2w subtracts 2 weeks",
			input: "-2w",
			want:  time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		},
		{
			name:  "+1m adds a month",
			input: "+1m",
			want:  time.Date(2025, 7, 15, 12, 0, 0, 0, time.UTC),
		},
		{
			name:    "empty",
			input:   "  ",
			wantErr: true,
		},
		{
			name:    "gibberish",
			input:   "whenever you like",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input, now)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Parse(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && !got.Equal(tt.want) {
				t.Errorf("Parse(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseNaturalLanguage(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	got, err := Parse("tomorrow", now)
	if err != nil {
		t.Fatalf("Parse(tomorrow): %v", err)
	}
	if y, m, d := got.Date(); y != 2025 || m != time.June || d != 16 {
		t.Errorf("Parse(tomorrow) = %v, want 2025-06-16", got)
	}
}

func TestHumanize(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	if got := Humanize(nil, now); got != "-" {
		t.Errorf("Humanize(nil) = %q", got)
	}
	future := now.Add(72 * time.Hour)
	if got := Humanize(&future, now); got != "3 days from now" {
		t.Errorf("Humanize(+72h) = %q", got)
	}
	past := now.Add(-2 * time.Hour)
	if got := Humanize(&past, now); got != "2 hours ago" {
		t.Errorf("Humanize(-2h) = %q", got)
	}
}
