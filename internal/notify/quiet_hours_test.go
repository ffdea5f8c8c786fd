package notify

import (
	"testing"
	"time"

	"github.com/rdk-i/Rflix-User-Center-sub000/internal/models"
)

func TestQuietHoursEnd(t *testing.T) {
	day := func(hour, min int) time.Time {
		return time.Date(2026, 3, 10, hour, min, 0, 0, time.UTC)
	}

	tests := []struct {
		name     string
		quiet    models.QuietHours
		now      time.Time
		wantEnd  time.Time
		wantHush bool
	}{
		{
			name:     "disabled",
			quiet:    models.QuietHours{Enabled: false, Start: "22:00", End: "08:00", Timezone: "UTC"},
			now:      day(23, 0),
			wantHush: false,
		},
		{
			name:     "inside same-day window",
			quiet:    models.QuietHours{Enabled: true, Start: "12:00", End: "14:00", Timezone: "UTC"},
			now:      day(13, 0),
			wantEnd:  day(14, 0),
			wantHush: true,
		},
		{
			name:     "outside same-day window",
			quiet:    models.QuietHours{Enabled: true, Start: "12:00", End: "14:00", Timezone: "UTC"},
			now:      day(15, 0),
			wantHush: false,
		},
		{
			name:     "overnight late evening ends tomorrow",
			quiet:    models.QuietHours{Enabled: true, Start: "22:00", End: "08:00", Timezone: "UTC"},
			now:      day(23, 30),
			wantEnd:  time.Date(2026, 3, 11, 8, 0, 0, 0, time.UTC),
			wantHush: true,
		},
		{
			name:     "overnight early morning ends today",
			quiet:    models.QuietHours{Enabled: true, Start: "22:00", End: "08:00", Timezone: "UTC"},
			now:      day(3, 0),
			wantEnd:  day(8, 0),
			wantHush: true,
		},
		{
			name:     "overnight boundary start is quiet",
			quiet:    models.QuietHours{Enabled: true, Start: "22:00", End: "08:00", Timezone: "UTC"},
			now:      day(22, 0),
			wantEnd:  time.Date(2026, 3, 11, 8, 0, 0, 0, time.UTC),
			wantHush: true,
		},
		{
			name:     "overnight boundary end is not quiet",
			quiet:    models.QuietHours{Enabled: true, Start: "22:00", End: "08:00", Timezone: "UTC"},
			now:      day(8, 0),
			wantHush: false,
		},
		{
			name:     "daytime outside overnight window",
			quiet:    models.QuietHours{Enabled: true, Start: "22:00", End: "08:00", Timezone: "UTC"},
			now:      day(12, 0),
			wantHush: false,
		},
		{
			name:     "unparseable start disables the window",
			quiet:    models.QuietHours{Enabled: true, Start: "10pm", End: "08:00", Timezone: "UTC"},
			now:      day(23, 0),
			wantHush: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			end, hush := quietHoursEnd(tt.quiet, tt.now)
			if hush != tt.wantHush {
				t.Fatalf("expected quiet=%v, got %v", tt.wantHush, hush)
			}
			if hush && !end.Equal(tt.wantEnd) {
				t.Errorf("expected window end %s, got %s", tt.wantEnd, end)
			}
		})
	}
}
