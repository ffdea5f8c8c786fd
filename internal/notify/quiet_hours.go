package notify

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rdk-i/Rflix-User-Center-sub000/internal/models"
)

// quietHoursEnd checks whether now falls inside the user's quiet hours
// and, if so, returns the end of the applicable window. The window may
// wrap midnight (e.g. 22:00 to 08:00).
func quietHoursEnd(q models.QuietHours, now time.Time) (time.Time, bool) {
	if !q.Enabled {
		return time.Time{}, false
	}

	loc, err := time.LoadLocation(q.Timezone)
	if err != nil {
		log.Warn().Err(err).Str("timezone", q.Timezone).Msg("Failed to load timezone, using local time")
		loc = time.Local
	}
	now = now.In(loc)

	startClock, err := time.ParseInLocation("15:04", q.Start, loc)
	if err != nil {
		log.Warn().Err(err).Str("start", q.Start).Msg("Failed to parse quiet hours start time")
		return time.Time{}, false
	}
	endClock, err := time.ParseInLocation("15:04", q.End, loc)
	if err != nil {
		log.Warn().Err(err).Str("end", q.End).Msg("Failed to parse quiet hours end time")
		return time.Time{}, false
	}

	// Set to today's date
	start := time.Date(now.Year(), now.Month(), now.Day(), startClock.Hour(), startClock.Minute(), 0, 0, loc)
	end := time.Date(now.Year(), now.Month(), now.Day(), endClock.Hour(), endClock.Minute(), 0, 0, loc)

	if end.Before(start) {
		// Overnight window (e.g. 22:00 to 08:00)
		if !now.Before(start) {
			// Late evening: the window ends tomorrow morning
			return end.AddDate(0, 0, 1), true
		}
		if now.Before(end) {
			// Early morning: the window ends later today
			return end, true
		}
		return time.Time{}, false
	}

	if !now.Before(start) && now.Before(end) {
		return end, true
	}
	return time.Time{}, false
}
