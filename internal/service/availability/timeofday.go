package availability

import (
	"fmt"
	"regexp"
	"time"

	apperrors "github.com/jwalitptl/medbooking/pkg/errors"
)

var hhmmPattern = regexp.MustCompile(`^([01]?\d|2[0-3]):([0-5]\d)$`)

// NormalizeTime validates an H:MM or HH:MM value and returns it as HH:MM.
func NormalizeTime(value string) (string, bool) {
	m := hhmmPattern.FindStringSubmatch(value)
	if m == nil {
		return "", false
	}
	hour := m[1]
	if len(hour) == 1 {
		hour = "0" + hour
	}
	return hour + ":" + m[2], true
}

func ensureTime(value, field string) (string, error) {
	t, ok := NormalizeTime(value)
	if !ok {
		return "", apperrors.Invalid(fmt.Sprintf("invalid %s format, expected HH:MM", field)).
			WithData("field", field)
	}
	return t, nil
}

func ensureRange(start, end string) error {
	if start >= end {
		return apperrors.Invalid("start_time must be before end_time")
	}
	return nil
}

func ensureDay(day int) error {
	if day < 0 || day > 6 {
		return apperrors.Invalid("day_of_week must be between 0 and 6").WithData("field", "day_of_week")
	}
	return nil
}

// Window maps an instant and a duration onto the UTC weekday and HH:MM
// range it occupies. A visit crossing midnight ends at "24:00" so it can
// never fit inside a window.
func Window(at time.Time, d time.Duration) (day int, start, end string) {
	at = at.UTC()
	finish := at.Add(d)
	start = at.Format("15:04")
	end = finish.Format("15:04")
	if finish.Day() != at.Day() {
		end = "24:00"
	}
	return int(at.Weekday()), start, end
}

func overlaps(aStart, aEnd, bStart, bEnd string) bool {
	return aStart < bEnd && aEnd > bStart
}
