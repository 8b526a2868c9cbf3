package utils

import (
	"fmt"
	"time"
)

// DayLabelLayout is the bucket label format, one label per local calendar day.
const DayLabelLayout = "2006-01-02"

// DayStart returns local midnight of the calendar day containing t.
func DayStart(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// DayBounds returns the epoch-millisecond bounds [start, end) of the local
// calendar day containing t. Days are not assumed to be 24h long.
func DayBounds(t time.Time, loc *time.Location) (int64, int64) {
	start := DayStart(t, loc)
	end := start.AddDate(0, 0, 1)
	return start.UnixMilli(), end.UnixMilli()
}

// DayLabel converts an epoch-millisecond timestamp into its local day label.
func DayLabel(ms int64, loc *time.Location) string {
	return time.UnixMilli(ms).In(loc).Format(DayLabelLayout)
}

// ParseDayLabel returns local midnight for a label produced by DayLabel.
func ParseDayLabel(label string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(DayLabelLayout, label, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid day label %q: %w", label, err)
	}
	return t, nil
}

// NextMidnight returns how long until the local calendar day after now begins.
func NextMidnight(now time.Time, loc *time.Location) time.Duration {
	return DayStart(now, loc).AddDate(0, 0, 1).Sub(now)
}
