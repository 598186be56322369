package agreement

import (
	"errors"
	"fmt"
	"time"
)

// ErrUnknownFrequency is returned for a frequency the schedule cannot advance.
var ErrUnknownFrequency = errors.New("agreement: unknown frequency")

var frequencyMonths = map[Frequency]int{
	FrequencyMonthly:      1,
	FrequencyQuarterly:    3,
	FrequencySemiannually: 6,
	FrequencyAnnually:     12,
}

// NextDueDate returns current advanced by one period of f.
//
// Months are added on the calendar. When the target month has fewer days than
// current's day of month the result is clamped to the target month's last day,
// so 2024-01-31 + monthly is 2024-02-29 and 2024-02-29 + annually is
// 2025-02-28. Clock time and location are kept.
func NextDueDate(current time.Time, f Frequency) (time.Time, error) {
	months, ok := frequencyMonths[f]
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %q", ErrUnknownFrequency, f)
	}
	return addMonthsClamped(current, months), nil
}

func addMonthsClamped(t time.Time, months int) time.Time {
	year, month, day := t.Date()
	hour, minute, sec := t.Clock()

	// Day 1 never overflows, so this lands in the target month.
	first := time.Date(year, month+time.Month(months), 1, 0, 0, 0, 0, t.Location())
	ty, tm, _ := first.Date()

	if last := daysIn(ty, tm, t.Location()); day > last {
		day = last
	}
	return time.Date(ty, tm, day, hour, minute, sec, t.Nanosecond(), t.Location())
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	// Day 0 of the next month is the last day of this one.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}
