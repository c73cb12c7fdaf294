package program

import "time"

// ComputeProgramDay returns the 1-indexed program day for targetDate
// given the enrollment start date. Both instants are reduced to calendar
// dates in UTC before differencing, so the result is insensitive to the
// time-of-day and zone of either input. Day one is the start date itself;
// dates before the start yield values below one and are skipped by
// callers.
func ComputeProgramDay(startDate, targetDate time.Time) int {
	start := midnightUTC(startDate)
	target := midnightUTC(targetDate)
	return int(target.Sub(start).Hours()/24) + 1
}

// Coordinate maps a program day onto its 1-indexed (week, day-of-week)
// template coordinate.
func Coordinate(programDay int) (week, dayOfWeek int) {
	return (programDay-1)/7 + 1, (programDay-1)%7 + 1
}

func midnightUTC(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
