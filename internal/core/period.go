package core

import "time"

// FindPeriodForDate returns the first period in slice order whose
// [StartDate, EndDate) interval contains the date. When periods overlap the
// first match wins; callers must not rely on that ordering, overlapping
// periods are outside the supported contract. The same lookup re-derives
// which period an existing expense belongs to from its PurchaseDate, so
// editing a period's range can silently move expenses between periods.
func FindPeriodForDate(date Date, periods []BillingPeriod) (BillingPeriod, bool) {
	for _, p := range periods {
		if p.Contains(date) {
			return p, true
		}
	}
	return BillingPeriod{}, false
}

// ProjectDate places a desired day-of-month (1-31) inside the period:
// the day is taken in the calendar month of StartDate, clamped to that
// month's length; if the result precedes StartDate it is recomputed in the
// following month; if it still falls outside the interval it is clamped to
// EndDate minus one day. For any valid period the result satisfies
// period.Contains(result).
func ProjectDate(period BillingPeriod, desiredDay int) Date {
	year, month := period.StartDate.Year(), int(period.StartDate.Month())

	candidate := clampedDate(year, month, desiredDay)
	if candidate.Before(period.StartDate) {
		// time.Date normalizes month 13 into January of the next year.
		candidate = clampedDate(year, month+1, desiredDay)
	}
	if !period.Contains(candidate) {
		candidate = period.EndDate.AddDays(-1)
	}
	return candidate
}

// clampedDate builds a date from year/month/day with the day clamped to the
// month's last day, so day 31 in a 30-day month lands on the 30th.
func clampedDate(year, month, day int) Date {
	if last := LastDayOfMonth(year, month); day > last {
		day = last
	}
	return NewDate(year, month, day)
}

// LastDayOfMonth returns the number of days in the month, using day zero of
// the following month.
func LastDayOfMonth(year, month int) int {
	return time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
