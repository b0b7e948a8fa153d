package domain

import "time"

// PeriodType represents the calendar granularity of a metrics period
type PeriodType string

const (
	PeriodWeekly  PeriodType = "weekly"
	PeriodMonthly PeriodType = "monthly"
)

// Period represents a calendar-aligned time window for metrics calculation.
// Weekly periods run Monday 00:00:00 through Sunday 23:59:59; monthly
// periods run from the first of the month through its last second. Both
// bounds are inclusive and in UTC.
type Period struct {
	Type  PeriodType `json:"type"`
	Start time.Time  `json:"start_date"`
	End   time.Time  `json:"end_date"`
}

// Days returns the number of calendar days covered by the period, never
// less than 1. The end bound is the last second of its day, so the count
// is inclusive of both bounds.
func (p Period) Days() int {
	days := int(p.End.Sub(p.Start).Hours()/24) + 1
	if days < 1 {
		return 1
	}
	return days
}

// GeneratePeriods generates all full periods between start and end.
// The range is normalized to midnight UTC at the start and the last second
// of the end day. A period is emitted only if its end does not exceed the
// normalized range end, so no partial trailing period is produced. An empty
// range yields an empty slice, not an error.
func GeneratePeriods(start, end time.Time, periodType PeriodType) []Period {
	periods := []Period{}

	current := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	rangeEnd := time.Date(end.Year(), end.Month(), end.Day(), 23, 59, 59, 0, time.UTC)

	if periodType == PeriodWeekly {
		current = alignToMonday(current)

		for current.Before(rangeEnd) {
			periodEnd := current.AddDate(0, 0, 7).Add(-time.Second)
			if periodEnd.After(rangeEnd) {
				break
			}
			periods = append(periods, Period{Type: PeriodWeekly, Start: current, End: periodEnd})
			current = current.AddDate(0, 0, 7)
		}
		return periods
	}

	// Monthly: align to the first of the month
	current = time.Date(current.Year(), current.Month(), 1, 0, 0, 0, 0, time.UTC)

	for current.Before(rangeEnd) {
		nextMonth := current.AddDate(0, 1, 0)
		periodEnd := nextMonth.Add(-time.Second)
		if periodEnd.After(rangeEnd) {
			break
		}
		periods = append(periods, Period{Type: PeriodMonthly, Start: current, End: periodEnd})
		current = nextMonth
	}
	return periods
}

// CurrentPeriod returns the most recently completed period of the given
// type relative to now: the last full Monday-to-Sunday week, or the
// previous calendar month.
func CurrentPeriod(now time.Time, periodType PeriodType) Period {
	now = now.UTC()

	if periodType == PeriodWeekly {
		thisMonday := alignToMonday(time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC))
		lastMonday := thisMonday.AddDate(0, 0, -7)
		return Period{
			Type:  PeriodWeekly,
			Start: lastMonday,
			End:   lastMonday.AddDate(0, 0, 7).Add(-time.Second),
		}
	}

	firstOfThisMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	firstOfPrevMonth := firstOfThisMonth.AddDate(0, -1, 0)
	return Period{
		Type:  PeriodMonthly,
		Start: firstOfPrevMonth,
		End:   firstOfThisMonth.Add(-time.Second),
	}
}

// alignToMonday returns the Monday on or before t
func alignToMonday(t time.Time) time.Time {
	weekday := int(t.Weekday())
	if weekday == 0 {
		weekday = 7 // Sunday
	}
	return t.AddDate(0, 0, -(weekday - 1))
}
