package assessment

import "time"

// DueDate computes when the assessment of an episode falls due: the episode
// start plus the configured number of weeks, truncated to a date.
func DueDate(episodeStart time.Time, weeks int) time.Time {
	due := episodeStart.UTC().AddDate(0, 0, weeks*7)
	return time.Date(due.Year(), due.Month(), due.Day(), 0, 0, 0, 0, time.UTC)
}

// OutdatedCutoff returns the due-date cutoff before which a still-open case
// is considered abandoned and force-closed.
func OutdatedCutoff(now time.Time, months int) time.Time {
	return now.UTC().AddDate(0, -months, 0)
}

// episodeWeeks is the episode duration in whole weeks.
func episodeWeeks(start, end time.Time) int {
	if end.Before(start) {
		return 0
	}
	days := int(end.Sub(start).Hours()/24) + 1
	return days / 7
}
