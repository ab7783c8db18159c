package operations

import (
	"fmt"
	"time"
)

// EstimateRemaining extrapolates the time left from the average rate so far.
// It reports false until there is a measurable rate.
func EstimateRemaining(progress float64, elapsed time.Duration) (time.Duration, bool) {
	if progress <= 0 || progress >= 100 || elapsed <= 0 {
		return 0, false
	}

	rate := progress / elapsed.Seconds()
	if rate <= 0 {
		return 0, false
	}

	remaining := (100 - progress) / rate
	return time.Duration(remaining * float64(time.Second)), true
}

// FormatDuration renders a duration the way operators read ETAs
func FormatDuration(d time.Duration) string {
	switch {
	case d < 0:
		return "calculating..."
	case d < time.Minute:
		return fmt.Sprintf("%.0f seconds", d.Seconds())
	case d < time.Hour:
		return fmt.Sprintf("%.1f minutes", d.Minutes())
	default:
		return fmt.Sprintf("%.1f hours", d.Hours())
	}
}
