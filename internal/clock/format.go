package clock

import (
	"fmt"
	"time"
)

// FormatDuration renders a second count as HH:MM:SS.
// Negative input renders as zero; hours are not wrapped at 24.
func FormatDuration(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int64(seconds)
	hours := total / 3600
	minutes := (total % 3600) / 60
	secs := total % 60
	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, secs)
}

// Format renders a time.Duration as HH:MM:SS
func Format(d time.Duration) string {
	return FormatDuration(d.Seconds())
}
