package cmd

import (
	"fmt"
	"time"
)

// formatDurationShort renders a duration with compact minutes/seconds
// for CLI output.
func formatDurationShort(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}

	d = d.Round(time.Second)
	if d < time.Second {
		return "<1s"
	}

	mins := int(d.Minutes())
	secs := int(d.Seconds()) % 60
	switch {
	case mins <= 0:
		return fmt.Sprintf("%ds", secs)
	case secs == 0:
		return fmt.Sprintf("%dm", mins)
	default:
		return fmt.Sprintf("%dm%ds", mins, secs)
	}
}
