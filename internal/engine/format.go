package engine

import (
	"fmt"
	"strings"
)

var sizeUnits = []string{"B", "KB", "MB", "GB", "TB"}

// FormatSize renders a byte count with base-1024 units. Negative input
// clamps to zero.
func FormatSize(bytes int64) string {
	if bytes <= 0 {
		return "0 B"
	}

	value := float64(bytes)
	unit := 0
	for value >= 1024 && unit < len(sizeUnits)-1 {
		value /= 1024
		unit++
	}

	if unit == 0 {
		return fmt.Sprintf("%d B", bytes)
	}

	formatted := strings.TrimSuffix(fmt.Sprintf("%.1f", value), ".0")
	return fmt.Sprintf("%s %s", formatted, sizeUnits[unit])
}

// FormatDuration renders elapsed seconds in a compact human form,
// switching representation at the minute and hour boundaries and
// omitting a zero trailing unit.
func FormatDuration(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}

	if seconds < 60 {
		return fmt.Sprintf("%ds", seconds)
	}

	if seconds < 3600 {
		minutes := seconds / 60
		rest := seconds % 60
		if rest == 0 {
			return fmt.Sprintf("%dm", minutes)
		}
		return fmt.Sprintf("%dm %ds", minutes, rest)
	}

	hours := seconds / 3600
	minutes := (seconds % 3600) / 60
	if minutes == 0 {
		return fmt.Sprintf("%dh", hours)
	}
	return fmt.Sprintf("%dh %dm", hours, minutes)
}
