package utils

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// FormatTimeDuration renders a meeting length such as "1h 4m 9s".
func FormatTimeDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	seconds := int(d.Seconds()) % 60
	minutes := int(d.Minutes()) % 60
	hours := int(d.Hours())

	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	} else if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}

// TruncateString shortens s to at most max runes, marking the cut with "…".
func TruncateString(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max-1]) + "…"
}

// DisplayName is the name shown for a participant, falling back to the
// connection id when the hub did not send one.
func DisplayName(name, connectionID string) string {
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	return connectionID
}
