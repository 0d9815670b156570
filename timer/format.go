package timer

import (
	"fmt"
	"time"
)

// FormatElapsed renders d as HH:MM:SS. Hours are not wrapped at 24 and are
// padded to at least two digits; the sub-second part is dropped.
func FormatElapsed(d time.Duration) string {
	ms := d.Milliseconds()
	if ms < 0 {
		ms = 0
	}
	hours := ms / 3_600_000
	minutes := (ms % 3_600_000) / 60_000
	seconds := (ms % 60_000) / 1000
	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
}
