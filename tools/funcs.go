package tools

import (
	"fmt"
	"time"
)

// FrameDuration is the opus frame length used on the wire.
const FrameDuration = 20 * time.Millisecond

// FrameSamples is the number of PCM samples covering duration at the
// given rate and channel count.
func FrameSamples(duration time.Duration, rate, channels int) int {
	return int(duration.Seconds() * float64(channels) * float64(rate))
}

// FormatDuration renders elapsed call time as mm:ss, hours folded into
// minutes. Negative durations render as 00:00.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d.Seconds())
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}
