package progress

import "fmt"

// Calculating is the ETA label used when no reliable rate or total exists.
const Calculating = "Calculating..."

func FormatBytes(n uint64) string {
	switch {
	case n >= 1<<30:
		return fmt.Sprintf("%.1f GB", float64(n)/(1<<30))
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}

// FormatSpeed renders a transfer rate in the coarsest convenient unit.
func FormatSpeed(bytesPerSec float64) string {
	switch {
	case bytesPerSec >= 1<<20:
		return fmt.Sprintf("%.1f MB/s", bytesPerSec/(1<<20))
	case bytesPerSec >= 1<<10:
		return fmt.Sprintf("%.1f KB/s", bytesPerSec/(1<<10))
	case bytesPerSec > 0:
		return fmt.Sprintf("%.0f B/s", bytesPerSec)
	default:
		return ""
	}
}

// FormatETA renders the remaining time as HH:MM:SS given bytes left and the
// current rate. Falls back to Calculating when either is unknown.
func FormatETA(remaining uint64, bytesPerSec float64) string {
	if bytesPerSec <= 0 {
		return Calculating
	}
	secs := int64(float64(remaining) / bytesPerSec)
	if secs < 0 {
		return Calculating
	}
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, (secs%3600)/60, secs%60)
}
