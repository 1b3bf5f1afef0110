// Package space answers whether a destination filesystem can hold an
// estimated backup before any data moves.
package space

import (
	"fmt"
	"log/slog"

	"github.com/shirou/gopsutil/v3/disk"

	"fsbk/internal/progress"
)

// headroom keeps a margin beyond the raw estimate: estimates are fuzzy and
// filesystems degrade when packed full.
const headroom = 5

// CheckFree fails when the filesystem holding path has less free space than
// the estimate plus headroom. need 0 (no reliable estimate) only verifies
// the path is statable.
func CheckFree(path string, need uint64) error {
	usage, err := disk.Usage(path)
	if err != nil {
		return fmt.Errorf("cannot stat destination filesystem %s: %w", path, err)
	}

	if need == 0 {
		slog.Debug("No size estimate, skipping free-space comparison",
			"path", path, "free", progress.FormatBytes(usage.Free))
		return nil
	}

	required := need + need/headroom
	if usage.Free < required {
		return fmt.Errorf("not enough free space on %s: need about %s (including margin), only %s free",
			path, progress.FormatBytes(required), progress.FormatBytes(usage.Free))
	}

	slog.Debug("Free-space preflight passed",
		"path", path, "free", progress.FormatBytes(usage.Free), "need", progress.FormatBytes(required))
	return nil
}
