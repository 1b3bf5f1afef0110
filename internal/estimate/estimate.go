package estimate

import (
	"context"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Deadlines scale with scope: a single bounded directory answers fast, a
// root-filesystem or many-item custom set can take minutes on slow disks.
const (
	shortDeadline = 30 * time.Second
	longDeadline  = 150 * time.Second
)

// Estimator produces a fast byte-count estimate used to seed progress
// denominators. It is best-effort on purpose: a result of 0 means "no
// reliable estimate" and downstream reporting switches to indeterminate
// mode instead of failing the operation.
type Estimator struct {
	DuBin    string
	Excludes []string
}

func New(duBin string, excludes []string) *Estimator {
	if duBin == "" {
		duBin = "du"
	}
	return &Estimator{DuBin: duBin, Excludes: excludes}
}

// Estimate sums the apparent size of the given sources, applying the fixed
// exclusion set plus caller extras. Never returns an error: timeouts,
// unreadable paths and non-numeric output all degrade to 0.
func (e *Estimator) Estimate(ctx context.Context, sources []string, extraExcludes []string) uint64 {
	if len(sources) == 0 {
		return 0
	}

	ctx, cancel := context.WithTimeout(ctx, e.deadline(sources))
	defer cancel()

	args := []string{"-s", "-b"}
	for _, pat := range e.Excludes {
		args = append(args, "--exclude="+pat)
	}
	for _, pat := range extraExcludes {
		args = append(args, "--exclude="+pat)
	}
	args = append(args, sources...)

	// du exits nonzero when it hits unreadable entries but still prints
	// totals for what it could read; keep whatever output we got.
	out, err := exec.CommandContext(ctx, e.DuBin, args...).Output()
	if err != nil && len(out) == 0 {
		slog.Warn("Size estimation unavailable, continuing without a total",
			"sources", sources, "error", err)
		return 0
	}

	var total uint64
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		n, err := strconv.ParseUint(fields[0], 10, 64)
		if err != nil {
			slog.Warn("Non-numeric size estimation output", "line", line)
			return 0
		}
		total += n
	}

	slog.Debug("Size estimate", "bytes", total, "sources", len(sources))
	return total
}

func (e *Estimator) deadline(sources []string) time.Duration {
	if len(sources) > 1 {
		return longDeadline
	}
	if sources[0] == "/" {
		return longDeadline
	}
	return shortDeadline
}
