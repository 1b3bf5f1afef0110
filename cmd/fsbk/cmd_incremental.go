package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"fsbk/internal/archive"
	"fsbk/internal/lock"
	"fsbk/internal/meta"
	"fsbk/internal/progress"
	"fsbk/internal/scan"
	"fsbk/internal/supervise"
)

func runIncremental(ctx context.Context, configPath, root, modeStr string) error {
	mode := meta.IncrementalKind(modeStr)
	if mode != meta.Cumulative && mode != meta.Differential {
		return fmt.Errorf("invalid incremental mode %q (want cumulative or differential)", modeStr)
	}

	cfg, err := loadConfigOrDefault(configPath)
	if err != nil {
		return err
	}

	closeLog, err := setupLogging(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	releaseLock, err := lock.Acquire(filepath.Join(root, lockFileName), "incremental")
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer func() {
		if err := releaseLock(); err != nil {
			slog.Warn("Failed to release lock", "error", err)
		}
	}()

	d, err := meta.ReadDescriptor(root)
	if err != nil {
		return fmt.Errorf("cannot read backup unit at %s: %w", root, err)
	}
	kind, err := meta.ResolveKind(root, d)
	if err != nil {
		return err
	}

	sources, err := incrementalSources(d, kind)
	if err != nil {
		return err
	}

	cutoff := incrementalCutoff(d, mode)
	slog.Info("Scanning for changes", "kind", kind, "mode", mode,
		"cutoff", cutoff.Format(time.RFC3339), "sources", sources)

	result := scan.FindChanges(sources, cutoff, cfg.AllExcludes())
	files := result.All()
	if len(files) == 0 {
		slog.Info("No changes since cutoff, nothing to do")
		return nil
	}
	slog.Info("Changes found", "changed", len(result.Changed), "added", len(result.Added))

	// Home units are laid out relative to the home directory that was backed
	// up, so their incrementals anchor there too.
	relativeTo := ""
	if kind == meta.KindHome {
		relativeTo = d.Home
		if len(d.Sources) > 0 {
			relativeTo = d.Sources[0]
		}
	}

	engine := archive.New(cfg.Tools)

	supervisor := &supervise.Supervisor{RunDir: cfg.RunDir(), OnUpdate: printProgress}
	outcome := supervisor.Run(ctx, func(ctx context.Context, ch *progress.Channel) (string, error) {
		mon := progress.NewMonitor(ch, totalSize(files), progress.CapBytes)
		mon.Announce(0, "Copying changed files")

		rec, err := engine.RunIncremental(ctx, root, d, files, mode, relativeTo, mon)
		if err != nil {
			return "", err
		}

		mon.Complete()
		return filepath.Join(root, rec.Payload), nil
	})

	switch outcome.State {
	case supervise.StateCompleted:
		slog.Info("Incremental completed successfully", "unit", outcome.Location, "files", len(files))
		return nil
	case supervise.StateCancelled:
		return fmt.Errorf("incremental cancelled")
	default:
		return fmt.Errorf("incremental failed: %w", outcome.Err)
	}
}

// incrementalSources recovers the paths to watch from the descriptor.
func incrementalSources(d *meta.Descriptor, kind meta.Kind) ([]string, error) {
	if len(d.Sources) > 0 {
		return d.Sources, nil
	}
	switch kind {
	case meta.KindSystem:
		return []string{"/"}, nil
	case meta.KindHome:
		if d.Home != "" {
			return []string{d.Home}, nil
		}
	}
	return nil, fmt.Errorf("backup unit records no source paths to scan")
}

// incrementalCutoff picks the change horizon: cumulative units always diff
// against the full backup, differential units against the newest chain entry.
func incrementalCutoff(d *meta.Descriptor, mode meta.IncrementalKind) time.Time {
	if mode == meta.Differential && len(d.Incrementals) > 0 {
		return time.Unix(d.Incrementals[len(d.Incrementals)-1].CreatedAt, 0)
	}
	return time.Unix(d.CreatedAt, 0)
}

func totalSize(files []string) uint64 {
	var total uint64
	for _, f := range files {
		if info, err := os.Stat(f); err == nil {
			total += uint64(info.Size())
		}
	}
	return total
}
