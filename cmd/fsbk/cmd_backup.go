package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"fsbk/internal/archive"
	"fsbk/internal/config"
	"fsbk/internal/estimate"
	"fsbk/internal/lock"
	"fsbk/internal/meta"
	"fsbk/internal/progress"
	"fsbk/internal/remote"
	"fsbk/internal/space"
	"fsbk/internal/supervise"
)

type backupOptions struct {
	Kind          string
	Sources       []string
	Dest          string
	Compress      bool
	Encrypt       bool
	IncludeHidden bool
	PasswordFile  string
}

func runBackup(ctx context.Context, configPath string, opts backupOptions) error {
	kind := meta.Kind(opts.Kind)
	if !kind.Valid() {
		return fmt.Errorf("invalid backup kind %q (want system, home or custom)", opts.Kind)
	}

	cfg, err := loadConfigOrDefault(configPath)
	if err != nil {
		return err
	}

	sources, err := resolveSources(kind, opts.Sources)
	if err != nil {
		return err
	}

	var password string
	if opts.Encrypt {
		if opts.PasswordFile == "" {
			return fmt.Errorf("encryption requested: %w", archive.ErrMissingPassword)
		}
		password, err = readPasswordFile(opts.PasswordFile)
		if err != nil {
			return err
		}
	}

	if err := os.MkdirAll(cfg.BaseDir, 0o755); err != nil {
		return fmt.Errorf("failed to create base directory: %w", err)
	}

	closeLog, err := setupLogging(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	dest := opts.Dest
	if dest == "" {
		dest = filepath.Join(cfg.BaseDir, fmt.Sprintf("%s_backup_%s", kind, time.Now().Format(meta.TimestampLayout)))
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("failed to create destination: %w", err)
	}

	releaseLock, err := lock.Acquire(filepath.Join(dest, lockFileName), "backup")
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer func() {
		if err := releaseLock(); err != nil {
			slog.Warn("Failed to release lock", "error", err)
		}
	}()

	slog.Info("Backup started", "kind", kind, "sources", sources, "destination", dest,
		"compress", opts.Compress, "encrypt", opts.Encrypt)

	percentCap := progress.CapBytes
	if opts.Compress || opts.Encrypt {
		percentCap = progress.CapArchive
	}

	engine := archive.New(cfg.Tools)
	estimator := estimate.New(cfg.Tools.DuBin(), cfg.AllExcludes())

	supervisor := &supervise.Supervisor{RunDir: cfg.RunDir(), OnUpdate: printProgress}
	outcome := supervisor.Run(ctx, func(ctx context.Context, ch *progress.Channel) (string, error) {
		progress.NewMonitor(ch, 0, percentCap).Announce(0, "Estimating backup size")

		estimated := estimator.Estimate(ctx, sources, nil)
		if err := space.CheckFree(dest, estimated); err != nil {
			return "", err
		}

		mon := progress.NewMonitor(ch, estimated, percentCap)
		mon.Announce(0, "Starting transfer")

		d, err := engine.RunFull(ctx, archive.Options{
			Kind:           kind,
			Sources:        sources,
			Destination:    dest,
			Compress:       opts.Compress,
			Encrypt:        opts.Encrypt,
			IncludeHidden:  opts.IncludeHidden,
			Password:       password,
			Excludes:       cfg.AllExcludes(),
			EstimatedBytes: estimated,
		}, mon)
		if err != nil {
			return "", err
		}

		if cfg.Remote.Enabled {
			mon.Announce(progress.CapArchive, "Mirroring to remote storage")
			if err := mirrorToRemote(ctx, cfg, dest, d); err != nil {
				// A failed mirror never retracts the finished local backup.
				slog.Error("Remote mirror failed, local backup is intact", "error", err)
			}
		}

		mon.Complete()
		return dest, nil
	})

	switch outcome.State {
	case supervise.StateCompleted:
		slog.Info("Backup completed successfully", "location", outcome.Location)
		return nil
	case supervise.StateCancelled:
		return fmt.Errorf("backup cancelled")
	default:
		return fmt.Errorf("backup failed: %w", outcome.Err)
	}
}

func mirrorToRemote(ctx context.Context, cfg *config.Config, dest string, d *meta.Descriptor) error {
	backend, err := remote.NewS3(ctx, cfg.Remote, cfg.RemoteRetryAttempts())
	if err != nil {
		return fmt.Errorf("failed to initialize S3 backend: %w", err)
	}
	if err := mirrorBackup(ctx, backend, dest, d); err != nil {
		return err
	}
	slog.Info("Remote mirror completed", "unit", filepath.Base(dest), "bucket", cfg.Remote.Bucket)
	return nil
}

// mirrorBackup uploads the finished archive (when there is one) and the
// descriptor sidecar, then reads the archive object back to confirm the
// upload landed whole.
func mirrorBackup(ctx context.Context, backend remote.Backend, dest string, d *meta.Descriptor) error {
	if err := backend.VerifyCredentials(ctx); err != nil {
		return err
	}

	unitName := filepath.Base(dest)

	if d.Archive != "" {
		localArchive := filepath.Join(dest, d.Archive)
		dataKey := remote.DataKey(unitName, d.Archive)
		if err := backend.Upload(ctx, localArchive, dataKey, d.ArchiveBlake3, d.Kind); err != nil {
			return fmt.Errorf("failed to upload archive: %w", err)
		}
		info, err := backend.Head(ctx, dataKey)
		if err != nil {
			return fmt.Errorf("failed to confirm archive upload: %w", err)
		}
		if info.Size != d.ArchiveSize {
			return fmt.Errorf("uploaded archive is %d bytes, local is %d", info.Size, d.ArchiveSize)
		}
	}

	descriptorPath := filepath.Join(dest, meta.DescriptorFileName)
	descriptorHash, err := archive.BLAKE3File(descriptorPath)
	if err != nil {
		return fmt.Errorf("failed to hash descriptor: %w", err)
	}
	if err := backend.Upload(ctx, descriptorPath, remote.MetaKey(unitName), descriptorHash, d.Kind); err != nil {
		return fmt.Errorf("failed to upload descriptor: %w", err)
	}
	return nil
}
