package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"fsbk/internal/archive"
	"fsbk/internal/lock"
	"fsbk/internal/meta"
	"fsbk/internal/progress"
	"fsbk/internal/remote"
	"fsbk/internal/restorer"
	"fsbk/internal/space"
	"fsbk/internal/supervise"
)

type restoreOptions struct {
	Source       string
	Dest         string
	Policy       string
	Snapshot     bool
	Verify       bool
	PasswordFile string
	ExpectKind   string
	DryRun       bool
	FromRemote   bool
}

func runRestore(ctx context.Context, configPath string, opts restoreOptions) error {
	policy := restorer.MergePolicy(opts.Policy)
	if policy != restorer.PolicyReplace && policy != restorer.PolicyMerge {
		return fmt.Errorf("invalid policy %q (want replace or merge)", opts.Policy)
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

	source := opts.Source
	if opts.FromRemote {
		if !cfg.Remote.Enabled {
			return fmt.Errorf("--from-remote requires remote storage in the configuration")
		}
		backend, err := remote.NewS3(ctx, cfg.Remote, cfg.RemoteRetryAttempts())
		if err != nil {
			return fmt.Errorf("failed to initialize S3 backend: %w", err)
		}
		slog.Info("Fetching backup unit from remote", "unit", opts.Source, "bucket", cfg.Remote.Bucket)
		source, err = fetchRemoteUnit(ctx, backend, filepath.Join(cfg.BaseDir, "remote_fetch"), opts.Source)
		if err != nil {
			return fmt.Errorf("failed to fetch unit from remote: %w", err)
		}
	}

	plan, err := restorer.Resolve(source, restorer.ResolveOptions{
		Dest:             opts.Dest,
		Policy:           policy,
		SnapshotExisting: opts.Snapshot,
		ExpectKind:       meta.Kind(opts.ExpectKind),
	})
	if err != nil {
		return err
	}

	printPlan(plan)
	if opts.DryRun {
		return nil
	}

	var password string
	if plan.Encrypted {
		if opts.PasswordFile == "" {
			return fmt.Errorf("archive is encrypted: %w", archive.ErrMissingPassword)
		}
		password, err = readPasswordFile(opts.PasswordFile)
		if err != nil {
			return err
		}
	}

	lockDir := plan.Root
	if lockDir == "" {
		if err := os.MkdirAll(cfg.RunDir(), 0o755); err != nil {
			return fmt.Errorf("failed to create run directory: %w", err)
		}
		lockDir = cfg.RunDir()
	}
	releaseLock, err := lock.Acquire(filepath.Join(lockDir, lockFileName), "restore")
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer func() {
		if err := releaseLock(); err != nil {
			slog.Warn("Failed to release lock", "error", err)
		}
	}()

	if err := os.MkdirAll(plan.Dest, 0o755); err != nil {
		return fmt.Errorf("failed to create restore destination: %w", err)
	}
	if err := space.CheckFree(plan.Dest, restoreEstimate(plan)); err != nil {
		return err
	}

	percentCap := progress.CapBytes
	if plan.Archive != "" {
		percentCap = progress.CapArchive
	}

	executor := restorer.NewExecutor(cfg.Tools)

	supervisor := &supervise.Supervisor{RunDir: cfg.RunDir(), OnUpdate: printProgress}
	outcome := supervisor.Run(ctx, func(ctx context.Context, ch *progress.Channel) (string, error) {
		mon := progress.NewMonitor(ch, restoreEstimate(plan), percentCap)
		mon.Announce(0, "Starting restore")

		if err := executor.Execute(ctx, plan, password, opts.Verify, mon); err != nil {
			return "", err
		}

		mon.Complete()
		return plan.Dest, nil
	})

	switch outcome.State {
	case supervise.StateCompleted:
		slog.Info("Restore completed successfully", "destination", outcome.Location)
		return nil
	case supervise.StateCancelled:
		return fmt.Errorf("restore cancelled")
	default:
		return fmt.Errorf("restore failed: %w", outcome.Err)
	}
}

// fetchRemoteUnit stages a mirrored unit locally: descriptor first, then the
// archive it names, verified against the recorded hash. The staged directory
// resolves like any local unit.
func fetchRemoteUnit(ctx context.Context, backend remote.Backend, stageRoot, unitName string) (string, error) {
	stage := filepath.Join(stageRoot, unitName)
	if err := os.MkdirAll(stage, 0o755); err != nil {
		return "", fmt.Errorf("failed to create staging directory: %w", err)
	}

	descriptorPath := filepath.Join(stage, meta.DescriptorFileName)
	if err := backend.Download(ctx, remote.MetaKey(unitName), descriptorPath); err != nil {
		return "", fmt.Errorf("failed to download descriptor: %w", err)
	}
	d, err := meta.ReadDescriptor(stage)
	if err != nil {
		return "", err
	}

	if d.Archive != "" {
		archivePath := filepath.Join(stage, d.Archive)
		if err := backend.Download(ctx, remote.DataKey(unitName, d.Archive), archivePath); err != nil {
			return "", fmt.Errorf("failed to download archive: %w", err)
		}
		if d.ArchiveBlake3 != "" {
			got, err := archive.BLAKE3File(archivePath)
			if err != nil {
				return "", fmt.Errorf("failed to hash downloaded archive: %w", err)
			}
			if got != d.ArchiveBlake3 {
				return "", fmt.Errorf("downloaded archive blake3 %s, descriptor says %s", got, d.ArchiveBlake3)
			}
		}
	}

	slog.Info("Remote unit staged", "unit", unitName, "stage", stage)
	return stage, nil
}

func printPlan(plan *restorer.Plan) {
	kind := string(plan.Kind)
	if kind == "" {
		kind = "unknown"
	}
	fmt.Printf("Restore plan:\n")
	fmt.Printf("  kind:        %s\n", kind)
	if plan.Archive != "" {
		fmt.Printf("  archive:     %s (compressed=%t encrypted=%t)\n", plan.Archive, plan.Compressed, plan.Encrypted)
	} else {
		fmt.Printf("  base:        %s\n", plan.BaseDir)
	}
	fmt.Printf("  destination: %s\n", plan.Dest)
	fmt.Printf("  policy:      %s (snapshot existing: %t)\n", plan.Policy, plan.SnapshotExisting)
	for i, step := range plan.Steps {
		fmt.Printf("  step %d:      apply %s (%s)\n", i+1, step.Payload, step.Kind)
	}
	if plan.Heuristic {
		fmt.Printf("  WARNING: plan is based on layout guessing, not recorded metadata\n")
		if len(plan.HeuristicSources) > 0 {
			fmt.Printf("  guessed sources: %v\n", plan.HeuristicSources)
		}
	}
}

// restoreEstimate seeds the progress denominator from whatever size the
// descriptor recorded. 0 switches reporting to indeterminate mode.
func restoreEstimate(plan *restorer.Plan) uint64 {
	if plan.Descriptor == nil {
		return 0
	}
	if plan.Descriptor.ArchiveSize > 0 {
		return uint64(plan.Descriptor.ArchiveSize)
	}
	return 0
}
