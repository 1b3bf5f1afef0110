package restorer

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"fsbk/internal/archive"
	"fsbk/internal/config"
	"fsbk/internal/meta"
	"fsbk/internal/progress"
	"fsbk/internal/toolrun"
)

// Executor applies a resolved plan: base restore first, then every planned
// incremental unit in order, always as an additive merge.
type Executor struct {
	tools  config.Tools
	engine *archive.Engine
}

func NewExecutor(tools config.Tools) *Executor {
	return &Executor{tools: tools, engine: archive.New(tools)}
}

// Execute runs the restore. password is only consulted for encrypted
// archives; verify re-hashes the archive against the descriptor before
// extraction when a recorded hash exists.
func (x *Executor) Execute(ctx context.Context, plan *Plan, password string, verify bool, mon *progress.Monitor) error {
	if plan.Archive != "" {
		if verify {
			if err := x.verifyArchive(plan); err != nil {
				return err
			}
		}
		if err := x.engine.Extract(ctx, plan.Archive, plan.Dest, plan.Compressed, plan.Encrypted, password, mon); err != nil {
			return fmt.Errorf("archive restore failed: %w", err)
		}
	} else {
		if err := x.syncRestore(ctx, plan.BaseDir, plan, mon); err != nil {
			return fmt.Errorf("directory restore failed: %w", err)
		}
	}

	for _, step := range plan.Steps {
		unitDir := filepath.Join(plan.Root, step.Payload)
		slog.Info("Applying incremental unit", "unit", step.Payload, "kind", step.Kind)
		if err := x.applyIncremental(ctx, unitDir, plan, mon); err != nil {
			return fmt.Errorf("incremental unit %s failed: %w", step.Payload, err)
		}
	}

	mon.Flush()
	return nil
}

func (x *Executor) verifyArchive(plan *Plan) error {
	if plan.Descriptor == nil || plan.Descriptor.ArchiveBlake3 == "" {
		slog.Warn("Verification requested but no recorded archive hash, skipping")
		return nil
	}
	got, err := archive.BLAKE3File(plan.Archive)
	if err != nil {
		return fmt.Errorf("failed to hash archive for verification: %w", err)
	}
	if got != plan.Descriptor.ArchiveBlake3 {
		return fmt.Errorf("archive verification failed: blake3 %s, descriptor says %s", got, plan.Descriptor.ArchiveBlake3)
	}
	slog.Info("Archive verified", "blake3", got)
	return nil
}

// syncRestore mirrors the unit's directory payload onto the destination.
// Never deletes: files the destination gained since the backup stay.
func (x *Executor) syncRestore(ctx context.Context, srcDir string, plan *Plan, mon *progress.Monitor) error {
	args := x.restoreArgs(plan)
	args = append(args,
		"--exclude="+meta.DescriptorFileName,
		"--exclude=incremental_*/",
		"--exclude=fsbk.lock",
		withSlash(srcDir),
		plan.Dest,
	)
	return x.runSync(ctx, args, mon)
}

func (x *Executor) applyIncremental(ctx context.Context, unitDir string, plan *Plan, mon *progress.Monitor) error {
	// Incremental application is always additive overwrite, regardless of
	// the base merge policy: units only exist because those files changed.
	args := []string{"-a", "--progress"}
	if plan.SnapshotExisting {
		args = append(args, snapshotArgs(plan.Dest)...)
	}
	args = append(args,
		"--exclude="+meta.UnitFileName,
		withSlash(unitDir),
		plan.Dest,
	)
	return x.runSync(ctx, args, mon)
}

func (x *Executor) restoreArgs(plan *Plan) []string {
	args := []string{"-a", "--progress"}
	if plan.Policy == PolicyMerge {
		args = append(args, "--ignore-existing")
	}
	if plan.SnapshotExisting {
		args = append(args, snapshotArgs(plan.Dest)...)
	}
	return args
}

// snapshotArgs sets files aside before overwrite, into a sibling directory
// the operator can diff or roll back from.
func snapshotArgs(dest string) []string {
	snapDir := filepath.Join(dest, "pre_restore_"+time.Now().Format(meta.TimestampLayout))
	return []string{"--backup", "--backup-dir=" + snapDir}
}

func (x *Executor) runSync(ctx context.Context, args []string, mon *progress.Monitor) error {
	cmd := toolrun.Command(ctx, x.tools.RsyncBin(), args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to attach to rsync output: %w", err)
	}
	var tail toolrun.StderrTail
	cmd.Stderr = &tail

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start rsync: %w", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		mon.ConsumeSync(stdout)
	}()

	waitErr := cmd.Wait()
	<-done
	if waitErr != nil {
		return tail.Wrap(x.tools.RsyncBin(), waitErr)
	}
	return nil
}

func withSlash(dir string) string {
	if len(dir) > 0 && dir[len(dir)-1] != '/' {
		return dir + "/"
	}
	return dir
}
