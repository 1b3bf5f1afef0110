package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"fsbk/internal/estimate"
	"fsbk/internal/meta"
	"fsbk/internal/progress"
	"fsbk/internal/remote"
)

// checkEnvironment verifies everything a backup run will need: the external
// tools, a writable base directory, and remote access when configured.
func checkEnvironment(ctx context.Context, configPath string) error {
	cfg, err := loadConfigOrDefault(configPath)
	if err != nil {
		return err
	}

	var problems []error

	tools := map[string]string{
		"rsync": cfg.Tools.RsyncBin(),
		"tar":   cfg.Tools.TarBin(),
		"gzip":  cfg.Tools.GzipBin(),
		"gpg":   cfg.Tools.GpgBin(),
		"du":    cfg.Tools.DuBin(),
	}
	for name, bin := range tools {
		path, err := exec.LookPath(bin)
		if err != nil {
			fmt.Printf("MISSING  %-6s (%s)\n", name, bin)
			problems = append(problems, fmt.Errorf("%s not found: %w", name, err))
			continue
		}
		fmt.Printf("ok       %-6s %s\n", name, path)
	}

	if err := checkBaseDirWritable(cfg.BaseDir); err != nil {
		fmt.Printf("MISSING  base directory not writable: %v\n", err)
		problems = append(problems, err)
	} else {
		fmt.Printf("ok       base directory %s writable\n", cfg.BaseDir)
	}

	if cfg.Remote.Enabled {
		backend, err := remote.NewS3(ctx, cfg.Remote, cfg.RemoteRetryAttempts())
		if err != nil {
			problems = append(problems, err)
			fmt.Printf("MISSING  remote: %v\n", err)
		} else if err := backend.VerifyCredentials(ctx); err != nil {
			problems = append(problems, err)
			fmt.Printf("MISSING  remote: %v\n", err)
		} else {
			fmt.Printf("ok       remote bucket %s reachable\n", cfg.Remote.Bucket)
		}
	} else {
		fmt.Printf("ok       remote mirroring disabled\n")
	}

	if len(problems) > 0 {
		return fmt.Errorf("environment check failed: %w", errors.Join(problems...))
	}
	fmt.Println("\nAll checks passed")
	return nil
}

func checkBaseDirWritable(baseDir string) error {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}
	marker := filepath.Join(baseDir, ".fsbk_write_check")
	if err := os.WriteFile(marker, nil, 0o644); err != nil {
		return err
	}
	return os.Remove(marker)
}

func runEstimate(ctx context.Context, configPath, kindStr string, explicit []string) error {
	kind := meta.Kind(kindStr)
	if !kind.Valid() {
		return fmt.Errorf("invalid backup kind %q (want system, home or custom)", kindStr)
	}

	cfg, err := loadConfigOrDefault(configPath)
	if err != nil {
		return err
	}

	sources, err := resolveSources(kind, explicit)
	if err != nil {
		return err
	}

	estimator := estimate.New(cfg.Tools.DuBin(), cfg.AllExcludes())
	estimated := estimator.Estimate(ctx, sources, nil)
	if estimated == 0 {
		fmt.Println("No reliable estimate available (sources too large or unreadable)")
		fmt.Println("A backup will still run, with indeterminate progress reporting")
		return nil
	}

	// Headroom matches the preflight free-space margin.
	required := estimated + estimated/5
	fmt.Printf("Estimated backup size: %s (%d bytes)\n", progress.FormatBytes(estimated), estimated)
	fmt.Printf("Recommended free space at destination: %s\n", progress.FormatBytes(required))
	return nil
}
