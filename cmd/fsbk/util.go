package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"fsbk/internal/config"
	"fsbk/internal/logging"
	"fsbk/internal/meta"
	"fsbk/internal/progress"
)

const lockFileName = "fsbk.lock"

// loadConfigOrDefault falls back to built-in defaults when the config file is
// absent, so purely local backups need no setup at all.
func loadConfigOrDefault(configPath string) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Debug("No config file, using defaults", "path", configPath)
			return config.Default(), nil
		}
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// setupLogging installs the dual JSON-file/console logger and returns a
// closer for the log file.
func setupLogging(cfg *config.Config) (func(), error) {
	logPath := filepath.Join(cfg.LogDir(), time.Now().Format("2006-01-02")+".log")
	logger, logFile, err := logging.NewLogger(logPath)
	if err != nil {
		return nil, fmt.Errorf("failed to setup logging: %w", err)
	}
	slog.SetDefault(logger)
	return func() { logFile.Close() }, nil
}

func readPasswordFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read password file: %w", err)
	}
	password := strings.TrimRight(string(data), "\r\n")
	if password == "" {
		return "", fmt.Errorf("password file %s is empty", path)
	}
	return password, nil
}

// resolveSources maps a backup kind to its source set. Only the custom kind
// takes caller-provided paths.
func resolveSources(kind meta.Kind, explicit []string) ([]string, error) {
	switch kind {
	case meta.KindSystem:
		if len(explicit) > 0 {
			return nil, fmt.Errorf("system backups take no --source, they always cover /")
		}
		return []string{"/"}, nil
	case meta.KindHome:
		if len(explicit) > 0 {
			return nil, fmt.Errorf("home backups take no --source, they cover the user's home")
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("cannot determine home directory: %w", err)
		}
		return []string{home}, nil
	case meta.KindCustom:
		if len(explicit) == 0 {
			return nil, fmt.Errorf("custom backups need at least one --source")
		}
		for _, src := range explicit {
			if !filepath.IsAbs(src) {
				return nil, fmt.Errorf("source path must be absolute: %s", src)
			}
			if _, err := os.Stat(src); err != nil {
				return nil, fmt.Errorf("source path not accessible: %w", err)
			}
		}
		return explicit, nil
	default:
		return nil, fmt.Errorf("invalid backup kind %q (want system, home or custom)", kind)
	}
}

// printProgress renders progress records on a single console line.
func printProgress(rec progress.Record) {
	if rec.Complete {
		fmt.Fprint(os.Stderr, "\r\033[Kdone\n")
		return
	}
	line := fmt.Sprintf("%3d%%  %s", rec.Percent, rec.Text)
	if rec.Remaining != "" {
		line += "  (" + rec.Remaining + " remaining)"
	}
	fmt.Fprintf(os.Stderr, "\r\033[K%s", line)
}
