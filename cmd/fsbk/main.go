package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:    "fsbk",
		Usage:   "Filesystem backup and restore orchestrator",
		Version: "0.1.0",
		Commands: []*cli.Command{
			{
				Name:  "backup",
				Usage: "Run a full backup",
				Flags: []cli.Flag{
					configFlag(),
					&cli.StringFlag{
						Name:     "kind",
						Usage:    "Backup kind: system, home or custom",
						Required: true,
					},
					&cli.StringSliceFlag{
						Name:  "source",
						Usage: "Source path to back up (custom kind only, repeatable)",
					},
					&cli.StringFlag{
						Name:  "dest",
						Usage: "Destination directory (default: a new unit under base_dir)",
					},
					&cli.BoolFlag{
						Name:  "compress",
						Usage: "Produce a gzip-compressed archive instead of a plain copy",
					},
					&cli.BoolFlag{
						Name:  "encrypt",
						Usage: "Encrypt the archive symmetrically (requires --password-file)",
					},
					&cli.BoolFlag{
						Name:  "include-hidden",
						Usage: "Include dotfiles and dot-directories",
					},
					&cli.StringFlag{
						Name:  "password-file",
						Usage: "File holding the encryption passphrase",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runBackup(ctx, cmd.String("config"), backupOptions{
						Kind:          cmd.String("kind"),
						Sources:       cmd.StringSlice("source"),
						Dest:          cmd.String("dest"),
						Compress:      cmd.Bool("compress"),
						Encrypt:       cmd.Bool("encrypt"),
						IncludeHidden: cmd.Bool("include-hidden"),
						PasswordFile:  cmd.String("password-file"),
					})
				},
			},
			{
				Name:  "incremental",
				Usage: "Add an incremental unit to an existing backup",
				Flags: []cli.Flag{
					configFlag(),
					&cli.StringFlag{
						Name:     "path",
						Usage:    "Root directory of the backup unit",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "mode",
						Usage: "Incremental mode: cumulative or differential",
						Value: "differential",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runIncremental(ctx, cmd.String("config"), cmd.String("path"), cmd.String("mode"))
				},
			},
			{
				Name:  "restore",
				Usage: "Restore a backup unit or archive file",
				Flags: []cli.Flag{
					configFlag(),
					&cli.StringFlag{
						Name:     "source",
						Usage:    "Backup unit directory or archive file to restore from",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "dest",
						Usage: "Restore destination (default: recorded restore path)",
					},
					&cli.StringFlag{
						Name:  "policy",
						Usage: "Conflict policy: replace or merge",
						Value: "replace",
					},
					&cli.BoolFlag{
						Name:  "snapshot-existing",
						Usage: "Set existing files aside before overwriting them",
					},
					&cli.BoolFlag{
						Name:  "verify",
						Usage: "Verify the archive hash against the descriptor before extracting",
					},
					&cli.StringFlag{
						Name:  "password-file",
						Usage: "File holding the decryption passphrase",
					},
					&cli.StringFlag{
						Name:  "expect-kind",
						Usage: "Refuse the restore unless the unit has this kind",
					},
					&cli.BoolFlag{
						Name:  "dry-run",
						Usage: "Show the restore plan without applying it",
					},
					&cli.BoolFlag{
						Name:  "from-remote",
						Usage: "Treat --source as a unit name to fetch from remote storage first",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runRestore(ctx, cmd.String("config"), restoreOptions{
						Source:       cmd.String("source"),
						Dest:         cmd.String("dest"),
						Policy:       cmd.String("policy"),
						Snapshot:     cmd.Bool("snapshot-existing"),
						Verify:       cmd.Bool("verify"),
						PasswordFile: cmd.String("password-file"),
						ExpectKind:   cmd.String("expect-kind"),
						DryRun:       cmd.Bool("dry-run"),
						FromRemote:   cmd.Bool("from-remote"),
					})
				},
			},
			{
				Name:  "list",
				Usage: "List backup units and their incremental chains",
				Flags: []cli.Flag{
					configFlag(),
					&cli.StringFlag{
						Name:  "dir",
						Usage: "Directory to scan for backup units (default: base_dir)",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return listBackups(cmd.String("config"), cmd.String("dir"))
				},
			},
			{
				Name:  "estimate",
				Usage: "Estimate the size of a backup without running it",
				Flags: []cli.Flag{
					configFlag(),
					&cli.StringFlag{
						Name:     "kind",
						Usage:    "Backup kind: system, home or custom",
						Required: true,
					},
					&cli.StringSliceFlag{
						Name:  "source",
						Usage: "Source path (custom kind only, repeatable)",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runEstimate(ctx, cmd.String("config"), cmd.String("kind"), cmd.StringSlice("source"))
				},
			},
			{
				Name:  "check",
				Usage: "Verify required tools, configuration and remote access",
				Flags: []cli.Flag{
					configFlag(),
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return checkEnvironment(ctx, cmd.String("config"))
				},
			},
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.Run(ctx, os.Args); err != nil {
		if ctx.Err() == context.Canceled {
			fmt.Fprintln(os.Stderr, "\nInterrupted")
			os.Exit(130)
		}
		slog.Error("CLI error", "error", err)
		os.Exit(1)
	}
}

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "config",
		Usage: "path to configuration yaml file",
		Value: "fsbk_config.yaml",
	}
}
