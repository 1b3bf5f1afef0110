package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"github.com/zeebo/blake3"

	"fsbk/internal/config"
	"fsbk/internal/meta"
	"fsbk/internal/progress"
	"fsbk/internal/toolrun"
)

var (
	// ErrMissingPassword: encryption or decryption was requested without a
	// password. Retryable by re-prompting, fatal for this operation.
	ErrMissingPassword = errors.New("no password supplied")

	// ErrWrongPassword: the cipher tool rejected the supplied password, or
	// the archive payload is corrupted past the header.
	ErrWrongPassword = errors.New("wrong password or corrupted archive")
)

// Options describes one full backup request. The caller (CLI or other
// frontend) owns gathering these; the engine is pure with respect to them.
type Options struct {
	Kind           meta.Kind
	Sources        []string
	Destination    string
	Compress       bool
	Encrypt        bool
	IncludeHidden  bool
	Password       string
	Excludes       []string
	EstimatedBytes uint64
}

// Engine builds and executes the external tool invocations for backups.
type Engine struct {
	tools config.Tools
}

func New(tools config.Tools) *Engine {
	return &Engine{tools: tools}
}

// RunFull executes a full backup with the strategy selected by the options:
// plain sync-copy when neither compression nor encryption is requested,
// otherwise a streaming archive pipeline. On success the backup descriptor
// is written at the destination root and returned.
func (e *Engine) RunFull(ctx context.Context, opts Options, mon *progress.Monitor) (*meta.Descriptor, error) {
	if !opts.Kind.Valid() {
		return nil, fmt.Errorf("invalid backup kind %q", opts.Kind)
	}
	if len(opts.Sources) == 0 {
		return nil, fmt.Errorf("no source paths selected")
	}
	if opts.Encrypt && opts.Password == "" {
		return nil, fmt.Errorf("encryption requested: %w", ErrMissingPassword)
	}

	if err := os.MkdirAll(opts.Destination, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create destination: %w", err)
	}

	now := time.Now()
	d := meta.NewDescriptor(opts.Kind, opts.Sources, now)
	d.Compression = meta.BoolFlag(opts.Compress)
	d.Encryption = meta.BoolFlag(opts.Encrypt)
	d.IncludeHidden = meta.BoolFlag(opts.IncludeHidden)
	if u, err := user.Current(); err == nil {
		d.User = u.Username
		d.Home = u.HomeDir
	}
	d.RestorePaths = suggestedRestorePaths(opts.Kind, opts.Sources, d.Home)

	var err error
	if opts.Compress || opts.Encrypt {
		err = e.runArchive(ctx, opts, d, now, mon)
	} else {
		err = e.runSyncCopy(ctx, opts, mon)
	}
	if err != nil {
		// Partial output stays in place for operator inspection.
		return nil, fmt.Errorf("backup failed (check destination writability and free space): %w", err)
	}

	mon.Flush()

	if err := meta.WriteDescriptor(opts.Destination, d); err != nil {
		return nil, fmt.Errorf("backup copied but descriptor write failed: %w", err)
	}
	slog.Info("Backup descriptor written", "destination", opts.Destination, "kind", d.Kind)
	return d, nil
}

func (e *Engine) runSyncCopy(ctx context.Context, opts Options, mon *progress.Monitor) error {
	args := []string{"-a", "--progress"}
	if opts.Kind == meta.KindCustom {
		// Relative mode keeps the original path shape under the destination
		// so restore can put everything back where it came from.
		args = append(args, "--relative")
	}
	args = append(args, excludeArgs(opts.Excludes, opts.IncludeHidden)...)

	sources := opts.Sources
	if opts.Kind == meta.KindHome {
		// Home units hold the home directory's contents, not the directory
		// itself, matching the home-relative layout of incremental units.
		// Restoring onto the home directory then needs no path surgery.
		sources = make([]string, len(opts.Sources))
		for i, src := range opts.Sources {
			sources[i] = withTrailingSlash(src)
		}
		args = append(args, destinationExcludes(opts.Destination, opts.Sources...)...)
	} else {
		args = append(args, destinationExcludes(opts.Destination)...)
	}
	args = append(args, sources...)
	args = append(args, opts.Destination)

	cmd := toolrun.Command(ctx, e.tools.RsyncBin(), args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to attach to rsync output: %w", err)
	}
	var tail toolrun.StderrTail
	cmd.Stderr = &tail

	slog.Info("Starting sync-copy transfer", "sources", opts.Sources, "destination", opts.Destination)
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
		return tail.Wrap(e.tools.RsyncBin(), waitErr)
	}
	return nil
}

func (e *Engine) runArchive(ctx context.Context, opts Options, d *meta.Descriptor, now time.Time, mon *progress.Monitor) error {
	archiveName := ArchiveName(opts.Kind, now, opts.Compress, opts.Encrypt)
	archivePath := filepath.Join(opts.Destination, archiveName)

	checkpointR, checkpointW := io.Pipe()
	go mon.ConsumeCheckpoints(checkpointR)
	defer checkpointW.Close()

	tarArgs := []string{
		"-cf", "-",
		"--checkpoint=" + fmt.Sprint(progress.TarCheckpointRecords),
		"--checkpoint-action=echo",
	}
	tarArgs = append(tarArgs, excludeArgs(opts.Excludes, opts.IncludeHidden)...)
	if opts.Kind == meta.KindHome {
		// Home archives hold members relative to the home directory, so
		// extraction with -C onto the home directory recreates it in place,
		// the same layout incremental units use.
		home := opts.Sources[0]
		members, err := archiveMembers(home, opts.IncludeHidden)
		if err != nil {
			return err
		}
		tarArgs = append(tarArgs, destinationExcludes(opts.Destination, home)...)
		tarArgs = append(tarArgs, "-C", home)
		tarArgs = append(tarArgs, members...)
	} else {
		tarArgs = append(tarArgs, destinationExcludes(opts.Destination)...)
		// Absolute sources: tar strips the leading slash, so entries come out
		// as etc/... or srv/data/..., the shape restore reconstruction expects.
		tarArgs = append(tarArgs, opts.Sources...)
	}

	stages := []toolrun.Stage{
		{Name: e.tools.TarBin(), Args: tarArgs, StderrTo: checkpointW},
	}
	if opts.Compress {
		stages = append(stages, toolrun.Stage{Name: e.tools.GzipBin(), Args: []string{"-c"}})
	}

	cleanupSecret := func() {}
	if opts.Encrypt {
		secretPath, cleanup, err := writePasswordFile(opts.Password)
		if err != nil {
			return err
		}
		cleanupSecret = cleanup
		stages = append(stages, toolrun.Stage{
			Name: e.tools.GpgBin(),
			Args: []string{
				"--batch", "--yes",
				"--symmetric", "--cipher-algo", "AES256",
				"--passphrase-file", secretPath,
				"-o", "-",
			},
		})
	}
	// The secret file must disappear on every exit path.
	defer cleanupSecret()

	out, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}
	defer out.Close()

	hasher := blake3.New()
	pipeline := &toolrun.Pipeline{
		Stages: stages,
		Stdout: io.MultiWriter(out, hasher),
	}

	slog.Info("Starting archive pipeline", "archive", archiveName,
		"compress", opts.Compress, "encrypt", opts.Encrypt)
	if err := pipeline.Run(ctx); err != nil {
		return err
	}
	if err := out.Sync(); err != nil {
		return fmt.Errorf("failed to sync archive to disk: %w", err)
	}

	info, err := os.Stat(archivePath)
	if err != nil {
		return fmt.Errorf("archive produced but not statable: %w", err)
	}

	d.Archive = archiveName
	d.ArchiveSize = info.Size()
	d.ArchiveBlake3 = fmt.Sprintf("%x", hasher.Sum(nil))
	if opts.EstimatedBytes > 0 {
		d.Ratio = float64(info.Size()) / float64(opts.EstimatedBytes)
	}
	slog.Info("Archive completed", "size", info.Size(), "blake3", d.ArchiveBlake3)
	return nil
}

// ArchiveName builds <kind>_backup_<DDMMYYYY>_<HHMMSS>.tar with the suffixes
// the chosen layers add.
func ArchiveName(kind meta.Kind, ts time.Time, compress, encrypt bool) string {
	name := fmt.Sprintf("%s_backup_%s.tar", kind, ts.Format(meta.TimestampLayout))
	if compress {
		name += ".gz"
	}
	if encrypt {
		name += ".gpg"
	}
	return name
}

// destinationExcludes keeps a backup from recursing into its own output when
// the destination lives under a source (a system backup of / with a local
// base directory). Both forms are needed: rsync anchors absolute patterns,
// tar matches the slash-stripped member names. When a transfer is rooted at
// a directory rather than /, transferRoots adds patterns relative to it.
func destinationExcludes(dest string, transferRoots ...string) []string {
	out := []string{"--exclude=" + dest}
	if trimmed := strings.TrimPrefix(dest, "/"); trimmed != dest && trimmed != "" {
		out = append(out, "--exclude="+trimmed)
	}
	for _, root := range transferRoots {
		rel, err := filepath.Rel(root, dest)
		if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
			continue
		}
		out = append(out, "--exclude=/"+rel, "--exclude="+rel)
	}
	return out
}

// archiveMembers lists the top-level entries of dir for a relative tar run.
// Hidden entries are dropped here when excluded: naming them on the command
// line would override the exclude pattern.
func archiveMembers(dir string, includeHidden bool) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	var members []string
	for _, e := range entries {
		if !includeHidden && strings.HasPrefix(e.Name(), ".") {
			continue
		}
		members = append(members, e.Name())
	}
	if len(members) == 0 {
		return nil, fmt.Errorf("nothing to archive in %s", dir)
	}
	return members, nil
}

func withTrailingSlash(dir string) string {
	if len(dir) > 0 && dir[len(dir)-1] != '/' {
		return dir + "/"
	}
	return dir
}

func excludeArgs(patterns []string, includeHidden bool) []string {
	args := make([]string, 0, len(patterns)+1)
	for _, pat := range patterns {
		args = append(args, "--exclude="+pat)
	}
	if !includeHidden {
		args = append(args, "--exclude=.*")
	}
	return args
}

func suggestedRestorePaths(kind meta.Kind, sources []string, home string) []string {
	switch kind {
	case meta.KindSystem:
		return []string{"/"}
	case meta.KindHome:
		if len(sources) > 0 {
			return []string{sources[0]}
		}
		if home != "" {
			return []string{home}
		}
		return nil
	default:
		return append([]string(nil), sources...)
	}
}

// BLAKE3File computes the hash of a file, for descriptor recording and
// restore-time verification.
func BLAKE3File(filename string) (string, error) {
	f, err := os.Open(filename)
	if err != nil {
		return "", err
	}
	defer f.Close()

	hasher := blake3.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", hasher.Sum(nil)), nil
}
