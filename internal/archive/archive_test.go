package archive

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fsbk/internal/config"
	"fsbk/internal/meta"
	"fsbk/internal/toolrun"
)

func TestArchiveName(t *testing.T) {
	ts := time.Date(2026, 2, 1, 12, 30, 45, 0, time.UTC)

	tests := []struct {
		kind     meta.Kind
		compress bool
		encrypt  bool
		want     string
	}{
		{kind: meta.KindSystem, want: "system_backup_01022026_123045.tar"},
		{kind: meta.KindHome, compress: true, want: "home_backup_01022026_123045.tar.gz"},
		{kind: meta.KindCustom, encrypt: true, want: "custom_backup_01022026_123045.tar.gpg"},
		{kind: meta.KindHome, compress: true, encrypt: true, want: "home_backup_01022026_123045.tar.gz.gpg"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ArchiveName(tt.kind, ts, tt.compress, tt.encrypt))
	}
}

func TestWritePasswordFile(t *testing.T) {
	path, cleanup, err := writePasswordFile("hunter2")
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	dirInfo, err := os.Stat(filepath.Dir(path))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o700), dirInfo.Mode().Perm())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", string(data))

	cleanup()
	_, err = os.Stat(filepath.Dir(path))
	assert.True(t, os.IsNotExist(err))
}

func TestWritePasswordFileEmpty(t *testing.T) {
	_, _, err := writePasswordFile("")
	assert.ErrorIs(t, err, ErrMissingPassword)
}

func TestExcludeArgs(t *testing.T) {
	args := excludeArgs([]string{"/proc/*", "*/.cache/*"}, false)
	assert.Equal(t, []string{"--exclude=/proc/*", "--exclude=*/.cache/*", "--exclude=.*"}, args)

	args = excludeArgs(nil, true)
	assert.Empty(t, args)
}

func TestDestinationExcludes(t *testing.T) {
	assert.Equal(t,
		[]string{"--exclude=/var/backups/unit", "--exclude=var/backups/unit"},
		destinationExcludes("/var/backups/unit"))
	assert.Equal(t, []string{"--exclude=relative"}, destinationExcludes("relative"))

	// A destination under the transfer root gets root-relative patterns too.
	assert.Equal(t,
		[]string{
			"--exclude=/home/alice/backups",
			"--exclude=home/alice/backups",
			"--exclude=/backups",
			"--exclude=backups",
		},
		destinationExcludes("/home/alice/backups", "/home/alice"))

	// A destination outside the transfer root adds nothing.
	assert.Equal(t,
		[]string{"--exclude=/var/backups", "--exclude=var/backups"},
		destinationExcludes("/var/backups", "/home/alice"))
}

func TestArchiveMembers(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "docs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".bashrc"), []byte("b"), 0o644))

	members, err := archiveMembers(dir, false)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"docs", "notes.txt"}, members)

	members, err = archiveMembers(dir, true)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{".bashrc", "docs", "notes.txt"}, members)

	_, err = archiveMembers(t.TempDir(), false)
	assert.Error(t, err)
}

func TestRelativeSpecs(t *testing.T) {
	files := []string{
		"/home/alice/docs/report.txt",
		"/home/alice/.bashrc",
		"/etc/hosts",
	}

	got := relativeSpecs(files, "/home/alice")
	assert.Equal(t, []string{
		"/home/alice/./docs/report.txt",
		"/home/alice/./.bashrc",
		"/etc/hosts",
	}, got)

	// No anchor: paths pass through untouched.
	assert.Equal(t, files, relativeSpecs(files, ""))
}

func TestSuggestedRestorePaths(t *testing.T) {
	assert.Equal(t, []string{"/"}, suggestedRestorePaths(meta.KindSystem, []string{"/"}, ""))
	assert.Equal(t, []string{"/home/alice"}, suggestedRestorePaths(meta.KindHome, []string{"/home/alice"}, "/home/alice"))
	// The recorded path is the directory that was backed up, not the
	// process owner's home.
	assert.Equal(t, []string{"/srv/homes/bob"}, suggestedRestorePaths(meta.KindHome, []string{"/srv/homes/bob"}, "/root"))
	assert.Equal(t, []string{"/root"}, suggestedRestorePaths(meta.KindHome, nil, "/root"))
	assert.Nil(t, suggestedRestorePaths(meta.KindHome, nil, ""))
	assert.Equal(t, []string{"/srv/a", "/srv/b"}, suggestedRestorePaths(meta.KindCustom, []string{"/srv/a", "/srv/b"}, ""))
}

func TestClassifyCipherError(t *testing.T) {
	wrongKey := &toolrun.ToolError{Tool: "gpg", ExitCode: 2, Stderr: "gpg: decryption failed: Bad session key"}
	err := classifyCipherError(wrongKey)
	assert.ErrorIs(t, err, ErrWrongPassword)

	ioFail := &toolrun.ToolError{Tool: "gpg", ExitCode: 2, Stderr: "gpg: can't open input"}
	err = classifyCipherError(ioFail)
	assert.NotErrorIs(t, err, ErrWrongPassword)

	plain := errors.New("something else")
	assert.Equal(t, plain, classifyCipherError(plain))
}

func TestBLAKE3File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.bin")
	require.NoError(t, os.WriteFile(path, []byte("content"), 0o644))

	h1, err := BLAKE3File(path)
	require.NoError(t, err)
	require.Len(t, h1, 64)

	h2, err := BLAKE3File(path)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	require.NoError(t, os.WriteFile(path, []byte("different"), 0o644))
	h3, err := BLAKE3File(path)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}

func TestRunFullRejectsBadOptions(t *testing.T) {
	e := New(config.Tools{})

	tests := []struct {
		name string
		opts Options
	}{
		{
			name: "invalid kind",
			opts: Options{Kind: "weekly", Sources: []string{"/"}, Destination: t.TempDir()},
		},
		{
			name: "no sources",
			opts: Options{Kind: meta.KindCustom, Destination: t.TempDir()},
		},
		{
			name: "encrypt without password",
			opts: Options{Kind: meta.KindHome, Sources: []string{"/home/alice"}, Destination: t.TempDir(), Encrypt: true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.RunFull(context.Background(), tt.opts, nil)
			assert.Error(t, err)
		})
	}
}

func TestRunIncrementalRejectsBadInput(t *testing.T) {
	e := New(config.Tools{})
	d := meta.NewDescriptor(meta.KindHome, nil, time.Now())

	_, err := e.RunIncremental(context.Background(), t.TempDir(), d, []string{"/home/alice/x"}, "weekly", "", nil)
	assert.Error(t, err)

	_, err = e.RunIncremental(context.Background(), t.TempDir(), d, nil, meta.Differential, "", nil)
	assert.Error(t, err)
}
