package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fsbk/internal/meta"
)

func TestReadPasswordFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pw")
	require.NoError(t, os.WriteFile(path, []byte("hunter2\n"), 0o600))

	got, err := readPasswordFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", got)
}

func TestReadPasswordFileEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pw")
	require.NoError(t, os.WriteFile(path, []byte("\n"), 0o600))

	_, err := readPasswordFile(path)
	assert.Error(t, err)
}

func TestReadPasswordFileMissing(t *testing.T) {
	_, err := readPasswordFile(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestResolveSources(t *testing.T) {
	t.Run("system covers root", func(t *testing.T) {
		got, err := resolveSources(meta.KindSystem, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"/"}, got)
	})

	t.Run("system rejects explicit sources", func(t *testing.T) {
		_, err := resolveSources(meta.KindSystem, []string{"/etc"})
		assert.Error(t, err)
	})

	t.Run("custom requires sources", func(t *testing.T) {
		_, err := resolveSources(meta.KindCustom, nil)
		assert.Error(t, err)
	})

	t.Run("custom rejects relative paths", func(t *testing.T) {
		_, err := resolveSources(meta.KindCustom, []string{"relative/path"})
		assert.Error(t, err)
	})

	t.Run("custom rejects missing paths", func(t *testing.T) {
		_, err := resolveSources(meta.KindCustom, []string{"/nonexistent/fsbk-src"})
		assert.Error(t, err)
	})

	t.Run("custom accepts existing absolute paths", func(t *testing.T) {
		dir := t.TempDir()
		got, err := resolveSources(meta.KindCustom, []string{dir})
		require.NoError(t, err)
		assert.Equal(t, []string{dir}, got)
	})
}

func TestIncrementalCutoff(t *testing.T) {
	base := time.Now().Add(-24 * time.Hour).Unix()
	last := time.Now().Add(-1 * time.Hour).Unix()

	d := &meta.Descriptor{CreatedAt: base}
	assert.Equal(t, base, incrementalCutoff(d, meta.Differential).Unix())
	assert.Equal(t, base, incrementalCutoff(d, meta.Cumulative).Unix())

	d.Incrementals = []meta.IncrementalRecord{{CreatedAt: last, Kind: meta.Differential}}
	assert.Equal(t, last, incrementalCutoff(d, meta.Differential).Unix())
	assert.Equal(t, base, incrementalCutoff(d, meta.Cumulative).Unix())
}

func TestIncrementalSources(t *testing.T) {
	d := &meta.Descriptor{Sources: []string{"/srv/data"}}
	got, err := incrementalSources(d, meta.KindCustom)
	require.NoError(t, err)
	assert.Equal(t, []string{"/srv/data"}, got)

	d = &meta.Descriptor{Home: "/home/alice"}
	got, err = incrementalSources(d, meta.KindHome)
	require.NoError(t, err)
	assert.Equal(t, []string{"/home/alice"}, got)

	d = &meta.Descriptor{}
	got, err = incrementalSources(d, meta.KindSystem)
	require.NoError(t, err)
	assert.Equal(t, []string{"/"}, got)

	_, err = incrementalSources(&meta.Descriptor{}, meta.KindHome)
	assert.Error(t, err)
}
