package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fsbk/internal/archive"
	"fsbk/internal/meta"
	"fsbk/internal/remote"
)

// fakeBackend keeps objects in memory so the mirror and fetch paths can be
// exercised without a bucket.
type fakeBackend struct {
	objects  map[string][]byte
	hashes   map[string]string
	verified bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{objects: map[string][]byte{}, hashes: map[string]string{}}
}

func (f *fakeBackend) Upload(_ context.Context, localPath, remotePath, checksumHash string, _ meta.Kind) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	f.objects[remotePath] = data
	f.hashes[remotePath] = checksumHash
	return nil
}

func (f *fakeBackend) Download(_ context.Context, remotePath, localPath string) error {
	data, ok := f.objects[remotePath]
	if !ok {
		return fmt.Errorf("no such object %s", remotePath)
	}
	return os.WriteFile(localPath, data, 0o644)
}

func (f *fakeBackend) Head(_ context.Context, remotePath string) (*remote.ObjectInfo, error) {
	data, ok := f.objects[remotePath]
	if !ok {
		return nil, fmt.Errorf("no such object %s", remotePath)
	}
	return &remote.ObjectInfo{Size: int64(len(data)), Blake3: f.hashes[remotePath]}, nil
}

func (f *fakeBackend) VerifyCredentials(context.Context) error {
	f.verified = true
	return nil
}

func writeArchiveUnit(t *testing.T, payload []byte) (string, *meta.Descriptor) {
	t.Helper()
	dest := filepath.Join(t.TempDir(), "custom_backup_01022026_120000")
	require.NoError(t, os.MkdirAll(dest, 0o755))

	archiveName := "custom_backup_01022026_120000.tar"
	archivePath := filepath.Join(dest, archiveName)
	require.NoError(t, os.WriteFile(archivePath, payload, 0o644))

	hash, err := archive.BLAKE3File(archivePath)
	require.NoError(t, err)

	d := meta.NewDescriptor(meta.KindCustom, []string{"/srv/data"}, time.Now())
	d.Archive = archiveName
	d.ArchiveSize = int64(len(payload))
	d.ArchiveBlake3 = hash
	require.NoError(t, meta.WriteDescriptor(dest, d))
	return dest, d
}

func TestMirrorBackup(t *testing.T) {
	dest, d := writeArchiveUnit(t, []byte("archive payload"))
	backend := newFakeBackend()

	require.NoError(t, mirrorBackup(context.Background(), backend, dest, d))

	assert.True(t, backend.verified)
	unit := filepath.Base(dest)
	assert.Contains(t, backend.objects, remote.DataKey(unit, d.Archive))
	assert.Contains(t, backend.objects, remote.MetaKey(unit))
	assert.Equal(t, d.ArchiveBlake3, backend.hashes[remote.DataKey(unit, d.Archive)])
}

func TestMirrorBackupDetectsShortUpload(t *testing.T) {
	dest, d := writeArchiveUnit(t, []byte("archive payload"))
	d.ArchiveSize = 9999

	err := mirrorBackup(context.Background(), newFakeBackend(), dest, d)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bytes")
}

func TestFetchRemoteUnit(t *testing.T) {
	payload := []byte("archive payload")
	dest, d := writeArchiveUnit(t, payload)
	backend := newFakeBackend()
	require.NoError(t, mirrorBackup(context.Background(), backend, dest, d))

	unit := filepath.Base(dest)
	stage, err := fetchRemoteUnit(context.Background(), backend, t.TempDir(), unit)
	require.NoError(t, err)

	got, err := meta.ReadDescriptor(stage)
	require.NoError(t, err)
	assert.Equal(t, d.Archive, got.Archive)

	data, err := os.ReadFile(filepath.Join(stage, d.Archive))
	require.NoError(t, err)
	assert.Equal(t, payload, data)
}

func TestFetchRemoteUnitRejectsCorruptArchive(t *testing.T) {
	dest, d := writeArchiveUnit(t, []byte("archive payload"))
	backend := newFakeBackend()
	require.NoError(t, mirrorBackup(context.Background(), backend, dest, d))

	unit := filepath.Base(dest)
	backend.objects[remote.DataKey(unit, d.Archive)] = []byte("tampered")

	_, err := fetchRemoteUnit(context.Background(), backend, t.TempDir(), unit)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "blake3")
}

func TestFetchRemoteUnitSyncOnly(t *testing.T) {
	// Units without an archive mirror only their descriptor.
	dest := filepath.Join(t.TempDir(), "home_backup_01022026_120000")
	require.NoError(t, os.MkdirAll(dest, 0o755))
	d := meta.NewDescriptor(meta.KindHome, []string{"/home/alice"}, time.Now())
	require.NoError(t, meta.WriteDescriptor(dest, d))

	backend := newFakeBackend()
	require.NoError(t, mirrorBackup(context.Background(), backend, dest, d))

	stage, err := fetchRemoteUnit(context.Background(), backend, t.TempDir(), filepath.Base(dest))
	require.NoError(t, err)
	got, err := meta.ReadDescriptor(stage)
	require.NoError(t, err)
	assert.Equal(t, meta.KindHome, got.Kind)
}
