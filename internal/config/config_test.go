package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadValidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fsbk_config.yaml")
	content := `
base_dir: /var/backups/fsbk
excludes:
  - "/srv/scratch/*"
tools:
  rsync: /usr/local/bin/rsync
remote:
  enabled: true
  bucket: my-backups
  region: eu-central-1
  prefix: host1
  storage_class: STANDARD_IA
  retry:
    max_attempts: 5
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/backups/fsbk", cfg.BaseDir)
	assert.Equal(t, "/usr/local/bin/rsync", cfg.Tools.RsyncBin())
	assert.Equal(t, "tar", cfg.Tools.TarBin())
	assert.True(t, cfg.Remote.Enabled)
	assert.Equal(t, 5, cfg.RemoteRetryAttempts())
	assert.Contains(t, cfg.AllExcludes(), "/srv/scratch/*")
	assert.Contains(t, cfg.AllExcludes(), "/proc/*")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.True(t, os.IsNotExist(err))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{
			name:    "missing base_dir",
			cfg:     Config{},
			wantErr: "base_dir",
		},
		{
			name: "remote enabled without bucket",
			cfg: Config{
				BaseDir: "/tmp/fsbk",
				Remote:  RemoteConfig{Enabled: true, Region: "us-east-1"},
			},
			wantErr: "remote.bucket",
		},
		{
			name: "remote enabled without region",
			cfg: Config{
				BaseDir: "/tmp/fsbk",
				Remote:  RemoteConfig{Enabled: true, Bucket: "b"},
			},
			wantErr: "remote.region",
		},
		{
			name: "local only",
			cfg:  Config{BaseDir: "/tmp/fsbk"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestDefaultIsUsable(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.NotEmpty(t, cfg.BaseDir)
	assert.Equal(t, filepath.Join(cfg.BaseDir, "run"), cfg.RunDir())
	assert.Equal(t, filepath.Join(cfg.BaseDir, "logs"), cfg.LogDir())
}

func TestRemoteRetryAttemptsDefault(t *testing.T) {
	cfg := Config{BaseDir: "/tmp/fsbk"}
	assert.Equal(t, 3, cfg.RemoteRetryAttempts())
}
