package restorer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRestoreArgsPolicy(t *testing.T) {
	x := &Executor{}

	args := x.restoreArgs(&Plan{Policy: PolicyReplace, Dest: "/tmp/target"})
	assert.Equal(t, []string{"-a", "--progress"}, args)

	args = x.restoreArgs(&Plan{Policy: PolicyMerge, Dest: "/tmp/target"})
	assert.Contains(t, args, "--ignore-existing")
}

func TestRestoreArgsSnapshot(t *testing.T) {
	x := &Executor{}

	args := x.restoreArgs(&Plan{Policy: PolicyReplace, Dest: "/tmp/target", SnapshotExisting: true})
	assert.Contains(t, args, "--backup")

	found := false
	for _, a := range args {
		if strings.HasPrefix(a, "--backup-dir=/tmp/target/pre_restore_") {
			found = true
		}
	}
	assert.True(t, found, "expected a --backup-dir under the destination, got %v", args)
}

func TestWithSlash(t *testing.T) {
	assert.Equal(t, "/srv/data/", withSlash("/srv/data"))
	assert.Equal(t, "/srv/data/", withSlash("/srv/data/"))
	assert.Equal(t, "", withSlash(""))
}
