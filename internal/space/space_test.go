package space

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckFreeNoEstimate(t *testing.T) {
	assert.NoError(t, CheckFree(t.TempDir(), 0))
}

func TestCheckFreeSmallNeed(t *testing.T) {
	assert.NoError(t, CheckFree(t.TempDir(), 1))
}

func TestCheckFreeImpossibleNeed(t *testing.T) {
	err := CheckFree(t.TempDir(), math.MaxUint64/2)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not enough free space")
}

func TestCheckFreeBadPath(t *testing.T) {
	err := CheckFree("/nonexistent/fsbk-space-check", 0)
	assert.Error(t, err)
}
