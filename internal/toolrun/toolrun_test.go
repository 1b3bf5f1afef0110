package toolrun

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestToolErrorMessage(t *testing.T) {
	err := &ToolError{Tool: "rsync", ExitCode: 23, Stderr: "permission denied"}
	assert.Equal(t, "rsync exited with code 23: permission denied", err.Error())

	err = &ToolError{Tool: "tar", ExitCode: 2}
	assert.Equal(t, "tar exited with code 2", err.Error())
}

func TestStderrTailKeepsOnlyTail(t *testing.T) {
	var tail StderrTail
	chunk := strings.Repeat("x", 1000)
	for range 10 {
		_, err := tail.Write([]byte(chunk))
		require.NoError(t, err)
	}
	assert.Len(t, tail.String(), tailLimit)
}

func TestWrapExitError(t *testing.T) {
	requireShell(t)

	var tail StderrTail
	cmd := Command(context.Background(), "sh", "-c", "echo oops >&2; exit 3")
	cmd.Stderr = &tail
	err := cmd.Run()
	require.Error(t, err)

	wrapped := tail.Wrap("sh", err)
	var toolErr *ToolError
	require.ErrorAs(t, wrapped, &toolErr)
	assert.Equal(t, 3, toolErr.ExitCode)
	assert.Equal(t, "oops", toolErr.Stderr)
}

func TestWrapNonExitError(t *testing.T) {
	var tail StderrTail
	plain := errors.New("pipe broken")
	wrapped := tail.Wrap("gzip", plain)
	var toolErr *ToolError
	assert.False(t, errors.As(wrapped, &toolErr))
	assert.ErrorIs(t, wrapped, plain)
}

func TestRunSuccess(t *testing.T) {
	requireShell(t)
	assert.NoError(t, Run(context.Background(), "sh", "-c", "exit 0"))
}

func TestRunFailureCarriesStderr(t *testing.T) {
	requireShell(t)

	err := Run(context.Background(), "sh", "-c", "echo broken >&2; exit 1")
	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, 1, toolErr.ExitCode)
	assert.Contains(t, toolErr.Stderr, "broken")
}

func TestPipelineConnectsStages(t *testing.T) {
	requireShell(t)

	var out bytes.Buffer
	p := &Pipeline{
		Stages: []Stage{
			{Name: "sh", Args: []string{"-c", "printf 'hello world'"}},
			{Name: "sh", Args: []string{"-c", "tr a-z A-Z"}},
		},
		Stdout: &out,
	}
	require.NoError(t, p.Run(context.Background()))
	assert.Equal(t, "HELLO WORLD", out.String())
}

func TestPipelineStdin(t *testing.T) {
	requireShell(t)

	var out bytes.Buffer
	p := &Pipeline{
		Stages: []Stage{{Name: "sh", Args: []string{"-c", "cat"}}},
		Stdin:  strings.NewReader("payload"),
		Stdout: &out,
	}
	require.NoError(t, p.Run(context.Background()))
	assert.Equal(t, "payload", out.String())
}

func TestPipelineStageFailure(t *testing.T) {
	requireShell(t)

	var out bytes.Buffer
	p := &Pipeline{
		Stages: []Stage{
			{Name: "sh", Args: []string{"-c", "echo data"}},
			{Name: "sh", Args: []string{"-c", "echo stage failed >&2; exit 4"}},
		},
		Stdout: &out,
	}
	err := p.Run(context.Background())
	require.Error(t, err)

	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, 4, toolErr.ExitCode)
	assert.Contains(t, toolErr.Stderr, "stage failed")
}

func TestPipelineStderrTo(t *testing.T) {
	requireShell(t)

	var progress bytes.Buffer
	var out bytes.Buffer
	p := &Pipeline{
		Stages: []Stage{
			{Name: "sh", Args: []string{"-c", "echo checkpoint 1 >&2; echo payload"}, StderrTo: &progress},
		},
		Stdout: &out,
	}
	require.NoError(t, p.Run(context.Background()))
	assert.Contains(t, progress.String(), "checkpoint 1")
	assert.Equal(t, "payload\n", out.String())
}

func TestPipelineEmpty(t *testing.T) {
	err := (&Pipeline{}).Run(context.Background())
	assert.Error(t, err)
}

func TestPipelineCancellation(t *testing.T) {
	requireShell(t)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	p := &Pipeline{
		Stages: []Stage{{Name: "sh", Args: []string{"-c", "sleep 60"}}},
		Stdout: &bytes.Buffer{},
	}
	err := p.Run(ctx)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 30*time.Second, "cancellation must not wait for the tool")
}
