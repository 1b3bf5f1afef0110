package toolrun

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

// gracePeriod is how long a tool gets between SIGTERM and SIGKILL when the
// operation context is cancelled.
const gracePeriod = 5 * time.Second

// ToolError carries the diagnostic context of a failed external tool so the
// operation boundary can report something better than "exit status 1".
type ToolError struct {
	Tool     string
	ExitCode int
	Stderr   string
}

func (e *ToolError) Error() string {
	msg := fmt.Sprintf("%s exited with code %d", e.Tool, e.ExitCode)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

// StderrTail keeps the last portion of a tool's stderr for diagnostics
// without buffering unbounded output.
type StderrTail struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

const tailLimit = 4096

func (t *StderrTail) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf.Write(p)
	if t.buf.Len() > tailLimit {
		b := t.buf.Bytes()
		t.buf = *bytes.NewBuffer(append([]byte(nil), b[len(b)-tailLimit:]...))
	}
	return len(p), nil
}

func (t *StderrTail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(t.buf.String())
}

// Command builds an exec.Cmd that terminates gracefully on cancellation:
// SIGTERM first, SIGKILL after the grace period.
func Command(ctx context.Context, name string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = gracePeriod
	return cmd
}

// Run executes a single tool and converts a nonzero exit into a ToolError.
func Run(ctx context.Context, name string, args ...string) error {
	tail := &StderrTail{}
	cmd := Command(ctx, name, args...)
	cmd.Stderr = tail

	slog.Debug("Running external tool", "tool", name, "args", args)
	if err := cmd.Run(); err != nil {
		return tail.Wrap(name, err)
	}
	return nil
}

// Stage is one element of a Pipeline.
type Stage struct {
	Name string
	Args []string

	// StderrTo additionally receives this stage's stderr stream, for tools
	// that report progress there (tar checkpoints). Diagnostic capture still
	// happens regardless.
	StderrTo io.Writer
}

// Pipeline connects stages stdout-to-stdin, the way a shell would, and runs
// them concurrently. The first stage may read from Stdin; the last stage
// writes to Stdout.
type Pipeline struct {
	Stages []Stage
	Stdin  io.Reader
	Stdout io.Writer
}

// Run starts every stage, waits for all of them, and joins their failures.
// A failing middle stage cancels the rest rather than deadlocking the pipe.
func (p *Pipeline) Run(ctx context.Context) error {
	if len(p.Stages) == 0 {
		return fmt.Errorf("empty pipeline")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cmds := make([]*exec.Cmd, len(p.Stages))
	tails := make([]*StderrTail, len(p.Stages))
	for i, st := range p.Stages {
		cmds[i] = Command(ctx, st.Name, st.Args...)
		tails[i] = &StderrTail{}
		if st.StderrTo != nil {
			cmds[i].Stderr = io.MultiWriter(tails[i], st.StderrTo)
		} else {
			cmds[i].Stderr = tails[i]
		}
	}

	cmds[0].Stdin = p.Stdin
	for i := 0; i < len(cmds)-1; i++ {
		pipe, err := cmds[i].StdoutPipe()
		if err != nil {
			return fmt.Errorf("failed to connect %s to %s: %w", p.Stages[i].Name, p.Stages[i+1].Name, err)
		}
		cmds[i+1].Stdin = pipe
	}
	cmds[len(cmds)-1].Stdout = p.Stdout

	started := 0
	for i, cmd := range cmds {
		if err := cmd.Start(); err != nil {
			cancel()
			for j := 0; j < started; j++ {
				_ = cmds[j].Wait()
			}
			return fmt.Errorf("failed to start %s: %w", p.Stages[i].Name, err)
		}
		started++
	}

	var errs []error
	for i, cmd := range cmds {
		if err := cmd.Wait(); err != nil {
			if ctx.Err() == nil {
				errs = append(errs, tails[i].Wrap(p.Stages[i].Name, err))
			}
			cancel()
		}
	}
	if ctx.Err() != nil && len(errs) == 0 {
		return ctx.Err()
	}
	return errors.Join(errs...)
}

// Wrap converts a nonzero exit into a ToolError carrying the captured
// stderr tail.
func (t *StderrTail) Wrap(tool string, err error) error {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &ToolError{Tool: tool, ExitCode: exitErr.ExitCode(), Stderr: t.String()}
	}
	return fmt.Errorf("%s: %w", tool, err)
}
