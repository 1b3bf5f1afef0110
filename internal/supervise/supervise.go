// Package supervise runs one backup/restore worker and observes it through
// the polled progress channel, converting every failure mode into a terminal
// outcome instead of a crash.
package supervise

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"fsbk/internal/progress"
)

type State string

const (
	StateIdle         State = "idle"
	StateEstimating   State = "estimating"
	StateTransferring State = "transferring"
	StateFlushing     State = "flushing"
	StateCompleted    State = "completed"
	StateCancelled    State = "cancelled"
	StateFailed       State = "failed"
)

// PollInterval is the supervisor tick. Polling a file instead of pushing
// over IPC trades latency for surviving process boundaries with no shared
// memory.
const PollInterval = 500 * time.Millisecond

// Outcome is the terminal result of one supervised operation.
type Outcome struct {
	State       State
	OperationID string
	Location    string
	Diagnostic  string
	Err         error
}

// Task is the worker body. It receives a channel to publish progress on and
// returns the result location (backup destination, restore target).
type Task func(ctx context.Context, ch *progress.Channel) (string, error)

// Supervisor owns the poll loop. OnUpdate, when set, receives every distinct
// record observed, in wall-clock order.
type Supervisor struct {
	RunDir   string
	OnUpdate func(progress.Record)
}

// Run executes the task in a worker goroutine and polls its progress channel
// until the worker finishes or the context is cancelled. The channel file is
// always removed, and a panicking worker becomes a Failed outcome.
func (s *Supervisor) Run(ctx context.Context, task Task) Outcome {
	opID := uuid.New().String()

	ch, err := progress.NewChannel(s.RunDir, opID)
	if err != nil {
		return Outcome{State: StateFailed, OperationID: opID, Diagnostic: err.Error(), Err: err}
	}
	defer func() {
		if err := ch.Close(); err != nil {
			slog.Warn("Failed to remove progress channel", "error", err)
		}
	}()

	workerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		location string
		err      error
	}
	done := make(chan result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("Worker panicked", "panic", r, "stack", string(debug.Stack()))
				done <- result{err: fmt.Errorf("worker panicked: %v", r)}
			}
		}()
		location, err := task(workerCtx, ch)
		done <- result{location: location, err: err}
	}()

	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	var last progress.Record
	seen := false
	for {
		select {
		case <-ticker.C:
			rec, ok := ch.Latest()
			if ok && (!seen || rec != last) {
				seen = true
				last = rec
				if s.OnUpdate != nil {
					s.OnUpdate(rec)
				}
			}

		case <-ctx.Done():
			// Graceful stop: cancel the worker context; the tools get
			// SIGTERM, then SIGKILL after the grace period. The worker's
			// deferred cleanup (secret files) still runs.
			slog.Info("Cancellation requested, stopping worker", "operation", opID)
			cancel()
			res := <-done
			return Outcome{
				State:       StateCancelled,
				OperationID: opID,
				Diagnostic:  diagnosticOf(res.err),
				Err:         res.err,
			}

		case res := <-done:
			s.drainFinal(ch, &last, seen)
			if res.err != nil {
				return Outcome{
					State:       StateFailed,
					OperationID: opID,
					Diagnostic:  diagnosticOf(res.err),
					Err:         res.err,
				}
			}
			return Outcome{State: StateCompleted, OperationID: opID, Location: res.location}
		}
	}
}

// drainFinal delivers the last record (usually COMPLETE) that may have been
// published between the final tick and worker exit.
func (s *Supervisor) drainFinal(ch *progress.Channel, last *progress.Record, seen bool) {
	rec, ok := ch.Latest()
	if ok && (!seen || rec != *last) {
		*last = rec
		if s.OnUpdate != nil {
			s.OnUpdate(rec)
		}
	}
}

func diagnosticOf(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
