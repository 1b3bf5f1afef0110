package progress

import (
	"bufio"
	"bytes"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	// CapBytes limits byte-stream (rsync) transfers: the tool keeps working
	// after the last file line, so 100% before its exit would be a lie.
	CapBytes = 95

	// CapArchive limits checkpoint-driven (tar) transfers, which only flush
	// their final records at exit.
	CapArchive = 99

	// publishInterval rate-limits channel updates. First and final updates
	// bypass it.
	publishInterval = 2 * time.Second

	// tar emits a checkpoint every checkpointRecords records of recordSize
	// bytes (default blocking factor 20 x 512-byte blocks).
	tarRecordSize        = 10240
	TarCheckpointRecords = 100
)

// Monitor turns heterogeneous tool output into normalized percent/speed/ETA
// records on a progress channel. percent never reaches 100 here; only the
// explicit Complete call emits the terminal record.
type Monitor struct {
	ch  *Channel
	cap int

	mu          sync.Mutex
	total       uint64
	processed   uint64
	lastPublish time.Time
	lastBytes   uint64
	lastTime    time.Time
	started     bool
}

// NewMonitor seeds the denominator from the size estimate. total 0 switches
// the monitor to indeterminate (byte-count-only) reporting.
func NewMonitor(ch *Channel, total uint64, percentCap int) *Monitor {
	return &Monitor{ch: ch, cap: percentCap, total: total}
}

func (m *Monitor) Indeterminate() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.total == 0
}

func (m *Monitor) Processed() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.processed
}

// Announce publishes a status line immediately, outside the rate limit.
// Used for phase transitions (estimating, starting, flushing).
func (m *Monitor) Announce(percent int, text string) {
	m.publishRecord(Record{Percent: percent, Text: text, Remaining: Calculating})
}

// ConsumeSync reads rsync per-file output and accumulates only records of
// fully transferred files (the 100% lines). Partial-progress lines for a
// file still in flight are ignored so the running total never regresses.
func (m *Monitor) ConsumeSync(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	// rsync rewrites a file's progress line in place with carriage returns
	// and only terminates the final state with a newline. Split on both so
	// the 100% line of a multi-update file is seen on its own.
	scanner.Split(scanProgressLines)
	for scanner.Scan() {
		n, ok := parseSyncLine(scanner.Text())
		if !ok {
			continue
		}
		m.add(n, "Copying files")
	}
	if err := scanner.Err(); err != nil {
		slog.Debug("Transfer output stream ended", "error", err)
	}
}

// ConsumeCheckpoints reads tar --checkpoint-action=echo stderr lines and
// converts the checkpoint counter into a byte position.
func (m *Monitor) ConsumeCheckpoints(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		count, ok := parseCheckpointLine(scanner.Text())
		if !ok {
			continue
		}
		pos := count * TarCheckpointRecords * tarRecordSize
		m.setProcessed(pos, "Archiving")
	}
	if err := scanner.Err(); err != nil {
		slog.Debug("Checkpoint stream ended", "error", err)
	}
}

// Flush reports the short grace phase after the tool exits cleanly, while
// caches drain. Always 99, never 100.
func (m *Monitor) Flush() {
	m.publishRecord(Record{Percent: 99, Text: "Finishing, flushing to disk", Remaining: "a few seconds"})
}

// Complete emits the one and only terminal record.
func (m *Monitor) Complete() {
	m.publishRecord(Record{Complete: true})
}

func (m *Monitor) add(n uint64, text string) {
	m.mu.Lock()
	m.processed += n
	m.mu.Unlock()
	m.maybePublish(text)
}

func (m *Monitor) setProcessed(pos uint64, text string) {
	m.mu.Lock()
	if pos > m.processed {
		m.processed = pos
	}
	m.mu.Unlock()
	m.maybePublish(text)
}

func (m *Monitor) maybePublish(text string) {
	m.mu.Lock()

	now := time.Now()
	first := !m.started
	if !first && now.Sub(m.lastPublish) < publishInterval {
		m.mu.Unlock()
		return
	}

	// A tool can legitimately move more bytes than the estimate said exist
	// (files grown since estimation, hardlinks counted once). Grow the
	// denominator instead of pinning at the cap too early.
	if m.total > 0 && m.processed > m.total {
		m.total = m.processed * 6 / 5
	}

	var rate float64
	if !first {
		if dt := now.Sub(m.lastTime).Seconds(); dt > 0 {
			rate = float64(m.processed-m.lastBytes) / dt
		}
	}

	rec := m.buildRecord(text, rate)

	m.started = true
	m.lastPublish = now
	m.lastBytes = m.processed
	m.lastTime = now
	m.mu.Unlock()

	m.publishRecord(rec)
}

// buildRecord is called with m.mu held.
func (m *Monitor) buildRecord(text string, rate float64) Record {
	rec := Record{Text: text}

	if speed := FormatSpeed(rate); speed != "" {
		rec.Text = text + " at " + speed
	}

	if m.total == 0 {
		// Indeterminate mode: no percentage, just the running byte count.
		rec.Percent = 0
		rec.Text += " (" + FormatBytes(m.processed) + " so far)"
		rec.Remaining = Calculating
		return rec
	}

	pct := int(m.processed * 100 / m.total)
	if pct > m.cap {
		pct = m.cap
	}
	rec.Percent = pct
	rec.Remaining = FormatETA(m.total-m.processed, rate)
	return rec
}

func (m *Monitor) publishRecord(rec Record) {
	if m.ch == nil {
		return
	}
	if err := m.ch.Publish(rec); err != nil {
		slog.Warn("Failed to publish progress record", "error", err)
	}
}

// scanProgressLines is a bufio.SplitFunc that treats both CR and LF as line
// terminators.
func scanProgressLines(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// parseSyncLine extracts the byte count from an rsync per-file progress line
// once the file hits 100%, e.g.:
//
//	1,442,381 100%   42.13MB/s    0:00:00 (xfr#3, to-chk=12/40)
func parseSyncLine(line string) (uint64, bool) {
	fields := strings.Fields(line)
	if len(fields) < 2 || fields[1] != "100%" {
		return 0, false
	}
	n, err := strconv.ParseUint(strings.ReplaceAll(fields[0], ",", ""), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// parseCheckpointLine extracts the counter from a tar checkpoint line, e.g.:
//
//	tar: Write checkpoint 500
func parseCheckpointLine(line string) (uint64, bool) {
	if !strings.Contains(line, "checkpoint") {
		return 0, false
	}
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return 0, false
	}
	n, err := strconv.ParseUint(fields[len(fields)-1], 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
