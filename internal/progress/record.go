package progress

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Record is one update on the progress channel. The wire form is a single
// line, either `PCT:<0-100>|TXT:<freeform>|REM:<eta>` or the literal
// `COMPLETE`. Only COMPLETE may be interpreted as 100% done.
type Record struct {
	Percent   int
	Text      string
	Remaining string
	Complete  bool
}

const completeMarker = "COMPLETE"

func (r Record) Encode() string {
	if r.Complete {
		return completeMarker
	}
	pct := r.Percent
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return fmt.Sprintf("PCT:%d|TXT:%s|REM:%s", pct, r.Text, r.Remaining)
}

func ParseRecord(line string) (Record, error) {
	line = strings.TrimSpace(line)
	if line == completeMarker {
		return Record{Percent: 100, Complete: true}, nil
	}

	var r Record
	seen := false
	for _, part := range strings.Split(line, "|") {
		switch {
		case strings.HasPrefix(part, "PCT:"):
			pct, err := strconv.Atoi(strings.TrimPrefix(part, "PCT:"))
			if err != nil {
				return Record{}, fmt.Errorf("bad percent in progress record %q", line)
			}
			r.Percent = pct
			seen = true
		case strings.HasPrefix(part, "TXT:"):
			r.Text = strings.TrimPrefix(part, "TXT:")
		case strings.HasPrefix(part, "REM:"):
			r.Remaining = strings.TrimPrefix(part, "REM:")
		}
	}
	if !seen {
		return Record{}, fmt.Errorf("unrecognized progress record %q", line)
	}
	return r, nil
}

// Channel is the transient file crossed between worker and supervisor.
// Single writer (the worker), single reader (the supervisor), keyed by
// operation id so sequential operations never collide.
type Channel struct {
	path string
}

func NewChannel(dir, opID string) (*Channel, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create progress directory: %w", err)
	}
	return &Channel{path: filepath.Join(dir, "progress_"+opID)}, nil
}

// Publish replaces the channel content atomically so the reader never sees
// a torn record.
func (c *Channel) Publish(r Record) error {
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(r.Encode()+"\n"), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, c.path)
}

// Latest returns the most recent record. ok is false before the first
// publish and after Close.
func (c *Channel) Latest() (Record, bool) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return Record{}, false
	}
	r, err := ParseRecord(string(data))
	if err != nil {
		return Record{}, false
	}
	return r, true
}

func (c *Channel) Close() error {
	if err := os.Remove(c.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
