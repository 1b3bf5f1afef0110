package scan

import (
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

// Result separates files modified after the cutoff from files that appear to
// have been created after it. The split is informational: callers copy the
// concatenation of both lists.
type Result struct {
	Changed []string
	Added   []string
}

func (r Result) All() []string {
	out := make([]string, 0, len(r.Changed)+len(r.Added))
	out = append(out, r.Changed...)
	out = append(out, r.Added...)
	return out
}

// FindChanges walks each root and collects regular files whose modification
// time is strictly after the cutoff. Paths matching an exclude pattern are
// pruned. Unreadable entries are skipped, not fatal: an incremental backup of
// what we can read beats no backup.
func FindChanges(roots []string, cutoff time.Time, excludes []string) Result {
	var res Result

	for _, root := range roots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				slog.Debug("Skipping unreadable entry", "path", path, "error", err)
				if d != nil && d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if excluded(path, excludes) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if !d.Type().IsRegular() {
				return nil
			}

			info, err := d.Info()
			if err != nil {
				slog.Debug("Skipping unstatable file", "path", path, "error", err)
				return nil
			}
			if !info.ModTime().After(cutoff) {
				return nil
			}

			if createdAfter(info, cutoff) {
				res.Added = append(res.Added, path)
			} else {
				res.Changed = append(res.Changed, path)
			}
			return nil
		})
		if err != nil {
			slog.Warn("Walk aborted", "root", root, "error", err)
		}
	}

	return res
}

// excluded applies the rsync-style patterns well enough to prune the walk:
// "/proc/*" stops descent at /proc's children, and the bare directory form
// ("/lost+found") matches exactly.
func excluded(path string, patterns []string) bool {
	for _, pat := range patterns {
		if ok, _ := filepath.Match(pat, path); ok {
			return true
		}
		if dir, found := strings.CutSuffix(pat, "/*"); found && path == dir {
			return true
		}
	}
	return false
}

// createdAfter guesses whether a file is new rather than modified. Without a
// recorded inventory this is a heuristic: a file whose inode change time and
// content mtime coincide was most likely just created.
func createdAfter(info fs.FileInfo, cutoff time.Time) bool {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return false
	}
	ctime := time.Unix(st.Ctim.Sec, st.Ctim.Nsec)
	if !ctime.After(cutoff) {
		return false
	}
	diff := ctime.Sub(info.ModTime())
	if diff < 0 {
		diff = -diff
	}
	return diff < 2*time.Second
}
