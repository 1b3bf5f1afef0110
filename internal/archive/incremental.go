package archive

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"fsbk/internal/meta"
	"fsbk/internal/progress"
	"fsbk/internal/toolrun"
)

// RunIncremental copies the given files into a new incremental unit under
// the backup root, writes the unit's self-descriptor, and appends the record
// to the backup descriptor chain.
//
// relativeTo shifts the path root preserved inside the unit: for a home
// backup it is the home directory, so the unit holds docs/report.txt rather
// than home/alice/docs/report.txt and replays onto the same destination as
// the base restore. Empty means paths stay rooted at /.
func (e *Engine) RunIncremental(ctx context.Context, root string, d *meta.Descriptor, files []string, kind meta.IncrementalKind, relativeTo string, mon *progress.Monitor) (meta.IncrementalRecord, error) {
	var rec meta.IncrementalRecord

	if kind != meta.Cumulative && kind != meta.Differential {
		return rec, fmt.Errorf("invalid incremental kind %q", kind)
	}
	if len(files) == 0 {
		return rec, fmt.Errorf("no changed files to copy")
	}

	now := time.Now()
	unitName := "incremental_" + now.Format(meta.TimestampLayout)
	unitDir := filepath.Join(root, unitName)
	if err := os.MkdirAll(unitDir, 0o755); err != nil {
		return rec, fmt.Errorf("failed to create incremental directory: %w", err)
	}

	// --relative reproduces each file's path under the unit directory, so
	// replaying the unit is a plain structure-preserving copy.
	args := []string{"-a", "--relative", "--progress"}
	args = append(args, relativeSpecs(files, relativeTo)...)
	args = append(args, unitDir)

	cmd := toolrun.Command(ctx, e.tools.RsyncBin(), args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return rec, fmt.Errorf("failed to attach to rsync output: %w", err)
	}
	var tail toolrun.StderrTail
	cmd.Stderr = &tail

	slog.Info("Copying incremental unit", "unit", unitName, "files", len(files), "kind", kind)
	if err := cmd.Start(); err != nil {
		return rec, fmt.Errorf("failed to start rsync: %w", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		mon.ConsumeSync(stdout)
	}()

	waitErr := cmd.Wait()
	<-done
	if waitErr != nil {
		return rec, tail.Wrap(e.tools.RsyncBin(), waitErr)
	}

	mon.Flush()

	unit := &meta.UnitInfo{
		Kind:            kind,
		CreatedAt:       now.Unix(),
		ParentCreatedAt: d.CreatedAt,
		Files:           files,
	}
	if err := meta.WriteUnitInfo(unitDir, unit); err != nil {
		return rec, fmt.Errorf("incremental copied but unit descriptor write failed: %w", err)
	}

	rec = meta.IncrementalRecord{
		CreatedAt:    now.Unix(),
		Kind:         kind,
		Payload:      unitName,
		FilesUpdated: len(files),
	}
	if err := meta.AppendIncremental(root, d, rec); err != nil {
		return rec, fmt.Errorf("incremental copied but chain update failed: %w", err)
	}

	slog.Info("Incremental unit recorded", "unit", unitName, "chainLength", len(d.Incrementals))
	return rec, nil
}

// relativeSpecs rewrites absolute paths with rsync's /./ insertion marker so
// only the part after relativeTo is preserved inside the unit.
func relativeSpecs(files []string, relativeTo string) []string {
	if relativeTo == "" {
		return files
	}
	relativeTo = strings.TrimSuffix(relativeTo, "/")
	out := make([]string, len(files))
	for i, f := range files {
		if rest, ok := strings.CutPrefix(f, relativeTo+"/"); ok {
			out[i] = relativeTo + "/./" + rest
		} else {
			out[i] = f
		}
	}
	return out
}
