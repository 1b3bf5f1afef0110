// Package restorer reconstructs a backup's original layout and plans and
// applies the restore, base first, then the incremental chain.
package restorer

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"fsbk/internal/chain"
	"fsbk/internal/meta"
)

// ErrKindMismatch blocks a restore or incremental against a backup unit of
// a different kind. The kind invariant is load-bearing for correctness, so
// coercion is never an option.
var ErrKindMismatch = errors.New("backup kind mismatch")

type MergePolicy string

const (
	// PolicyReplace overwrites destination files with backup content.
	PolicyReplace MergePolicy = "replace"
	// PolicyMerge keeps files already present at the destination.
	PolicyMerge MergePolicy = "merge"
)

// Plan is the resolved restore: where the data is, what shape it has, and
// which incremental units to replay. Computed once per invocation, never
// persisted.
type Plan struct {
	Kind       meta.Kind
	Root       string // backup unit root directory ("" when Source is a bare archive)
	BaseDir    string // directory payload for sync-based restore
	Archive    string // archive file for extraction-based restore
	Compressed bool
	Encrypted  bool

	Dest             string
	Policy           MergePolicy
	SnapshotExisting bool

	Steps      []meta.IncrementalRecord
	Descriptor *meta.Descriptor

	// Heuristic is set whenever the plan rests on layout or filename
	// guessing instead of persisted metadata. Callers must surface it to
	// the operator, never treat it as equivalent to metadata.
	Heuristic        bool
	HeuristicSources []string
}

type ResolveOptions struct {
	Dest             string
	Policy           MergePolicy
	SnapshotExisting bool

	// ExpectKind, when set, refuses a unit whose declared kind differs.
	ExpectKind meta.Kind
}

// Resolve determines the backup type and layout of sourcePath. Metadata is
// authoritative; a directory without a readable descriptor degrades to a
// best-effort mirror restore, and a bare archive file falls back to
// filename sniffing as a last resort.
func Resolve(sourcePath string, opts ResolveOptions) (*Plan, error) {
	info, err := os.Stat(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("restore source not accessible: %w", err)
	}

	plan := &Plan{
		Dest:             opts.Dest,
		Policy:           opts.Policy,
		SnapshotExisting: opts.SnapshotExisting,
	}
	if plan.Policy == "" {
		plan.Policy = PolicyReplace
	}

	if info.IsDir() {
		if err := resolveDirectory(sourcePath, plan, opts); err != nil {
			return nil, err
		}
	} else {
		if err := resolveArchiveFile(sourcePath, plan, opts); err != nil {
			return nil, err
		}
	}

	if plan.Dest == "" {
		plan.Dest = defaultDest(plan)
	}
	if plan.Dest == "" {
		return nil, fmt.Errorf("no restore destination given and none recorded in metadata")
	}
	return plan, nil
}

func resolveDirectory(root string, plan *Plan, opts ResolveOptions) error {
	d, err := meta.ReadDescriptor(root)
	switch {
	case errors.Is(err, meta.ErrNotFound):
		// Best-effort: mirror the directory as-is, no kind-specific logic.
		slog.Warn("No backup metadata found, falling back to directory mirror restore", "source", root)
		plan.Root = root
		plan.BaseDir = root
		plan.Heuristic = true
		return nil
	case err != nil:
		return err
	}

	kind, err := meta.ResolveKind(root, d)
	if err != nil {
		return err
	}
	if opts.ExpectKind != "" && opts.ExpectKind != kind {
		return fmt.Errorf("%w: unit is %q, operation expects %q", ErrKindMismatch, kind, opts.ExpectKind)
	}

	plan.Kind = kind
	plan.Root = root
	plan.Descriptor = d
	plan.Steps = chain.PlanRestoreChain(d)

	if d.Archive != "" {
		plan.Archive = filepath.Join(root, d.Archive)
		plan.Compressed = bool(d.Compression)
		plan.Encrypted = bool(d.Encryption)
	} else {
		plan.BaseDir = root
	}

	if kind == meta.KindCustom && len(d.Sources) == 0 {
		// Legacy custom units never persisted their source list; reconstruct
		// it from the layout and flag the guesswork.
		plan.HeuristicSources = ReconstructSources(topLevelEntries(root))
		plan.Heuristic = true
		slog.Warn("Custom backup has no persisted source list, reconstructed heuristically",
			"sources", plan.HeuristicSources)
	}
	return nil
}

func resolveArchiveFile(path string, plan *Plan, opts ResolveOptions) error {
	plan.Archive = path

	// A descriptor next to the archive is authoritative for format flags.
	d, err := meta.ReadDescriptor(filepath.Dir(path))
	if err == nil && d.Archive == filepath.Base(path) {
		kind, err := meta.ResolveKind(filepath.Dir(path), d)
		if err != nil {
			return err
		}
		if opts.ExpectKind != "" && opts.ExpectKind != kind {
			return fmt.Errorf("%w: unit is %q, operation expects %q", ErrKindMismatch, kind, opts.ExpectKind)
		}
		plan.Kind = kind
		plan.Root = filepath.Dir(path)
		plan.Descriptor = d
		plan.Compressed = bool(d.Compression)
		plan.Encrypted = bool(d.Encryption)
		plan.Steps = chain.PlanRestoreChain(d)
		return nil
	}
	if err != nil && !errors.Is(err, meta.ErrNotFound) {
		return err
	}

	compressed, encrypted := GuessFormatFromName(filepath.Base(path))
	plan.Compressed = compressed
	plan.Encrypted = encrypted
	plan.Heuristic = true
	slog.Warn("No metadata for archive, format guessed from filename",
		"archive", path, "compressed", compressed, "encrypted", encrypted)
	return nil
}

func defaultDest(plan *Plan) string {
	if plan.Descriptor != nil && len(plan.Descriptor.RestorePaths) > 0 {
		return plan.Descriptor.RestorePaths[0]
	}
	switch plan.Kind {
	case meta.KindSystem, meta.KindCustom:
		return "/"
	default:
		return ""
	}
}

// topLevelEntries lists the payload's top-level names, descending one level
// into home/ so per-user directories reconstruct as /home/<user>.
func topLevelEntries(root string) []string {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && e.Name() == "home" {
			users, err := os.ReadDir(filepath.Join(root, "home"))
			if err == nil && len(users) > 0 {
				for _, u := range users {
					names = append(names, filepath.Join("home", u.Name()))
				}
				continue
			}
		}
		names = append(names, e.Name())
	}
	return names
}
