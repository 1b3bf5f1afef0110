package meta

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

var (
	// ErrNotFound means no descriptor exists at the given root. Callers are
	// expected to fall back to directory heuristics, not abort.
	ErrNotFound = errors.New("backup metadata not found")

	// ErrCorrupt means a descriptor exists but cannot be decoded. Fatal for
	// the operation using it, never for the process.
	ErrCorrupt = errors.New("backup metadata corrupt")
)

// WriteDescriptor atomically persists the descriptor at the root of a backup
// unit. Write-then-rename so a concurrent reader never sees a partial file.
func WriteDescriptor(root string, d *Descriptor) error {
	return writeJSON(filepath.Join(root, DescriptorFileName), d)
}

func ReadDescriptor(root string) (*Descriptor, error) {
	data, err := os.ReadFile(filepath.Join(root, DescriptorFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var d Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, root, err)
	}
	return &d, nil
}

// AppendIncremental adds a record to the descriptor chain and persists it.
// Append-only: chain order is creation order and restore depends on it.
func AppendIncremental(root string, d *Descriptor, rec IncrementalRecord) error {
	d.Incrementals = append(d.Incrementals, rec)
	return WriteDescriptor(root, d)
}

func WriteUnitInfo(unitDir string, u *UnitInfo) error {
	return writeJSON(filepath.Join(unitDir, UnitFileName), u)
}

func ReadUnitInfo(unitDir string) (*UnitInfo, error) {
	data, err := os.ReadFile(filepath.Join(unitDir, UnitFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var u UnitInfo
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, unitDir, err)
	}
	return &u, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// ResolveKind returns the effective backup kind of a descriptor, inferring
// it from the unit layout for legacy "directory" records. Inference never
// guesses silently: when no rule matches it fails with a descriptive error.
func ResolveKind(root string, d *Descriptor) (Kind, error) {
	if d.Kind.Valid() {
		return d.Kind, nil
	}
	if d.Kind != KindDirectory {
		return "", fmt.Errorf("unknown backup_type %q in %s", d.Kind, root)
	}

	if hasAll(root, "bin", "etc", "usr") {
		return KindSystem, nil
	}
	if d.Home != "" && filepath.Base(root) == filepath.Base(d.Home) {
		return KindHome, nil
	}
	if len(d.Sources) > 0 {
		return KindCustom, nil
	}
	return "", fmt.Errorf("legacy backup_type %q in %s: cannot infer real kind from layout", d.Kind, root)
}

func hasAll(root string, names ...string) bool {
	for _, name := range names {
		if _, err := os.Stat(filepath.Join(root, name)); err != nil {
			return false
		}
	}
	return true
}
