package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"fsbk/internal/chain"
	"fsbk/internal/meta"
	"fsbk/internal/progress"
)

func listBackups(configPath, dir string) error {
	cfg, err := loadConfigOrDefault(configPath)
	if err != nil {
		return err
	}
	if dir == "" {
		dir = cfg.BaseDir
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("cannot read %s: %w", dir, err)
	}

	type unit struct {
		name string
		d    *meta.Descriptor
		kind string
	}
	var units []unit

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		root := filepath.Join(dir, entry.Name())
		d, err := meta.ReadDescriptor(root)
		if errors.Is(err, meta.ErrNotFound) {
			continue
		}
		if err != nil {
			fmt.Printf("%-40s  unreadable metadata: %v\n", entry.Name(), err)
			continue
		}

		kind := string(d.Kind)
		if resolved, err := meta.ResolveKind(root, d); err == nil {
			kind = string(resolved)
		}
		units = append(units, unit{name: entry.Name(), d: d, kind: kind})
	}

	if len(units) == 0 {
		fmt.Printf("No backup units found in %s\n", dir)
		return nil
	}

	sort.Slice(units, func(i, j int) bool {
		return units[i].d.CreatedAt < units[j].d.CreatedAt
	})

	fmt.Printf("Backup units in %s:\n\n", dir)
	for _, u := range units {
		created := time.Unix(u.d.CreatedAt, 0).Format("2006-01-02 15:04:05")

		payload := "sync copy"
		if u.d.Archive != "" {
			payload = fmt.Sprintf("archive %s (%s)", u.d.Archive, progress.FormatBytes(uint64(u.d.ArchiveSize)))
		}

		fmt.Printf("%s\n", u.name)
		fmt.Printf("  kind: %-8s created: %s  %s\n", u.kind, created, payload)

		if n := len(u.d.Incrementals); n > 0 {
			steps := chain.PlanRestoreChain(u.d)
			last := time.Unix(u.d.Incrementals[n-1].CreatedAt, 0).Format("2006-01-02 15:04:05")
			fmt.Printf("  incrementals: %d (last %s), restore replays %d unit(s)\n", n, last, len(steps))
		}
		fmt.Println()
	}
	return nil
}
