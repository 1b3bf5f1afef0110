package restorer

import (
	"path/filepath"
	"strings"
)

// Filename sniffing and layout reconstruction are deliberately quarantined
// here: they are last-resort fallbacks behind metadata, kept in one place so
// they can be audited or replaced without touching resolution proper.

var knownSystemDirs = map[string]bool{
	"bin":   true,
	"boot":  true,
	"etc":   true,
	"lib":   true,
	"lib64": true,
	"opt":   true,
	"root":  true,
	"sbin":  true,
	"srv":   true,
	"usr":   true,
	"var":   true,
}

// GuessFormatFromName infers compression/encryption layers from archive
// filename suffixes. Only valid when no descriptor exists; naming
// conventions are not guaranteed consistent.
func GuessFormatFromName(name string) (compressed, encrypted bool) {
	lower := strings.ToLower(name)
	if strings.HasSuffix(lower, ".gpg") {
		encrypted = true
		lower = strings.TrimSuffix(lower, ".gpg")
	}
	if strings.HasSuffix(lower, ".gz") || strings.HasSuffix(lower, ".tgz") {
		compressed = true
	}
	return compressed, encrypted
}

// ReconstructSources maps the top-level entries of a unit payload back to
// the absolute paths they plausibly came from: home/<user> becomes
// /home/<user>, a bare known system directory name becomes /<name>.
// Inherently lossy; anything unrecognized is dropped rather than guessed.
func ReconstructSources(entries []string) []string {
	var sources []string
	for _, entry := range entries {
		entry = strings.Trim(filepath.ToSlash(entry), "/")
		if entry == "" || strings.HasPrefix(entry, ".") ||
			strings.HasPrefix(entry, "incremental_") || isArchiveName(entry) {
			continue
		}
		first := strings.SplitN(entry, "/", 2)[0]
		switch {
		case first == "home":
			sources = append(sources, "/"+entry)
		case knownSystemDirs[first]:
			sources = append(sources, "/"+first)
		}
	}
	return dedupe(sources)
}

func isArchiveName(name string) bool {
	return strings.Contains(name, "_backup_") && strings.Contains(name, ".tar")
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
