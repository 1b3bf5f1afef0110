package meta

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	DescriptorFileName = ".backup_info.json"
	UnitFileName       = ".incremental_info.json"

	SchemaVersion = 2
)

// TimestampLayout names backup artifacts: incremental_<DDMMYYYY>_<HHMMSS>,
// <kind>_backup_<DDMMYYYY>_<HHMMSS>.tar[.gz][.gpg].
const TimestampLayout = "02012006_150405"

type Kind string

const (
	KindSystem Kind = "system"
	KindHome   Kind = "home"
	KindCustom Kind = "custom"

	// KindDirectory appears in descriptors written by old releases that did
	// not record the real kind. Readers must infer it from the unit layout.
	KindDirectory Kind = "directory"
)

func (k Kind) Valid() bool {
	return k == KindSystem || k == KindHome || k == KindCustom
}

type IncrementalKind string

const (
	Cumulative   IncrementalKind = "cumulative"
	Differential IncrementalKind = "differential"
)

// BoolFlag serializes as 0/1 to match the descriptor format of the original
// unit layout, while tolerating true/false written by hand.
type BoolFlag bool

func (b BoolFlag) MarshalJSON() ([]byte, error) {
	if b {
		return []byte("1"), nil
	}
	return []byte("0"), nil
}

func (b *BoolFlag) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case "0", "false", `"0"`, `"false"`:
		*b = false
	case "1", "true", `"1"`, `"true"`:
		*b = true
	default:
		var n float64
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("invalid flag value %s", data)
		}
		*b = n != 0
	}
	return nil
}

// IncrementalRecord is one entry of a descriptor's incremental chain.
// Order in the chain is creation order; restore sequencing depends on it.
type IncrementalRecord struct {
	CreatedAt    int64           `json:"created_at"`
	Kind         IncrementalKind `json:"incremental_type"`
	Payload      string          `json:"payload"`
	FilesUpdated int             `json:"files_updated"`
}

// Descriptor is the sidecar record at the root of every backup unit.
type Descriptor struct {
	SchemaVersion  int                 `json:"schema_version"`
	CreatedAt      int64               `json:"created_at"`
	CreatedAtHuman string              `json:"created_at_human"`
	Kind           Kind                `json:"backup_type"`
	Sources        []string            `json:"source_paths"`
	Compression    BoolFlag            `json:"compression_enabled"`
	Encryption     BoolFlag            `json:"encryption_enabled"`
	IncludeHidden  BoolFlag            `json:"include_hidden"`
	User           string              `json:"user"`
	Home           string              `json:"home"`
	RestorePaths   []string            `json:"restore_paths,omitempty"`
	Archive        string              `json:"archive_file,omitempty"`
	ArchiveSize    int64               `json:"archive_size,omitempty"`
	ArchiveBlake3  string              `json:"archive_blake3,omitempty"`
	Ratio          float64             `json:"compression_ratio,omitempty"`
	Incrementals   []IncrementalRecord `json:"incrementals"`
}

func NewDescriptor(kind Kind, sources []string, now time.Time) *Descriptor {
	return &Descriptor{
		SchemaVersion:  SchemaVersion,
		CreatedAt:      now.Unix(),
		CreatedAtHuman: now.Format(time.RFC1123),
		Kind:           kind,
		Sources:        sources,
	}
}

// UnitInfo is the minimal self-descriptor inside each incremental unit
// directory, enough to reattach the unit to its parent backup.
type UnitInfo struct {
	Kind            IncrementalKind `json:"incremental_type"`
	CreatedAt       int64           `json:"created_at"`
	ParentCreatedAt int64           `json:"parent_created_at"`
	Files           []string        `json:"files"`
}
