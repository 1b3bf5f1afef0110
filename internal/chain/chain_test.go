package chain

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"fsbk/internal/meta"
)

func rec(ts int64, kind meta.IncrementalKind) meta.IncrementalRecord {
	return meta.IncrementalRecord{CreatedAt: ts, Kind: kind, Payload: "unit"}
}

func TestPlanRestoreChain(t *testing.T) {
	tests := []struct {
		name    string
		records []meta.IncrementalRecord
		wantTS  []int64
	}{
		{
			name:    "empty chain",
			records: nil,
			wantTS:  nil,
		},
		{
			name: "single cumulative",
			records: []meta.IncrementalRecord{
				rec(1, meta.Cumulative),
			},
			wantTS: []int64{1},
		},
		{
			name: "all cumulative collapses to newest",
			records: []meta.IncrementalRecord{
				rec(1, meta.Cumulative),
				rec(2, meta.Cumulative),
				rec(3, meta.Cumulative),
			},
			wantTS: []int64{3},
		},
		{
			name: "all differential replays everything",
			records: []meta.IncrementalRecord{
				rec(1, meta.Differential),
				rec(2, meta.Differential),
			},
			wantTS: []int64{1, 2},
		},
		{
			name: "one differential poisons the collapse",
			records: []meta.IncrementalRecord{
				rec(1, meta.Cumulative),
				rec(2, meta.Differential),
				rec(3, meta.Cumulative),
			},
			wantTS: []int64{1, 2, 3},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &meta.Descriptor{Incrementals: tt.records}
			steps := PlanRestoreChain(d)

			var got []int64
			for _, s := range steps {
				got = append(got, s.CreatedAt)
			}
			assert.Equal(t, tt.wantTS, got)
		})
	}
}

func TestPlanRestoreChainCopiesRecords(t *testing.T) {
	d := &meta.Descriptor{Incrementals: []meta.IncrementalRecord{
		rec(1, meta.Differential),
		rec(2, meta.Differential),
	}}
	steps := PlanRestoreChain(d)
	steps[0].Payload = "mutated"
	assert.Equal(t, "unit", d.Incrementals[0].Payload)
}
