// Package chain decides which incremental units a restore must replay.
package chain

import "fsbk/internal/meta"

// PlanRestoreChain returns the incremental records to apply on top of the
// restored base, in application order.
//
// A cumulative unit contains every change since the full backup, so a chain
// of only cumulative units collapses to its newest member. The moment a
// differential unit appears anywhere in the chain, nothing is self-contained
// and every unit must be replayed in creation order.
func PlanRestoreChain(d *meta.Descriptor) []meta.IncrementalRecord {
	if len(d.Incrementals) == 0 {
		return nil
	}

	allCumulative := true
	for _, rec := range d.Incrementals {
		if rec.Kind != meta.Cumulative {
			allCumulative = false
			break
		}
	}

	if allCumulative {
		return []meta.IncrementalRecord{d.Incrementals[len(d.Incrementals)-1]}
	}

	steps := make([]meta.IncrementalRecord, len(d.Incrementals))
	copy(steps, d.Incrementals)
	return steps
}
