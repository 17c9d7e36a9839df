// Package retention computes the live set of checkpoints under a retention
// policy and sweeps every object the live set no longer reaches.
package retention

import (
	"time"

	"github.com/rybkr/timelapse/internal/checkpoint"
)

// Policy is the retention configuration: keep pinned checkpoints, the last
// KeepCount checkpoints, and anything created within KeepDuration of now.
type Policy struct {
	KeepCount    int
	KeepDuration time.Duration
}

// LiveSet computes the union of pinned ∪ last-N ∪ within-duration
// checkpoints from all, given the current time now. The result is the set
// the mark phase starts its tree walk from.
func LiveSet(all []checkpoint.Checkpoint, policy Policy, now time.Time) map[checkpoint.ID]bool {
	live := make(map[checkpoint.ID]bool, len(all))

	for _, cp := range all {
		if cp.Pinned {
			live[cp.ID] = true
		}
	}

	if policy.KeepCount > 0 {
		start := len(all) - policy.KeepCount
		if start < 0 {
			start = 0
		}
		for _, cp := range all[start:] {
			live[cp.ID] = true
		}
	}

	if policy.KeepDuration > 0 {
		cutoff := now.Add(-policy.KeepDuration).UnixMilli()
		for _, cp := range all {
			if cp.CreatedAt >= cutoff {
				live[cp.ID] = true
			}
		}
	}

	return live
}
