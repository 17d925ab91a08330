package challenge

import (
	"github.com/offduel/offduel/internal/models"
)

// Merge reconciles an inbound remote snapshot with the local view. It is a
// pure function so the push subscription and the fallback poller can both
// call it, redundantly and in any order, and converge on the same value.
//
// Rules:
//   - Participants are unioned: an entry known only locally (a join whose
//     write the remote reader has not observed yet) survives, and an entry
//     known only remotely is adopted.
//   - Per-participant status merges monotonically along
//     waiting -> active -> terminal; on equal rank the remote side wins,
//     so a terminal outcome is never reversed.
//   - The local participant's own name and reward are authoritative; a
//     stale remote copy of that one entry cannot overwrite them.
//   - Challenge status merges monotonically, and timestamps adopt
//     whichever side has them set (they are set exactly once).
func Merge(local, remote *models.Challenge, selfID string) *models.Challenge {
	if remote == nil {
		if local == nil {
			return nil
		}
		return local.Clone()
	}
	if local == nil {
		return remote.Clone()
	}

	out := remote.Clone()

	if local.Status.Rank() > out.Status.Rank() {
		out.Status = local.Status
	}
	if out.StartTime == nil && local.StartTime != nil {
		t := *local.StartTime
		out.StartTime = &t
	}
	if out.EndTime == nil && local.EndTime != nil {
		t := *local.EndTime
		out.EndTime = &t
	}

	for id, lp := range local.Participants {
		rp, ok := out.Participants[id]
		if !ok {
			out.Participants[id] = lp
			continue
		}
		merged := rp
		if lp.Status.Rank() > rp.Status.Rank() {
			merged.Status = lp.Status
		}
		if id == selfID {
			merged.Name = lp.Name
			merged.Reward = lp.Reward
		}
		out.Participants[id] = merged
	}

	return out
}
