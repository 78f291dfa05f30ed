package scheduler

import (
	"context"
	"time"

	"github.com/nearloop/backend/domain/profile"
)

// statsBucket is one (gender, age) bucket of the daily snapshot.
type statsBucket struct {
	gender profile.Gender
	age    int32
}

// snapshotProfileStats aggregates every profile's (gender, age) pair and
// appends one row per populated bucket to history.db (spec.md §4.8:
// "profile-statistics snapshot (gender x age counts, written to history
// DB)"). Profiles whose SearchGroups bits don't resolve to a gender
// (never set) are excluded, since they carry no bucket to count into.
func (s *Scheduler) snapshotProfileStats(ctx context.Context) error {
	profiles, err := s.deps.Profiles.ListAllProfiles(ctx)
	if err != nil {
		return err
	}

	counts := make(map[statsBucket]int)
	for _, p := range profiles {
		gender, ok := p.SearchGroups.OwnGender()
		if !ok {
			continue
		}
		counts[statsBucket{gender: gender, age: p.Age}]++
	}

	takenAt := time.Now().UTC()
	for bucket, count := range counts {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := s.deps.History.InsertProfileStatsSnapshot(ctx, takenAt, bucket.gender, bucket.age, count); err != nil {
			return err
		}
	}

	if s.deps.Log != nil {
		s.deps.Log.Info(ctx, "profile stats snapshot complete", map[string]interface{}{"buckets": len(counts)})
	}
	return nil
}
