package scheduler

import (
	"context"
	"time"

	"github.com/nearloop/backend/infrastructure/accountcache"
)

// minAge and maxAge mirror domain/profile.AgeRange's accepted bounds
// (spec.md §3: both in [18,99]).
const (
	minAge = 18
	maxAge = 99
)

// ageRollover bumps each profile's stored age from its birthdate, but only
// when the accepted-birthdate band has actually advanced and the new age
// still falls in the accepted range (spec.md §4.8). Profiles with no
// birthdate on file (never collected) are left untouched.
func (s *Scheduler) ageRollover(ctx context.Context) error {
	now := time.Now().UTC()
	profiles, err := s.deps.Profiles.ListAllProfiles(ctx)
	if err != nil {
		return err
	}

	var updated int
	for _, p := range profiles {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		newAge, ok := p.AgeAt(now)
		if !ok || newAge == p.Age {
			continue
		}
		if newAge < minAge || newAge > maxAge {
			continue
		}
		if err := s.deps.Profiles.UpdateAge(ctx, p.AccountID, newAge); err != nil {
			return err
		}
		s.deps.Cache.WriteCache(p.AccountID, func(entry *accountcache.Entry) {
			entry.Profile.Age = newAge
		})
		updated++
	}

	if s.deps.Log != nil {
		s.deps.Log.Info(ctx, "age roll-over complete", map[string]interface{}{"updated": updated, "scanned": len(profiles)})
	}
	return nil
}
