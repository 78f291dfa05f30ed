package scheduler

import (
	"context"
	"time"
)

// runAutomaticSearchWave distributes one applications/profile.Engine.
// AutomaticSearch call per account evenly across [now, wave end), so the
// whole population gets a turn without the geoindex write-locks from two
// simultaneous searches ever piling up (spec.md §4.8: "each account's
// slice = total_milliseconds / live_account_count"). A cancelled ctx
// aborts the wave cleanly between slices, never mid-account.
func (s *Scheduler) runAutomaticSearchWave(ctx context.Context) error {
	now := time.Now().UTC()
	start, end, err := s.waveWindow(now)
	if err != nil {
		return err
	}

	accounts, err := s.deps.Accounts.ListAccounts(ctx)
	if err != nil {
		return err
	}
	if len(accounts) == 0 {
		return nil
	}

	remaining := end.Sub(now)
	if remaining <= 0 {
		// The wave window already closed (e.g. the process woke up late);
		// still run it, just back to back with no pacing.
		remaining = 0
	}
	slice := time.Duration(int64(remaining) / int64(len(accounts)))

	baseline := start.Add(-24 * time.Hour)

	var ran, found int
	batch := 0
	for _, acct := range accounts {
		if ctx.Err() != nil {
			break
		}
		ok, err := s.deps.Search.AutomaticSearch(ctx, acct.ID, baseline)
		ran++
		if err != nil {
			if s.deps.Log != nil {
				s.deps.Log.Error(ctx, "automatic search failed for account", err, map[string]interface{}{"account_id": acct.ID})
			}
		} else if ok {
			found++
		}

		batch++
		if batch < s.batchSize {
			continue
		}
		batch = 0
		if err := sleep(ctx, slice*time.Duration(s.batchSize)); err != nil {
			break
		}
	}

	if s.deps.Log != nil {
		s.deps.Log.Info(ctx, "automatic search wave complete", map[string]interface{}{
			"ran": ran, "found": found, "total": len(accounts),
		})
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}
