// Package scheduler implements the daily wake-up task runner (C8, spec.md
// §4.8): per-account age roll-over, a profile-statistics snapshot, data-
// export cleanup, and the automatic-profile-search wave, in that order.
package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nearloop/backend/applications/profile"
	"github.com/nearloop/backend/infrastructure/accountcache"
	"github.com/nearloop/backend/infrastructure/logging"
	"github.com/nearloop/backend/internal/store"
)

// Deps bundles the repositories and engines the scheduler's four jobs read
// and write through.
type Deps struct {
	Accounts store.AccountStore
	Profiles store.ProfileStore
	History  store.HistoryStore
	Cache    *accountcache.Cache
	Search   *profile.Engine
	Log      *logging.Logger
}

// Scheduler wraps a robfig/cron runner configured from a single daily
// wall-clock wake-up (spec.md §4.8).
type Scheduler struct {
	deps Deps
	cron *cron.Cron

	// dailyWakeUp and waveEnd are both "HH:MM" UTC wall clocks; waveEnd
	// bounds how long the automatic-search wave is allowed to run.
	dailyWakeUp string
	waveEnd     string

	// batchSize accounts are dispatched back-to-back in the search wave
	// before sleeping off the rest of their combined slice.
	batchSize int
	// exportRetention bounds how long a generated export manifest survives
	// under an account's tmp dir.
	exportRetention time.Duration
	// dataDir is the storage root holding each account's tmp/export dir
	// (spec.md §4.1).
	dataDir string
}

// Options configures the daily job beyond its dependencies.
type Options struct {
	DailyWakeUp            string // "HH:MM" UTC, default "03:00"
	AutomaticSearchWaveEnd string // "HH:MM" UTC, default "05:00"
	AutomaticSearchBatchSize int
	DataExportRetention    time.Duration
	DataDir                string
}

// New builds a Scheduler. It does not start running until Run is called.
func New(deps Deps, opts Options) (*Scheduler, error) {
	if opts.DailyWakeUp == "" {
		opts.DailyWakeUp = "03:00"
	}
	if opts.AutomaticSearchWaveEnd == "" {
		opts.AutomaticSearchWaveEnd = "05:00"
	}
	if opts.AutomaticSearchBatchSize <= 0 {
		opts.AutomaticSearchBatchSize = 50
	}
	if opts.DataExportRetention <= 0 {
		opts.DataExportRetention = 7 * 24 * time.Hour
	}

	spec, err := wallClockToCronSpec(opts.DailyWakeUp)
	if err != nil {
		return nil, fmt.Errorf("scheduler: daily wake-up: %w", err)
	}

	s := &Scheduler{
		deps:            deps,
		cron:            cron.New(cron.WithLocation(time.UTC)),
		dailyWakeUp:     opts.DailyWakeUp,
		waveEnd:         opts.AutomaticSearchWaveEnd,
		batchSize:       opts.AutomaticSearchBatchSize,
		exportRetention: opts.DataExportRetention,
		dataDir:         opts.DataDir,
	}

	if _, err := s.cron.AddFunc(spec, func() { s.runDaily(context.Background()) }); err != nil {
		return nil, fmt.Errorf("scheduler: register daily job: %w", err)
	}
	return s, nil
}

// Run starts the cron runner and blocks until ctx is cancelled, then stops
// it (spec.md §5: "scheduler ... subscribes to a broadcast shutdown; on
// receipt they finish in-flight units and return").
func (s *Scheduler) Run(ctx context.Context) {
	s.cron.Start()
	<-ctx.Done()
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
}

// runDaily runs the four jobs in spec order. Each job logs and continues
// past its own failure so one broken job can't starve the others; a
// cancelled ctx is still honored inside each job's own loop.
func (s *Scheduler) runDaily(ctx context.Context) {
	if s.deps.Log != nil {
		s.deps.Log.Info(ctx, "daily scheduler wake-up starting", nil)
	}

	if err := s.ageRollover(ctx); err != nil && s.deps.Log != nil {
		s.deps.Log.Error(ctx, "age roll-over failed", err, nil)
	}
	if err := s.snapshotProfileStats(ctx); err != nil && s.deps.Log != nil {
		s.deps.Log.Error(ctx, "profile stats snapshot failed", err, nil)
	}
	if err := s.cleanupDataExports(ctx); err != nil && s.deps.Log != nil {
		s.deps.Log.Error(ctx, "data export cleanup failed", err, nil)
	}
	if err := s.runAutomaticSearchWave(ctx); err != nil && s.deps.Log != nil {
		s.deps.Log.Error(ctx, "automatic search wave failed", err, nil)
	}
}

// wallClockToCronSpec turns an "HH:MM" UTC wall clock into a 5-field cron
// spec that fires once a day at that minute.
func wallClockToCronSpec(wallClock string) (string, error) {
	hour, minute, err := parseWallClock(wallClock)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d %d * * *", minute, hour), nil
}

// parseWallClock parses an "HH:MM" string in [00:00, 23:59].
func parseWallClock(wallClock string) (hour, minute int, err error) {
	parts := strings.SplitN(wallClock, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid wall clock %q, want HH:MM", wallClock)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid wall clock hour in %q", wallClock)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid wall clock minute in %q", wallClock)
	}
	return hour, minute, nil
}

// waveWindow returns the [start, end) interval of today's automatic-search
// wave given the current time, wrapping end to the next day if it falls
// before start (spec.md §4.8: "distributes ... evenly ... until the
// configured end time").
func (s *Scheduler) waveWindow(now time.Time) (start, end time.Time, err error) {
	wakeHour, wakeMinute, err := parseWallClock(s.dailyWakeUp)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	endHour, endMinute, err := parseWallClock(s.waveEnd)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}

	start = time.Date(now.Year(), now.Month(), now.Day(), wakeHour, wakeMinute, 0, 0, time.UTC)
	end = time.Date(now.Year(), now.Month(), now.Day(), endHour, endMinute, 0, 0, time.UTC)
	if !end.After(start) {
		end = end.Add(24 * time.Hour)
	}
	return start, end, nil
}

// sleep blocks for d or until ctx is cancelled, matching applications/push's
// cancellation-aware wait.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
