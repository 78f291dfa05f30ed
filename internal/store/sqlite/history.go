package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/nearloop/backend/domain/profile"
	"github.com/nearloop/backend/internal/store"
)

// HistoryStore implements store.HistoryStore over the history.db handle
// (spec.md §4.1: "history.db (append-only metrics/statistics)"). It is
// kept separate from Store because history.db is a distinct SQLite file
// with its own connection and migration set (infrastructure/sqlitedb).
type HistoryStore struct {
	db *sql.DB
}

var _ store.HistoryStore = (*HistoryStore)(nil)

// NewHistoryStore builds a HistoryStore over the history.db handle.
func NewHistoryStore(db *sql.DB) *HistoryStore {
	return &HistoryStore{db: db}
}

func (s *HistoryStore) InsertProfileStatsSnapshot(ctx context.Context, takenAt time.Time, genderGroup profile.Gender, age int32, accountCount int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profile_stats_snapshots (taken_at, gender_group, age, account_count)
		VALUES (?, ?, ?, ?)
	`, formatTime(takenAt), int(genderGroup), age, accountCount)
	return err
}
