package sqlite

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nearloop/backend/domain/report"
)

func (s *Store) CreateReport(ctx context.Context, r report.Report) (report.Report, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.CreatedAt = time.Now().UTC()
	_, err := s.write.ExecContext(ctx, `
		INSERT INTO reports (id, reporter_account_id, target_account_id, content_id, reason, created_at, processed_at)
		VALUES (?, ?, ?, ?, ?, ?, NULL)
	`, r.ID, r.ReporterAccountID, r.TargetAccountID, r.ContentID, r.Reason, formatTime(r.CreatedAt))
	if err != nil {
		return report.Report{}, err
	}
	return r, nil
}

func (s *Store) CountWaitingReports(ctx context.Context) (int, error) {
	var n int
	err := s.read.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM reports WHERE processed_at IS NULL
	`).Scan(&n)
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Store) MarkProcessed(ctx context.Context, id string) error {
	_, err := s.write.ExecContext(ctx, `
		UPDATE reports SET processed_at = ? WHERE id = ?
	`, formatTime(time.Now().UTC()), id)
	return err
}
