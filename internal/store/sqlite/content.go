package sqlite

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nearloop/backend/domain/content"
)

func (s *Store) CreateContent(ctx context.Context, c content.Content) (content.Content, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	if c.State == "" {
		c.State = content.StateInSlot
	}
	if c.Processing == "" {
		c.Processing = content.ProcessingEmpty
	}

	_, err := s.write.ExecContext(ctx, `
		INSERT INTO content (
			id, account_id, slot, state, processing, face_detected, nsfw_detected,
			reject_category, reject_reason, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		c.ID, c.AccountID, c.Slot, string(c.State), string(c.Processing),
		boolToInt(c.FaceDetected), boolToInt(c.NSFWDetected),
		c.RejectCategory, c.RejectReason, formatTime(c.CreatedAt), formatTime(c.UpdatedAt),
	)
	if err != nil {
		return content.Content{}, err
	}
	return c, nil
}

func (s *Store) UpdateContent(ctx context.Context, c content.Content) (content.Content, error) {
	c.UpdatedAt = time.Now().UTC()
	_, err := s.write.ExecContext(ctx, `
		UPDATE content SET
			state = ?, processing = ?, face_detected = ?, nsfw_detected = ?,
			reject_category = ?, reject_reason = ?, updated_at = ?
		WHERE id = ?
	`,
		string(c.State), string(c.Processing), boolToInt(c.FaceDetected), boolToInt(c.NSFWDetected),
		c.RejectCategory, c.RejectReason, formatTime(c.UpdatedAt), c.ID,
	)
	if err != nil {
		return content.Content{}, err
	}
	return c, nil
}

func (s *Store) GetContent(ctx context.Context, id string) (content.Content, error) {
	row := s.read.QueryRowContext(ctx, contentSelect+` WHERE id = ?`, id)
	return scanContent(row)
}

func (s *Store) GetContentBySlot(ctx context.Context, accountID string, slot int) (content.Content, error) {
	row := s.read.QueryRowContext(ctx, contentSelect+` WHERE account_id = ? AND slot = ?`, accountID, slot)
	return scanContent(row)
}

func (s *Store) ListContentByAccount(ctx context.Context, accountID string) ([]content.Content, error) {
	rows, err := s.read.QueryContext(ctx, contentSelect+` WHERE account_id = ? ORDER BY slot`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectContent(rows)
}

func (s *Store) ListContentByState(ctx context.Context, state content.State, limit int) ([]content.Content, error) {
	rows, err := s.read.QueryContext(ctx, contentSelect+` WHERE state = ? ORDER BY created_at LIMIT ?`, string(state), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectContent(rows)
}

const contentSelect = `
	SELECT id, account_id, slot, state, processing, face_detected, nsfw_detected,
	       reject_category, reject_reason, created_at, updated_at
	FROM content
`

func scanContent(row rowScanner) (content.Content, error) {
	var (
		c                            content.Content
		state, processing            string
		faceDetected, nsfwDetected   int
		createdAt, updatedAt         string
	)
	if err := row.Scan(
		&c.ID, &c.AccountID, &c.Slot, &state, &processing, &faceDetected, &nsfwDetected,
		&c.RejectCategory, &c.RejectReason, &createdAt, &updatedAt,
	); err != nil {
		return content.Content{}, err
	}
	c.State = content.State(state)
	c.Processing = content.ProcessingState(processing)
	c.FaceDetected = faceDetected != 0
	c.NSFWDetected = nsfwDetected != 0
	var err error
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return content.Content{}, err
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return content.Content{}, err
	}
	return c, nil
}

func collectContent(rows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}) ([]content.Content, error) {
	var out []content.Content
	for rows.Next() {
		c, err := scanContent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
