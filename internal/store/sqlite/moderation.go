package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/nearloop/backend/domain/moderation"
)

func (s *Store) CreateRequest(ctx context.Context, req moderation.Request) (moderation.Request, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	req.CreatedAt = time.Now().UTC()

	idsJSON, err := json.Marshal(req.ContentIDs)
	if err != nil {
		return moderation.Request{}, err
	}
	_, err = s.write.ExecContext(ctx, `
		INSERT INTO moderation_requests (id, account_id, content_ids_json, created_at)
		VALUES (?, ?, ?, ?)
	`, req.ID, req.AccountID, string(idsJSON), formatTime(req.CreatedAt))
	if err != nil {
		return moderation.Request{}, err
	}
	return req, nil
}

func (s *Store) CreateEntries(ctx context.Context, entries []moderation.Entry) error {
	now := time.Now().UTC()
	for i := range entries {
		if entries[i].ID == "" {
			entries[i].ID = uuid.NewString()
		}
		entries[i].CreatedAt = now
		if entries[i].Decision == "" {
			entries[i].Decision = moderation.DecisionPending
		}
		_, err := s.write.ExecContext(ctx, `
			INSERT INTO moderation_entries (
				id, request_id, account_id, target, target_ref, initial, bot_visible,
				assigned_to, decision, category, reason, created_at, decided_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)
		`,
			entries[i].ID, entries[i].RequestID, entries[i].AccountID, string(entries[i].Target), entries[i].TargetRef,
			boolToInt(entries[i].Initial), boolToInt(entries[i].BotVisible),
			entries[i].AssignedTo, string(entries[i].Decision), entries[i].Category, entries[i].Reason,
			formatTime(entries[i].CreatedAt),
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) GetEntry(ctx context.Context, id string) (moderation.Entry, error) {
	row := s.read.QueryRowContext(ctx, moderationEntrySelect+` WHERE id = ?`, id)
	return scanModerationEntry(row)
}

func (s *Store) DrawQueueHead(ctx context.Context, target moderation.TargetKind, initial bool, botVisible bool, limit int) ([]moderation.Entry, error) {
	query := moderationEntrySelect + `
		WHERE target = ? AND initial = ? AND decision = ? AND assigned_to = ''
	`
	args := []interface{}{string(target), boolToInt(initial), string(moderation.DecisionPending)}
	if botVisible {
		query += ` AND bot_visible = 1`
	}
	query += ` ORDER BY created_at LIMIT ?`
	args = append(args, limit)

	var rows []moderationEntryRow
	if err := s.readx.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	return moderationEntryRows(rows).toDomain()
}

// AssignEntry claims an entry atomically by conditioning the UPDATE on
// assigned_to still being empty; the affected-row count tells the caller
// whether the claim won the race (spec.md §9).
func (s *Store) AssignEntry(ctx context.Context, id, assignedTo string) (bool, error) {
	res, err := s.write.ExecContext(ctx, `
		UPDATE moderation_entries SET assigned_to = ? WHERE id = ? AND assigned_to = ''
	`, assignedTo, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) DecideEntry(ctx context.Context, id string, decision moderation.Decision, category, reason string) (moderation.Entry, error) {
	now := time.Now().UTC()
	_, err := s.write.ExecContext(ctx, `
		UPDATE moderation_entries
		SET decision = ?, category = ?, reason = ?, decided_at = ?
		WHERE id = ?
	`, string(decision), category, reason, formatTime(now), id)
	if err != nil {
		return moderation.Entry{}, err
	}
	return s.GetEntry(ctx, id)
}

func (s *Store) Escalate(ctx context.Context, id string) error {
	_, err := s.write.ExecContext(ctx, `
		UPDATE moderation_entries SET assigned_to = '', bot_visible = 0 WHERE id = ?
	`, id)
	return err
}

func (s *Store) ListAssigned(ctx context.Context, target moderation.TargetKind, assignedTo string) ([]moderation.Entry, error) {
	var rows []moderationEntryRow
	err := s.readx.SelectContext(ctx, &rows, moderationEntrySelect+`
		WHERE target = ? AND assigned_to = ? AND decision = ?
		ORDER BY created_at
	`, string(target), assignedTo, string(moderation.DecisionPending))
	if err != nil {
		return nil, err
	}
	return moderationEntryRows(rows).toDomain()
}

func (s *Store) HasAcceptedInitialModeration(ctx context.Context, accountID string) (bool, error) {
	var n int
	err := s.read.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM moderation_entries
		WHERE account_id = ? AND initial = 1 AND decision = ?
	`, accountID, string(moderation.DecisionAccept)).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// CountQueueDepth counts unpicked, undecided entries in one queue without
// drawing them, the read the admin-notification debounce needs (spec.md
// §4.8).
func (s *Store) CountQueueDepth(ctx context.Context, target moderation.TargetKind, initial bool, botVisible bool) (int, error) {
	query := `
		SELECT COUNT(1) FROM moderation_entries
		WHERE target = ? AND initial = ? AND decision = ? AND assigned_to = ''
	`
	args := []interface{}{string(target), boolToInt(initial), string(moderation.DecisionPending)}
	if botVisible {
		query += ` AND bot_visible = 1`
	}
	var n int
	if err := s.read.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

const moderationEntrySelect = `
	SELECT id, request_id, account_id, target, target_ref, initial, bot_visible,
	       assigned_to, decision, category, reason, created_at, decided_at
	FROM moderation_entries
`

// moderationEntryRow mirrors moderation_entries' columns for sqlx's
// StructScan; DrawQueueHead/ListAssigned read many rows per call, the
// case the pack's sqlx usage targets, unlike the single-row lookups
// elsewhere in this package that stay on plain database/sql Scan.
type moderationEntryRow struct {
	ID         string         `db:"id"`
	RequestID  string         `db:"request_id"`
	AccountID  string         `db:"account_id"`
	Target     string         `db:"target"`
	TargetRef  string         `db:"target_ref"`
	Initial    int            `db:"initial"`
	BotVisible int            `db:"bot_visible"`
	AssignedTo string         `db:"assigned_to"`
	Decision   string         `db:"decision"`
	Category   string         `db:"category"`
	Reason     string         `db:"reason"`
	CreatedAt  string         `db:"created_at"`
	DecidedAt  sql.NullString `db:"decided_at"`
}

type moderationEntryRows []moderationEntryRow

func (rows moderationEntryRows) toDomain() ([]moderation.Entry, error) {
	out := make([]moderation.Entry, 0, len(rows))
	for _, r := range rows {
		e := moderation.Entry{
			ID:         r.ID,
			RequestID:  r.RequestID,
			AccountID:  r.AccountID,
			Target:     moderation.TargetKind(r.Target),
			TargetRef:  r.TargetRef,
			Initial:    r.Initial != 0,
			BotVisible: r.BotVisible != 0,
			AssignedTo: r.AssignedTo,
			Decision:   moderation.Decision(r.Decision),
			Category:   r.Category,
			Reason:     r.Reason,
		}
		var err error
		if e.CreatedAt, err = parseTime(r.CreatedAt); err != nil {
			return nil, err
		}
		if r.DecidedAt.Valid && r.DecidedAt.String != "" {
			if e.DecidedAt, err = parseTime(r.DecidedAt.String); err != nil {
				return nil, err
			}
		}
		out = append(out, e)
	}
	return out, nil
}

func scanModerationEntry(row rowScanner) (moderation.Entry, error) {
	var (
		e                    moderation.Entry
		target, decision     string
		initial, botVisible  int
		createdAt            string
		decidedAt            sql.NullString
	)
	if err := row.Scan(
		&e.ID, &e.RequestID, &e.AccountID, &target, &e.TargetRef, &initial, &botVisible,
		&e.AssignedTo, &decision, &e.Category, &e.Reason, &createdAt, &decidedAt,
	); err != nil {
		return moderation.Entry{}, err
	}
	e.Target = moderation.TargetKind(target)
	e.Decision = moderation.Decision(decision)
	e.Initial = initial != 0
	e.BotVisible = botVisible != 0

	var err error
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return moderation.Entry{}, err
	}
	if decidedAt.Valid && decidedAt.String != "" {
		if e.DecidedAt, err = parseTime(decidedAt.String); err != nil {
			return moderation.Entry{}, err
		}
	}
	return e, nil
}
