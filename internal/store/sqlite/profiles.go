package sqlite

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/nearloop/backend/domain/account"
	"github.com/nearloop/backend/domain/profile"
)

func (s *Store) UpsertProfile(ctx context.Context, p profile.Profile) (profile.Profile, error) {
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	p.VersionUUID = uuid.NewString()

	attrsJSON, err := json.Marshal(p.Attributes)
	if err != nil {
		return profile.Profile{}, err
	}
	filtersJSON, err := json.Marshal(p.Filters)
	if err != nil {
		return profile.Profile{}, err
	}

	_, err = s.write.ExecContext(ctx, `
		INSERT INTO profiles (
			account_id, display_name, text, age, birthdate, search_groups, search_age_min, search_age_max,
			cell_row, cell_col, version_uuid, attributes_json, filters_json,
			name_moderation, name_reason, text_moderation, text_reason, unlimited_likes,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id) DO UPDATE SET
			display_name = excluded.display_name,
			text = excluded.text,
			age = excluded.age,
			birthdate = excluded.birthdate,
			search_groups = excluded.search_groups,
			search_age_min = excluded.search_age_min,
			search_age_max = excluded.search_age_max,
			cell_row = excluded.cell_row,
			cell_col = excluded.cell_col,
			version_uuid = excluded.version_uuid,
			attributes_json = excluded.attributes_json,
			filters_json = excluded.filters_json,
			name_moderation = excluded.name_moderation,
			name_reason = excluded.name_reason,
			text_moderation = excluded.text_moderation,
			text_reason = excluded.text_reason,
			unlimited_likes = excluded.unlimited_likes,
			updated_at = excluded.updated_at
	`,
		p.AccountID, p.DisplayName, p.Text, p.Age, formatBirthdate(p.Birthdate), p.SearchGroups, p.SearchAgeRange.Min, p.SearchAgeRange.Max,
		p.Cell.Row, p.Cell.Col, p.VersionUUID, string(attrsJSON), string(filtersJSON),
		string(p.NameModeration), p.NameReason, string(p.TextModeration), p.TextReason, boolToInt(p.UnlimitedLikes),
		formatTime(p.CreatedAt), formatTime(p.UpdatedAt),
	)
	if err != nil {
		return profile.Profile{}, err
	}
	return p, nil
}

func (s *Store) GetProfile(ctx context.Context, accountID string) (profile.Profile, error) {
	row := s.read.QueryRowContext(ctx, profileSelect+` WHERE p.account_id = ?`, accountID)
	return scanProfile(row)
}

func (s *Store) ListPublicProfiles(ctx context.Context) ([]profile.Profile, error) {
	rows, err := s.read.QueryContext(ctx, profileSelect+`
		JOIN accounts a ON a.id = p.account_id
		WHERE a.visibility = ?
	`, string(account.VisibilityPublic))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []profile.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListAllProfiles returns every profile regardless of visibility (spec.md
// §4.8: the age roll-over and stats-snapshot scheduler jobs operate over
// the whole population, not just publicly paged ones).
func (s *Store) ListAllProfiles(ctx context.Context) ([]profile.Profile, error) {
	rows, err := s.read.QueryContext(ctx, profileSelect)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []profile.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdateAge bumps a profile's stored Age without touching any other field
// or its version uuid (spec.md §4.8's roll-over only changes Age).
func (s *Store) UpdateAge(ctx context.Context, accountID string, age int32) error {
	_, err := s.write.ExecContext(ctx, `UPDATE profiles SET age = ? WHERE account_id = ?`, age, accountID)
	return err
}

const profileSelect = `
	SELECT p.account_id, p.display_name, p.text, p.age, p.birthdate, p.search_groups, p.search_age_min, p.search_age_max,
	       p.cell_row, p.cell_col, p.version_uuid, p.attributes_json, p.filters_json,
	       p.name_moderation, p.name_reason, p.text_moderation, p.text_reason, p.unlimited_likes,
	       p.created_at, p.updated_at
	FROM profiles p
`

const birthdateLayout = "2006-01-02"

func formatBirthdate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(birthdateLayout)
}

func parseBirthdate(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(birthdateLayout, raw)
}

func scanProfile(row rowScanner) (profile.Profile, error) {
	var (
		p                              profile.Profile
		birthdateRaw                   string
		attrsRaw, filtersRaw           string
		nameModeration, textModeration string
		unlimitedLikes                 int
		createdAt, updatedAt           string
	)
	if err := row.Scan(
		&p.AccountID, &p.DisplayName, &p.Text, &p.Age, &birthdateRaw, &p.SearchGroups, &p.SearchAgeRange.Min, &p.SearchAgeRange.Max,
		&p.Cell.Row, &p.Cell.Col, &p.VersionUUID, &attrsRaw, &filtersRaw,
		&nameModeration, &p.NameReason, &textModeration, &p.TextReason, &unlimitedLikes,
		&createdAt, &updatedAt,
	); err != nil {
		return profile.Profile{}, err
	}
	p.NameModeration = profile.ModerationState(nameModeration)
	p.TextModeration = profile.ModerationState(textModeration)
	p.UnlimitedLikes = unlimitedLikes != 0
	if err := json.Unmarshal([]byte(attrsRaw), &p.Attributes); err != nil {
		return profile.Profile{}, err
	}
	if err := json.Unmarshal([]byte(filtersRaw), &p.Filters); err != nil {
		return profile.Profile{}, err
	}
	var err error
	if p.Birthdate, err = parseBirthdate(birthdateRaw); err != nil {
		return profile.Profile{}, err
	}
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return profile.Profile{}, err
	}
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return profile.Profile{}, err
	}
	return p, nil
}
