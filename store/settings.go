package store

import (
	"context"
	"database/sql"
	"errors"
)

// GetSetting returns a setting row by key, or nil if unset.
func (s *Store) GetSetting(ctx context.Context, key string) (*Setting, error) {
	var st Setting
	var desc sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, setting_key, setting_value, setting_type, description
		FROM admin_settings WHERE setting_key = ?
	`, key).Scan(&st.ID, &st.Key, &st.Value, &st.Type, &desc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	st.Description = scanNullStr(desc)
	return &st, nil
}

// SetSetting upserts a setting row.
func (s *Store) SetSetting(ctx context.Context, st Setting) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO admin_settings (setting_key, setting_value, setting_type, description)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(setting_key) DO UPDATE SET
			setting_value = excluded.setting_value,
			setting_type = excluded.setting_type,
			description = excluded.description,
			updated_at = CURRENT_TIMESTAMP
	`, st.Key, st.Value, st.Type, nullStr(st.Description))
	return err
}

// DeleteSetting removes a setting row. Missing keys are not an error.
func (s *Store) DeleteSetting(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM admin_settings WHERE setting_key = ?", key)
	return err
}

// ListSettings returns all setting rows ordered by key.
func (s *Store) ListSettings(ctx context.Context) ([]Setting, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, setting_key, setting_value, setting_type, description
		FROM admin_settings ORDER BY setting_key
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Setting
	for rows.Next() {
		var st Setting
		var desc sql.NullString
		if err := rows.Scan(&st.ID, &st.Key, &st.Value, &st.Type, &desc); err != nil {
			return nil, err
		}
		st.Description = scanNullStr(desc)
		out = append(out, st)
	}
	return out, rows.Err()
}
