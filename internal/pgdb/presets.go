package pgdb

import (
	"context"

	"github.com/jackc/pgx/v5"
	"gitlab.com/tozd/go/errors"
)

// GetPresets lists a user's saved presets for handler.
func (s *Store) GetPresets(ctx context.Context, userid, handler string) ([]Preset, errors.E) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, userid, handler, name, data, is_default, created_at, updated_at
		FROM presets WHERE userid = $1 AND handler = $2 ORDER BY id
	`, userid, handler)
	if err != nil {
		return nil, WithPgxError(err)
	}
	defer rows.Close()

	var presets []Preset
	for rows.Next() {
		var p Preset
		if err := rows.Scan(&p.ID, &p.UserID, &p.Handler, &p.Name, &p.Data, &p.IsDefault, &p.CreatedAt, &p.UpdatedAt); err != nil { //nolint:govet
			return nil, WithPgxError(err)
		}
		presets = append(presets, p)
	}
	if err := rows.Err(); err != nil {
		return nil, WithPgxError(err)
	}
	return presets, nil
}

// UpsertPreset creates or updates a named preset for (userid, handler).
func (s *Store) UpsertPreset(ctx context.Context, userid, handler, name string, data []byte) (*Preset, errors.E) {
	var p Preset
	err := s.Pool.QueryRow(ctx, `
		UPDATE presets SET data = $4, updated_at = now()
		WHERE userid = $1 AND handler = $2 AND name = $3
		RETURNING id, userid, handler, name, data, is_default, created_at, updated_at
	`, userid, handler, name, data).Scan(&p.ID, &p.UserID, &p.Handler, &p.Name, &p.Data, &p.IsDefault, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err2 := s.Pool.QueryRow(ctx, `
				INSERT INTO presets (userid, handler, name, data) VALUES ($1, $2, $3, $4)
				RETURNING id, userid, handler, name, data, is_default, created_at, updated_at
			`, userid, handler, name, data).Scan(&p.ID, &p.UserID, &p.Handler, &p.Name, &p.Data, &p.IsDefault, &p.CreatedAt, &p.UpdatedAt)
			if err2 != nil {
				return nil, WithPgxError(err2)
			}
			return &p, nil
		}
		return nil, WithPgxError(err)
	}
	return &p, nil
}

// SetDefaultPreset flips presetID to be the sole default for its
// (userid, handler) pair, enforced by ix_presets_unique_default: we clear any
// existing default for that pair inside the same transaction before setting
// the new one, so the partial unique index is never violated mid-flight.
func (s *Store) SetDefaultPreset(ctx context.Context, userid, handler string, presetID int64) errors.E {
	return RetryTransaction(ctx, s.Pool, pgx.ReadWrite, func(ctx context.Context, tx pgx.Tx) errors.E {
		_, err := tx.Exec(ctx, `
			UPDATE presets SET is_default = false, updated_at = now()
			WHERE userid = $1 AND handler = $2 AND is_default
		`, userid, handler)
		if err != nil {
			return WithPgxError(err)
		}

		tag, err := tx.Exec(ctx, `
			UPDATE presets SET is_default = true, updated_at = now()
			WHERE id = $1 AND userid = $2 AND handler = $3
		`, presetID, userid, handler)
		if err != nil {
			return WithPgxError(err)
		}
		if tag.RowsAffected() == 0 {
			return errors.WithStack(ErrNotFound)
		}
		return nil
	}, nil)
}
