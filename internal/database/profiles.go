package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"studiobook/internal/domain"
	"studiobook/internal/models"
)

func (db *DB) UpsertProfile(ctx context.Context, profile *models.Profile) error {
	profile.UpdatedAt = time.Now().UTC()
	_, err := db.ExecContext(ctx, `INSERT INTO profiles (user_id, display_name, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET display_name = excluded.display_name, updated_at = excluded.updated_at`,
		profile.UserID, profile.DisplayName, profile.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert profile: %w", err)
	}
	return nil
}

func (db *DB) GetProfile(ctx context.Context, userID string) (*models.Profile, error) {
	var p models.Profile
	err := db.QueryRowContext(ctx, `SELECT user_id, display_name, updated_at FROM profiles WHERE user_id = ?`, userID).
		Scan(&p.UserID, &p.DisplayName, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return &p, nil
}
