// Package repository stores per-driver calibration profiles in Postgres.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"drowsiness-monitor/backend/internal/models"

	"github.com/jmoiron/sqlx"
)

var ErrProfileNotFound = errors.New("profile not found")

// ProfileRepo is the sqlx-backed profile store.
type ProfileRepo struct {
	db *sqlx.DB
}

func NewProfileRepo(db *sqlx.DB) *ProfileRepo {
	return &ProfileRepo{db: db}
}

// Get returns the profile of driverID or ErrProfileNotFound.
func (r *ProfileRepo) Get(ctx context.Context, driverID string) (models.Profile, error) {
	var p models.Profile

	query := `SELECT driver_id, ear_threshold, window_seconds, frame_rate_hint, delegate, updated_at
			FROM driver_profiles
			WHERE driver_id = $1`

	if err := r.db.GetContext(ctx, &p, query, driverID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Profile{}, ErrProfileNotFound
		}
		return models.Profile{}, fmt.Errorf("get profile %s: %w", driverID, err)
	}
	return p, nil
}

func (r *ProfileRepo) List(ctx context.Context) ([]models.Profile, error) {
	profiles := []models.Profile{}

	query := `SELECT driver_id, ear_threshold, window_seconds, frame_rate_hint, delegate, updated_at
			FROM driver_profiles
			ORDER BY driver_id`

	if err := r.db.SelectContext(ctx, &profiles, query); err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	return profiles, nil
}

// Upsert inserts or replaces a profile and returns the stored row.
func (r *ProfileRepo) Upsert(ctx context.Context, p models.Profile) (models.Profile, error) {
	var stored models.Profile

	query := `INSERT INTO driver_profiles
				(driver_id, ear_threshold, window_seconds, frame_rate_hint, delegate, updated_at)
			VALUES ($1, $2, $3, $4, $5, now())
			ON CONFLICT (driver_id) DO UPDATE SET
				ear_threshold = EXCLUDED.ear_threshold,
				window_seconds = EXCLUDED.window_seconds,
				frame_rate_hint = EXCLUDED.frame_rate_hint,
				delegate = EXCLUDED.delegate,
				updated_at = now()
			RETURNING driver_id, ear_threshold, window_seconds, frame_rate_hint, delegate, updated_at`

	if err := r.db.QueryRowxContext(ctx, query,
		p.DriverID, p.EARThreshold, p.WindowSeconds, p.FrameRateHint, string(p.Delegate),
	).StructScan(&stored); err != nil {
		return models.Profile{}, fmt.Errorf("upsert profile %s: %w", p.DriverID, err)
	}
	return stored, nil
}

func (r *ProfileRepo) Delete(ctx context.Context, driverID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM driver_profiles WHERE driver_id = $1`, driverID)
	if err != nil {
		return fmt.Errorf("delete profile %s: %w", driverID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrProfileNotFound
	}
	return nil
}

func (r *ProfileRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
