package repositories

import (
	"context"
	"time"

	"github.com/bastionauth/bastion/internal/database"
	"github.com/bastionauth/bastion/internal/models"
	"github.com/jackc/pgx/v5"
)

const deviceColumns = `
	id, user_id, fingerprint, is_trusted, display_name,
	browser_name, os_name, first_seen_at, last_seen_at, last_ip`

// DeviceRepository persists device records, unique per (user, fingerprint).
type DeviceRepository struct {
	db *database.DB
}

// NewDeviceRepository creates a new DeviceRepository
func NewDeviceRepository(db *database.DB) *DeviceRepository {
	return &DeviceRepository{db: db}
}

func scanDeviceRow(row pgx.Row) (*models.DeviceRecord, error) {
	dev := &models.DeviceRecord{}
	err := row.Scan(
		&dev.ID, &dev.UserID, &dev.Fingerprint, &dev.IsTrusted, &dev.DisplayName,
		&dev.BrowserName, &dev.OSName, &dev.FirstSeenAt, &dev.LastSeenAt, &dev.LastIP,
	)
	if err == pgx.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return dev, nil
}

// Upsert records a sighting of the device, creating the record untrusted on
// first sight. The returned bool is true when the row was newly inserted
// (the "new device" signal).
func (r *DeviceRepository) Upsert(ctx context.Context, dev *models.DeviceRecord) (*models.DeviceRecord, bool, error) {
	// xmax = 0 only holds for freshly inserted rows
	query := `
		INSERT INTO device_records
			(user_id, fingerprint, is_trusted, display_name, browser_name, os_name,
			 first_seen_at, last_seen_at, last_ip)
		VALUES ($1, $2, FALSE, $3, $4, $5, NOW(), NOW(), $6)
		ON CONFLICT (user_id, fingerprint) DO UPDATE SET
			last_seen_at = NOW(),
			last_ip = EXCLUDED.last_ip
		RETURNING ` + deviceColumns + `, (xmax = 0) AS inserted
	`

	rec := &models.DeviceRecord{}
	var inserted bool
	err := r.db.Pool.QueryRow(ctx, query,
		dev.UserID, dev.Fingerprint, dev.DisplayName, dev.BrowserName, dev.OSName, dev.LastIP,
	).Scan(
		&rec.ID, &rec.UserID, &rec.Fingerprint, &rec.IsTrusted, &rec.DisplayName,
		&rec.BrowserName, &rec.OSName, &rec.FirstSeenAt, &rec.LastSeenAt, &rec.LastIP,
		&inserted,
	)
	if err != nil {
		return nil, false, database.MapPostgresError(err)
	}

	return rec, inserted, nil
}

// GetByFingerprint returns the record for (userID, fingerprint), or ErrNotFound.
func (r *DeviceRepository) GetByFingerprint(ctx context.Context, userID, fingerprint string) (*models.DeviceRecord, error) {
	query := `SELECT ` + deviceColumns + ` FROM device_records WHERE user_id = $1 AND fingerprint = $2`
	return scanDeviceRow(r.db.Pool.QueryRow(ctx, query, userID, fingerprint))
}

// GetByID returns a device record by row id.
func (r *DeviceRepository) GetByID(ctx context.Context, id string) (*models.DeviceRecord, error) {
	query := `SELECT ` + deviceColumns + ` FROM device_records WHERE id = $1`
	return scanDeviceRow(r.db.Pool.QueryRow(ctx, query, id))
}

// ListByUser returns all device records for a user, most recently seen first.
func (r *DeviceRepository) ListByUser(ctx context.Context, userID string) ([]*models.DeviceRecord, error) {
	query := `SELECT ` + deviceColumns + ` FROM device_records WHERE user_id = $1 ORDER BY last_seen_at DESC`

	rows, err := r.db.Pool.Query(ctx, query, userID)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	defer rows.Close()

	devices := make([]*models.DeviceRecord, 0)
	for rows.Next() {
		dev, err := scanDeviceRow(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, dev)
	}

	return devices, rows.Err()
}

// SetTrusted flips the trust flag for a device owned by the user.
func (r *DeviceRepository) SetTrusted(ctx context.Context, deviceID, userID string, trusted bool) error {
	query := `UPDATE device_records SET is_trusted = $3 WHERE id = $1 AND user_id = $2`

	result, err := r.db.Pool.Exec(ctx, query, deviceID, userID, trusted)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// DeleteStaleUntrusted removes untrusted devices not seen for maxAge.
func (r *DeviceRepository) DeleteStaleUntrusted(ctx context.Context, maxAge time.Duration) (int64, error) {
	query := `
		DELETE FROM device_records
		WHERE is_trusted = FALSE AND last_seen_at <= NOW() - make_interval(secs => $1)
	`

	result, err := r.db.Pool.Exec(ctx, query, maxAge.Seconds())
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}
