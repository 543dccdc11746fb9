package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vigyanshaala/mdm-geofence-worker/internal/db"
	"github.com/vigyanshaala/mdm-geofence-worker/internal/geofence"
)

// querier is the subset of pgx operations shared by a pool and a transaction,
// so every method works both standalone and inside InTx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository handles database operations
type Repository struct {
	pool *pgxpool.Pool
	q    querier
}

// NewRepository creates a new repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, q: pool}
}

// InTx runs fn with a transaction-bound store. The transaction commits when
// fn returns nil and rolls back otherwise.
func (r *Repository) InTx(ctx context.Context, fn func(geofence.Store) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&Repository{pool: r.pool, q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetDeviceByHostname fetches a device by hostname. Returns (nil, nil) when
// the device does not exist.
func (r *Repository) GetDeviceByHostname(ctx context.Context, hostname string) (*db.Device, error) {
	query := `
		SELECT hostname, location_id, latitude, longitude, wifi_ssid, last_seen, compliance_status
		FROM devices
		WHERE hostname = $1
	`

	var device db.Device
	err := r.q.QueryRow(ctx, query, hostname).Scan(
		&device.Hostname,
		&device.LocationID,
		&device.Latitude,
		&device.Longitude,
		&device.WifiSSID,
		&device.LastSeen,
		&device.ComplianceStatus,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query device: %w", err)
	}

	return &device, nil
}

// GetLocation fetches a geofence location by id. Returns (nil, nil) when the
// location does not exist.
func (r *Repository) GetLocation(ctx context.Context, id uuid.UUID) (*db.Location, error) {
	query := `
		SELECT id, name, latitude, longitude, radius_meters, is_active
		FROM locations
		WHERE id = $1
	`

	var location db.Location
	err := r.q.QueryRow(ctx, query, id).Scan(
		&location.ID,
		&location.Name,
		&location.Latitude,
		&location.Longitude,
		&location.RadiusMeters,
		&location.IsActive,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query location: %w", err)
	}

	return &location, nil
}

// UpdateDevicePosition persists a reported position and refreshes last_seen.
// Every report is a liveness signal, violating or not.
func (r *Repository) UpdateDevicePosition(ctx context.Context, hostname string, latitude, longitude float64, seenAt time.Time) error {
	query := `
		UPDATE devices
		SET latitude = $1, longitude = $2, last_seen = $3
		WHERE hostname = $4
	`

	_, err := r.q.Exec(ctx, query, latitude, longitude, seenAt, hostname)
	if err != nil {
		return fmt.Errorf("failed to update device position: %w", err)
	}
	return nil
}

// TouchDevice refreshes last_seen without changing anything else.
func (r *Repository) TouchDevice(ctx context.Context, hostname string, seenAt time.Time) error {
	query := `
		UPDATE devices
		SET last_seen = $1
		WHERE hostname = $2
	`

	_, err := r.q.Exec(ctx, query, seenAt, hostname)
	if err != nil {
		return fmt.Errorf("failed to update device last_seen: %w", err)
	}
	return nil
}

// UpdateDeviceWifi stores the reported WiFi SSID and refreshes last_seen.
func (r *Repository) UpdateDeviceWifi(ctx context.Context, hostname, ssid string, seenAt time.Time) error {
	query := `
		UPDATE devices
		SET wifi_ssid = $1, last_seen = $2
		WHERE hostname = $3
	`

	_, err := r.q.Exec(ctx, query, ssid, seenAt, hostname)
	if err != nil {
		return fmt.Errorf("failed to update device wifi ssid: %w", err)
	}
	return nil
}

// SetComplianceStatus updates the device compliance flag.
func (r *Repository) SetComplianceStatus(ctx context.Context, hostname, status string) error {
	query := `
		UPDATE devices
		SET compliance_status = $1
		WHERE hostname = $2
	`

	_, err := r.q.Exec(ctx, query, status, hostname)
	if err != nil {
		return fmt.Errorf("failed to update compliance status: %w", err)
	}
	return nil
}

// FindUnresolvedAlert looks up the open alert for a (device, location) pair.
// Returns (nil, nil) when no open alert exists.
func (r *Repository) FindUnresolvedAlert(ctx context.Context, deviceID string, locationID uuid.UUID) (*db.GeofenceAlert, error) {
	query := `
		SELECT id, device_id, location_id, violation_type, latitude, longitude,
		       distance_meters, created_at, resolved_at
		FROM geofence_alerts
		WHERE device_id = $1 AND location_id = $2 AND resolved_at IS NULL
		LIMIT 1
	`

	var alert db.GeofenceAlert
	err := r.q.QueryRow(ctx, query, deviceID, locationID).Scan(
		&alert.ID,
		&alert.DeviceID,
		&alert.LocationID,
		&alert.ViolationType,
		&alert.Latitude,
		&alert.Longitude,
		&alert.DistanceMeters,
		&alert.CreatedAt,
		&alert.ResolvedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query unresolved alert: %w", err)
	}

	return &alert, nil
}

// InsertAlert inserts a geofence alert. The partial unique index on open
// (device_id, location_id) pairs plus ON CONFLICT DO NOTHING makes the
// check-then-insert race-proof under concurrent evaluations.
func (r *Repository) InsertAlert(ctx context.Context, alert *db.GeofenceAlert) error {
	query := `
		INSERT INTO geofence_alerts (
			id, device_id, location_id, violation_type,
			latitude, longitude, distance_meters, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (device_id, location_id) WHERE resolved_at IS NULL DO NOTHING
	`

	_, err := r.q.Exec(ctx, query,
		alert.ID,
		alert.DeviceID,
		alert.LocationID,
		alert.ViolationType,
		alert.Latitude,
		alert.Longitude,
		alert.DistanceMeters,
		alert.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert geofence alert: %w", err)
	}
	return nil
}

// ResolveAlerts resolves every open alert for a (device, location) pair and
// returns how many rows were closed. At most one should exist by invariant,
// but the bulk update tolerates more.
func (r *Repository) ResolveAlerts(ctx context.Context, deviceID string, locationID uuid.UUID, resolvedAt time.Time) (int64, error) {
	query := `
		UPDATE geofence_alerts
		SET resolved_at = $1
		WHERE device_id = $2 AND location_id = $3 AND resolved_at IS NULL
	`

	tag, err := r.q.Exec(ctx, query, resolvedAt, deviceID, locationID)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve geofence alerts: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListDevices returns every device for the offline sweep.
func (r *Repository) ListDevices(ctx context.Context) ([]db.Device, error) {
	query := `
		SELECT hostname, location_id, latitude, longitude, wifi_ssid, last_seen, compliance_status
		FROM devices
	`

	rows, err := r.q.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query devices: %w", err)
	}
	defer rows.Close()

	var devices []db.Device
	for rows.Next() {
		var device db.Device
		if err := rows.Scan(
			&device.Hostname,
			&device.LocationID,
			&device.Latitude,
			&device.Longitude,
			&device.WifiSSID,
			&device.LastSeen,
			&device.ComplianceStatus,
		); err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		devices = append(devices, device)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return devices, nil
}

// InsertTamperEvent inserts a tamper event record.
func (r *Repository) InsertTamperEvent(ctx context.Context, event *db.TamperEvent) error {
	query := `
		INSERT INTO tamper_events (
			id, device_hostname, event_type, severity,
			last_seen_before, detected_at, details
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.q.Exec(ctx, query,
		event.ID,
		event.DeviceHostname,
		event.EventType,
		event.Severity,
		event.LastSeenBefore,
		event.DetectedAt,
		event.Details,
	)
	if err != nil {
		return fmt.Errorf("failed to insert tamper event: %w", err)
	}
	return nil
}

// ResolveTamperEvent records an operator resolution on a tamper event.
// Returns false when the event does not exist or is already resolved.
func (r *Repository) ResolveTamperEvent(ctx context.Context, id uuid.UUID, resolvedAt time.Time, resolvedBy string, notes *string) (bool, error) {
	query := `
		UPDATE tamper_events
		SET resolved_at = $1, resolved_by = $2, notes = $3
		WHERE id = $4 AND resolved_at IS NULL
	`

	tag, err := r.q.Exec(ctx, query, resolvedAt, resolvedBy, notes, id)
	if err != nil {
		return false, fmt.Errorf("failed to resolve tamper event: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
