package geofence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vigyanshaala/mdm-geofence-worker/internal/db"
	"github.com/vigyanshaala/mdm-geofence-worker/tools/geo"
	"go.uber.org/zap"
)

// Evaluation outcome statuses.
const (
	StatusViolation = "violation"
	StatusCompliant = "compliant"
)

var (
	// ErrDeviceNotFound is returned when the device id does not resolve.
	ErrDeviceNotFound = errors.New("device not found")
	// ErrNoLocationAssigned is returned when the device has no assigned
	// location. Callers should treat this as "not applicable", not as a
	// violation.
	ErrNoLocationAssigned = errors.New("device has no assigned location")
	// ErrLocationNotFound is returned when the assigned location id does not
	// resolve. This is a data-integrity error, not a caller mistake.
	ErrLocationNotFound = errors.New("location not found")
	// ErrRadiusNotConfigured is returned when the assigned location has no
	// radius. The radius is never defaulted.
	ErrRadiusNotConfigured = errors.New("location radius not configured")
)

// Store is the data-store collaborator the evaluator runs against. InTx
// scopes the write side of one evaluation to a single transaction.
type Store interface {
	GetDeviceByHostname(ctx context.Context, hostname string) (*db.Device, error)
	GetLocation(ctx context.Context, id uuid.UUID) (*db.Location, error)
	UpdateDevicePosition(ctx context.Context, hostname string, latitude, longitude float64, seenAt time.Time) error
	SetComplianceStatus(ctx context.Context, hostname, status string) error
	FindUnresolvedAlert(ctx context.Context, deviceID string, locationID uuid.UUID) (*db.GeofenceAlert, error)
	InsertAlert(ctx context.Context, alert *db.GeofenceAlert) error
	ResolveAlerts(ctx context.Context, deviceID string, locationID uuid.UUID, resolvedAt time.Time) (int64, error)
	InTx(ctx context.Context, fn func(Store) error) error
}

// Report is a freshly reported device position. WifiMatch, when present,
// switches the evaluation to WiFi-SSID mode and takes precedence over the
// GPS distance check.
type Report struct {
	Hostname  string
	Latitude  float64
	Longitude float64
	WifiMatch *bool
}

// Result is the outcome of one evaluation. DistanceMeters is nil for
// WiFi-based evaluations.
type Result struct {
	Status         string
	Message        string
	DistanceMeters *float64
	RadiusMeters   float64
	LocationName   string
	LocationID     uuid.UUID
	ViolationType  string
	WifiBased      bool
}

// Evaluator computes geofence compliance for reported positions and keeps
// device state and alert records in sync. It holds no state across calls;
// everything lives in the store.
type Evaluator struct {
	store  Store
	logger *zap.Logger
}

// NewEvaluator creates a new geofence evaluator
func NewEvaluator(store Store, logger *zap.Logger) *Evaluator {
	return &Evaluator{store: store, logger: logger}
}

// Evaluate checks a reported position against the device's assigned location,
// persists the position and liveness, opens or resolves alerts, and updates
// the compliance status. Repeated calls with the same input converge on the
// same terminal state: one open alert while violating, zero once back inside.
func (e *Evaluator) Evaluate(ctx context.Context, report Report) (*Result, error) {
	device, err := e.store.GetDeviceByHostname(ctx, report.Hostname)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch device: %w", err)
	}
	if device == nil {
		return nil, ErrDeviceNotFound
	}
	if device.LocationID == nil {
		return nil, ErrNoLocationAssigned
	}

	location, err := e.store.GetLocation(ctx, *device.LocationID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch location: %w", err)
	}
	if location == nil {
		return nil, ErrLocationNotFound
	}
	if location.RadiusMeters == nil || *location.RadiusMeters < 0 {
		return nil, ErrRadiusNotConfigured
	}
	radius := *location.RadiusMeters

	var isOutside bool
	var distance *float64
	if report.WifiMatch != nil {
		// WiFi-based geofencing: the SSID match result decides, no distance.
		isOutside = !*report.WifiMatch
	} else {
		d := geo.RoundMeters(geo.Haversine(report.Latitude, report.Longitude, location.Latitude, location.Longitude))
		distance = &d
		isOutside = d > radius
	}

	now := time.Now().UTC()

	err = e.store.InTx(ctx, func(s Store) error {
		if err := s.UpdateDevicePosition(ctx, device.Hostname, report.Latitude, report.Longitude, now); err != nil {
			return err
		}

		if isOutside {
			existing, err := s.FindUnresolvedAlert(ctx, device.Hostname, location.ID)
			if err != nil {
				return err
			}
			if existing == nil {
				alert := &db.GeofenceAlert{
					ID:             uuid.New(),
					DeviceID:       device.Hostname,
					LocationID:     location.ID,
					ViolationType:  violationType(report.WifiMatch),
					Latitude:       report.Latitude,
					Longitude:      report.Longitude,
					DistanceMeters: distance,
					CreatedAt:      now,
				}
				if err := s.InsertAlert(ctx, alert); err != nil {
					return err
				}
			}
			return s.SetComplianceStatus(ctx, device.Hostname, db.ComplianceNonCompliant)
		}

		if _, err := s.ResolveAlerts(ctx, device.Hostname, location.ID, now); err != nil {
			return err
		}
		return s.SetComplianceStatus(ctx, device.Hostname, db.ComplianceCompliant)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to apply evaluation: %w", err)
	}

	result := &Result{
		DistanceMeters: distance,
		RadiusMeters:   radius,
		LocationName:   location.Name,
		LocationID:     location.ID,
		WifiBased:      report.WifiMatch != nil,
	}

	if isOutside {
		result.Status = StatusViolation
		result.ViolationType = violationType(report.WifiMatch)
		if report.WifiMatch != nil {
			result.Message = fmt.Sprintf("Device WiFi SSID does not match %s location (WiFi-based geofence violation)", location.Name)
		} else {
			result.Message = fmt.Sprintf("Device is %.0fm outside %s geofence (radius: %.0fm)", *distance, location.Name, radius)
		}
		e.logger.Warn("geofence violation",
			zap.String("hostname", device.Hostname),
			zap.String("location", location.Name),
			zap.String("violation_type", result.ViolationType),
		)
	} else {
		result.Status = StatusCompliant
		if distance != nil {
			result.Message = fmt.Sprintf("Device is within %s geofence (%.0fm from center, radius: %.0fm)", location.Name, *distance, radius)
		} else {
			result.Message = fmt.Sprintf("Device is within %s geofence (WiFi SSID matched)", location.Name)
		}
	}

	return result, nil
}

func violationType(wifiMatch *bool) string {
	if wifiMatch != nil {
		return db.ViolationWifiMismatch
	}
	return db.ViolationOutsideBounds
}
