package offline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vigyanshaala/mdm-geofence-worker/internal/db"
	"go.uber.org/zap"
)

// ErrEventNotFound is returned when a tamper event id does not resolve to an
// open event.
var ErrEventNotFound = errors.New("tamper event not found")

// Store is the data-store collaborator the sweep runs against.
type Store interface {
	ListDevices(ctx context.Context) ([]db.Device, error)
	InsertTamperEvent(ctx context.Context, event *db.TamperEvent) error
	ResolveTamperEvent(ctx context.Context, id uuid.UUID, resolvedAt time.Time, resolvedBy string, notes *string) (bool, error)
}

// Thresholds holds the ascending silence cutoffs for severity
// classification. A device silent for less than Min is healthy and is not
// reported at all.
type Thresholds struct {
	Min      time.Duration
	Medium   time.Duration
	High     time.Duration
	Critical time.Duration
}

// OfflineDevice is one sweep hit: a device past the minimum silence
// threshold, classified into a severity band.
type OfflineDevice struct {
	Hostname       string
	LastSeen       time.Time
	MinutesOffline float64
	Severity       string
}

// eventDetails is the free-form payload stored on a tamper event.
type eventDetails struct {
	MinutesOffline float64   `json:"minutes_offline"`
	DetectedAt     time.Time `json:"detected_at"`
}

// Detector classifies devices by elapsed silence and records tamper events
// for those past a threshold. It holds no state across sweeps.
type Detector struct {
	store      Store
	thresholds Thresholds
	logger     *zap.Logger
}

// NewDetector creates a new offline sweep detector with the given thresholds
func NewDetector(store Store, thresholds Thresholds, logger *zap.Logger) *Detector {
	return &Detector{store: store, thresholds: thresholds, logger: logger}
}

// Classify maps elapsed silence to a severity band. The second return is
// false for healthy devices below the minimum threshold.
func Classify(offline time.Duration, t Thresholds) (string, bool) {
	switch {
	case offline >= t.Critical:
		return db.SeverityCritical, true
	case offline >= t.High:
		return db.SeverityHigh, true
	case offline >= t.Medium:
		return db.SeverityMedium, true
	case offline >= t.Min:
		return db.SeverityLow, true
	default:
		return "", false
	}
}

// Sweep lists every device and returns the ones past the minimum silence
// threshold, classified by severity. Devices that have never reported are
// skipped.
func (d *Detector) Sweep(ctx context.Context, now time.Time) ([]OfflineDevice, error) {
	devices, err := d.store.ListDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	var offline []OfflineDevice
	for _, device := range devices {
		if device.LastSeen == nil {
			continue
		}
		elapsed := now.Sub(*device.LastSeen)
		severity, flagged := Classify(elapsed, d.thresholds)
		if !flagged {
			continue
		}
		offline = append(offline, OfflineDevice{
			Hostname:       device.Hostname,
			LastSeen:       *device.LastSeen,
			MinutesOffline: elapsed.Minutes(),
			Severity:       severity,
		})
	}

	return offline, nil
}

// RecordTamperEvents inserts one offline tamper event per sweep hit and
// returns how many were created. Each insert is independent: a failure for
// one device is logged and must not block recording for the others. Events
// are appended unconditionally, with no dedup against prior unresolved
// events for the same device.
func (d *Detector) RecordTamperEvents(ctx context.Context, now time.Time, devices []OfflineDevice) (int, error) {
	created := 0
	var errs []error

	for _, device := range devices {
		details, err := json.Marshal(eventDetails{
			MinutesOffline: device.MinutesOffline,
			DetectedAt:     now,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to marshal details for %s: %w", device.Hostname, err))
			continue
		}

		event := &db.TamperEvent{
			ID:             uuid.New(),
			DeviceHostname: device.Hostname,
			EventType:      db.TamperEventOffline,
			Severity:       device.Severity,
			LastSeenBefore: device.LastSeen,
			DetectedAt:     now,
			Details:        details,
		}

		if err := d.store.InsertTamperEvent(ctx, event); err != nil {
			d.logger.Error("failed to record tamper event",
				zap.Error(err),
				zap.String("hostname", device.Hostname),
				zap.String("severity", device.Severity),
			)
			errs = append(errs, err)
			continue
		}
		created++
	}

	return created, errors.Join(errs...)
}

// Resolve records an operator resolution on a tamper event. Resolution never
// removes a device from future sweeps; only reporting again does.
func (d *Detector) Resolve(ctx context.Context, id uuid.UUID, resolvedBy string, notes *string) error {
	resolved, err := d.store.ResolveTamperEvent(ctx, id, time.Now().UTC(), resolvedBy, notes)
	if err != nil {
		return fmt.Errorf("failed to resolve tamper event: %w", err)
	}
	if !resolved {
		return ErrEventNotFound
	}

	d.logger.Info("tamper event resolved",
		zap.String("event_id", id.String()),
		zap.String("resolved_by", resolvedBy),
	)
	return nil
}
