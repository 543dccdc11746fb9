package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vigyanshaala/mdm-geofence-worker/internal/config"
	"github.com/vigyanshaala/mdm-geofence-worker/internal/db"
	"github.com/vigyanshaala/mdm-geofence-worker/internal/geofence"
	"github.com/vigyanshaala/mdm-geofence-worker/internal/logging"
	"github.com/vigyanshaala/mdm-geofence-worker/internal/mq"
	"go.uber.org/zap"
)

// ReportMessage is the queued agent telemetry report. Any report, whatever
// its payload, counts as a liveness signal for the device.
type ReportMessage struct {
	RequestID  string        `json:"request_id"`
	Hostname   string        `json:"hostname"`
	ReceivedAt time.Time     `json:"received_at"`
	Payload    ReportPayload `json:"payload"`
}

// ReportPayload carries the telemetry blocks the worker acts on.
type ReportPayload struct {
	WifiNetworks []WifiNetwork `json:"wifi_networks"`
	Geolocation  []Geolocation `json:"geolocation"`
}

// WifiNetwork is a reported WiFi association.
type WifiNetwork struct {
	SSID string `json:"ssid"`
}

// Geolocation is a reported GPS fix.
type Geolocation struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

// IngestStore is the subset of store operations the ingestion path needs
// beyond what the evaluator applies itself.
type IngestStore interface {
	GetDeviceByHostname(ctx context.Context, hostname string) (*db.Device, error)
	GetLocation(ctx context.Context, id uuid.UUID) (*db.Location, error)
	TouchDevice(ctx context.Context, hostname string, seenAt time.Time) error
	UpdateDeviceWifi(ctx context.Context, hostname, ssid string, seenAt time.Time) error
}

// IngestService turns queued telemetry reports into liveness updates and
// geofence evaluations.
type IngestService struct {
	store     IngestStore
	evaluator *geofence.Evaluator
	publisher *mq.Publisher
	cfg       *config.Config
	logger    *zap.Logger
}

// NewIngestService creates a new ingest service
func NewIngestService(
	store IngestStore,
	evaluator *geofence.Evaluator,
	publisher *mq.Publisher,
	cfg *config.Config,
	logger *zap.Logger,
) *IngestService {
	return &IngestService{
		store:     store,
		evaluator: evaluator,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
	}
}

// ProcessMessage processes one queued telemetry report. A returned error
// sends the message to the DLQ; evaluation problems on an otherwise valid
// report are logged instead, so the heartbeat is never lost with it.
func (s *IngestService) ProcessMessage(ctx context.Context, body []byte) error {
	var msg ReportMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("failed to unmarshal message: %w", err)
	}
	if msg.Hostname == "" {
		return fmt.Errorf("report is missing device hostname")
	}

	reqLogger := logging.WithDevice(logging.WithRequestID(s.logger, msg.RequestID), msg.Hostname)
	reqLogger.Info("processing telemetry report",
		zap.Int("wifi_networks", len(msg.Payload.WifiNetworks)),
		zap.Int("geolocation_fixes", len(msg.Payload.Geolocation)),
	)

	device, err := s.store.GetDeviceByHostname(ctx, msg.Hostname)
	if err != nil {
		reqLogger.Error("failed to fetch device", zap.Error(err))
		return fmt.Errorf("failed to fetch device: %w", err)
	}
	if device == nil {
		return fmt.Errorf("device %q not enrolled", msg.Hostname)
	}

	receivedAt := msg.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}

	evaluated := false

	if ssid := firstSSID(msg.Payload.WifiNetworks); ssid != "" {
		if err := s.store.UpdateDeviceWifi(ctx, device.Hostname, ssid, receivedAt); err != nil {
			reqLogger.Error("failed to store wifi ssid", zap.Error(err))
			return fmt.Errorf("failed to store wifi ssid: %w", err)
		}

		// WiFi-only positioning is approximate, so the check runs against the
		// assigned location's own coordinates.
		if device.LocationID != nil {
			location, err := s.store.GetLocation(ctx, *device.LocationID)
			if err != nil {
				reqLogger.Error("failed to fetch location", zap.Error(err))
				return fmt.Errorf("failed to fetch location: %w", err)
			}
			if location != nil {
				s.evaluate(ctx, reqLogger, geofence.Report{
					Hostname:  device.Hostname,
					Latitude:  location.Latitude,
					Longitude: location.Longitude,
				})
				evaluated = true
			}
		}
	}

	if fix := firstFix(msg.Payload.Geolocation); fix != nil {
		s.evaluate(ctx, reqLogger, geofence.Report{
			Hostname:  device.Hostname,
			Latitude:  *fix.Latitude,
			Longitude: *fix.Longitude,
		})
		evaluated = true
	}

	// Reports with no usable position still refresh liveness; a successful
	// evaluation already did.
	if !evaluated {
		if err := s.store.TouchDevice(ctx, device.Hostname, receivedAt); err != nil {
			reqLogger.Error("failed to refresh last_seen", zap.Error(err))
			return fmt.Errorf("failed to refresh last_seen: %w", err)
		}
	}

	reqLogger.Info("telemetry report processed", zap.Bool("evaluated", evaluated))
	return nil
}

func (s *IngestService) evaluate(ctx context.Context, logger *zap.Logger, report geofence.Report) {
	result, err := s.evaluator.Evaluate(ctx, report)
	if err != nil {
		if errors.Is(err, geofence.ErrNoLocationAssigned) {
			logger.Debug("device has no assigned location, skipping geofence check")
			return
		}
		logger.Error("geofence evaluation failed", zap.Error(err))
		return
	}

	if result.Status != geofence.StatusViolation {
		return
	}

	event := mq.GeofenceViolationEvent{
		Hostname:       report.Hostname,
		LocationID:     result.LocationID.String(),
		LocationName:   result.LocationName,
		ViolationType:  result.ViolationType,
		DistanceMeters: result.DistanceMeters,
		RadiusMeters:   result.RadiusMeters,
		EvaluatedAt:    time.Now().UTC(),
	}
	if err := s.publisher.PublishGeofenceViolation(ctx, event, s.cfg.RabbitMQ.GeofenceRouteKey); err != nil {
		// Log error but don't fail the report; the alert row is committed.
		logger.Error("failed to publish geofence violation event", zap.Error(err))
	}
}

func firstSSID(networks []WifiNetwork) string {
	if len(networks) == 0 {
		return ""
	}
	return strings.TrimSpace(networks[0].SSID)
}

func firstFix(fixes []Geolocation) *Geolocation {
	if len(fixes) == 0 {
		return nil
	}
	fix := fixes[0]
	if fix.Latitude == nil || fix.Longitude == nil {
		return nil
	}
	return &fix
}
