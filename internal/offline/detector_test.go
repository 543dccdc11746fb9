package offline_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/vigyanshaala/mdm-geofence-worker/internal/db"
	"github.com/vigyanshaala/mdm-geofence-worker/internal/offline"
	"go.uber.org/zap"
)

var testThresholds = offline.Thresholds{
	Min:      60 * time.Minute,
	Medium:   6 * time.Hour,
	High:     24 * time.Hour,
	Critical: 72 * time.Hour,
}

// memStore is an in-memory offline.Store for tests. Inserts for hostnames in
// failInsert return an error, to exercise partial-failure handling.
type memStore struct {
	devices    []db.Device
	events     []*db.TamperEvent
	failInsert map[string]bool
}

func (m *memStore) ListDevices(_ context.Context) ([]db.Device, error) {
	return m.devices, nil
}

func (m *memStore) InsertTamperEvent(_ context.Context, event *db.TamperEvent) error {
	if m.failInsert[event.DeviceHostname] {
		return errors.New("insert failed")
	}
	m.events = append(m.events, event)
	return nil
}

func (m *memStore) ResolveTamperEvent(_ context.Context, id uuid.UUID, resolvedAt time.Time, resolvedBy string, notes *string) (bool, error) {
	for _, event := range m.events {
		if event.ID == id && event.ResolvedAt == nil {
			event.ResolvedAt = &resolvedAt
			event.ResolvedBy = &resolvedBy
			event.Notes = notes
			return true, nil
		}
	}
	return false, nil
}

func seenAgo(now time.Time, ago time.Duration) *time.Time {
	t := now.Add(-ago)
	return &t
}

func TestClassify_Bands(t *testing.T) {
	cases := []struct {
		offline  time.Duration
		severity string
		flagged  bool
	}{
		{50 * time.Minute, "", false},
		{59 * time.Minute, "", false},
		{60 * time.Minute, db.SeverityLow, true},
		{70 * time.Minute, db.SeverityLow, true},
		{6 * time.Hour, db.SeverityMedium, true},
		{23 * time.Hour, db.SeverityMedium, true},
		{24 * time.Hour, db.SeverityHigh, true},
		{72 * time.Hour, db.SeverityCritical, true},
		{200 * time.Hour, db.SeverityCritical, true},
	}

	for _, tc := range cases {
		severity, flagged := offline.Classify(tc.offline, testThresholds)
		if flagged != tc.flagged || severity != tc.severity {
			t.Errorf("Classify(%v) = (%q, %v), expected (%q, %v)",
				tc.offline, severity, flagged, tc.severity, tc.flagged)
		}
	}
}

func TestSweep_BelowMinimumNotReported(t *testing.T) {
	now := time.Now().UTC()
	store := &memStore{devices: []db.Device{
		{Hostname: "laptop-001", LastSeen: seenAgo(now, 50*time.Minute)},
	}}
	detector := offline.NewDetector(store, testThresholds, zap.NewNop())

	devices, err := detector.Sweep(context.Background(), now)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if len(devices) != 0 {
		t.Errorf("Expected no offline devices below the minimum threshold, got %d", len(devices))
	}
}

func TestSweep_PastMinimumReportedLow(t *testing.T) {
	now := time.Now().UTC()
	store := &memStore{devices: []db.Device{
		{Hostname: "laptop-001", LastSeen: seenAgo(now, 70*time.Minute)},
	}}
	detector := offline.NewDetector(store, testThresholds, zap.NewNop())

	devices, err := detector.Sweep(context.Background(), now)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if len(devices) != 1 {
		t.Fatalf("Expected one offline device, got %d", len(devices))
	}
	if devices[0].Severity != db.SeverityLow {
		t.Errorf("Expected low severity, got %s", devices[0].Severity)
	}
	if devices[0].MinutesOffline < 69 || devices[0].MinutesOffline > 71 {
		t.Errorf("Expected ~70 minutes offline, got %f", devices[0].MinutesOffline)
	}
}

func TestSweep_NeverSeenSkipped(t *testing.T) {
	now := time.Now().UTC()
	store := &memStore{devices: []db.Device{
		{Hostname: "laptop-001"},
		{Hostname: "laptop-002", LastSeen: seenAgo(now, 25*time.Hour)},
	}}
	detector := offline.NewDetector(store, testThresholds, zap.NewNop())

	devices, err := detector.Sweep(context.Background(), now)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if len(devices) != 1 || devices[0].Hostname != "laptop-002" {
		t.Errorf("Expected only laptop-002 flagged, got %+v", devices)
	}
	if devices[0].Severity != db.SeverityHigh {
		t.Errorf("Expected high severity at 25h, got %s", devices[0].Severity)
	}
}

func TestRecordTamperEvents_AppendsUnconditionally(t *testing.T) {
	now := time.Now().UTC()
	store := &memStore{devices: []db.Device{
		{Hostname: "laptop-001", LastSeen: seenAgo(now, 2*time.Hour)},
	}}
	detector := offline.NewDetector(store, testThresholds, zap.NewNop())

	// Two consecutive sweep cycles both record an event; there is no dedup
	// against prior unresolved events.
	for i := 0; i < 2; i++ {
		devices, err := detector.Sweep(context.Background(), now)
		if err != nil {
			t.Fatalf("Unexpected sweep error: %v", err)
		}
		created, err := detector.RecordTamperEvents(context.Background(), now, devices)
		if err != nil {
			t.Fatalf("Unexpected record error: %v", err)
		}
		if created != 1 {
			t.Errorf("Expected one event created per cycle, got %d", created)
		}
	}

	if len(store.events) != 2 {
		t.Fatalf("Expected two appended events, got %d", len(store.events))
	}

	event := store.events[0]
	if event.EventType != db.TamperEventOffline {
		t.Errorf("Expected offline event type, got %s", event.EventType)
	}
	if event.Severity != db.SeverityLow {
		t.Errorf("Expected low severity at 2h, got %s", event.Severity)
	}

	var details struct {
		MinutesOffline float64 `json:"minutes_offline"`
	}
	if err := json.Unmarshal(event.Details, &details); err != nil {
		t.Fatalf("Failed to decode details payload: %v", err)
	}
	if details.MinutesOffline < 119 || details.MinutesOffline > 121 {
		t.Errorf("Expected ~120 minutes offline in details, got %f", details.MinutesOffline)
	}
}

func TestRecordTamperEvents_PartialFailureContinues(t *testing.T) {
	now := time.Now().UTC()
	store := &memStore{
		devices: []db.Device{
			{Hostname: "laptop-001", LastSeen: seenAgo(now, 2*time.Hour)},
			{Hostname: "laptop-002", LastSeen: seenAgo(now, 2*time.Hour)},
			{Hostname: "laptop-003", LastSeen: seenAgo(now, 2*time.Hour)},
		},
		failInsert: map[string]bool{"laptop-002": true},
	}
	detector := offline.NewDetector(store, testThresholds, zap.NewNop())

	devices, err := detector.Sweep(context.Background(), now)
	if err != nil {
		t.Fatalf("Unexpected sweep error: %v", err)
	}

	created, err := detector.RecordTamperEvents(context.Background(), now, devices)
	if err == nil {
		t.Error("Expected an error reporting the failed insert")
	}
	if created != 2 {
		t.Errorf("Expected two events created despite one failure, got %d", created)
	}
}

func TestResolve(t *testing.T) {
	now := time.Now().UTC()
	store := &memStore{devices: []db.Device{
		{Hostname: "laptop-001", LastSeen: seenAgo(now, 2*time.Hour)},
	}}
	detector := offline.NewDetector(store, testThresholds, zap.NewNop())

	devices, _ := detector.Sweep(context.Background(), now)
	if _, err := detector.RecordTamperEvents(context.Background(), now, devices); err != nil {
		t.Fatalf("Unexpected record error: %v", err)
	}

	notes := "device collected from field office"
	if err := detector.Resolve(context.Background(), store.events[0].ID, "ops@example.org", &notes); err != nil {
		t.Fatalf("Unexpected resolve error: %v", err)
	}

	event := store.events[0]
	if event.ResolvedAt == nil || event.ResolvedBy == nil || *event.ResolvedBy != "ops@example.org" {
		t.Errorf("Expected resolution fields recorded, got %+v", event)
	}
	if event.Notes == nil || *event.Notes != notes {
		t.Errorf("Expected notes recorded, got %v", event.Notes)
	}
}

func TestResolve_UnknownEvent(t *testing.T) {
	store := &memStore{}
	detector := offline.NewDetector(store, testThresholds, zap.NewNop())

	err := detector.Resolve(context.Background(), uuid.New(), "ops@example.org", nil)

	if !errors.Is(err, offline.ErrEventNotFound) {
		t.Errorf("Expected ErrEventNotFound, got %v", err)
	}
}
