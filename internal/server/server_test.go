package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/vigyanshaala/mdm-geofence-worker/internal/geofence"
	"github.com/vigyanshaala/mdm-geofence-worker/internal/offline"
	"github.com/vigyanshaala/mdm-geofence-worker/internal/server"
	"github.com/vigyanshaala/mdm-geofence-worker/internal/service"
	"go.uber.org/zap"
)

type fakeEvaluator struct {
	result *geofence.Result
	err    error
	report geofence.Report
}

func (f *fakeEvaluator) Evaluate(_ context.Context, report geofence.Report) (*geofence.Result, error) {
	f.report = report
	return f.result, f.err
}

type fakeSweeper struct {
	summary *service.SweepSummary
	err     error
}

func (f *fakeSweeper) Run(_ context.Context, _ time.Time) (*service.SweepSummary, error) {
	return f.summary, f.err
}

type fakeResolver struct {
	err error
	id  uuid.UUID
}

func (f *fakeResolver) Resolve(_ context.Context, id uuid.UUID, _ string, _ *string) error {
	f.id = id
	return f.err
}

func newTestServer(evaluator server.Evaluator, sweeper server.Sweeper, resolver server.TamperResolver) http.Handler {
	return server.New(evaluator, sweeper, resolver, zap.NewNop()).Router()
}

func doJSON(t *testing.T, handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestEvaluateHandler_MissingFields(t *testing.T) {
	handler := newTestServer(&fakeEvaluator{}, &fakeSweeper{}, &fakeResolver{})

	rec := doJSON(t, handler, http.MethodPost, "/v1/geofence/evaluate", `{"device_id":"laptop-042"}`)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rec.Code)
	}
}

func TestEvaluateHandler_DeviceNotFound(t *testing.T) {
	handler := newTestServer(&fakeEvaluator{err: geofence.ErrDeviceNotFound}, &fakeSweeper{}, &fakeResolver{})

	rec := doJSON(t, handler, http.MethodPost, "/v1/geofence/evaluate",
		`{"device_id":"ghost","latitude":0,"longitude":0}`)

	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}
}

func TestEvaluateHandler_NoLocationAssigned(t *testing.T) {
	handler := newTestServer(&fakeEvaluator{err: geofence.ErrNoLocationAssigned}, &fakeSweeper{}, &fakeResolver{})

	rec := doJSON(t, handler, http.MethodPost, "/v1/geofence/evaluate",
		`{"device_id":"laptop-042","latitude":0,"longitude":0}`)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rec.Code)
	}
}

func TestEvaluateHandler_Violation(t *testing.T) {
	distance := 120.0
	evaluator := &fakeEvaluator{result: &geofence.Result{
		Status:         geofence.StatusViolation,
		Message:        "Device is 120m outside Delhi Office geofence (radius: 50m)",
		DistanceMeters: &distance,
		RadiusMeters:   50,
		LocationName:   "Delhi Office",
		ViolationType:  "outside_bounds",
	}}
	handler := newTestServer(evaluator, &fakeSweeper{}, &fakeResolver{})

	rec := doJSON(t, handler, http.MethodPost, "/v1/geofence/evaluate",
		`{"device_id":"laptop-042","latitude":0.0010792,"longitude":0}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}

	var body struct {
		Status         string   `json:"status"`
		Message        string   `json:"message"`
		DistanceMeters *float64 `json:"distance_meters"`
		RadiusMeters   float64  `json:"radius_meters"`
		LocationName   string   `json:"location_name"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if body.Status != "violation" {
		t.Errorf("Expected violation status, got %s", body.Status)
	}
	if body.DistanceMeters == nil || *body.DistanceMeters != 120 {
		t.Errorf("Expected distance_meters 120, got %v", body.DistanceMeters)
	}
	if body.LocationName != "Delhi Office" {
		t.Errorf("Expected location name, got %s", body.LocationName)
	}

	if evaluator.report.Hostname != "laptop-042" {
		t.Errorf("Expected hostname passed through, got %s", evaluator.report.Hostname)
	}
	if evaluator.report.WifiMatch != nil {
		t.Error("Expected GPS mode for a request without wifi_ssid_match")
	}
}

func TestEvaluateHandler_WifiMismatch(t *testing.T) {
	evaluator := &fakeEvaluator{result: &geofence.Result{
		Status:       geofence.StatusViolation,
		RadiusMeters: 50,
		LocationName: "Delhi Office",
		WifiBased:    true,
	}}
	handler := newTestServer(evaluator, &fakeSweeper{}, &fakeResolver{})

	rec := doJSON(t, handler, http.MethodPost, "/v1/geofence/evaluate",
		`{"device_id":"laptop-042","latitude":0,"longitude":0,"wifi_ssid_match":false}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if body["distance_meters"] != nil {
		t.Errorf("Expected null distance_meters for wifi mode, got %v", body["distance_meters"])
	}

	if evaluator.report.WifiMatch == nil || *evaluator.report.WifiMatch {
		t.Error("Expected wifi_ssid_match=false passed through")
	}
}

func TestSweepHandler(t *testing.T) {
	sweeper := &fakeSweeper{summary: &service.SweepSummary{DevicesChecked: 3, TamperEventsCreated: 2}}
	handler := newTestServer(&fakeEvaluator{}, sweeper, &fakeResolver{})

	rec := doJSON(t, handler, http.MethodPost, "/v1/tamper/sweep", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var body struct {
		Success             bool `json:"success"`
		DevicesChecked      int  `json:"devices_checked"`
		TamperEventsCreated int  `json:"tamper_events_created"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if !body.Success || body.DevicesChecked != 3 || body.TamperEventsCreated != 2 {
		t.Errorf("Unexpected summary: %+v", body)
	}
}

func TestResolveHandler(t *testing.T) {
	resolver := &fakeResolver{}
	handler := newTestServer(&fakeEvaluator{}, &fakeSweeper{}, resolver)
	id := uuid.New()

	rec := doJSON(t, handler, http.MethodPost, "/v1/tamper/events/"+id.String()+"/resolve",
		`{"resolved_by":"ops@example.org","notes":"collected"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if resolver.id != id {
		t.Errorf("Expected event id passed through, got %s", resolver.id)
	}
}

func TestResolveHandler_MissingResolvedBy(t *testing.T) {
	handler := newTestServer(&fakeEvaluator{}, &fakeSweeper{}, &fakeResolver{})

	rec := doJSON(t, handler, http.MethodPost, "/v1/tamper/events/"+uuid.NewString()+"/resolve", `{}`)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rec.Code)
	}
}

func TestResolveHandler_UnknownEvent(t *testing.T) {
	handler := newTestServer(&fakeEvaluator{}, &fakeSweeper{}, &fakeResolver{err: offline.ErrEventNotFound})

	rec := doJSON(t, handler, http.MethodPost, "/v1/tamper/events/"+uuid.NewString()+"/resolve",
		`{"resolved_by":"ops@example.org"}`)

	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}
}

func TestHealthHandler(t *testing.T) {
	handler := newTestServer(&fakeEvaluator{}, &fakeSweeper{}, &fakeResolver{})

	rec := doJSON(t, handler, http.MethodGet, "/v1/health", "")

	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", rec.Code)
	}
}
