package db

import (
	"time"

	"github.com/google/uuid"
)

// Compliance status values for a device.
const (
	ComplianceCompliant    = "compliant"
	ComplianceNonCompliant = "non_compliant"
	ComplianceUnknown      = "unknown"
)

// Geofence violation types.
const (
	ViolationOutsideBounds = "outside_bounds"
	ViolationWifiMismatch  = "wifi_mismatch"
)

// Tamper event types and severities.
const (
	TamperEventOffline = "offline"

	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Device represents a managed device in the database. The hostname is the
// primary key; lifecycle is owned by the inventory side, the worker only
// updates position, liveness and compliance.
type Device struct {
	Hostname         string
	LocationID       *uuid.UUID
	Latitude         *float64
	Longitude        *float64
	WifiSSID         *string
	LastSeen         *time.Time
	ComplianceStatus string
}

// Location represents an assigned geofence zone. Read-only for the worker.
type Location struct {
	ID           uuid.UUID
	Name         string
	Latitude     float64
	Longitude    float64
	RadiusMeters *float64
	IsActive     bool
}

// GeofenceAlert represents a geofence violation record. At most one
// unresolved alert exists per (device, location) pair.
type GeofenceAlert struct {
	ID             uuid.UUID
	DeviceID       string
	LocationID     uuid.UUID
	ViolationType  string
	Latitude       float64
	Longitude      float64
	DistanceMeters *float64
	CreatedAt      time.Time
	ResolvedAt     *time.Time
}

// TamperEvent represents an offline/tamper detection record. Events are
// never auto-resolved; an operator closes them explicitly.
type TamperEvent struct {
	ID             uuid.UUID
	DeviceHostname string
	EventType      string
	Severity       string
	LastSeenBefore time.Time
	DetectedAt     time.Time
	Details        []byte
	ResolvedAt     *time.Time
	ResolvedBy     *string
	Notes          *string
}
