package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/vigyanshaala/mdm-geofence-worker/internal/geofence"
	"github.com/vigyanshaala/mdm-geofence-worker/internal/offline"
	"github.com/vigyanshaala/mdm-geofence-worker/internal/service"
	"go.uber.org/zap"
)

// Evaluator evaluates a reported position against the device's geofence.
type Evaluator interface {
	Evaluate(ctx context.Context, report geofence.Report) (*geofence.Result, error)
}

// Sweeper runs one offline sweep cycle.
type Sweeper interface {
	Run(ctx context.Context, now time.Time) (*service.SweepSummary, error)
}

// TamperResolver records an operator resolution on a tamper event.
type TamperResolver interface {
	Resolve(ctx context.Context, id uuid.UUID, resolvedBy string, notes *string) error
}

// Server is the HTTP boundary: a thin JSON adapter over the evaluator, the
// sweep and tamper resolution.
type Server struct {
	evaluator Evaluator
	sweeper   Sweeper
	resolver  TamperResolver
	logger    *zap.Logger
}

// New creates a new HTTP server
func New(evaluator Evaluator, sweeper Sweeper, resolver TamperResolver, logger *zap.Logger) *Server {
	return &Server{
		evaluator: evaluator,
		sweeper:   sweeper,
		resolver:  resolver,
		logger:    logger,
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(s.requestLogger(), gin.Recovery())

	r.GET("/v1/health", s.handleHealth)
	r.POST("/v1/geofence/evaluate", s.handleEvaluate)
	r.POST("/v1/tamper/sweep", s.handleSweep)
	r.POST("/v1/tamper/events/:id/resolve", s.handleResolveTamperEvent)

	return r
}

type evaluateRequest struct {
	DeviceID      string   `json:"device_id"`
	Latitude      *float64 `json:"latitude"`
	Longitude     *float64 `json:"longitude"`
	WifiSSIDMatch *bool    `json:"wifi_ssid_match"`
}

type evaluateResponse struct {
	Status         string   `json:"status"`
	Message        string   `json:"message"`
	DistanceMeters *float64 `json:"distance_meters"`
	RadiusMeters   float64  `json:"radius_meters"`
	LocationName   string   `json:"location_name"`
	WifiBased      bool     `json:"wifi_based"`
}

func (s *Server) handleEvaluate(c *gin.Context) {
	var req evaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.DeviceID == "" || req.Latitude == nil || req.Longitude == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing required fields: device_id, latitude, longitude"})
		return
	}

	result, err := s.evaluator.Evaluate(c.Request.Context(), geofence.Report{
		Hostname:  req.DeviceID,
		Latitude:  *req.Latitude,
		Longitude: *req.Longitude,
		WifiMatch: req.WifiSSIDMatch,
	})
	if err != nil {
		s.writeEvaluateError(c, err)
		return
	}

	c.JSON(http.StatusOK, evaluateResponse{
		Status:         result.Status,
		Message:        result.Message,
		DistanceMeters: result.DistanceMeters,
		RadiusMeters:   result.RadiusMeters,
		LocationName:   result.LocationName,
		WifiBased:      result.WifiBased,
	})
}

func (s *Server) writeEvaluateError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, geofence.ErrDeviceNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Device not found"})
	case errors.Is(err, geofence.ErrNoLocationAssigned):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Device has no assigned location"})
	case errors.Is(err, geofence.ErrLocationNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Location not found"})
	case errors.Is(err, geofence.ErrRadiusNotConfigured):
		s.logger.Error("location radius not configured", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Location radius not configured"})
	default:
		s.logger.Error("geofence evaluation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

func (s *Server) handleSweep(c *gin.Context) {
	summary, err := s.sweeper.Run(c.Request.Context(), time.Now().UTC())
	if err != nil {
		s.logger.Error("offline sweep failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Sweep failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":               true,
		"devices_checked":       summary.DevicesChecked,
		"tamper_events_created": summary.TamperEventsCreated,
	})
}

type resolveRequest struct {
	ResolvedBy string  `json:"resolved_by"`
	Notes      *string `json:"notes"`
}

func (s *Server) handleResolveTamperEvent(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid event id"})
		return
	}

	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.ResolvedBy == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing required field: resolved_by"})
		return
	}

	if err := s.resolver.Resolve(c.Request.Context(), id, req.ResolvedBy, req.Notes); err != nil {
		if errors.Is(err, offline.ErrEventNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Tamper event not found"})
			return
		}
		s.logger.Error("failed to resolve tamper event", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	}
}
