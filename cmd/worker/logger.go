package main

import (
	"github.com/vigyanshaala/mdm-geofence-worker/internal/config"
	"github.com/vigyanshaala/mdm-geofence-worker/internal/logging"
	"go.uber.org/zap"
)

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.NewLogger(cfg.ServiceName)
}
