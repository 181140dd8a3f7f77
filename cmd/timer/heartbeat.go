package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/MayankBharati/solidtracker/internal/api"
	"github.com/MayankBharati/solidtracker/internal/deviceinfo"
	"github.com/MayankBharati/solidtracker/internal/logging"
)

type deviceReporter interface {
	Heartbeat(ctx context.Context, req api.DeviceHeartbeatRequest) error
}

// heartbeat reports device info once immediately and then on every interval until ctx ends.
func heartbeat(ctx context.Context, reporter deviceReporter, collector *deviceinfo.Collector, interval time.Duration, logger *slog.Logger) {
	report := func() {
		info := collector.Collect(ctx)
		err := reporter.Heartbeat(ctx, api.DeviceHeartbeatRequest{
			MACAddress: info.MACAddress,
			Hostname:   info.Hostname,
			Info:       info.Map(),
		})
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn("device heartbeat failed", logging.KeyError, err)
			}
			return
		}
		logger.Debug("device heartbeat sent", "mac_address", info.MACAddress, "public_ip", info.PublicIP)
	}

	report()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report()
		}
	}
}
