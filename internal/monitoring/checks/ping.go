// Package checks holds the readiness probes for the tracking store, the
// speaking-time cache, ffprobe, the upload root and the maintenance jobs.
package checks

import (
	"context"
	"time"

	"github.com/glavox/glavox-server/internal/monitoring"
)

const (
	defaultStoreTimeout = 2 * time.Second
	defaultRedisTimeout = 2 * time.Second
)

// Pinger is satisfied by the tracking stores and the cache backends.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Store pings the tracking store. The component carries the driver, e.g.
// "store:postgres". Without a store nothing can be recorded, so it is critical.
func Store(driver string, store Pinger, timeout time.Duration) monitoring.Check {
	name := "store"
	if driver != "" {
		name += ":" + driver
	}
	return pingCheck(name, store, chooseTimeout(timeout, defaultStoreTimeout), monitoring.StatusDown, "store not configured")
}

// Redis pings the speaking-time cache. Speaking totals fall back to probing,
// so a missing or failing redis only degrades readiness.
func Redis(client Pinger, enabled bool, timeout time.Duration) monitoring.Check {
	if !enabled {
		return monitoring.NewCheck("redis", func(context.Context) monitoring.ProbeResult {
			return monitoring.ProbeResult{Status: monitoring.StatusUp, Details: "redis disabled"}
		}).AsOptional()
	}
	return pingCheck("redis", client, chooseTimeout(timeout, defaultRedisTimeout), monitoring.StatusDegraded, "redis unavailable").AsOptional()
}

func pingCheck(name string, target Pinger, timeout time.Duration, missing monitoring.ProbeStatus, missingDetail string) monitoring.Check {
	return monitoring.NewCheck(name, func(ctx context.Context) monitoring.ProbeResult {
		start := time.Now()
		if target == nil {
			return monitoring.ProbeResult{Status: missing, Details: missingDetail, Duration: time.Since(start)}
		}

		probeCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return monitoring.ResultFromError(name, target.Ping(probeCtx), time.Since(start))
	})
}

func chooseTimeout(provided, fallback time.Duration) time.Duration {
	if provided <= 0 {
		return fallback
	}
	return provided
}
