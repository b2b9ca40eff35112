package checks

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/glavox/glavox-server/internal/monitoring"
)

// BinaryLocator resolves an external binary on PATH.
type BinaryLocator interface {
	Binary() string
	LookPath() error
}

// FFProbe reports whether the ffprobe binary can be found. Without it uploads
// still land on disk, but their durations cannot be measured.
func FFProbe(locator BinaryLocator) monitoring.Check {
	return monitoring.NewCheck("ffprobe", func(context.Context) monitoring.ProbeResult {
		start := time.Now()
		if locator == nil {
			return monitoring.ProbeResult{Status: monitoring.StatusDown, Details: "prober not configured"}
		}
		if err := locator.LookPath(); err != nil {
			return monitoring.ResultFromError("ffprobe", err, time.Since(start))
		}
		return monitoring.ProbeResult{Status: monitoring.StatusUp, Details: locator.Binary(), Duration: time.Since(start)}
	}).AsOptional()
}

// UploadDir verifies the upload root exists and is a directory.
func UploadDir(root string) monitoring.Check {
	return monitoring.NewCheck("uploads", func(context.Context) monitoring.ProbeResult {
		start := time.Now()
		info, err := os.Stat(root)
		if err != nil {
			return monitoring.ResultFromError("uploads", err, time.Since(start))
		}
		if !info.IsDir() {
			return monitoring.ProbeResult{
				Status:   monitoring.StatusDown,
				Details:  fmt.Sprintf("%s is not a directory", root),
				Duration: time.Since(start),
			}
		}
		return monitoring.ProbeResult{Status: monitoring.StatusUp, Duration: time.Since(start)}
	})
}
