package app

import (
	"strings"

	"github.com/glavox/glavox-server/pkg/logger"
)

// ConfigureLogging installs the global zap logger for the server. Every entry
// carries the service name and build version.
func ConfigureLogging(server ServerConfig, version string) error {
	level := strings.TrimSpace(server.LogLevel)
	if level == "" {
		level = "info"
	}
	fields := map[string]string{"service": "glavox-server"}
	if version = strings.TrimSpace(version); version != "" {
		fields["version"] = version
	}
	return logger.InitWithOptions(logger.Options{
		Level:  level,
		Format: server.LogFormat,
		Fields: fields,
	})
}
