// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"

	"github.com/tphakala/camhal/internal/logger"
)

// Sets default values for the configuration.
func setDefaultConfig(v *viper.Viper) {
	v.SetDefault("debug", false)

	v.SetDefault("logging.default_level", logger.DefaultLogLevel)
	v.SetDefault("logging.timezone", "Local")
	v.SetDefault("logging.console.enabled", logger.DefaultConsoleEnabled)
	v.SetDefault("logging.console.level", logger.DefaultLogLevel)
	v.SetDefault("logging.file_output.enabled", logger.DefaultFileEnabled)
	v.SetDefault("logging.file_output.path", logger.DefaultLogPath)
	v.SetDefault("logging.file_output.max_size", logger.DefaultMaxSize)
	v.SetDefault("logging.file_output.max_age", logger.DefaultMaxAge)
	v.SetDefault("logging.file_output.max_rotated_files", logger.DefaultMaxRotatedFiles)
	v.SetDefault("logging.file_output.compress", true)
	v.SetDefault("logging.file_output.level", logger.DefaultLogLevel)

	v.SetDefault("session.devices", 2)
	v.SetDefault("session.metadatacount", 8)
	v.SetDefault("session.metadatasize", 4096)
	v.SetDefault("session.calltimeout", 5*time.Second)
	v.SetDefault("session.params", map[string]string{})

	v.SetDefault("jobqueue.capacity", 25)
	v.SetDefault("jobqueue.stoptimeout", 10*time.Second)

	v.SetDefault("muxer.channeldepth", 16)
	v.SetDefault("muxer.maxpending", 8)

	v.SetDefault("events.buffersize", 1024)
	v.SetDefault("events.workers", 2)
	v.SetDefault("events.dedupttl", 5*time.Second)
	v.SetDefault("events.lograte", 5.0)
	v.SetDefault("events.logburst", 10)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.listen", "0.0.0.0:8090")
	v.SetDefault("telemetry.sentrydsn", "")
	v.SetDefault("telemetry.environment", "development")

	v.SetDefault("watermill.enabled", true)
	v.SetDefault("watermill.topic", "camhal.notifications")
	v.SetDefault("watermill.outputbuffer", 64)

	v.SetDefault("simulation.frames", 30)
	v.SetDefault("simulation.frameinterval", 33*time.Millisecond)
	v.SetDefault("simulation.jitter", 5*time.Millisecond)
	v.SetDefault("simulation.latency", 2*time.Millisecond)
	v.SetDefault("simulation.skipevery", 0)
	v.SetDefault("simulation.pictures", 1)
	v.SetDefault("simulation.failon", "")
}
