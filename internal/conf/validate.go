// conf/validate.go

package conf

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("validation errors: %s", strings.Join(ve.Errors, "; "))
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	if err := validateLoggingSettings(settings); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validateSessionSettings(&settings.Session); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validateJobQueueSettings(&settings.JobQueue); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validateMuxerSettings(&settings.Muxer); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validateEventsSettings(&settings.Events); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validateTelemetrySettings(&settings.Telemetry); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validateWatermillSettings(&settings.Watermill); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validateSimulationSettings(&settings.Simulation); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateLoggingSettings(s *Settings) error {
	switch strings.ToLower(s.Logging.DefaultLevel) {
	case "", "trace", "debug", "info", "warn", "warning", "error":
		return nil
	default:
		return fmt.Errorf("logging.default_level %q is not a log level", s.Logging.DefaultLevel)
	}
}

func validateSessionSettings(settings *SessionSettings) error {
	var errs []string
	if settings.Devices < 1 || settings.Devices > 2 {
		errs = append(errs, fmt.Sprintf("session.devices must be 1 or 2, got %d", settings.Devices))
	}
	if settings.MetadataCount <= 0 {
		errs = append(errs, "session.metadatacount must be positive")
	}
	if settings.MetadataSize <= 0 {
		errs = append(errs, "session.metadatasize must be positive")
	}
	if settings.CallTimeout < 0 {
		errs = append(errs, "session.calltimeout must not be negative")
	}
	return joinErrors(errs)
}

func validateJobQueueSettings(settings *JobQueueSettings) error {
	var errs []string
	// Open schedules four jobs and a picture two more before any can be cleared
	if settings.Capacity < 6 {
		errs = append(errs, fmt.Sprintf("jobqueue.capacity must be at least 6, got %d", settings.Capacity))
	}
	if settings.StopTimeout <= 0 {
		errs = append(errs, "jobqueue.stoptimeout must be positive")
	}
	return joinErrors(errs)
}

func validateMuxerSettings(settings *MuxerSettings) error {
	var errs []string
	if settings.ChannelDepth <= 0 {
		errs = append(errs, "muxer.channeldepth must be positive")
	}
	if settings.MaxPending <= 0 {
		errs = append(errs, "muxer.maxpending must be positive")
	}
	return joinErrors(errs)
}

func validateEventsSettings(settings *EventsSettings) error {
	var errs []string
	if settings.BufferSize <= 0 {
		errs = append(errs, "events.buffersize must be positive")
	}
	if settings.Workers <= 0 {
		errs = append(errs, "events.workers must be positive")
	}
	if settings.DedupTTL < 0 {
		errs = append(errs, "events.dedupttl must not be negative")
	}
	if settings.LogRate < 0 {
		errs = append(errs, "events.lograte must not be negative")
	}
	return joinErrors(errs)
}

func validateTelemetrySettings(settings *TelemetrySettings) error {
	if !settings.Enabled {
		return nil
	}
	host, port, err := net.SplitHostPort(settings.Listen)
	if err != nil {
		return fmt.Errorf("telemetry.listen %q is not host:port: %w", settings.Listen, err)
	}
	if host != "" && net.ParseIP(host) == nil && host != "localhost" {
		return fmt.Errorf("telemetry.listen host %q is not an IP address", host)
	}
	if p, err := strconv.Atoi(port); err != nil || p < 0 || p > 65535 {
		return fmt.Errorf("telemetry.listen port %q is invalid", port)
	}
	return nil
}

func validateWatermillSettings(settings *WatermillSettings) error {
	if settings.Enabled && settings.Topic == "" {
		return fmt.Errorf("watermill.topic is required when watermill is enabled")
	}
	if settings.OutputBuffer < 0 {
		return fmt.Errorf("watermill.outputbuffer must not be negative")
	}
	return nil
}

func validateSimulationSettings(settings *SimulationSettings) error {
	var errs []string
	if settings.Frames < 0 {
		errs = append(errs, "simulation.frames must not be negative")
	}
	if settings.FrameInterval < 0 || settings.Jitter < 0 || settings.Latency < 0 {
		errs = append(errs, "simulation durations must not be negative")
	}
	if settings.SkipEvery < 0 {
		errs = append(errs, "simulation.skipevery must not be negative")
	}
	return joinErrors(errs)
}

func joinErrors(errs []string) error {
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%s", strings.Join(errs, "; "))
}
