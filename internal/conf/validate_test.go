package conf

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSettings() *Settings {
	return &Settings{
		Session:  SessionSettings{Devices: 2, MetadataCount: 8, MetadataSize: 4096, CallTimeout: time.Second},
		JobQueue: JobQueueSettings{Capacity: 25, StopTimeout: time.Second},
		Muxer:    MuxerSettings{ChannelDepth: 16, MaxPending: 8},
		Events:   EventsSettings{BufferSize: 16, Workers: 1},
		Telemetry: TelemetrySettings{
			Enabled: true,
			Listen:  "127.0.0.1:8090",
		},
		Watermill: WatermillSettings{Enabled: true, Topic: "t"},
	}
}

func TestValidateSettings(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr string
	}{
		{"valid", func(*Settings) {}, ""},
		{"single device", func(s *Settings) { s.Session.Devices = 1 }, ""},
		{"no devices", func(s *Settings) { s.Session.Devices = 0 }, "session.devices"},
		{"negative call timeout", func(s *Settings) { s.Session.CallTimeout = -time.Second }, "session.calltimeout"},
		{"tiny job table", func(s *Settings) { s.JobQueue.Capacity = 3 }, "jobqueue.capacity"},
		{"zero stop timeout", func(s *Settings) { s.JobQueue.StopTimeout = 0 }, "jobqueue.stoptimeout"},
		{"zero max pending", func(s *Settings) { s.Muxer.MaxPending = 0 }, "muxer.maxpending"},
		{"zero workers", func(s *Settings) { s.Events.Workers = 0 }, "events.workers"},
		{"bad listen", func(s *Settings) { s.Telemetry.Listen = "8090" }, "telemetry.listen"},
		{"bad listen host", func(s *Settings) { s.Telemetry.Listen = "camera:8090" }, "is not an IP address"},
		{"listen ignored when disabled", func(s *Settings) {
			s.Telemetry.Enabled = false
			s.Telemetry.Listen = ""
		}, ""},
		{"missing topic", func(s *Settings) { s.Watermill.Topic = "" }, "watermill.topic"},
		{"bad log level", func(s *Settings) { s.Logging.DefaultLevel = "loud" }, "logging.default_level"},
		{"negative skip", func(s *Settings) { s.Simulation.SkipEvery = -1 }, "simulation.skipevery"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := validSettings()
			tt.mutate(s)

			err := ValidateSettings(s)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)

			var ve ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Len(t, ve.Errors, 1)
		})
	}
}

func TestEnvValidators(t *testing.T) {
	t.Parallel()

	assert.NoError(t, validateEnvBool("true"))
	assert.Error(t, validateEnvBool("yes please"))
	assert.NoError(t, validateEnvLogLevel("DEBUG"))
	assert.Error(t, validateEnvLogLevel("verbose"))
	assert.NoError(t, validateEnvDevices("2"))
	assert.Error(t, validateEnvDevices("3"))
	assert.NoError(t, validateEnvDuration("150ms"))
	assert.Error(t, validateEnvDuration("soon"))
	assert.NoError(t, validateEnvPositiveInt("10"))
	assert.Error(t, validateEnvPositiveInt("0"))
}
