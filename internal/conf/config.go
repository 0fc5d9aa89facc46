// conf/config.go
package conf

import (
	"embed"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/camhal/internal/errors"
	"github.com/tphakala/camhal/internal/logger"
)

//go:embed config.yaml
var configFiles embed.FS

// EnvPrefix is the prefix of environment variables overriding settings
const EnvPrefix = "CAMHAL"

// Settings contains all configuration options for camhal
type Settings struct {
	Debug bool `mapstructure:"debug" yaml:"debug"` // true to enable debug output

	Logging    logger.LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Session    SessionSettings      `mapstructure:"session" yaml:"session"`
	JobQueue   JobQueueSettings     `mapstructure:"jobqueue" yaml:"jobqueue"`
	Muxer      MuxerSettings        `mapstructure:"muxer" yaml:"muxer"`
	Events     EventsSettings       `mapstructure:"events" yaml:"events"`
	Telemetry  TelemetrySettings    `mapstructure:"telemetry" yaml:"telemetry"`
	Watermill  WatermillSettings    `mapstructure:"watermill" yaml:"watermill"`
	Simulation SimulationSettings   `mapstructure:"simulation" yaml:"simulation"`
}

// SessionSettings configures camera sessions
type SessionSettings struct {
	Devices       int               `mapstructure:"devices" yaml:"devices"`             // physical devices bundled in one session, 1 or 2
	MetadataCount int               `mapstructure:"metadatacount" yaml:"metadatacount"` // metadata buffers allocated at open
	MetadataSize  int               `mapstructure:"metadatasize" yaml:"metadatasize"`   // bytes per metadata buffer
	CallTimeout   time.Duration     `mapstructure:"calltimeout" yaml:"calltimeout"`     // deadline for one API call, 0 waits forever
	Params        map[string]string `mapstructure:"params" yaml:"params"`               // parameters applied at open
}

// JobQueueSettings configures the deferred job scheduler
type JobQueueSettings struct {
	Capacity    int           `mapstructure:"capacity" yaml:"capacity"`       // ongoing job table size
	StopTimeout time.Duration `mapstructure:"stoptimeout" yaml:"stoptimeout"` // wait for the worker on shutdown
}

// MuxerSettings configures the dual device synchronizer
type MuxerSettings struct {
	ChannelDepth int `mapstructure:"channeldepth" yaml:"channeldepth"` // buffered artifacts per role
	MaxPending   int `mapstructure:"maxpending" yaml:"maxpending"`     // unmatched artifacts held per role
}

// EventsSettings configures the notification bus
type EventsSettings struct {
	BufferSize int           `mapstructure:"buffersize" yaml:"buffersize"`
	Workers    int           `mapstructure:"workers" yaml:"workers"`
	DedupTTL   time.Duration `mapstructure:"dedupttl" yaml:"dedupttl"` // 0 disables deduplication
	LogRate    float64       `mapstructure:"lograte" yaml:"lograte"`   // warnings per second, 0 unlimited
	LogBurst   int           `mapstructure:"logburst" yaml:"logburst"`
}

// TelemetrySettings configures metrics and error reporting
type TelemetrySettings struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`         // true to serve prometheus metrics
	Listen      string `mapstructure:"listen" yaml:"listen"`           // IP address and port to listen on
	SentryDSN   string `mapstructure:"sentrydsn" yaml:"sentrydsn"`     // empty disables sentry reporting
	Environment string `mapstructure:"environment" yaml:"environment"` // sentry environment name
}

// WatermillSettings configures notification publishing over watermill
type WatermillSettings struct {
	Enabled      bool   `mapstructure:"enabled" yaml:"enabled"`
	Topic        string `mapstructure:"topic" yaml:"topic"`
	OutputBuffer int64  `mapstructure:"outputbuffer" yaml:"outputbuffer"`
}

// SimulationSettings drives the simulated hardware used by the session command
type SimulationSettings struct {
	Frames        int           `mapstructure:"frames" yaml:"frames"`               // frames per pipeline
	FrameInterval time.Duration `mapstructure:"frameinterval" yaml:"frameinterval"` // time between frames
	Jitter        time.Duration `mapstructure:"jitter" yaml:"jitter"`               // random extra delay per frame
	Latency       time.Duration `mapstructure:"latency" yaml:"latency"`             // per operation device latency
	SkipEvery     int           `mapstructure:"skipevery" yaml:"skipevery"`         // secondary drops every n-th frame, 0 never
	Pictures      int           `mapstructure:"pictures" yaml:"pictures"`           // pictures taken while previewing
	FailOn        string        `mapstructure:"failon" yaml:"failon"`               // device operation to fail with no-memory
}

// settingsInstance is the current settings instance
var (
	settingsInstance *Settings
	once             sync.Once
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file and environment variables into the global
// settings instance
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	if err := initViper(viper.GetViper()); err != nil {
		return nil, err
	}

	settings, err := decode(viper.GetViper())
	if err != nil {
		return nil, err
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// LoadFile reads settings from path on a private viper instance without touching
// the global settings
func LoadFile(path string) (*Settings, error) {
	v := viper.New()
	setDefaultConfig(v)
	bindEnv(v)
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("path", path).
			Build()
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Settings, error) {
	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("operation", "unmarshal").
			Build()
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategoryValidation).
			Build()
	}
	return settings, nil
}

// initViper sets defaults, binds the environment and reads config.yaml from the
// default locations, creating it when missing. A config file set explicitly
// with SetConfigFile must exist.
func initViper(v *viper.Viper) error {
	setDefaultConfig(v)
	bindEnv(v)

	explicit := v.ConfigFileUsed() != ""
	if !explicit {
		v.SetConfigName("config")
		v.SetConfigType("yaml")

		configPaths, err := GetDefaultConfigPaths()
		if err != nil {
			return err
		}
		for _, path := range configPaths {
			v.AddConfigPath(path)
		}
	}

	err := v.ReadInConfig()
	if err == nil {
		return nil
	}

	var notFound viper.ConfigFileNotFoundError
	if !explicit && errors.As(err, &notFound) {
		return createDefaultConfig(v)
	}
	return errors.New(err).
		Component("conf").
		Category(errors.CategoryConfiguration).
		Context("operation", "read-config").
		Build()
}

// createDefaultConfig writes the embedded default config to the first default
// config path and reads it
func createDefaultConfig(v *viper.Viper) error {
	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return err
	}
	configPath := filepath.Join(configPaths[0], "config.yaml")

	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		return errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("operation", "read-embedded-config").
			Build()
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("operation", "create-config-dir").
			Build()
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil { //nolint:gosec // config is not secret
		return errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("operation", "write-default-config").
			Build()
	}

	GetLogger().Info("created default config file", logger.String("path", configPath))
	return v.ReadInConfig()
}

// GetSettings returns the current settings instance
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// Setting returns the current settings instance, loading it if necessary
func Setting() *Settings {
	once.Do(func() {
		if GetSettings() == nil {
			if _, err := Load(); err != nil {
				GetLogger().Error("failed to load settings", logger.Error(err))
			}
		}
	})
	return GetSettings()
}

// SaveYAMLConfig writes settings to configPath. It replaces the file atomically
// where the filesystem allows it and does not preserve comments.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	yamlData, err := yaml.Marshal(settings)
	if err != nil {
		return errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("operation", "marshal").
			Build()
	}

	tempFile, err := os.CreateTemp(filepath.Dir(configPath), "config-*.yaml")
	if err != nil {
		return errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("operation", "create-temp").
			Build()
	}
	tempFileName := tempFile.Name()
	defer func() { _ = os.Remove(tempFileName) }()

	if _, err := tempFile.Write(yamlData); err != nil {
		_ = tempFile.Close()
		return errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("operation", "write-temp").
			Build()
	}
	if err := tempFile.Close(); err != nil {
		return errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("operation", "close-temp").
			Build()
	}

	return moveFile(tempFileName, configPath)
}

// YAML returns the settings serialized as YAML
func (s *Settings) YAML() ([]byte, error) {
	return yaml.Marshal(s)
}
