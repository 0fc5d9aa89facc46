// env.go - Environment variable configuration and validation for camhal
package conf

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/tphakala/camhal/internal/errors"
	"github.com/tphakala/camhal/internal/logger"
)

// envBinding holds metadata for environment variable bindings (internal use)
type envBinding struct {
	ConfigKey string             // Viper config key
	EnvVar    string             // Environment variable name
	Validate  func(string) error // Optional validation function
}

// getEnvBindings returns the explicitly validated environment variables. Every
// other key can still be overridden as CAMHAL_<SECTION>_<KEY>.
func getEnvBindings() []envBinding {
	return []envBinding{
		{"debug", "CAMHAL_DEBUG", validateEnvBool},
		{"logging.default_level", "CAMHAL_LOG_LEVEL", validateEnvLogLevel},
		{"session.devices", "CAMHAL_DEVICES", validateEnvDevices},
		{"session.calltimeout", "CAMHAL_CALL_TIMEOUT", validateEnvDuration},
		{"jobqueue.capacity", "CAMHAL_JOB_CAPACITY", validateEnvPositiveInt},
		{"telemetry.listen", "CAMHAL_METRICS_LISTEN", nil},
		{"telemetry.sentrydsn", "CAMHAL_SENTRY_DSN", nil},
	}
}

// bindEnv enables CAMHAL_ prefixed overrides and binds the validated variables.
// Invalid values are logged and left to ValidateSettings to reject.
func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := bindEnvVars(v); err != nil {
		GetLogger().Warn("environment configuration issues", logger.Error(err))
	}
}

// bindEnvVars sets up environment variable bindings with validation (internal)
func bindEnvVars(v *viper.Viper) error {
	var warnings []string

	for _, binding := range getEnvBindings() {
		if err := v.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("failed to bind %s: %v", binding.EnvVar, err))
			continue
		}

		if binding.Validate != nil {
			if envValue := os.Getenv(binding.EnvVar); envValue != "" {
				if err := binding.Validate(envValue); err != nil {
					warnings = append(warnings, fmt.Sprintf("invalid %s value %q: %v", binding.EnvVar, envValue, err))
				}
			}
		}
	}

	if len(warnings) > 0 {
		return errors.Newf("environment variable issues: %s", strings.Join(warnings, "; ")).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return nil
}

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(value); err != nil {
		return fmt.Errorf("must be true or false")
	}
	return nil
}

func validateEnvLogLevel(value string) error {
	switch strings.ToLower(value) {
	case "trace", "debug", "info", "warn", "warning", "error":
		return nil
	default:
		return fmt.Errorf("must be one of trace, debug, info, warn, error")
	}
}

func validateEnvDevices(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil || n < 1 || n > 2 {
		return fmt.Errorf("must be 1 or 2")
	}
	return nil
}

func validateEnvDuration(value string) error {
	if _, err := time.ParseDuration(value); err != nil {
		return fmt.Errorf("must be a duration such as 5s: %w", err)
	}
	return nil
}

func validateEnvPositiveInt(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		return fmt.Errorf("must be a positive integer")
	}
	return nil
}
