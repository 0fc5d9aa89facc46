package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/tphakala/camhal/cmd/config"
	"github.com/tphakala/camhal/cmd/session"
	"github.com/tphakala/camhal/cmd/version"
	"github.com/tphakala/camhal/internal/buildinfo"
	"github.com/tphakala/camhal/internal/conf"
	"github.com/tphakala/camhal/internal/logger"
)

// RootCommand creates and returns the root command
func RootCommand(settings *conf.Settings, info *buildinfo.Context) *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "camhal",
		Short:         "Camera HAL control layer",
		Long:          "Drives camera sessions through the hardware interface control layer on simulated devices.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Set up the global flags for the root command.
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config.yaml, replaces the default search paths")
	if err := setupFlags(rootCmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
	}

	versionCmd := version.Command(info)
	rootCmd.AddCommand(
		session.Command(settings, info),
		config.Command(settings),
		versionCmd,
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// The version command needs no configuration
		if cmd.Name() == versionCmd.Name() {
			return nil
		}

		if configPath != "" {
			if err := reloadFrom(cmd, configPath, settings); err != nil {
				return err
			}
		}

		// Flags may have produced values the config file could not
		if err := conf.ValidateSettings(settings); err != nil {
			return err
		}
		return initialize(settings)
	}

	return rootCmd
}

// reloadFrom replaces settings with the contents of path and reapplies the flags
// given on the command line so they keep precedence
func reloadFrom(cmd *cobra.Command, path string, settings *conf.Settings) error {
	changed := map[string]string{}
	cmd.Flags().Visit(func(f *pflag.Flag) {
		changed[f.Name] = f.Value.String()
	})

	loaded, err := conf.LoadFile(path)
	if err != nil {
		return err
	}
	*settings = *loaded

	for name, value := range changed {
		if name == "config" {
			continue
		}
		if err := cmd.Flags().Set(name, value); err != nil {
			return fmt.Errorf("error reapplying flag %s: %w", name, err)
		}
	}
	return nil
}

// initialize installs the central logger configured by settings
func initialize(settings *conf.Settings) error {
	if settings.Debug {
		settings.Logging.DefaultLevel = string(logger.LogLevelDebug)
		if settings.Logging.Console != nil {
			settings.Logging.Console.Level = string(logger.LogLevelDebug)
		}
	}

	central, err := logger.NewCentralLogger(&settings.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.SetGlobal(central)
	return nil
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) error {
	flags := rootCmd.PersistentFlags()
	flags.BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")
	flags.StringVar(&settings.Logging.DefaultLevel, "log-level", viper.GetString("logging.default_level"), "Log level (trace, debug, info, warn, error)")
	flags.IntVar(&settings.Session.Devices, "devices", viper.GetInt("session.devices"), "Physical devices bundled in a session, 1 or 2")
	flags.DurationVar(&settings.Session.CallTimeout, "call-timeout", viper.GetDuration("session.calltimeout"), "Deadline for one API call, 0 waits forever")
	flags.IntVar(&settings.JobQueue.Capacity, "job-capacity", viper.GetInt("jobqueue.capacity"), "Ongoing deferred job table size")
	flags.BoolVar(&settings.Telemetry.Enabled, "telemetry", viper.GetBool("telemetry.enabled"), "Enable Prometheus telemetry endpoint")
	flags.StringVar(&settings.Telemetry.Listen, "listen", viper.GetString("telemetry.listen"), "Listen address and port of telemetry endpoint")

	// Bind flags to their settings keys so viper reports command line values
	bindings := map[string]string{
		"debug":                 "debug",
		"logging.default_level": "log-level",
		"session.devices":       "devices",
		"session.calltimeout":   "call-timeout",
		"jobqueue.capacity":     "job-capacity",
		"telemetry.enabled":     "telemetry",
		"telemetry.listen":      "listen",
	}
	for key, name := range bindings {
		if err := viper.BindPFlag(key, flags.Lookup(name)); err != nil {
			return fmt.Errorf("error binding flag %s: %w", name, err)
		}
	}

	return nil
}
