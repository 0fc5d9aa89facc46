package session

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/camhal/internal/buildinfo"
	"github.com/tphakala/camhal/internal/conf"
	"github.com/tphakala/camhal/internal/runner"
)

// Command creates the command running one camera session on simulated hardware.
func Command(settings *conf.Settings, info *buildinfo.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Run a camera session on simulated devices",
		Long: "Opens a camera session on simulated hardware, streams preview frames " +
			"through the dual device synchronizer, takes pictures and releases the session.",
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := runner.Run(cmd.Context(), settings, info)
			if report != nil {
				printReport(cmd, report)
			}
			return err
		},
	}

	// Set up flags specific to the 'session' command
	if err := setupFlags(cmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
	}

	return cmd
}

// setupFlags configures flags specific to the session command.
func setupFlags(cmd *cobra.Command, settings *conf.Settings) error {
	flags := cmd.Flags()
	flags.IntVar(&settings.Simulation.Frames, "frames", viper.GetInt("simulation.frames"), "Frames produced per device pipeline")
	flags.DurationVar(&settings.Simulation.FrameInterval, "interval", viper.GetDuration("simulation.frameinterval"), "Time between frames")
	flags.DurationVar(&settings.Simulation.Jitter, "jitter", viper.GetDuration("simulation.jitter"), "Random extra delay per frame")
	flags.DurationVar(&settings.Simulation.Latency, "latency", viper.GetDuration("simulation.latency"), "Latency of every simulated device operation")
	flags.IntVar(&settings.Simulation.SkipEvery, "skip-every", viper.GetInt("simulation.skipevery"), "Secondary device drops every n-th frame, 0 never")
	flags.IntVar(&settings.Simulation.Pictures, "pictures", viper.GetInt("simulation.pictures"), "Pictures taken while previewing")
	flags.StringVar(&settings.Simulation.FailOn, "fail-on", viper.GetString("simulation.failon"), "Device operation to fail with no-memory, e.g. allocate-params")
	flags.BoolVar(&settings.Watermill.Enabled, "watermill", viper.GetBool("watermill.enabled"), "Publish notifications over watermill")
	flags.StringVar(&settings.Telemetry.SentryDSN, "sentry-dsn", viper.GetString("telemetry.sentrydsn"), "Report failures to Sentry at this DSN")

	bindings := map[string]string{
		"simulation.frames":        "frames",
		"simulation.frameinterval": "interval",
		"simulation.jitter":        "jitter",
		"simulation.latency":       "latency",
		"simulation.skipevery":     "skip-every",
		"simulation.pictures":      "pictures",
		"simulation.failon":        "fail-on",
		"watermill.enabled":        "watermill",
		"telemetry.sentrydsn":      "sentry-dsn",
	}
	for key, name := range bindings {
		if err := viper.BindPFlag(key, flags.Lookup(name)); err != nil {
			return fmt.Errorf("error binding flag %s: %w", name, err)
		}
	}

	return nil
}

func printReport(cmd *cobra.Command, r *runner.Report) {
	out := cmd.OutOrStdout()
	f := r.Frames
	_, _ = fmt.Fprintf(out, "session %s finished in state %s\n", r.SessionID, r.FinalState)
	_, _ = fmt.Fprintf(out, "  frames produced: primary %d, secondary %d\n", r.Produced[0], r.Produced[1])
	_, _ = fmt.Fprintf(out, "  composed %d, passthrough %d, failed %d, dropped %d, discarded %d, flushed %d\n",
		f.Composed, f.Passthrough, f.Failed, f.Dropped, f.Discarded, f.Flushed)
	_, _ = fmt.Fprintf(out, "  pictures requested %d, captured %d\n", r.Pictures, r.Captured)
	_, _ = fmt.Fprintf(out, "  jobs enqueued %d, completed %d, failed %d, rejected %d\n",
		r.Jobs.Enqueued, r.Jobs.Completed, r.Jobs.Failed, r.Jobs.Rejected)
	_, _ = fmt.Fprintf(out, "  notifications published %d\n", r.Published)
	if r.Outstanding != 0 {
		_, _ = fmt.Fprintf(out, "  WARNING: %d frame buffers were never released\n", r.Outstanding)
	}
}
