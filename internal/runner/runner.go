// Package runner drives a camera session on simulated hardware end to end. It
// wires the notification bus, metrics, the dual device synchronizer and an hwi
// session, streams preview frames through the synchronizer and takes pictures.
package runner

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tphakala/camhal/internal/buildinfo"
	"github.com/tphakala/camhal/internal/conf"
	"github.com/tphakala/camhal/internal/errors"
	"github.com/tphakala/camhal/internal/hwi"
	"github.com/tphakala/camhal/internal/jobqueue"
	"github.com/tphakala/camhal/internal/logger"
	"github.com/tphakala/camhal/internal/muxer"
	"github.com/tphakala/camhal/internal/observability"
	"github.com/tphakala/camhal/internal/simhw"
)

const componentRunner = "runner"

// statePollInterval is how often the runner checks whether a capture finished
const statePollInterval = 2 * time.Millisecond

// Report summarizes one session run
type Report struct {
	SessionID   string
	FinalState  string
	Pictures    int
	Captured    int
	Produced    [2]int64 // artifacts created, indexed by muxer.Role
	Outstanding int64    // artifacts never released, always zero after a clean run
	Frames      muxer.Stats
	Jobs        jobqueue.Stats
	Published   int64 // notifications received back from the watermill topic
	MetricsAddr string
}

// Run opens a session on simulated hardware configured by settings, previews for
// the configured number of frames while taking pictures and closes everything
// down. The report is returned even when the run fails part way.
func Run(ctx context.Context, settings *conf.Settings, info *buildinfo.Context) (*Report, error) {
	log := logger.Global().Module(componentRunner)
	report := &Report{}

	m, err := observability.NewMetrics()
	if err != nil {
		return report, errors.New(err).
			Component(componentRunner).
			Category(errors.CategoryConfiguration).
			Context("operation", "create-metrics").
			Build()
	}

	if settings.Telemetry.Enabled {
		endpoint, err := observability.NewEndpoint(settings.Telemetry.Listen, m)
		if err != nil {
			return report, err
		}
		if err := endpoint.Start(); err != nil {
			return report, err
		}
		defer endpoint.Shutdown()
		report.MetricsAddr = endpoint.Addr()
	}

	notes, err := newNotifications(ctx, settings, m, info)
	if err != nil {
		return report, err
	}
	defer notes.close(report)

	mux, err := muxer.NewSynchronizer(&muxer.Config{
		Merger: simhw.ConcatMerger{Separator: []byte("|"), Latency: settings.Simulation.Latency},
		Sink: muxer.SinkFunc(func(out muxer.Output) {
			log.Trace("frame delivered",
				logger.Uint32("frame_index", out.FrameIndex),
				logger.Bool("composed", out.Composed),
				logger.Int("size", len(out.Buffer.Bytes())))
		}),
		Notifier:     notes.bus,
		Recorder:     m.Muxer,
		ChannelDepth: settings.Muxer.ChannelDepth,
		MaxPending:   settings.Muxer.MaxPending,
	})
	if err != nil {
		return report, err
	}
	mux.Start(ctx)
	defer mux.Stop()

	device := simhw.NewDevice(settings.Simulation.Latency)
	if op := settings.Simulation.FailOn; op != "" {
		log.Warn("injecting device fault", logger.String("operation", op))
		device.FailWith(op, errors.CodeNoMemory)
	}

	session, err := hwi.Open(ctx, device, &hwi.Config{
		Devices:       settings.Session.Devices,
		MetadataCount: settings.Session.MetadataCount,
		MetadataSize:  settings.Session.MetadataSize,
		JobCapacity:   settings.JobQueue.Capacity,
		StopTimeout:   settings.JobQueue.StopTimeout,
		Notifier:      notes.bus,
		GateRecorder:  m.HWI,
		JobRecorder:   m.JobQueue,
		Compositor:    mux,
	})
	if err != nil {
		return report, err
	}
	report.SessionID = session.ID()

	pipelines := newPipelines(settings)
	runErr := drive(ctx, settings, session, mux, pipelines, report)

	closeCtx, cancel := callContext(context.WithoutCancel(ctx), settings.JobQueue.StopTimeout)
	closeErr := session.Close(closeCtx)
	cancel()
	mux.Stop()

	report.FinalState = session.State().String()
	report.Jobs = session.JobStats()
	report.Frames = mux.Stats()
	report.Captured = device.Captures()
	for _, p := range pipelines {
		report.Produced[p.Role] = p.Produced()
		report.Outstanding += p.Outstanding()
	}

	log.Info("session run finished",
		logger.String("session_id", report.SessionID),
		logger.Uint64("composed", report.Frames.Composed),
		logger.Uint64("dropped", report.Frames.Dropped),
		logger.Int("captured", report.Captured))
	return report, errors.Join(runErr, closeErr)
}

func newPipelines(settings *conf.Settings) []*simhw.Pipeline {
	sim := settings.Simulation
	pipelines := []*simhw.Pipeline{{
		Role:     muxer.RolePrimary,
		Frames:   sim.Frames,
		Interval: sim.FrameInterval,
		Jitter:   sim.Jitter,
	}}
	if settings.Session.Devices > 1 {
		pipelines = append(pipelines, &simhw.Pipeline{
			Role:      muxer.RoleSecondary,
			Frames:    sim.Frames,
			Interval:  sim.FrameInterval,
			Jitter:    sim.Jitter,
			SkipEvery: sim.SkipEvery,
		})
	}
	return pipelines
}

// drive applies parameters, previews while the pipelines stream and takes the
// configured pictures, then stops the preview
func drive(ctx context.Context, settings *conf.Settings, session *hwi.Session, mux *muxer.Synchronizer, pipelines []*simhw.Pipeline, report *Report) error {
	timeout := settings.Session.CallTimeout

	if len(settings.Session.Params) > 0 {
		callCtx, cancel := callContext(ctx, timeout)
		err := session.SetParameters(callCtx, hwi.Params(settings.Session.Params))
		cancel()
		if err != nil {
			return err
		}
	}

	callCtx, cancel := callContext(ctx, timeout)
	err := session.StartPreview(callCtx)
	cancel()
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range pipelines {
		g.Go(func() error { return p.Run(gctx, mux) })
	}
	g.Go(func() error {
		return takePictures(gctx, settings, session, report)
	})
	if err := g.Wait(); err != nil {
		return err
	}

	callCtx, cancel = callContext(ctx, timeout)
	defer cancel()
	return session.StopPreview(callCtx)
}

// takePictures spreads the pictures evenly over the preview and waits for each
// capture to finish before the next one
func takePictures(ctx context.Context, settings *conf.Settings, session *hwi.Session, report *Report) error {
	sim := settings.Simulation
	if sim.Pictures <= 0 {
		return nil
	}
	spacing := time.Duration(sim.Frames) * sim.FrameInterval / time.Duration(sim.Pictures+1)

	for range sim.Pictures {
		if err := sleep(ctx, spacing); err != nil {
			return err
		}

		callCtx, cancel := callContext(ctx, settings.Session.CallTimeout)
		err := session.TakePicture(callCtx)
		cancel()
		if err != nil {
			return err
		}
		report.Pictures++

		if err := waitForState(ctx, session, hwi.StatePreviewing); err != nil {
			return err
		}
	}
	return nil
}

func waitForState(ctx context.Context, session *hwi.Session, want hwi.State) error {
	ticker := time.NewTicker(statePollInterval)
	defer ticker.Stop()
	for session.State() != want {
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// callContext bounds one API call; a zero timeout waits as long as ctx does
func callContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
