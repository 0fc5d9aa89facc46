package hwi

import (
	"context"

	"github.com/tphakala/camhal/internal/errors"
	"github.com/tphakala/camhal/internal/jobqueue"
	"github.com/tphakala/camhal/internal/logger"
)

// snapshotOutcome is the payload of EventSnapshotDone
type snapshotOutcome struct {
	Job jobqueue.JobID
	Err error
}

// deferredJobs runs DeferredCommands against the hardware and keeps the ids of
// the session's long lived jobs. The ids are only touched on the engine goroutine
// (or before it starts).
type deferredJobs struct {
	sched *jobqueue.Scheduler[DeferredCommand]
	hw    Hardware
	post  func(Event, any) bool
	log   logger.Logger

	paramAlloc jobqueue.JobID
	paramInit  jobqueue.JobID
	metadata   jobqueue.JobID
	pprocInit  jobqueue.JobID
	jpeg       jobqueue.JobID
	pprocStart jobqueue.JobID
	streams    map[StreamType]jobqueue.JobID
}

func newDeferredJobs(hw Hardware, cfg *jobqueue.Config) *deferredJobs {
	d := &deferredJobs{
		hw:      hw,
		post:    func(Event, any) bool { return false },
		log:     logger.Global().Module("hwi").Module("jobs"),
		streams: make(map[StreamType]jobqueue.JobID),
	}
	d.sched = jobqueue.NewScheduler(d.run, cfg)
	return d
}

// run is the scheduler handler. It waits for the command's dependencies and then
// dispatches on the command type.
func (d *deferredJobs) run(ctx context.Context, id jobqueue.JobID, cmd DeferredCommand) error {
	err := d.execute(ctx, cmd)
	if c, ok := cmd.(AllocateBuffers); ok && c.Stream == StreamSnapshot && c.Start {
		d.post(EventSnapshotDone, snapshotOutcome{Job: id, Err: err})
	}
	return err
}

func (d *deferredJobs) execute(ctx context.Context, cmd DeferredCommand) error {
	for _, dep := range cmd.dependencies() {
		if err := d.sched.WaitContext(ctx, dep); err != nil {
			return err
		}
	}

	switch c := cmd.(type) {
	case ParamAlloc:
		return d.hw.AllocateParameters(ctx)
	case ParamInit:
		return d.hw.InitParameters(ctx)
	case MetadataAlloc:
		return d.hw.AllocateMetadata(ctx, c.Count, c.Size)
	case PostProcInit:
		return d.hw.InitPostProcessor(ctx)
	case CreateJPEGSession:
		return d.hw.CreateEncodeSession(ctx)
	case PostProcStart:
		return d.hw.StartPostProcessor(ctx)
	case AllocateBuffers:
		return d.allocateBuffers(ctx, c)
	case Generic:
		if c.Task == nil {
			return nil
		}
		return c.Task(ctx)
	default:
		return errors.Newf("unknown deferred command %T", cmd).
			Component(ComponentHWI).
			Category(errors.CategoryJobQueue).
			Build()
	}
}

func (d *deferredJobs) allocateBuffers(ctx context.Context, c AllocateBuffers) error {
	if err := d.hw.AllocateStreamBuffers(ctx, c.Stream); err != nil {
		return err
	}
	if !c.Start {
		return nil
	}
	if err := d.hw.StartStream(ctx, c.Stream); err != nil {
		return err
	}
	if c.Stream == StreamSnapshot {
		return d.hw.CaptureSnapshot(ctx)
	}
	return nil
}

// enqueue schedules cmd with the hwi component attached to rejections
func (d *deferredJobs) enqueue(cmd DeferredCommand) (jobqueue.JobID, error) {
	id, err := d.sched.TryEnqueue(cmd)
	if err != nil {
		return jobqueue.NoJob, errors.New(err).
			Component(ComponentHWI).
			Context("command", cmd.CommandName()).
			Build()
	}
	return id, nil
}

// open schedules the jobs every session needs: parameter alloc and init, metadata
// alloc and post processor init
func (d *deferredJobs) open(metadataCount, metadataSize int) error {
	var err error
	if d.paramAlloc, err = d.enqueue(ParamAlloc{}); err != nil {
		return err
	}
	if d.paramInit, err = d.enqueue(ParamInit{Alloc: d.paramAlloc}); err != nil {
		return err
	}
	if d.metadata, err = d.enqueue(MetadataAlloc{Count: metadataCount, Size: metadataSize}); err != nil {
		return err
	}
	d.pprocInit, err = d.enqueue(PostProcInit{Params: d.paramInit})
	return err
}

// waitParams blocks until parameters are initialized
func (d *deferredJobs) waitParams(ctx context.Context) error {
	return d.sched.WaitContext(ctx, d.paramInit)
}

// ensureCapturePipeline schedules the encode session and post processor start the
// first time a picture is taken, or again after they failed
func (d *deferredJobs) ensureCapturePipeline() error {
	if d.failed(d.jpeg) || d.failed(d.pprocStart) {
		d.sched.Clear(d.jpeg)
		d.sched.Clear(d.pprocStart)
		d.jpeg, d.pprocStart = jobqueue.NoJob, jobqueue.NoJob
	}
	if d.jpeg != jobqueue.NoJob {
		return nil
	}

	var err error
	if d.jpeg, err = d.enqueue(CreateJPEGSession{PostProc: d.pprocInit}); err != nil {
		return err
	}
	d.pprocStart, err = d.enqueue(PostProcStart{JPEG: d.jpeg})
	return err
}

// startStream schedules buffer allocation and start for stream
func (d *deferredJobs) startStream(stream StreamType) (jobqueue.JobID, error) {
	d.clearStream(stream)

	after := jobqueue.NoJob
	if stream == StreamSnapshot {
		after = d.pprocStart
	}
	id, err := d.enqueue(AllocateBuffers{Stream: stream, Start: true, Metadata: d.metadata, After: after})
	if err != nil {
		return jobqueue.NoJob, err
	}
	d.streams[stream] = id
	return id, nil
}

// waitStream blocks until the start job for stream has finished
func (d *deferredJobs) waitStream(ctx context.Context, stream StreamType) error {
	return d.sched.WaitContext(ctx, d.streams[stream])
}

// clearStream forgets the start job for stream, dropping a retained failure
func (d *deferredJobs) clearStream(stream StreamType) {
	if id, ok := d.streams[stream]; ok {
		d.sched.Clear(id)
		delete(d.streams, stream)
	}
}

// waitAll blocks until every job scheduled so far, including those added with
// Session.Defer, has finished. Jobs run in FIFO order, so waiting on the latest
// is enough; its failure is not reported.
func (d *deferredJobs) waitAll(ctx context.Context) error {
	err := d.sched.WaitContext(ctx, d.sched.LastID())
	if jobqueue.IsDependencyError(err) {
		return nil
	}
	return err
}

// clearFailures drops every retained failure owned by the session
func (d *deferredJobs) clearFailures() {
	for _, id := range []jobqueue.JobID{d.paramAlloc, d.paramInit, d.metadata, d.pprocInit, d.jpeg, d.pprocStart} {
		d.sched.Clear(id)
	}
	for stream := range d.streams {
		d.clearStream(stream)
	}
}

func (d *deferredJobs) failed(id jobqueue.JobID) bool {
	status, ok := d.sched.Status(id)
	return ok && status == jobqueue.JobStatusFailed
}
