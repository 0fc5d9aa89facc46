package jobqueue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tphakala/camhal/internal/errors"
	"github.com/tphakala/camhal/internal/events"
	"github.com/tphakala/camhal/internal/logger"
	"github.com/tphakala/camhal/internal/observability/metrics"
)

// Handler executes one job. It may call Wait on ids of earlier jobs.
type Handler[C any] func(ctx context.Context, id JobID, cmd C) error

// Config holds optional scheduler collaborators
type Config struct {
	Capacity int             // Size of the ongoing job table, DefaultCapacity when zero
	Notifier events.Notifier // Receives one notification per root job failure
	Recorder metrics.JobRecorder
}

// job is one entry in the table. done is closed once the job has finished;
// err is written before done is closed and never changes afterwards.
type job[C any] struct {
	id         JobID
	cmd        C
	status     JobStatus
	err        error
	done       chan struct{}
	enqueuedAt time.Time
}

// Scheduler runs jobs of command type C on a single worker goroutine
type Scheduler[C any] struct {
	handler  Handler[C]
	capacity int
	notifier events.Notifier
	recorder metrics.JobRecorder
	log      *slog.Logger

	mu      sync.Mutex
	table   map[JobID]*job[C]
	fifo    []*job[C]
	lastID  JobID
	running bool
	stopped bool
	cancel  context.CancelFunc
	stats   Stats

	signal chan struct{}
	worker sync.WaitGroup
}

// NewScheduler creates a stopped scheduler dispatching every job to handler
func NewScheduler[C any](handler Handler[C], cfg *Config) *Scheduler[C] {
	if cfg == nil {
		cfg = &Config{}
	}
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = events.Discard
	}
	var recorder metrics.JobRecorder = metrics.NoOpRecorder{}
	if cfg.Recorder != nil {
		recorder = cfg.Recorder
	}

	return &Scheduler[C]{
		handler:  handler,
		capacity: capacity,
		notifier: notifier,
		recorder: recorder,
		log:      logger.ForService(serviceName),
		table:    make(map[JobID]*job[C], capacity),
		signal:   make(chan struct{}, 1),
	}
}

// Start launches the worker. Jobs run with a context derived from ctx; cancelling
// ctx stops the scheduler like Stop does.
func (s *Scheduler[C]) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running || s.stopped {
		s.mu.Unlock()
		return
	}
	workerCtx, cancel := context.WithCancel(ctx)
	s.running = true
	s.cancel = cancel
	s.mu.Unlock()

	s.worker.Go(func() {
		s.processJobs(workerCtx)
	})
}

// Stop stops the scheduler and waits for the worker to exit
func (s *Scheduler[C]) Stop() error {
	return s.StopWithTimeout(10 * time.Second)
}

// StopWithTimeout rejects new jobs, cancels the running job's context, fails every
// job still queued with ErrQueueStopped and waits up to timeout for the worker.
// Stopping is terminal.
func (s *Scheduler[C]) StopWithTimeout(timeout time.Duration) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	c := make(chan struct{})
	go func() {
		s.worker.Wait()
		close(c)
	}()

	var err error
	select {
	case <-c:
	case <-time.After(timeout):
		err = errors.Newf("timed out waiting for job worker after %v", timeout).
			Component("jobqueue").
			Category(errors.CategoryTimeout).
			Code(errors.CodeTimeout).
			Build()
	}

	s.failQueued()
	return err
}

// Enqueue submits cmd and returns its id, or NoJob when the table is full or the
// scheduler is not running.
func (s *Scheduler[C]) Enqueue(cmd C) JobID {
	id, _ := s.TryEnqueue(cmd)
	return id
}

// TryEnqueue is Enqueue with the rejection reason
func (s *Scheduler[C]) TryEnqueue(cmd C) (JobID, error) {
	name := commandName(cmd)

	s.mu.Lock()
	if !s.running {
		s.stats.Rejected++
		s.mu.Unlock()
		s.recorder.RecordJob(name, metrics.StatusRejected)
		return NoJob, ErrQueueStopped
	}
	if len(s.table) >= s.capacity {
		s.stats.Rejected++
		s.mu.Unlock()
		s.recorder.RecordJob(name, metrics.StatusRejected)
		s.log.Warn("job table full", "command", name, "capacity", s.capacity)
		return NoJob, errors.New(ErrQueueFull).
			Context("command", name).
			Context("capacity", s.capacity).
			Build()
	}

	j := &job[C]{
		id:         s.nextIDLocked(),
		cmd:        cmd,
		status:     JobStatusPending,
		done:       make(chan struct{}),
		enqueuedAt: time.Now(),
	}
	s.table[j.id] = j
	s.fifo = append(s.fifo, j)
	s.stats.Enqueued++
	depth := len(s.table)
	s.mu.Unlock()

	s.recorder.SetQueueDepth(depth)
	s.logJobEnqueued(j.id, name, depth)
	s.wake()
	return j.id, nil
}

// LastID returns the id most recently handed out by Enqueue, or NoJob before
// the first job. The worker runs jobs in FIFO order, so once it has finished
// every earlier job has too.
func (s *Scheduler[C]) LastID() JobID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastID
}

// nextIDLocked returns the next id after lastID that is neither NoJob nor still in
// the table. The caller holds mu and has checked the table is not full.
func (s *Scheduler[C]) nextIDLocked() JobID {
	for {
		s.lastID++
		if s.lastID == NoJob {
			continue
		}
		if _, busy := s.table[s.lastID]; !busy {
			return s.lastID
		}
	}
}

func (s *Scheduler[C]) wake() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

// Wait blocks until job id finishes. It returns nil for NoJob, for ids no longer
// in the table and for successful jobs; a retained failure is returned as a
// *DependencyError.
func (s *Scheduler[C]) Wait(id JobID) error {
	return s.WaitContext(context.Background(), id)
}

// WaitContext is Wait bounded by ctx
func (s *Scheduler[C]) WaitContext(ctx context.Context, id JobID) error {
	if id == NoJob {
		return nil
	}

	s.mu.Lock()
	j, ok := s.table[id]
	s.mu.Unlock()
	if !ok {
		return nil
	}

	select {
	case <-j.done:
	case <-ctx.Done():
		return errors.New(ctx.Err()).
			Component("jobqueue").
			Category(errors.CategoryCancellation).
			Context("job_id", uint32(id)).
			Build()
	}

	if j.err == nil {
		return nil
	}
	return &DependencyError{JobID: id, Err: j.err}
}

// Status returns the status of job id and whether it is still in the table
func (s *Scheduler[C]) Status(id JobID) (JobStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.table[id]
	if !ok {
		return JobStatusCompleted, false
	}
	return j.status, true
}

// Check reports whether job id is still pending or running
func (s *Scheduler[C]) Check(id JobID) bool {
	status, ok := s.Status(id)
	return ok && (status == JobStatusPending || status == JobStatusRunning)
}

// Clear drops a retained failure so its table slot can be reused. It returns
// false when id is not a finished failed job.
func (s *Scheduler[C]) Clear(id JobID) bool {
	s.mu.Lock()
	j, ok := s.table[id]
	if !ok || j.status != JobStatusFailed {
		s.mu.Unlock()
		return false
	}
	delete(s.table, id)
	depth := len(s.table)
	s.mu.Unlock()

	s.recorder.SetQueueDepth(depth)
	return true
}

// Stats returns a snapshot of the scheduler counters
func (s *Scheduler[C]) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.Tracked = len(s.table)
	st.Queued = len(s.fifo)
	st.Capacity = s.capacity
	return st
}

// processJobs is the worker loop
func (s *Scheduler[C]) processJobs(ctx context.Context) {
	defer s.failQueued()

	for {
		j := s.dequeue()
		if j == nil {
			select {
			case <-s.signal:
				continue
			case <-ctx.Done():
				s.markStopped()
				s.log.Debug("job worker stopped", "reason", ctx.Err())
				return
			}
		}
		s.executeJob(ctx, j)
	}
}

// dequeue pops the FIFO head and marks it running, or returns nil when the FIFO
// is empty or the scheduler was stopped
func (s *Scheduler[C]) dequeue() *job[C] {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || len(s.fifo) == 0 {
		return nil
	}
	j := s.fifo[0]
	s.fifo[0] = nil
	s.fifo = s.fifo[1:]
	j.status = JobStatusRunning
	return j
}

func (s *Scheduler[C]) markStopped() {
	s.mu.Lock()
	s.stopped = true
	s.running = false
	s.mu.Unlock()
}

// executeJob runs one job and publishes its outcome
func (s *Scheduler[C]) executeJob(ctx context.Context, j *job[C]) {
	name := commandName(j.cmd)
	s.logJobStarted(ctx, j.id, name, time.Since(j.enqueuedAt))

	start := time.Now()
	err := s.invoke(ctx, j)
	duration := time.Since(start)

	s.finish(j, err)

	if err == nil {
		s.recorder.RecordJob(name, metrics.StatusSuccess)
		s.logJobCompleted(ctx, j.id, name, duration)
		return
	}

	s.recorder.RecordJob(name, metrics.StatusError)
	s.logJobFailed(ctx, j.id, name, err)

	// A propagated dependency failure was already reported by its root job
	if IsDependencyError(err) {
		return
	}
	s.notifier.Notify(events.NewNotification(events.KindJobFailed, errors.CodeOf(err), "jobqueue", err).
		WithContext("job_id", uint32(j.id)).
		WithContext("command", name))
}

// invoke calls the handler, converting a panic into a failure
func (s *Scheduler[C]) invoke(ctx context.Context, j *job[C]) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("job execution panicked: %v", r).
				Component("jobqueue").
				Category(errors.CategoryJobQueue).
				Code(errors.CodeUnknown).
				Context("job_id", uint32(j.id)).
				Build()
		}
	}()
	return s.handler(ctx, j.id, j.cmd)
}

// finish records the outcome and wakes every waiter. Successful jobs leave the
// table; failures stay until cleared.
func (s *Scheduler[C]) finish(j *job[C], err error) {
	s.mu.Lock()
	if err == nil {
		j.status = JobStatusCompleted
		delete(s.table, j.id)
		s.stats.Completed++
	} else {
		j.status = JobStatusFailed
		j.err = err
		s.stats.Failed++
	}
	depth := len(s.table)
	close(j.done)
	s.mu.Unlock()

	s.recorder.SetQueueDepth(depth)
}

// failQueued fails every job left in the FIFO with ErrQueueStopped so no waiter
// blocks forever
func (s *Scheduler[C]) failQueued() {
	s.mu.Lock()
	queued := s.fifo
	s.fifo = nil
	for _, j := range queued {
		j.status = JobStatusFailed
		j.err = ErrQueueStopped
		s.stats.Failed++
		close(j.done)
	}
	s.mu.Unlock()

	if len(queued) > 0 {
		s.log.Info("failed queued jobs on stop", "count", len(queued))
	}
}
