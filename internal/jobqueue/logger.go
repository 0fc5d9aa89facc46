package jobqueue

import (
	"context"
	"time"

	"github.com/tphakala/camhal/internal/logger"
)

const serviceName = "jobqueue"

func (s *Scheduler[C]) logJobEnqueued(id JobID, command string, tracked int) {
	s.log.Debug("job enqueued",
		"job_id", uint32(id),
		"command", command,
		"tracked", tracked,
	)
}

func (s *Scheduler[C]) logJobStarted(ctx context.Context, id JobID, command string, queued time.Duration) {
	args := []any{
		"job_id", uint32(id),
		"command", command,
		"queued_ms", queued.Milliseconds(),
	}
	if traceID := logger.TraceIDFromContext(ctx); traceID != "" {
		args = append(args, "trace_id", traceID)
	}
	s.log.DebugContext(ctx, "job started", args...)
}

func (s *Scheduler[C]) logJobCompleted(ctx context.Context, id JobID, command string, duration time.Duration) {
	args := []any{
		"job_id", uint32(id),
		"command", command,
		"duration_ms", duration.Milliseconds(),
	}
	if traceID := logger.TraceIDFromContext(ctx); traceID != "" {
		args = append(args, "trace_id", traceID)
	}
	s.log.DebugContext(ctx, "job completed", args...)
}

// logJobFailed uses Warn for propagated dependency failures and Error for root failures
func (s *Scheduler[C]) logJobFailed(ctx context.Context, id JobID, command string, err error) {
	args := []any{
		"job_id", uint32(id),
		"command", command,
		"error", err,
	}
	if traceID := logger.TraceIDFromContext(ctx); traceID != "" {
		args = append(args, "trace_id", traceID)
	}
	if IsDependencyError(err) {
		s.log.WarnContext(ctx, "job aborted by failed dependency", args...)
		return
	}
	s.log.ErrorContext(ctx, "job failed", args...)
}
