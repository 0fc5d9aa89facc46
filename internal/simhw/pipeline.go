package simhw

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/tphakala/camhal/internal/logger"
	"github.com/tphakala/camhal/internal/muxer"
)

// Submitter accepts frame artifacts; implemented by muxer.Synchronizer
type Submitter interface {
	Submit(a *muxer.FrameArtifact) error
}

// Pipeline produces frames for one device role at a fixed interval with random
// jitter, so two pipelines deliver matching indices in no particular order
type Pipeline struct {
	Role      muxer.Role
	Frames    int
	Interval  time.Duration
	Jitter    time.Duration
	FirstIdx  uint32
	SkipEvery int // Drop every n-th frame before submitting, 0 never

	produced    atomic.Int64
	rejected    atomic.Int64
	outstanding atomic.Int64
}

// Run submits Frames artifacts to dst, stopping early when ctx is done. Rejected
// submissions are counted, not returned, since a stopped synchronizer releases
// them itself.
func (p *Pipeline) Run(ctx context.Context, dst Submitter) error {
	log := logger.Global().Module(componentSimHW).Module("pipeline")
	log.Debug("pipeline started",
		logger.String("role", p.Role.String()),
		logger.Int("frames", p.Frames))

	for i := range p.Frames {
		if err := p.sleep(ctx); err != nil {
			return err
		}

		idx := p.FirstIdx + uint32(i)
		if p.SkipEvery > 0 && (i+1)%p.SkipEvery == 0 {
			log.Trace("frame skipped", logger.Uint32("frame_index", idx))
			continue
		}

		p.outstanding.Add(1)
		payload := fmt.Appendf(nil, "%s-%d", p.Role, idx)
		a := muxer.NewFrameArtifact(p.Role, idx, muxer.BytesBuffer(payload), func() {
			p.outstanding.Add(-1)
		})
		p.produced.Add(1)

		if err := dst.Submit(a); err != nil {
			p.rejected.Add(1)
			log.Debug("frame rejected",
				logger.String("role", p.Role.String()),
				logger.Uint32("frame_index", idx),
				logger.Error(err))
		}
	}
	return nil
}

func (p *Pipeline) sleep(ctx context.Context) error {
	d := p.Interval
	if p.Jitter > 0 {
		d += rand.N(p.Jitter)
	}
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

// Produced returns how many artifacts were created
func (p *Pipeline) Produced() int64 { return p.produced.Load() }

// Rejected returns how many submissions were refused
func (p *Pipeline) Rejected() int64 { return p.rejected.Load() }

// Outstanding returns how many artifacts have not been released yet
func (p *Pipeline) Outstanding() int64 { return p.outstanding.Load() }
