package simhw

import (
	"bytes"
	"context"
	"time"

	"github.com/tphakala/camhal/internal/errors"
	"github.com/tphakala/camhal/internal/muxer"
)

// ConcatMerger joins the primary and secondary buffers with Separator, standing
// in for a multi picture encoder
type ConcatMerger struct {
	Separator []byte
	Latency   time.Duration
}

// Merge fails with CodeBadValue when either half is empty
func (m ConcatMerger) Merge(ctx context.Context, primary, secondary muxer.Buffer) (muxer.Buffer, error) {
	if primary == nil || secondary == nil || len(primary.Bytes()) == 0 || len(secondary.Bytes()) == 0 {
		return nil, errors.Newf("cannot merge an empty buffer").
			Component(componentSimHW).
			Category(errors.CategoryValidation).
			Code(errors.CodeBadValue).
			Build()
	}

	if m.Latency > 0 {
		timer := time.NewTimer(m.Latency)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	var out bytes.Buffer
	out.Grow(len(primary.Bytes()) + len(m.Separator) + len(secondary.Bytes()))
	out.Write(primary.Bytes())
	out.Write(m.Separator)
	out.Write(secondary.Bytes())
	return muxer.BytesBuffer(out.Bytes()), nil
}

var _ muxer.Merger = ConcatMerger{}
