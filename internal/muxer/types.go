package muxer

import (
	"context"
	"sync"

	"github.com/tphakala/camhal/internal/errors"
	"github.com/tphakala/camhal/internal/observability/metrics"
)

const componentMuxer = "muxer"

// Default sizing used when Config leaves a field zero
const (
	DefaultChannelDepth = 16
	DefaultMaxPending   = 8
)

var (
	// ErrRejected is returned by Submit when the synchronizer is not running
	ErrRejected = errors.Newf("synchronizer is not active").
		Component(componentMuxer).
		Category(errors.CategoryRejected).
		Code(errors.CodeRejected).
		Build()

	// ErrInvalidArtifact is returned by Submit for a nil artifact or an unknown role
	ErrInvalidArtifact = errors.Newf("invalid frame artifact").
		Component(componentMuxer).
		Category(errors.CategoryValidation).
		Code(errors.CodeBadValue).
		Build()

	// ErrFrameDropped is the cause carried by frame dropped notifications
	ErrFrameDropped = errors.Newf("frame dropped before composition").
		Component(componentMuxer).
		Category(errors.CategoryLimit).
		Code(errors.CodeBusy).
		Build()
)

// Role identifies which device pipeline produced an artifact
type Role int

const (
	RolePrimary Role = iota
	RoleSecondary
)

func (r Role) String() string {
	switch r {
	case RolePrimary:
		return metrics.RolePrimary
	case RoleSecondary:
		return metrics.RoleSecondary
	default:
		return "unknown"
	}
}

func (r Role) valid() bool {
	return r == RolePrimary || r == RoleSecondary
}

func (r Role) other() Role {
	if r == RolePrimary {
		return RoleSecondary
	}
	return RolePrimary
}

// Buffer is an image buffer owned by a device pipeline
type Buffer interface {
	Bytes() []byte
}

// BytesBuffer is a Buffer backed by a byte slice
type BytesBuffer []byte

func (b BytesBuffer) Bytes() []byte { return b }

// FrameArtifact is one device output waiting to be paired. Its release callback
// runs at most once no matter how many times Release is called.
type FrameArtifact struct {
	Role       Role
	FrameIndex uint32
	Buffer     Buffer

	release func()
	once    sync.Once
}

// NewFrameArtifact wraps buf for role and index. release may be nil.
func NewFrameArtifact(role Role, index uint32, buf Buffer, release func()) *FrameArtifact {
	return &FrameArtifact{Role: role, FrameIndex: index, Buffer: buf, release: release}
}

// Release hands the buffer back to its pipeline
func (a *FrameArtifact) Release() {
	a.once.Do(func() {
		if a.release != nil {
			a.release()
		}
	})
}

// Output is delivered downstream once per composed pair, or once per primary
// artifact while composition is disabled
type Output struct {
	FrameIndex uint32
	Buffer     Buffer
	Composed   bool
}

// Merger composes a primary and a secondary buffer into one
type Merger interface {
	Merge(ctx context.Context, primary, secondary Buffer) (Buffer, error)
}

// MergerFunc adapts a function to Merger
type MergerFunc func(ctx context.Context, primary, secondary Buffer) (Buffer, error)

func (f MergerFunc) Merge(ctx context.Context, primary, secondary Buffer) (Buffer, error) {
	return f(ctx, primary, secondary)
}

// Sink receives outputs on the compose goroutine. A pass-through output's buffer
// is released after Deliver returns, so a sink that keeps it must copy it.
type Sink interface {
	Deliver(out Output)
}

// SinkFunc adapts a function to Sink
type SinkFunc func(out Output)

func (f SinkFunc) Deliver(out Output) { f(out) }

// Stats holds synchronizer counters
type Stats struct {
	Submitted   uint64
	Composed    uint64
	Passthrough uint64
	Failed      uint64
	Dropped     uint64
	Discarded   uint64
	Flushed     uint64
	Pending     [2]int // Unmatched artifacts indexed by Role
}
