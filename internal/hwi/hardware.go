package hwi

import (
	"context"
	"maps"
)

// StreamType identifies a camera stream
type StreamType int

const (
	StreamPreview StreamType = iota + 1
	StreamSnapshot
	StreamVideo
)

func (s StreamType) String() string {
	switch s {
	case StreamPreview:
		return "preview"
	case StreamSnapshot:
		return "snapshot"
	case StreamVideo:
		return "video"
	default:
		return "unknown"
	}
}

// Params is a set of camera parameters keyed by name
type Params map[string]string

// Clone returns an independent copy
func (p Params) Clone() Params {
	if p == nil {
		return Params{}
	}
	return maps.Clone(p)
}

// Hardware is the device and driver access used by job bodies and the state
// machine. Implementations return code-bearing errors (see errors.Code) so the
// status reaches callers and notifications.
type Hardware interface {
	AllocateParameters(ctx context.Context) error
	InitParameters(ctx context.Context) error
	ApplyParameters(ctx context.Context, p Params) error

	AllocateMetadata(ctx context.Context, count, size int) error

	AllocateStreamBuffers(ctx context.Context, stream StreamType) error
	ReleaseStreamBuffers(ctx context.Context, stream StreamType) error
	StartStream(ctx context.Context, stream StreamType) error
	StopStream(ctx context.Context, stream StreamType) error

	InitPostProcessor(ctx context.Context) error
	StartPostProcessor(ctx context.Context) error
	CreateEncodeSession(ctx context.Context) error

	// CaptureSnapshot captures one picture on a started snapshot stream
	CaptureSnapshot(ctx context.Context) error

	Close() error
}

// Compositor is implemented by the dual device synchronizer
type Compositor interface {
	SetCompositionEnabled(enabled bool)
}
