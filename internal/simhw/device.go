// Package simhw provides simulated camera hardware, a byte concatenating merger
// and frame producing pipelines. The CLI drives sessions with it and the tests
// use it where a fake would be too shallow.
package simhw

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/tphakala/camhal/internal/errors"
	"github.com/tphakala/camhal/internal/hwi"
	"github.com/tphakala/camhal/internal/logger"
)

const componentSimHW = "simhw"

// Operation names accepted by FailWith
const (
	OpAllocateParams  = "allocate-params"
	OpInitParams      = "init-params"
	OpApplyParams     = "apply-params"
	OpAllocateMeta    = "allocate-metadata"
	OpAllocateBuffers = "allocate-buffers"
	OpReleaseBuffers  = "release-buffers"
	OpStartStream     = "start-stream"
	OpStopStream      = "stop-stream"
	OpInitPostProc    = "init-postproc"
	OpStartPostProc   = "start-postproc"
	OpEncodeSession   = "encode-session"
	OpCapture         = "capture"
)

// Device is a simulated camera. It enforces the ordering a real driver expects
// and fails out of order calls with CodeInvalidState.
type Device struct {
	latency time.Duration
	log     logger.Logger

	mu          sync.Mutex
	faults      map[string]errors.Code
	paramsAlloc bool
	paramsInit  bool
	params      hwi.Params
	metadata    int
	allocated   map[hwi.StreamType]bool
	running     map[hwi.StreamType]bool
	pprocInit   bool
	encoder     bool
	pprocOn     bool
	captures    int
	closed      bool
}

// NewDevice creates a device whose every operation takes latency
func NewDevice(latency time.Duration) *Device {
	return &Device{
		latency:   latency,
		log:       logger.Global().Module(componentSimHW),
		faults:    make(map[string]errors.Code),
		params:    hwi.Params{},
		allocated: make(map[hwi.StreamType]bool),
		running:   make(map[hwi.StreamType]bool),
	}
}

// FailWith makes op fail with code until cleared with CodeOK
func (d *Device) FailWith(op string, code errors.Code) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if code == errors.CodeOK {
		delete(d.faults, op)
		return
	}
	d.faults[op] = code
}

// Captures returns how many snapshots were taken
func (d *Device) Captures() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.captures
}

// Running reports whether stream is started
func (d *Device) Running(stream hwi.StreamType) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running[stream]
}

// Applied returns a copy of the parameters applied so far
func (d *Device) Applied() hwi.Params {
	d.mu.Lock()
	defer d.mu.Unlock()
	return maps.Clone(d.params)
}

// Closed reports whether Close was called
func (d *Device) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *Device) AllocateParameters(ctx context.Context) error {
	return d.do(ctx, OpAllocateParams, func() error {
		d.paramsAlloc = true
		return nil
	})
}

func (d *Device) InitParameters(ctx context.Context) error {
	return d.do(ctx, OpInitParams, func() error {
		if !d.paramsAlloc {
			return d.outOfOrder(OpInitParams, "parameters not allocated")
		}
		d.paramsInit = true
		return nil
	})
}

func (d *Device) ApplyParameters(ctx context.Context, p hwi.Params) error {
	return d.do(ctx, OpApplyParams, func() error {
		if !d.paramsInit {
			return d.outOfOrder(OpApplyParams, "parameters not initialized")
		}
		maps.Copy(d.params, p)
		return nil
	})
}

func (d *Device) AllocateMetadata(ctx context.Context, count, size int) error {
	return d.do(ctx, OpAllocateMeta, func() error {
		if count <= 0 || size <= 0 {
			return errors.Newf("invalid metadata layout %dx%d", count, size).
				Component(componentSimHW).
				Category(errors.CategoryValidation).
				Code(errors.CodeBadValue).
				Build()
		}
		d.metadata = count
		return nil
	})
}

func (d *Device) AllocateStreamBuffers(ctx context.Context, stream hwi.StreamType) error {
	return d.do(ctx, OpAllocateBuffers, func() error {
		if d.metadata == 0 {
			return d.outOfOrder(OpAllocateBuffers, "metadata not allocated")
		}
		d.allocated[stream] = true
		return nil
	})
}

func (d *Device) ReleaseStreamBuffers(ctx context.Context, stream hwi.StreamType) error {
	return d.do(ctx, OpReleaseBuffers, func() error {
		if d.running[stream] {
			return d.outOfOrder(OpReleaseBuffers, "stream still running")
		}
		delete(d.allocated, stream)
		return nil
	})
}

func (d *Device) StartStream(ctx context.Context, stream hwi.StreamType) error {
	return d.do(ctx, OpStartStream, func() error {
		if !d.allocated[stream] {
			return d.outOfOrder(OpStartStream, "buffers not allocated for "+stream.String())
		}
		if stream == hwi.StreamSnapshot && !d.pprocOn {
			return d.outOfOrder(OpStartStream, "post processor not started")
		}
		d.running[stream] = true
		return nil
	})
}

func (d *Device) StopStream(ctx context.Context, stream hwi.StreamType) error {
	return d.do(ctx, OpStopStream, func() error {
		if !d.running[stream] {
			return d.outOfOrder(OpStopStream, stream.String()+" is not running")
		}
		delete(d.running, stream)
		return nil
	})
}

func (d *Device) InitPostProcessor(ctx context.Context) error {
	return d.do(ctx, OpInitPostProc, func() error {
		if !d.paramsInit {
			return d.outOfOrder(OpInitPostProc, "parameters not initialized")
		}
		d.pprocInit = true
		return nil
	})
}

func (d *Device) CreateEncodeSession(ctx context.Context) error {
	return d.do(ctx, OpEncodeSession, func() error {
		if !d.pprocInit {
			return d.outOfOrder(OpEncodeSession, "post processor not initialized")
		}
		d.encoder = true
		return nil
	})
}

func (d *Device) StartPostProcessor(ctx context.Context) error {
	return d.do(ctx, OpStartPostProc, func() error {
		if !d.encoder {
			return d.outOfOrder(OpStartPostProc, "no encode session")
		}
		d.pprocOn = true
		return nil
	})
}

func (d *Device) CaptureSnapshot(ctx context.Context) error {
	return d.do(ctx, OpCapture, func() error {
		if !d.running[hwi.StreamSnapshot] {
			return d.outOfOrder(OpCapture, "snapshot stream not running")
		}
		d.captures++
		return nil
	})
}

// Close releases the device. Streams still running are reported as an error.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	if len(d.running) > 0 {
		return errors.Newf("device closed with %d running streams", len(d.running)).
			Component(componentSimHW).
			Category(errors.CategoryHardware).
			Code(errors.CodeDeviceFailure).
			Build()
	}
	d.log.Debug("device closed", logger.Int("captures", d.captures))
	return nil
}

// do waits the simulated latency and runs op under the device lock unless the
// device is closed or a fault is injected
func (d *Device) do(ctx context.Context, op string, fn func() error) error {
	if d.latency > 0 {
		timer := time.NewTimer(d.latency)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return errors.New(ctx.Err()).
				Component(componentSimHW).
				Context("operation", op).
				Build()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errors.Newf("device is closed").
			Component(componentSimHW).
			Category(errors.CategoryState).
			Code(errors.CodeInvalidState).
			Context("operation", op).
			Build()
	}
	if code, ok := d.faults[op]; ok {
		d.log.Debug("injected fault", logger.String("operation", op), logger.String("code", code.String()))
		return errors.Newf("simulated %s failure", op).
			Component(componentSimHW).
			Category(categoryFor(code)).
			Code(code).
			Context("operation", op).
			Build()
	}
	return fn()
}

func (d *Device) outOfOrder(op, reason string) error {
	return errors.Newf("%s: %s", op, reason).
		Component(componentSimHW).
		Category(errors.CategoryState).
		Code(errors.CodeInvalidState).
		Context("operation", op).
		Build()
}

func categoryFor(code errors.Code) errors.ErrorCategory {
	switch code {
	case errors.CodeNoMemory:
		return errors.CategoryResource
	case errors.CodeDeviceFailure:
		return errors.CategoryHardware
	case errors.CodeBusy:
		return errors.CategoryLimit
	case errors.CodeInvalidState:
		return errors.CategoryState
	case errors.CodeBadValue:
		return errors.CategoryValidation
	default:
		return errors.CategoryGeneric
	}
}

var _ hwi.Hardware = (*Device)(nil)
