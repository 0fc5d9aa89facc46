package hwi

import (
	"context"

	"github.com/tphakala/camhal/internal/jobqueue"
)

// DeferredCommand is a job run by the deferred job worker. The set of commands is
// closed; each carries the ids of the earlier jobs it must wait for.
type DeferredCommand interface {
	CommandName() string
	dependencies() []jobqueue.JobID
}

// ParamAlloc allocates the parameter buffer
type ParamAlloc struct{}

// ParamInit initializes parameters once they are allocated
type ParamInit struct {
	Alloc jobqueue.JobID
}

// MetadataAlloc allocates Count metadata buffers of Size bytes
type MetadataAlloc struct {
	Count int
	Size  int
}

// PostProcInit initializes the post processor once parameters are ready
type PostProcInit struct {
	Params jobqueue.JobID
}

// CreateJPEGSession creates the encode session once the post processor is ready
type CreateJPEGSession struct {
	PostProc jobqueue.JobID
}

// PostProcStart starts the post processor once the encode session exists
type PostProcStart struct {
	JPEG jobqueue.JobID
}

// AllocateBuffers allocates buffers for Stream after Metadata and After, then
// starts the stream when Start is set
type AllocateBuffers struct {
	Stream   StreamType
	Start    bool
	Metadata jobqueue.JobID
	After    jobqueue.JobID
}

// Generic runs an arbitrary task after the listed jobs
type Generic struct {
	Name  string
	Task  func(ctx context.Context) error
	After []jobqueue.JobID
}

func (ParamAlloc) CommandName() string        { return "param-alloc" }
func (ParamInit) CommandName() string         { return "param-init" }
func (MetadataAlloc) CommandName() string     { return "metadata-alloc" }
func (PostProcInit) CommandName() string      { return "pproc-init" }
func (CreateJPEGSession) CommandName() string { return "jpeg-session" }
func (PostProcStart) CommandName() string     { return "pproc-start" }
func (c AllocateBuffers) CommandName() string { return "alloc-" + c.Stream.String() }

func (c Generic) CommandName() string {
	if c.Name == "" {
		return "generic"
	}
	return "generic-" + c.Name
}

func (ParamAlloc) dependencies() []jobqueue.JobID          { return nil }
func (c ParamInit) dependencies() []jobqueue.JobID         { return []jobqueue.JobID{c.Alloc} }
func (MetadataAlloc) dependencies() []jobqueue.JobID       { return nil }
func (c PostProcInit) dependencies() []jobqueue.JobID      { return []jobqueue.JobID{c.Params} }
func (c CreateJPEGSession) dependencies() []jobqueue.JobID { return []jobqueue.JobID{c.PostProc} }
func (c PostProcStart) dependencies() []jobqueue.JobID     { return []jobqueue.JobID{c.JPEG} }
func (c AllocateBuffers) dependencies() []jobqueue.JobID   { return []jobqueue.JobID{c.Metadata, c.After} }
func (c Generic) dependencies() []jobqueue.JobID           { return c.After }
