// Package metrics provides constants used across metric definitions.
package metrics

import "time"

// Status label values.
const (
	// StatusSuccess marks a completed operation.
	StatusSuccess = "success"
	// StatusError marks a failed operation.
	StatusError = "error"
	// StatusRejected marks an operation refused before it started.
	StatusRejected = "rejected"
)

// Frame outcome label values used by the muxer metrics.
const (
	OutcomeComposed    = "composed"
	OutcomePassthrough = "passthrough"
	OutcomeFailed      = "failed"
	OutcomeDropped     = "dropped"
	OutcomeFlushed     = "flushed"
	OutcomeDiscarded   = "discarded"
)

// Stream role label values.
const (
	RolePrimary   = "primary"
	RoleSecondary = "secondary"
)

const (
	// ShutdownTimeout is the timeout for graceful shutdown operations.
	ShutdownTimeout = 5 * time.Second
)
