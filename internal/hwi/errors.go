package hwi

import (
	"context"

	"github.com/tphakala/camhal/internal/errors"
)

// ComponentHWI is the component name attached to errors from this package
const ComponentHWI = "hwi"

// Sentinel errors. Compare with errors.Is; wrapped copies keep category and code.
var (
	// ErrRejected is returned when the engine no longer accepts events
	ErrRejected = errors.Newf("engine is not active").
		Component(ComponentHWI).
		Category(errors.CategoryRejected).
		Code(errors.CodeRejected).
		Build()

	// ErrInvalidState is returned for an event the current session state does not accept
	ErrInvalidState = errors.Newf("event not valid in current state").
		Component(ComponentHWI).
		Category(errors.CategoryState).
		Code(errors.CodeInvalidState).
		Build()

	// ErrDuplicateTag is returned when a call with the same tag is already outstanding
	ErrDuplicateTag = errors.Newf("call with this tag already outstanding").
		Component(ComponentHWI).
		Category(errors.CategoryConflict).
		Code(errors.CodeBusy).
		Build()

	// ErrNoPendingCall is returned when waiting on a tag that was never registered
	ErrNoPendingCall = errors.Newf("no outstanding call for tag").
		Component(ComponentHWI).
		Category(errors.CategoryNotFound).
		Build()

	// ErrBadValue is returned for a malformed call payload
	ErrBadValue = errors.Newf("invalid call payload").
		Component(ComponentHWI).
		Category(errors.CategoryValidation).
		Code(errors.CodeBadValue).
		Build()
)

// contextError wraps a context error from a wait on tag
func contextError(err error, tag Event) error {
	category := errors.CategoryCancellation
	if errors.Is(err, context.DeadlineExceeded) {
		category = errors.CategoryTimeout
	}
	return errors.New(err).
		Component(ComponentHWI).
		Category(category).
		Context("tag", tag.String()).
		Build()
}
