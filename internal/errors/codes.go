package errors

import "context"

// Code is the status code carried by results, job failures and notifications.
// CodeOK is the zero value.
type Code int32

const (
	CodeOK Code = iota
	CodeRejected
	CodeInvalidState
	CodeNoMemory
	CodeDeviceFailure
	CodeBusy
	CodeCompositionFailed
	CodeCancelled
	CodeTimeout
	CodeBadValue
	CodeUnknown
)

// String returns a short name for the code
func (c Code) String() string {
	switch c {
	case CodeOK:
		return "ok"
	case CodeRejected:
		return "rejected"
	case CodeInvalidState:
		return "invalid-state"
	case CodeNoMemory:
		return "no-memory"
	case CodeDeviceFailure:
		return "device-failure"
	case CodeBusy:
		return "busy"
	case CodeCompositionFailed:
		return "composition-failed"
	case CodeCancelled:
		return "cancelled"
	case CodeTimeout:
		return "timeout"
	case CodeBadValue:
		return "bad-value"
	default:
		return "unknown"
	}
}

// Coder is implemented by errors that carry a status code
type Coder interface {
	Code() Code
}

// CodeOf returns the first non-OK code found in err's chain.
// A nil error maps to CodeOK; an error without any code maps to CodeUnknown.
func CodeOf(err error) Code {
	if err == nil {
		return CodeOK
	}

	for e := err; e != nil; {
		if c, ok := e.(Coder); ok && c.Code() != CodeOK {
			return c.Code()
		}
		switch x := e.(type) {
		case interface{ Unwrap() []error }:
			for _, inner := range x.Unwrap() {
				if code := CodeOf(inner); code != CodeUnknown {
					return code
				}
			}
			e = nil
		case interface{ Unwrap() error }:
			e = x.Unwrap()
		default:
			e = nil
		}
	}

	switch {
	case Is(err, context.Canceled):
		return CodeCancelled
	case Is(err, context.DeadlineExceeded):
		return CodeTimeout
	}
	return CodeUnknown
}
