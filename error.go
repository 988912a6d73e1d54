package tinyhttpd

import (
	"errors"
	"fmt"
	"net"
)

// Sentinel errors.
var (
	// ErrLineTooLong is returned when no line terminator is found within
	// MaxLineSize bytes.
	ErrLineTooLong = errors.New("line exceeds the maximum line size")
	// ErrBodyTooLarge is returned when Content-Length exceeds the configured limit.
	ErrBodyTooLarge = errors.New("request body exceeds the maximum body size")
	// ErrGatewayTimeout matches a [GatewayError] caused by a network timeout.
	ErrGatewayTimeout = errors.New("gateway timeout")
	// ErrInstanceRunning is returned when the pid file names a live process.
	ErrInstanceRunning = errors.New("another instance is running")
	// ErrEmptyPath is the cause of a [PathResolutionError] for an empty path.
	ErrEmptyPath = errors.New("the filename parse err")
)

type (
	// ConnectionError reports a closed or broken client transport.
	ConnectionError struct {
		Op  string
		Err error
	}
	// MalformedRequestError reports a request line or header block that
	// cannot be parsed.
	MalformedRequestError struct {
		Line string
		Err  error
	}
	// MissingContentLengthError reports a POST without a positive Content-Length.
	MissingContentLengthError struct {
		Value string
	}
	// PathResolutionError reports a request that cannot be routed to a file.
	PathResolutionError struct {
		Path string
		Err  error
	}
	// GatewayError wraps any backend failure with the backend address.
	GatewayError struct {
		Addr string
		Err  error
	}
	// WriteError reports a response that could not be fully transmitted.
	WriteError struct {
		Written int
		Size    int
		Err     error
	}
	// SupervisorFatalError stops the supervisor before it serves.
	SupervisorFatalError struct {
		Op  string
		Err error
	}
	// Errors combines multiple errors.
	Errors struct {
		errs []error
	}
)

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection %s error: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

func (e *MalformedRequestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed request %q: %v", e.Line, e.Err)
	}
	return fmt.Sprintf("malformed request %q", e.Line)
}

func (e *MalformedRequestError) Unwrap() error {
	return e.Err
}

func (e *MissingContentLengthError) Error() string {
	return fmt.Sprintf("post request content-length is invalid: %q", e.Value)
}

func (e *PathResolutionError) Error() string {
	return fmt.Sprintf("resolve path %q error: %v", e.Path, e.Err)
}

func (e *PathResolutionError) Unwrap() error {
	return e.Err
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("fastcgi error: %v (%s)", e.Err, e.Addr)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the backend exchange exceeded its idle timeout.
func (e *GatewayError) Timeout() bool {
	var ne net.Error
	return errors.As(e.Err, &ne) && ne.Timeout()
}

// Is makes errors.Is(err, ErrGatewayTimeout) true for timed out exchanges.
func (e *GatewayError) Is(target error) bool {
	return target == ErrGatewayTimeout && e.Timeout()
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %d/%d bytes error: %v", e.Written, e.Size, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

func (e *SupervisorFatalError) Error() string {
	return fmt.Sprintf("supervisor %s error: %v", e.Op, e.Err)
}

func (e *SupervisorFatalError) Unwrap() error {
	return e.Err
}

// NewErrors creates an [Errors].
func NewErrors() *Errors {
	return &Errors{}
}

// HandleError saves every non-nil error.
func (e *Errors) HandleError(errs ...error) {
	for _, err := range errs {
		if err != nil {
			e.errs = append(e.errs, err)
		}
	}
}

// Error implements the error interface.
func (e *Errors) Error() string {
	switch len(e.errs) {
	case 0:
		return ""
	case 1:
		return e.errs[0].Error()
	default:
		return fmt.Sprint(e.errs)
	}
}

// Unwrap exposes the saved errors to errors.Is and errors.As.
func (e *Errors) Unwrap() []error {
	return e.errs
}

// GetError returns nil when no error was saved.
func (e *Errors) GetError() error {
	if len(e.errs) == 0 {
		return nil
	}
	return e
}
