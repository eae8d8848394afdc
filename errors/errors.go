package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorType represents the category of error
type ErrorType int

const (
	ErrorNone ErrorType = iota
	ErrorTransport
	ErrorProtocol
	ErrorBuild
	ErrorInvalidArgument
)

func (t ErrorType) String() string {
	switch t {
	case ErrorNone:
		return "none"
	case ErrorTransport:
		return "transport"
	case ErrorProtocol:
		return "protocol"
	case ErrorBuild:
		return "build"
	case ErrorInvalidArgument:
		return "invalid argument"
	default:
		return fmt.Sprintf("ErrorType(%d)", int(t))
	}
}

// TransportError represents transport-layer specific errors
type TransportError int

const (
	TransportErrorNone TransportError = iota
	TransportErrorSocketCreateFailure
	TransportErrorSocketBindFailure
	TransportErrorSocketListenFailure
	TransportErrorSocketAcceptFailure
	TransportErrorSocketConnectFailure
	TransportErrorSocketReadFailure
	TransportErrorSocketWriteFailure
	TransportErrorConnectionClosed
	TransportErrorListenerClosed
	TransportErrorIoUringInit
	TransportErrorIoUringSubmit
)

func (e TransportError) String() string {
	switch e {
	case TransportErrorNone:
		return "none"
	case TransportErrorSocketCreateFailure:
		return "socket create failure"
	case TransportErrorSocketBindFailure:
		return "socket bind failure"
	case TransportErrorSocketListenFailure:
		return "socket listen failure"
	case TransportErrorSocketAcceptFailure:
		return "socket accept failure"
	case TransportErrorSocketConnectFailure:
		return "socket connect failure"
	case TransportErrorSocketReadFailure:
		return "socket read failure"
	case TransportErrorSocketWriteFailure:
		return "socket write failure"
	case TransportErrorConnectionClosed:
		return "connection closed"
	case TransportErrorListenerClosed:
		return "listener closed"
	case TransportErrorIoUringInit:
		return "io_uring init failure"
	case TransportErrorIoUringSubmit:
		return "io_uring submit failure"
	default:
		return fmt.Sprintf("TransportError(%d)", int(e))
	}
}

// ProtocolError represents protocol-layer specific errors
type ProtocolError int

const (
	ProtocolErrorNone ProtocolError = iota
	ProtocolErrorEmptyRequest
	ProtocolErrorInvalidRequestLine
	ProtocolErrorInvalidHeader
	ProtocolErrorHeadersTooLarge
	ProtocolErrorIncompleteRequest
	ProtocolErrorInvalidStatusLine
	ProtocolErrorIncompleteResponse
)

func (e ProtocolError) String() string {
	switch e {
	case ProtocolErrorNone:
		return "none"
	case ProtocolErrorEmptyRequest:
		return "empty request"
	case ProtocolErrorInvalidRequestLine:
		return "invalid request line"
	case ProtocolErrorInvalidHeader:
		return "invalid header"
	case ProtocolErrorHeadersTooLarge:
		return "headers too large"
	case ProtocolErrorIncompleteRequest:
		return "incomplete request"
	case ProtocolErrorInvalidStatusLine:
		return "invalid status line"
	case ProtocolErrorIncompleteResponse:
		return "incomplete response"
	default:
		return fmt.Sprintf("ProtocolError(%d)", int(e))
	}
}

// BuildError represents failures while turning a request into a response.
// A missing file is not a BuildError; it is an ordinary 404.
type BuildError int

const (
	BuildErrorNone BuildError = iota
	BuildErrorPathResolve
	BuildErrorStat
	BuildErrorFileRead
)

func (e BuildError) String() string {
	switch e {
	case BuildErrorNone:
		return "none"
	case BuildErrorPathResolve:
		return "path resolve failure"
	case BuildErrorStat:
		return "stat failure"
	case BuildErrorFileRead:
		return "file read failure"
	default:
		return fmt.Sprintf("BuildError(%d)", int(e))
	}
}

// HttpError is the main error type for the server
type HttpError struct {
	Type          ErrorType
	TransportErr  TransportError
	ProtocolErr   ProtocolError
	BuildErr      BuildError
	Message       string
	UnderlyingErr error
}

// Error implements the error interface
func (e *HttpError) Error() string {
	if e == nil {
		return "no error"
	}

	var typeStr string
	switch e.Type {
	case ErrorTransport:
		typeStr = fmt.Sprintf("Transport error (%s)", e.TransportErr)
	case ErrorProtocol:
		typeStr = fmt.Sprintf("Protocol error (%s)", e.ProtocolErr)
	case ErrorBuild:
		typeStr = fmt.Sprintf("Build error (%s)", e.BuildErr)
	case ErrorInvalidArgument:
		typeStr = "Invalid argument"
	default:
		typeStr = "Unknown error"
	}

	if e.Message != "" {
		typeStr = fmt.Sprintf("%s: %s", typeStr, e.Message)
	}

	if e.UnderlyingErr != nil {
		return fmt.Sprintf("%s (caused by: %v)", typeStr, e.UnderlyingErr)
	}

	return typeStr
}

// Unwrap returns the underlying error for error chain support
func (e *HttpError) Unwrap() error {
	return e.UnderlyingErr
}

// NewTransportError creates a new transport error
func NewTransportError(err TransportError, message string, underlying error) *HttpError {
	return &HttpError{
		Type:          ErrorTransport,
		TransportErr:  err,
		Message:       message,
		UnderlyingErr: underlying,
	}
}

// NewProtocolError creates a new protocol error
func NewProtocolError(err ProtocolError, message string) *HttpError {
	return &HttpError{
		Type:        ErrorProtocol,
		ProtocolErr: err,
		Message:     message,
	}
}

// NewBuildError creates a new build error
func NewBuildError(err BuildError, message string, underlying error) *HttpError {
	return &HttpError{
		Type:          ErrorBuild,
		BuildErr:      err,
		Message:       message,
		UnderlyingErr: underlying,
	}
}

// NewInvalidArgumentError creates a new invalid argument error
func NewInvalidArgumentError(message string) *HttpError {
	return &HttpError{
		Type:    ErrorInvalidArgument,
		Message: message,
	}
}

// As returns the first *HttpError in err's chain.
func As(err error) (*HttpError, bool) {
	var httpErr *HttpError
	if stderrors.As(err, &httpErr) {
		return httpErr, true
	}
	return nil, false
}

// IsTransport reports whether err carries the given transport error code.
func IsTransport(err error, code TransportError) bool {
	httpErr, ok := As(err)
	return ok && httpErr.Type == ErrorTransport && httpErr.TransportErr == code
}

// IsProtocol reports whether err carries the given protocol error code.
func IsProtocol(err error, code ProtocolError) bool {
	httpErr, ok := As(err)
	return ok && httpErr.Type == ErrorProtocol && httpErr.ProtocolErr == code
}

// IsBuild reports whether err is a build error of any kind.
func IsBuild(err error) bool {
	httpErr, ok := As(err)
	return ok && httpErr.Type == ErrorBuild
}

// IsType reports whether err is an *HttpError of the given category.
func IsType(err error, t ErrorType) bool {
	httpErr, ok := As(err)
	return ok && httpErr.Type == t
}
