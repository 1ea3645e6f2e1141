// Package errs holds the error taxonomy shared by every echostream layer.
//
// Each kind has a sentinel usable with errors.Is. Kinds that carry data (timeouts,
// remote failures, missing handlers, stream faults, listener type mismatches) also have
// a struct type usable with errors.As; those structs match their sentinel through Is.
package errs

import (
	"errors"
	"fmt"

	"echostream/message"
)

var (
	ErrIO               = errors.New("echostream: io error")
	ErrSerialization    = errors.New("echostream: serialization error")
	ErrProtocol         = errors.New("echostream: protocol error")
	ErrTimeout          = errors.New("echostream: request timed out")
	ErrRemote           = errors.New("echostream: remote error")
	ErrHandlerNotFound  = errors.New("echostream: handler not found")
	ErrStream           = errors.New("echostream: stream error")
	ErrSession          = errors.New("echostream: session error")
	ErrContext          = errors.New("echostream: context error")
	ErrListenerType     = errors.New("echostream: listener type mismatch")
	ErrInvalidParam     = errors.New("echostream: invalid parameter")
	ErrUnsupported      = errors.New("echostream: unsupported operation")
	ErrMiddleware       = errors.New("echostream: middleware error")
	ErrConnectionClosed = errors.New("echostream: connection closed")
)

// TimeoutError is returned to a caller whose request saw no response before its deadline.
type TimeoutError struct {
	RequestID uint32
	Millis    uint64
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("rpc request %d timed out after %dms", e.RequestID, e.Millis)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// RemoteError carries the status code and message of a failed ResponseMsg.
type RemoteError struct {
	Code    message.StatusCode
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("rpc error (code %d): %s", e.Code, e.Message)
}

func (e *RemoteError) Is(target error) bool { return target == ErrRemote }

type HandlerNotFoundError struct {
	Name string
}

func (e *HandlerNotFoundError) Error() string {
	return "handler not found: " + e.Name
}

func (e *HandlerNotFoundError) Is(target error) bool { return target == ErrHandlerNotFound }

type StreamError struct {
	StreamID uint32
	Reason   string
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("stream error (id: %d): %s", e.StreamID, e.Reason)
}

func (e *StreamError) Is(target error) bool { return target == ErrStream }

// ListenerTypeError reports that an event payload did not have the type a listener declared.
type ListenerTypeError struct {
	Event string
	Want  string
	Got   string
}

func (e *ListenerTypeError) Error() string {
	return fmt.Sprintf("listener for %q expects %s, got %s", e.Event, e.Want, e.Got)
}

func (e *ListenerTypeError) Is(target error) bool { return target == ErrListenerType }

// Session wraps a formatted message with ErrSession.
func Session(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrSession, fmt.Sprintf(format, args...))
}

// Context wraps a formatted message with ErrContext.
func Context(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrContext, fmt.Sprintf(format, args...))
}

// InvalidParam wraps a formatted message with ErrInvalidParam.
func InvalidParam(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidParam, fmt.Sprintf(format, args...))
}

// Protocol wraps a formatted message with ErrProtocol.
func Protocol(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrProtocol, fmt.Sprintf(format, args...))
}

// IO marks err as a transport failure, keeping it in the chain.
func IO(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrIO, err)
}

// Serialization marks err as a codec failure, keeping it in the chain.
func Serialization(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrSerialization, err)
}

// StatusOf maps a handler failure to the status code sent back to the peer.
func StatusOf(err error) message.StatusCode {
	var remote *RemoteError
	switch {
	case err == nil:
		return message.StatusSuccess
	case errors.As(err, &remote):
		if remote.Code.IsSuccess() {
			return message.StatusError
		}
		return remote.Code
	case errors.Is(err, ErrHandlerNotFound):
		return message.StatusNotFound
	case errors.Is(err, ErrTimeout):
		return message.StatusTimeout
	case errors.Is(err, ErrInvalidParam), errors.Is(err, ErrSerialization):
		return message.StatusInvalidParam
	default:
		return message.StatusError
	}
}
