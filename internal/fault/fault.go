// Package fault enumerates the error kinds the capture pipeline distinguishes
// and carries them on a single structured error type so callers can decide
// whether to log and continue or abort.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline error.
type Kind int

const (
	// Unknown is used for errors that did not originate from the pipeline.
	Unknown Kind = iota
	// PortError means the byte source could not be opened or read.
	PortError
	// SyncLoss means no marker was found and the buffer exceeded its cap.
	SyncLoss
	// FrameSizeInvalid means a length field fell outside the accepted range.
	FrameSizeInvalid
	// DecodeError means a payload was malformed for the configured variant.
	DecodeError
	// SinkWriteError means a record could not be written to its destination.
	SinkWriteError
)

var kindNames = map[Kind]string{
	Unknown:          "unknown",
	PortError:        "port_error",
	SyncLoss:         "sync_loss",
	FrameSizeInvalid: "frame_size_invalid",
	DecodeError:      "decode_error",
	SinkWriteError:   "sink_write_error",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Fatal reports whether errors of this kind must terminate the capture loop.
// Only a byte-source failure is fatal.
func (k Kind) Fatal() bool {
	return k == PortError
}

// Error is a pipeline error tagged with its Kind.
type Error struct {
	Kind Kind
	Err  error
}

// New wraps err with the given kind. A nil err yields nil.
func New(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// Errorf formats a message and tags it with kind.
func Errorf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by kind so errors.Is(err, &fault.Error{Kind: k})
// works without comparing the wrapped cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Err == nil && t.Kind == e.Kind
}

// KindOf returns the kind carried by err, or Unknown.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Unknown
}

// IsFatal reports whether err must stop the capture loop.
func IsFatal(err error) bool {
	return KindOf(err).Fatal()
}
