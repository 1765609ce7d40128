package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies pipeline failures
type ErrorKind string

const (
	KindUploadError           ErrorKind = "upload_error"
	KindUnsupportedFileType   ErrorKind = "unsupported_file_type"
	KindSizeLimitExceeded     ErrorKind = "size_limit_exceeded"
	KindConversionFailed      ErrorKind = "conversion_failed"
	KindArchiveOpenFailed     ErrorKind = "archive_open_failed"
	KindDiskSpaceInsufficient ErrorKind = "disk_space_insufficient"
	KindWebhookDeliveryFailed ErrorKind = "webhook_delivery_failed"
	KindNotFound              ErrorKind = "not_found"
	KindInternal              ErrorKind = "internal"
)

// Error is a classified pipeline error. Output holds captured tool diagnostics, if any.
type Error struct {
	Kind    ErrorKind
	Message string
	Output  string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, &Error{Kind: KindNotFound}) works
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == "" && t.Err == nil
}

// KindOf returns the kind of the first *Error in the chain, or KindInternal
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// IsKind reports whether err is classified as kind
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// MessageOf returns the human-readable part of a classified error
func MessageOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Message
	}
	return "internal error"
}

// OutputOf returns captured tool output attached to err, if any
func OutputOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Output
	}
	return ""
}

func newError(kind ErrorKind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func UploadError(err error, format string, args ...any) *Error {
	return newError(KindUploadError, err, format, args...)
}

func UnsupportedFileType(format string, args ...any) *Error {
	return newError(KindUnsupportedFileType, nil, format, args...)
}

func SizeLimitExceeded(size, limit int64) *Error {
	return newError(KindSizeLimitExceeded, nil, "file size %d exceeds limit of %d bytes", size, limit)
}

// ConversionFailed attaches the tool output for diagnostics
func ConversionFailed(err error, output string, format string, args ...any) *Error {
	e := newError(KindConversionFailed, err, format, args...)
	e.Output = output
	return e
}

func ArchiveOpenFailed(err error, format string, args ...any) *Error {
	return newError(KindArchiveOpenFailed, err, format, args...)
}

func DiskSpaceInsufficient(required, available uint64) *Error {
	return newError(KindDiskSpaceInsufficient, nil,
		"estimated %d bytes needed, %d bytes available", required, available)
}

func WebhookDeliveryFailed(err error, format string, args ...any) *Error {
	return newError(KindWebhookDeliveryFailed, err, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return newError(KindNotFound, nil, format, args...)
}

func Internal(err error, format string, args ...any) *Error {
	return newError(KindInternal, err, format, args...)
}
