// Package errs classifies pipeline failures into the retry taxonomy: transient
// errors are retried with backoff, permanent and timeout errors fail the job
// immediately, cancellation is a distinct non-retryable kind.
package errs

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/scoreleaf/api/internal/model"
)

var (
	markTransient = errors.New("transient")
	markPermanent = errors.New("permanent")
	markTimeout   = errors.New("timeout")
	markCanceled  = errors.New("canceled")
)

// Transient wraps err as a retryable failure (network I/O, resource pressure).
func Transient(err error, msg string) error {
	return errors.Mark(errors.Wrap(err, msg), markTransient)
}

// Transientf creates a new retryable failure.
func Transientf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), markTransient)
}

// Permanent wraps err as a non-retryable validation failure.
func Permanent(err error, msg string) error {
	return errors.Mark(errors.Wrap(err, msg), markPermanent)
}

// Permanentf creates a new non-retryable validation failure.
func Permanentf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), markPermanent)
}

// Timeoutf creates an execution-timeout failure.
func Timeoutf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), markTimeout)
}

// Canceledf creates a cancellation failure.
func Canceledf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), markCanceled)
}

func IsTransient(err error) bool { return errors.Is(err, markTransient) }
func IsPermanent(err error) bool { return errors.Is(err, markPermanent) }
func IsTimeout(err error) bool {
	return errors.Is(err, markTimeout) || errors.Is(err, context.DeadlineExceeded)
}
func IsCanceled(err error) bool {
	return errors.Is(err, markCanceled) || errors.Is(err, context.Canceled)
}

// Classify maps an error to the kind recorded on the job and whether another
// attempt is worth making. Unrecognized errors are treated as internal but
// retryable, so an unclassified blip does not permanently fail a job.
func Classify(err error) (model.ErrorKind, bool) {
	switch {
	case err == nil:
		return "", false
	case IsCanceled(err):
		return model.ErrorKindCanceled, false
	case IsTimeout(err):
		return model.ErrorKindTimeout, false
	case IsPermanent(err):
		return model.ErrorKindInvalidInput, false
	case IsTransient(err):
		return model.ErrorKindTransient, true
	default:
		return model.ErrorKindInternal, true
	}
}
