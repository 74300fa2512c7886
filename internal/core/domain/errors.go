package domain

import "errors"

// ErrorKind classifies failures so retry and circuit breaker logic can
// branch on kind instead of matching message strings.
type ErrorKind int

const (
	// KindTransient covers network blips and timeouts. Retriable.
	KindTransient ErrorKind = iota
	// KindUnhealthy marks a dependency with sustained failures. Not
	// retried further until the recovery window passes.
	KindUnhealthy
	// KindValidation marks a data-quality issue. Annotated, not fatal.
	KindValidation
	// KindFatal aborts the run immediately. No retry.
	KindFatal
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindUnhealthy:
		return "unhealthy"
	case KindValidation:
		return "validation"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

type classifiedError struct {
	kind ErrorKind
	err  error
}

func (e *classifiedError) Error() string { return e.err.Error() }

func (e *classifiedError) Unwrap() error { return e.err }

// Transient wraps err as a retriable failure.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{kind: KindTransient, err: err}
}

// Unhealthy wraps err as a sustained dependency failure.
func Unhealthy(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{kind: KindUnhealthy, err: err}
}

// Validation wraps err as a data-quality failure.
func Validation(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{kind: KindValidation, err: err}
}

// Fatal wraps err as a run-aborting failure.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{kind: KindFatal, err: err}
}

// Classify returns the kind of err. Unclassified errors default to
// transient, matching the retry-everything default of the pipeline.
func Classify(err error) ErrorKind {
	var ce *classifiedError
	if errors.As(err, &ce) {
		return ce.kind
	}
	return KindTransient
}
