package domain

import "errors"

var (
	// ErrJobNotFound is returned when a job cannot be found in the store
	ErrJobNotFound = errors.New("job not found")

	// ErrWorkerNotFound is returned when a worker cannot be found in the store
	ErrWorkerNotFound = errors.New("worker not found")

	// ErrInvalidState is returned when a job is not in a state that permits the operation
	ErrInvalidState = errors.New("job is not in a valid state for this operation")

	// ErrInvalidStatus is returned when a status transition is not in the transition table
	ErrInvalidStatus = errors.New("status transition not allowed")

	// ErrInvalidWorker is returned when the target worker fails the eligibility check
	ErrInvalidWorker = errors.New("worker is not eligible for assignment")

	// ErrValidation is returned for malformed input; never retried
	ErrValidation = errors.New("validation failed")

	// ErrProviderTimeout marks an external provider call that timed out;
	// retryable
	ErrProviderTimeout = errors.New("provider call timed out")
)

// DependencyError wraps failures from external providers (embedding model,
// vector index, notification delivery) that should trigger a queue retry.
type DependencyError struct {
	Provider string
	Err      error
}

func (e *DependencyError) Error() string {
	return "dependency " + e.Provider + " unavailable: " + e.Err.Error()
}

func (e *DependencyError) Unwrap() error {
	return e.Err
}

// NewDependencyError wraps err as a retryable dependency failure.
func NewDependencyError(provider string, err error) error {
	return &DependencyError{Provider: provider, Err: err}
}

// IsDependencyError reports whether err is (or wraps) a DependencyError.
func IsDependencyError(err error) bool {
	var de *DependencyError
	return errors.As(err, &de)
}
