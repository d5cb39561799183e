package reader

import (
	"errors"
	"fmt"
)

// Kind classifies a failed provider call.
type Kind int

const (
	KindFatal Kind = iota
	KindRateLimited
	KindNotFound
	KindTransient
)

func (k Kind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindNotFound:
		return "not_found"
	case KindTransient:
		return "transient_network"
	default:
		return "fatal"
	}
}

// Retryable reports whether a second attempt may succeed.
func (k Kind) Retryable() bool {
	return k == KindRateLimited || k == KindTransient
}

// FetchError is returned for every failed fetch. After retries are exhausted
// Kind is KindFatal and Cause holds the kind of the last attempt.
type FetchError struct {
	Kind     Kind
	Cause    Kind
	EntityID string
	Status   int
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("fetch %s: %s", e.EntityID, e.Kind)
	if e.Kind == KindFatal && e.Cause != KindFatal {
		msg += fmt.Sprintf(" (%s after %d attempts)", e.Cause, e.Attempts)
	}
	if e.Status != 0 {
		msg += fmt.Sprintf(" [http %d]", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// NewError builds a FetchError of the given kind.
func NewError(kind Kind, entityID string, status int, err error) *FetchError {
	return &FetchError{Kind: kind, Cause: kind, EntityID: entityID, Status: status, Attempts: 1, Err: err}
}

// KindOf extracts the kind of err; errors that are not FetchErrors are fatal.
func KindOf(err error) Kind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindFatal
}
