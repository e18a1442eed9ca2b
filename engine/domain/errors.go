package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for pipeline failures.
var (
	ErrFetch                 = errors.New("fetch failed")
	ErrDimensionMismatch     = errors.New("dimension mismatch in embeddings")
	ErrUpsert                = errors.New("upsert failed")
	ErrQuery                 = errors.New("query failed")
	ErrCollectionUnavailable = errors.New("collection unavailable")
	ErrEmptyInput            = errors.New("empty input")
)

// FetchError reports a failure to retrieve or split the content of a URL.
type FetchError struct {
	URL     string
	Wrapped error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Wrapped)
}

func (e *FetchError) Unwrap() []error { return []error{ErrFetch, e.Wrapped} }

// NewFetchError creates a FetchError.
func NewFetchError(url string, err error) *FetchError {
	return &FetchError{URL: url, Wrapped: err}
}

// DimensionMismatchError reports an embedding whose length differs from the
// configured model dimension.
type DimensionMismatchError struct {
	Want int
	Got  int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("%s: want %d, got %d", ErrDimensionMismatch, e.Want, e.Got)
}

func (e *DimensionMismatchError) Unwrap() error { return ErrDimensionMismatch }

// UpsertError reports a failed batch write. Attempted is the number of
// documents in the batch; none of them should be assumed stored.
type UpsertError struct {
	Collection string
	Attempted  int
	Wrapped    error
}

func (e *UpsertError) Error() string {
	return fmt.Sprintf("upsert %d documents into %s: %v", e.Attempted, e.Collection, e.Wrapped)
}

func (e *UpsertError) Unwrap() []error { return []error{ErrUpsert, e.Wrapped} }

// NewUpsertError creates an UpsertError.
func NewUpsertError(collection string, attempted int, err error) *UpsertError {
	return &UpsertError{Collection: collection, Attempted: attempted, Wrapped: err}
}

// QueryError reports a failed similarity query. Question is the original input.
type QueryError struct {
	Question string
	Wrapped  error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query %q: %v", e.Question, e.Wrapped)
}

func (e *QueryError) Unwrap() []error { return []error{ErrQuery, e.Wrapped} }

// NewQueryError creates a QueryError.
func NewQueryError(question string, err error) *QueryError {
	return &QueryError{Question: question, Wrapped: err}
}
