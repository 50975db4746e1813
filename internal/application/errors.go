package application

import (
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("not found")
var ErrBadRequest = errors.New("bad request")
var ErrConstraint = errors.New("constraint violation")
var ErrStaleWrite = errors.New("stale write ignored")

// FetchKind classifies external source failures.
type FetchKind string

const (
	FetchTimeout     FetchKind = "timeout"
	FetchUnreachable FetchKind = "unreachable"
	FetchMalformed   FetchKind = "malformed_response"
)

// FetchError reports a failed source fetch. It is always recoverable at the
// pipeline level; callers keep serving the last known data.
type FetchError struct {
	Exchange string
	Kind     FetchKind
	Err      error
}

func (e *FetchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: fetch %s", e.Exchange, e.Kind)
	}
	return fmt.Sprintf("%s: fetch %s: %v", e.Exchange, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func NewFetchError(exchange string, kind FetchKind, err error) *FetchError {
	return &FetchError{Exchange: exchange, Kind: kind, Err: err}
}
