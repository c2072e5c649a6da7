// Package provider defines the contract every external creator-search API
// must satisfy and the HTTP adapters that implement it.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"

	"github.com/creatorscout/searchjobs/pkg/timeout"
	"github.com/creatorscout/searchjobs/pkg/types"
)

// Request is the input of one adapter invocation.
type Request struct {
	Keywords       []string
	TargetUsername string
	Cursor         string
	Amount         int
}

// Page is the raw output of one adapter invocation.
type Page struct {
	Items      []json.RawMessage
	HasMore    bool
	NextCursor string
}

// Adapter wraps one external creator-search API call. Implementations are stateless.
type Adapter interface {
	Name() string
	Platform() types.Platform
	Search(ctx context.Context, req Request) (*Page, error)
	Normalize(raw json.RawMessage) (types.Creator, error)
}

// ErrorKind separates provider failures the engine backs off from
// and failures that end the job.
type ErrorKind int

const (
	KindRecoverable ErrorKind = iota + 1
	KindUnrecoverable
)

func (k ErrorKind) String() string {
	switch k {
	case KindRecoverable:
		return "recoverable"
	case KindUnrecoverable:
		return "unrecoverable"
	default:
		return "unknown"
	}
}

// Error is the typed error adapters return.
type Error struct {
	Kind       ErrorKind
	Provider   string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s error (status %d): %v", e.Provider, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s error: %v", e.Provider, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Recoverable builds a backoff-class error.
func Recoverable(provider string, err error) *Error {
	return &Error{Kind: KindRecoverable, Provider: provider, Err: err}
}

// Unrecoverable builds an error that ends the job.
func Unrecoverable(provider string, err error) *Error {
	return &Error{Kind: KindUnrecoverable, Provider: provider, Err: err}
}

// Classify returns err as a *Error. Untyped errors are recoverable when they
// look transient (timeouts, network failures) and unrecoverable otherwise.
func Classify(provider string, err error) *Error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	var netErr net.Error
	if timeout.IsTimeout(err) || errors.As(err, &netErr) {
		return Recoverable(provider, err)
	}
	return Unrecoverable(provider, err)
}

// IsRecoverable reports whether err is a backoff-class provider error.
func IsRecoverable(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Kind == KindRecoverable
}

// IsUnrecoverable reports whether err is a provider error that ends the job.
func IsUnrecoverable(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Kind == KindUnrecoverable
}
