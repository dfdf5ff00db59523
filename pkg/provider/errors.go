package provider

import (
	"context"
	"errors"
	"fmt"
	"net"

	openai "github.com/sashabaranov/go-openai"
)

// ErrorKind classifies provider failures for routing and retry decisions.
type ErrorKind string

const (
	ErrKindTimeout     ErrorKind = "timeout"
	ErrKindAuth        ErrorKind = "auth"
	ErrKindRateLimited ErrorKind = "rate_limited"
	ErrKindUpstream5xx ErrorKind = "upstream_5xx"
	ErrKindNetwork     ErrorKind = "network"
)

// Error wraps a provider failure with its classification.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Classify maps a raw client error to a classified Error.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var classified *Error
	if errors.As(err, &classified) {
		return classified
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: ErrKindTimeout, Err: err}
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == 401 || apiErr.HTTPStatusCode == 403:
			return &Error{Kind: ErrKindAuth, Err: err}
		case apiErr.HTTPStatusCode == 429:
			return &Error{Kind: ErrKindRateLimited, Err: err}
		case apiErr.HTTPStatusCode >= 500:
			return &Error{Kind: ErrKindUpstream5xx, Err: err}
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return &Error{Kind: ErrKindTimeout, Err: err}
		}
		return &Error{Kind: ErrKindNetwork, Err: err}
	}

	return &Error{Kind: ErrKindNetwork, Err: err}
}

// Retryable reports whether a single retry is warranted. Only transient
// kinds qualify; auth and rate-limit failures fail fast.
func Retryable(err error) bool {
	var classified *Error
	if !errors.As(err, &classified) {
		return false
	}
	return classified.Kind == ErrKindTimeout || classified.Kind == ErrKindUpstream5xx
}

// KindOf extracts the classification, or "" for unclassified errors.
func KindOf(err error) ErrorKind {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}
	return ""
}
