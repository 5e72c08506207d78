package llm

import (
	"errors"
	"fmt"

	"github.com/narraform-go/internal/models"
)

// ErrorKind classifies a routing failure for the caller
type ErrorKind int

const (
	// KindNotConfigured means no provider has usable credentials
	KindNotConfigured ErrorKind = iota
	// KindQuotaExceeded means the model's daily cap is exhausted
	KindQuotaExceeded
	// KindRateLimited means the per-minute limit blocked the call even after retries
	KindRateLimited
	// KindUpstream means the provider returned a non-retriable HTTP error
	KindUpstream
	// KindEmptyResult means the provider answered but produced no usable text
	KindEmptyResult
	// KindTransport means a network-level failure survived all retries
	KindTransport
)

// String returns the kind name for logging and API payloads
func (k ErrorKind) String() string {
	switch k {
	case KindNotConfigured:
		return "not_configured"
	case KindQuotaExceeded:
		return "quota_exceeded"
	case KindRateLimited:
		return "rate_limited"
	case KindUpstream:
		return "upstream_error"
	case KindEmptyResult:
		return "empty_result"
	case KindTransport:
		return "transport_error"
	}
	return "unknown"
}

// Error is the single failure type crossing the router boundary. Callers
// switch on Kind to render a message without inspecting internals.
type Error struct {
	Kind             ErrorKind
	Provider         string
	Model            string
	StatusCode       int
	Message          string
	AlternativeModel string
	Status           *models.RateLimitStatus
	Err              error
}

func (e *Error) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Provider, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// AsError extracts the router's typed error from an error chain
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
