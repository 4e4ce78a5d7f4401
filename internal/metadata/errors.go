package metadata

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"google.golang.org/genai"
)

// Kind classifies an extraction failure.
type Kind int

const (
	// KindUnknown is any failure that is neither quota, transient nor malformed.
	KindUnknown Kind = iota
	// KindQuotaExceeded means the provider rejected the call for quota; further
	// calls in the same run will fail too.
	KindQuotaExceeded
	// KindTransient covers timeouts and provider-side errors worth retrying.
	KindTransient
	// KindMalformed means the model answered but the answer was not usable JSON.
	KindMalformed
)

func (k Kind) String() string {
	switch k {
	case KindQuotaExceeded:
		return "quota_exceeded"
	case KindTransient:
		return "transient"
	case KindMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// ErrMalformed is matched by every malformed-response error.
var ErrMalformed = errors.New("malformed model response")

// Error is the typed failure returned by analyzers.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("metadata %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind carried by err, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// classify wraps a provider error with its Kind.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != KindUnknown {
		return err
	}
	return &Error{Kind: kindFromCause(err), Err: err}
}

func kindFromCause(err error) Kind {
	if code, status, ok := apiStatus(err); ok {
		switch {
		case code == http.StatusTooManyRequests || status == "RESOURCE_EXHAUSTED":
			return KindQuotaExceeded
		case code == http.StatusRequestTimeout || code >= http.StatusInternalServerError:
			return KindTransient
		default:
			return KindUnknown
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTransient
	}
	return KindUnknown
}

func apiStatus(err error) (int, string, bool) {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code, apiErr.Status, true
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return apiErrPtr.Code, apiErrPtr.Status, true
	}
	return 0, "", false
}

func malformed(cause error) error {
	return &Error{Kind: KindMalformed, Err: fmt.Errorf("%w: %w", ErrMalformed, cause)}
}
