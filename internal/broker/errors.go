package broker

import (
	"errors"
	"fmt"
	"strings"
)

// Code is a broker error taxonomy code.
type Code string

const (
	CodeUnsupportedPlatform      Code = "UnsupportedPlatform"
	CodeEndpointResolutionFailed Code = "EndpointResolutionFailed"
	CodePopupBlocked             Code = "PopupBlocked"
	CodeCancelled                Code = "Cancelled"
	CodeProviderError            Code = "ProviderError"
	CodeCodeExchangeFailed       Code = "CodeExchangeFailed"
	CodeExpiredOrInvalidState    Code = "ExpiredOrInvalidState"
)

// CandidateFailure records why one resolver candidate did not win.
type CandidateFailure struct {
	Candidate string `json:"candidate"`
	Status    string `json:"status"`
}

// Error is the terminal error of a connection attempt.
type Error struct {
	Code     Code
	Platform string
	Message  string
	// Attempts is only set for EndpointResolutionFailed.
	Attempts []CandidateFailure
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	if e.Platform != "" {
		b.WriteString(" [" + e.Platform + "]")
	}
	if e.Message != "" {
		b.WriteString(": " + e.Message)
	}
	if len(e.Attempts) > 0 {
		parts := make([]string, 0, len(e.Attempts))
		for _, a := range e.Attempts {
			parts = append(parts, a.Candidate+"="+a.Status)
		}
		b.WriteString(" (" + strings.Join(parts, ", ") + ")")
	}
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same Code, so errors.Is(err, ErrCancelled) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Sentinels for errors.Is.
var (
	ErrUnsupportedPlatform      = &Error{Code: CodeUnsupportedPlatform}
	ErrEndpointResolutionFailed = &Error{Code: CodeEndpointResolutionFailed}
	ErrPopupBlocked             = &Error{Code: CodePopupBlocked}
	ErrCancelled                = &Error{Code: CodeCancelled}
	ErrProviderError            = &Error{Code: CodeProviderError}
	ErrCodeExchangeFailed       = &Error{Code: CodeCodeExchangeFailed}
	ErrExpiredOrInvalidState    = &Error{Code: CodeExpiredOrInvalidState}
)

// Cancellation causes.
var (
	errSuperseded      = errors.New("superseded by a newer attempt")
	errCallerCancelled = errors.New("cancelled by caller")
	errAwaitTimeout    = errors.New("no outcome before the await timeout")
	errShutdown        = errors.New("broker shutting down")
)

func newError(code Code, platform, format string, args ...any) *Error {
	return &Error{Code: code, Platform: platform, Message: fmt.Sprintf(format, args...)}
}

// AsError extracts a *Error from err. Errors outside the taxonomy are wrapped
// with the fallback code.
func AsError(err error, fallback Code, platform string) *Error {
	if err == nil {
		return nil
	}
	var be *Error
	if errors.As(err, &be) {
		return be
	}
	return &Error{Code: fallback, Platform: platform, Message: "unexpected failure", Err: err}
}

// CodeOf returns the taxonomy code of err, or "" when err is not a broker error.
func CodeOf(err error) Code {
	var be *Error
	if errors.As(err, &be) {
		return be.Code
	}
	return ""
}
