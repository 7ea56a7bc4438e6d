package backend

import "errors"

// Service errors
var (
	ErrUnknownPlatform       = errors.New("platform not supported")
	ErrProviderNotConfigured = errors.New("provider not configured")
	ErrStateMissing          = errors.New("state is required")
	ErrPendingNotFound       = errors.New("pending authorization not found or expired")
	ErrCodeNotFound          = errors.New("code not found, expired or already used")
	ErrPlatformMismatch      = errors.New("code was issued for another platform")
	ErrUnauthenticated       = errors.New("authenticated session required")
	ErrExchangeFailed        = errors.New("provider code exchange failed")
	ErrProfileFailed         = errors.New("provider profile fetch failed")
	ErrPayloadInvalid        = errors.New("stored payload is invalid")
)
