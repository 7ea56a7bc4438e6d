package broker

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMessage(t *testing.T) {
	res, ok := ParseMessage([]byte(`{"type":"SOCIAL_CONNECTION_SUCCESS","platform":" Facebook ","accountId":"1","accountName":"Page"}`))
	require.True(t, ok)
	so := res.(*SuccessOutcome)
	assert.Equal(t, "facebook", so.Platform)
	assert.True(t, so.Finalized())

	res, ok = ParseMessage([]byte(`{"type":"OAUTH_ERROR","platform":"google"}`))
	require.True(t, ok)
	assert.Equal(t, "unknown_error", res.(*ErrorOutcome).ErrorCode)

	for _, raw := range []string{
		`{"type":"OAUTH_SUCCESS"}`,
		`{"type":"oauth_success","platform":"google"}`,
		`{"platform":"google"}`,
		`[]`,
		``,
	} {
		_, ok := ParseMessage([]byte(raw))
		assert.False(t, ok, raw)
	}
}

func TestErrorMatchingByCode(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", newError(CodeProviderError, "linkedin", "access_denied"))
	assert.ErrorIs(t, err, ErrProviderError)
	assert.NotErrorIs(t, err, ErrCancelled)
	assert.Equal(t, CodeProviderError, CodeOf(err))

	be := AsError(errors.New("boom"), CodeCodeExchangeFailed, "facebook")
	assert.Equal(t, CodeCodeExchangeFailed, be.Code)
	assert.Equal(t, "facebook", be.Platform)
	assert.Nil(t, AsError(nil, CodeCancelled, ""))

	withAttempts := &Error{Code: CodeEndpointResolutionFailed, Platform: "tiktok", Attempts: []CandidateFailure{{"unified", "http 500"}}}
	assert.Contains(t, withAttempts.Error(), "unified=http 500")
}
