package broker

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractOutcomeFromLocation(t *testing.T) {
	tests := []struct {
		name  string
		query string
		check func(t *testing.T, r Resolution)
	}{
		{
			name:  "provider error",
			query: "platform=facebook&error=access_denied&error_description=User+denied",
			check: func(t *testing.T, r Resolution) {
				eo, ok := r.(*ErrorOutcome)
				require.True(t, ok)
				assert.Equal(t, "facebook", eo.Platform)
				assert.Equal(t, "access_denied", eo.ErrorCode)
				assert.Equal(t, "User denied", eo.Description)
			},
		},
		{
			name:  "code and state",
			query: "platform=linkedin&code=abc&state=xyz",
			check: func(t *testing.T, r Resolution) {
				so, ok := r.(*SuccessOutcome)
				require.True(t, ok)
				assert.Equal(t, "abc", so.Code)
				assert.Equal(t, "xyz", so.State)
				assert.False(t, so.Finalized())
			},
		},
		{
			name:  "finalized account camelCase",
			query: "platform=Google&accountId=9&accountName=Shop",
			check: func(t *testing.T, r Resolution) {
				so, ok := r.(*SuccessOutcome)
				require.True(t, ok)
				assert.Equal(t, "google", so.Platform)
				assert.Equal(t, "9", so.AccountID)
				assert.Equal(t, "Shop", so.AccountName)
				assert.True(t, so.Finalized())
			},
		},
		{
			name:  "code id",
			query: "platform=instagram&code_id=c-1&state=s",
			check: func(t *testing.T, r Resolution) {
				so, ok := r.(*SuccessOutcome)
				require.True(t, ok)
				assert.Equal(t, "c-1", so.CodeID)
			},
		},
		{
			name:  "no platform",
			query: "error=access_denied",
			check: func(t *testing.T, r Resolution) { assert.Nil(t, r) },
		},
		{
			name:  "no payload",
			query: "platform=twitter&state=s",
			check: func(t *testing.T, r Resolution) { assert.Nil(t, r) },
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			q, err := url.ParseQuery(tc.query)
			require.NoError(t, err)
			tc.check(t, ExtractOutcomeFromLocation(q))
		})
	}
}

func TestPayloadRoundTripThroughBus(t *testing.T) {
	res := ExtractOutcomeFromLocation(url.Values{"platform": {"facebook"}, "error": {"access_denied"}})
	p, ok := PayloadFor(res)
	require.True(t, ok)
	assert.Equal(t, TypeOAuthError, p.Type)

	_, ok = PayloadFor(&CancelledOutcome{Platform: "facebook"})
	assert.False(t, ok)
}
