package broker

import (
	"net/url"
	"strings"
)

// ExtractOutcomeFromLocation reads a redirect's query string into the same
// Resolution shape the bus produces. It returns nil when the query names no
// platform or carries neither an error nor a success payload.
func ExtractOutcomeFromLocation(q url.Values) Resolution {
	platform := NormalizePlatform(q.Get("platform"))
	if platform == "" {
		return nil
	}
	state := strings.TrimSpace(q.Get("state"))

	if code := strings.TrimSpace(q.Get("error")); code != "" {
		return &ErrorOutcome{
			Platform:    platform,
			State:       state,
			ErrorCode:   code,
			Description: strings.TrimSpace(q.Get("error_description")),
		}
	}

	out := &SuccessOutcome{
		Platform:    platform,
		State:       state,
		AccountID:   firstParam(q, "account_id", "accountId"),
		AccountName: firstParam(q, "account_name", "accountName"),
		Code:        strings.TrimSpace(q.Get("code")),
		CodeID:      firstParam(q, "code_id", "codeId"),
	}
	if out.AccountID == "" && out.Code == "" && out.CodeID == "" {
		return nil
	}
	return out
}

func firstParam(q url.Values, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(q.Get(k)); v != "" {
			return v
		}
	}
	return ""
}
