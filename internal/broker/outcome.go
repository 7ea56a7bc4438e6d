package broker

import (
	"encoding/json"
	"strings"
)

// Message types accepted on the bus.
const (
	TypeSocialConnectionSuccess = "SOCIAL_CONNECTION_SUCCESS"
	TypeOAuthSuccess            = "OAUTH_SUCCESS"
	TypeOAuthError              = "OAUTH_ERROR"
)

// Resolution is the outcome of awaiting a consent flow. It is a closed union:
// *SuccessOutcome, *ErrorOutcome or *CancelledOutcome.
type Resolution interface {
	OutcomePlatform() string
	isResolution()
}

// SuccessOutcome carries either a finalized account (AccountID set) or the
// handles needed for a deferred completion (CodeID, or State/Code).
type SuccessOutcome struct {
	Platform    string
	State       string
	AccountID   string
	AccountName string
	Profile     map[string]any
	Code        string
	CodeID      string
}

// ErrorOutcome is an error reported by the provider, the bridge page or a redirect.
type ErrorOutcome struct {
	Platform    string
	State       string
	ErrorCode   string
	Description string
}

// CancelledOutcome means the flow ended without any outcome message.
type CancelledOutcome struct {
	Platform string
	Reason   string
}

func (o *SuccessOutcome) OutcomePlatform() string   { return o.Platform }
func (o *ErrorOutcome) OutcomePlatform() string     { return o.Platform }
func (o *CancelledOutcome) OutcomePlatform() string { return o.Platform }

func (*SuccessOutcome) isResolution()   {}
func (*ErrorOutcome) isResolution()     {}
func (*CancelledOutcome) isResolution() {}

// Finalized reports whether the success already carries the linked account.
func (o *SuccessOutcome) Finalized() bool { return o.AccountID != "" }

// MessagePayload is the wire shape posted by the bridge page.
type MessagePayload struct {
	Type             string         `json:"type"`
	Platform         string         `json:"platform"`
	State            string         `json:"state,omitempty"`
	AccountID        string         `json:"accountId,omitempty"`
	AccountName      string         `json:"accountName,omitempty"`
	Profile          map[string]any `json:"profile,omitempty"`
	Code             string         `json:"code,omitempty"`
	CodeID           string         `json:"codeId,omitempty"`
	Error            string         `json:"error,omitempty"`
	ErrorDescription string         `json:"errorDescription,omitempty"`
}

// ParseMessage validates raw bus data at the boundary. Anything without a
// recognized type or a platform is rejected.
func ParseMessage(raw []byte) (Resolution, bool) {
	var p MessagePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, false
	}
	platform := NormalizePlatform(p.Platform)
	if platform == "" {
		return nil, false
	}

	switch p.Type {
	case TypeSocialConnectionSuccess, TypeOAuthSuccess:
		return &SuccessOutcome{
			Platform:    platform,
			State:       strings.TrimSpace(p.State),
			AccountID:   strings.TrimSpace(p.AccountID),
			AccountName: strings.TrimSpace(p.AccountName),
			Profile:     p.Profile,
			Code:        strings.TrimSpace(p.Code),
			CodeID:      strings.TrimSpace(p.CodeID),
		}, true
	case TypeOAuthError:
		code := strings.TrimSpace(p.Error)
		if code == "" {
			code = "unknown_error"
		}
		return &ErrorOutcome{
			Platform:    platform,
			State:       strings.TrimSpace(p.State),
			ErrorCode:   code,
			Description: strings.TrimSpace(p.ErrorDescription),
		}, true
	default:
		return nil, false
	}
}

// PayloadFor renders a resolution in the wire shape. Cancelled outcomes have
// no wire form and return ok=false.
func PayloadFor(res Resolution) (MessagePayload, bool) {
	switch r := res.(type) {
	case *SuccessOutcome:
		typ := TypeOAuthSuccess
		if r.Finalized() {
			typ = TypeSocialConnectionSuccess
		}
		return MessagePayload{
			Type:        typ,
			Platform:    r.Platform,
			State:       r.State,
			AccountID:   r.AccountID,
			AccountName: r.AccountName,
			Profile:     r.Profile,
			Code:        r.Code,
			CodeID:      r.CodeID,
		}, true
	case *ErrorOutcome:
		return MessagePayload{
			Type:             TypeOAuthError,
			Platform:         r.Platform,
			State:            r.State,
			Error:            r.ErrorCode,
			ErrorDescription: r.Description,
		}, true
	default:
		return MessagePayload{}, false
	}
}

func outcomeState(res Resolution) string {
	switch r := res.(type) {
	case *SuccessOutcome:
		return r.State
	case *ErrorOutcome:
		return r.State
	}
	return ""
}
