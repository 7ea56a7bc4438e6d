package broker

import "time"

// Status is the lifecycle state of a ConnectionAttempt.
type Status string

const (
	StatusIdle            Status = "idle"
	StatusInitiating      Status = "initiating"
	StatusAwaitingOutcome Status = "awaiting_outcome"
	StatusCompleting      Status = "completing"
	StatusConnected       Status = "connected"
	StatusFailed          Status = "failed"
	StatusCancelled       Status = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusConnected || s == StatusFailed || s == StatusCancelled
}

// LinkResult is the linked-account identity delivered on success.
type LinkResult struct {
	Platform    string         `json:"platform"`
	AccountID   string         `json:"account_id"`
	AccountName string         `json:"account_name,omitempty"`
	Profile     map[string]any `json:"profile,omitempty"`
}

// AuthorizeDescriptor is what the EndpointResolver hands back.
type AuthorizeDescriptor struct {
	Platform string `json:"platform"`
	URL      string `json:"authorization_url,omitempty"`
	// State is the correlation token carried by URL.
	State     string `json:"state,omitempty"`
	Candidate string `json:"candidate"`
	// Degraded is true when URL was synthesized client-side.
	Degraded bool `json:"degraded"`
}

// AttemptSnapshot is a point-in-time copy of a ConnectionAttempt.
type AttemptSnapshot struct {
	ID         string               `json:"attempt_id"`
	Platform   string               `json:"platform"`
	State      string               `json:"-"`
	Status     Status               `json:"status"`
	StartedAt  time.Time            `json:"started_at"`
	FinishedAt time.Time            `json:"finished_at,omitempty"`
	Authorize  *AuthorizeDescriptor `json:"authorize,omitempty"`
	Result     *LinkResult          `json:"result,omitempty"`
	Err        *Error               `json:"-"`
}
