package broker

import (
	"context"
	"sync"
	"time"
)

// Mode selects how the consent page is shown.
type Mode string

const (
	// ModePopup opens the consent page in a popup and polls its liveness.
	ModePopup Mode = "popup"
	// ModeRedirect navigates instead; there is no liveness handle.
	ModeRedirect Mode = "redirect"
)

type attemptResult struct {
	res LinkResult
	err error
}

// Attempt is one in-flight authorization request for one platform. Its
// result is assigned exactly once.
type Attempt struct {
	id        string
	platform  string
	mode      Mode
	startedAt time.Time

	cancel context.CancelCauseFunc
	cell   *settleCell[attemptResult]

	readyOnce sync.Once
	ready     chan struct{}

	mu         sync.RWMutex
	status     Status
	state      string
	authorize  *AuthorizeDescriptor
	finishedAt time.Time
	result     *LinkResult
	err        *Error
}

func (a *Attempt) ID() string       { return a.id }
func (a *Attempt) Platform() string { return a.platform }
func (a *Attempt) Mode() Mode       { return a.mode }

func (a *Attempt) Status() Status {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.status
}

// Done is closed once the attempt reaches a terminal status.
func (a *Attempt) Done() <-chan struct{} { return a.cell.done }

// Wait blocks until the attempt settles or ctx ends. The error is a *Error
// carrying the taxonomy code, or ctx's error if ctx ended first.
func (a *Attempt) Wait(ctx context.Context) (LinkResult, error) {
	select {
	case <-a.cell.done:
		r := a.cell.get()
		return r.res, r.err
	case <-ctx.Done():
		return LinkResult{}, ctx.Err()
	}
}

// Authorized blocks until the authorize URL is known. It returns the
// attempt's terminal error if the attempt ended before one was resolved.
func (a *Attempt) Authorized(ctx context.Context) (AuthorizeDescriptor, error) {
	select {
	case <-a.ready:
	case <-ctx.Done():
		return AuthorizeDescriptor{}, ctx.Err()
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.authorize != nil {
		return *a.authorize, nil
	}
	if a.err != nil {
		return AuthorizeDescriptor{}, a.err
	}
	return AuthorizeDescriptor{}, newError(CodeEndpointResolutionFailed, a.platform, "attempt ended before resolution")
}

// Cancel ends the attempt as cancelled if it has not settled yet.
func (a *Attempt) Cancel() { a.cancel(errCallerCancelled) }

// Snapshot returns a copy of the attempt's current fields.
func (a *Attempt) Snapshot() AttemptSnapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s := AttemptSnapshot{
		ID:         a.id,
		Platform:   a.platform,
		State:      a.state,
		Status:     a.status,
		StartedAt:  a.startedAt,
		FinishedAt: a.finishedAt,
		Err:        a.err,
	}
	if a.authorize != nil {
		d := *a.authorize
		s.Authorize = &d
	}
	if a.result != nil {
		r := *a.result
		s.Result = &r
	}
	return s
}

func (a *Attempt) markReady() { a.readyOnce.Do(func() { close(a.ready) }) }

func (a *Attempt) setStatus(s Status) AttemptSnapshot {
	a.mu.Lock()
	a.status = s
	a.mu.Unlock()
	return a.Snapshot()
}

func (a *Attempt) setAuthorize(d AuthorizeDescriptor) {
	a.mu.Lock()
	a.state = d.State
	a.authorize = &d
	a.mu.Unlock()
	a.markReady()
}

// terminate records the terminal fields. It reports false if the attempt was
// already terminal.
func (a *Attempt) terminate(s Status, res *LinkResult, err *Error) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.status.Terminal() {
		return false
	}
	a.status = s
	a.finishedAt = time.Now()
	a.result = res
	a.err = err
	return true
}
