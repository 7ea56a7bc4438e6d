package broker

import (
	"context"
	"sync"
	"time"

	"github.com/dropDatabas3/linkbroker/internal/metrics"
	"github.com/dropDatabas3/linkbroker/internal/observability/logger"
	tokens "github.com/dropDatabas3/linkbroker/internal/security/token"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AuthorizeResolver is satisfied by *EndpointResolver.
type AuthorizeResolver interface {
	ResolveAuthorizeURL(ctx context.Context, platform, state string) (AuthorizeDescriptor, error)
}

// DeferredCompleter is satisfied by *DeferredCodeClient.
type DeferredCompleter interface {
	RememberState(ctx context.Context, platform, state string) error
	CompleteViaCodeID(ctx context.Context, platform, codeID string) (LinkResult, error)
	CompleteViaState(ctx context.Context, platform, state string, extra map[string]string) (LinkResult, error)
}

// Navigator performs a top-level navigation for redirect-style flows.
type Navigator interface {
	Navigate(ctx context.Context, url string) error
}

// MachineConfig wires a Machine.
type MachineConfig struct {
	Resolver AuthorizeResolver
	Popups   *PopupManager
	Bridge   *MessageBridge
	Deferred DeferredCompleter
	// Navigator is optional. In redirect mode without one the caller is
	// expected to navigate to the URL returned by Attempt.Authorized.
	Navigator Navigator

	Mode      Mode
	PopupSize Size
	// AwaitTimeout bounds awaiting_outcome. Zero disables it.
	AwaitTimeout time.Duration
	// OnTransition is called synchronously on every status change.
	OnTransition func(AttemptSnapshot)
}

// Machine runs connection attempts and owns the per-platform registry of
// live attempts. At most one attempt per platform is registered, and only
// registered attempts are non-terminal.
type Machine struct {
	cfg MachineConfig

	mu   sync.Mutex
	live map[string]*Attempt
	last map[string]*Attempt
}

func NewMachine(cfg MachineConfig) *Machine {
	if cfg.Mode == "" {
		cfg.Mode = ModePopup
	}
	return &Machine{
		cfg:  cfg,
		live: make(map[string]*Attempt),
		last: make(map[string]*Attempt),
	}
}

// StartOption customizes a single Start call.
type StartOption func(*startOptions)

type startOptions struct {
	mode Mode
}

// WithMode overrides the configured mode for one attempt.
func WithMode(m Mode) StartOption {
	return func(o *startOptions) { o.mode = m }
}

// Start begins an attempt for platform. A live attempt for the same platform
// is superseded: it is cancelled and Start waits for it to settle before the
// new attempt is registered. Start returns once the new attempt is registered;
// use Attempt.Wait for the outcome.
func (m *Machine) Start(ctx context.Context, platform string, opts ...StartOption) (*Attempt, error) {
	platform = NormalizePlatform(platform)
	if !IsSupported(platform) {
		return nil, newError(CodeUnsupportedPlatform, platform, "platform %q is not supported", platform)
	}
	o := startOptions{mode: m.cfg.Mode}
	for _, fn := range opts {
		fn(&o)
	}

	attemptCtx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
	a := &Attempt{
		id:        uuid.NewString(),
		platform:  platform,
		mode:      o.mode,
		startedAt: time.Now(),
		status:    StatusIdle,
		cancel:    cancel,
		cell:      newSettleCell[attemptResult](),
		ready:     make(chan struct{}),
	}

	for {
		m.mu.Lock()
		prev := m.live[platform]
		if prev == nil {
			m.live[platform] = a
			m.last[platform] = a
			m.mu.Unlock()
			break
		}
		m.mu.Unlock()

		prev.cancel(errSuperseded)
		select {
		case <-prev.Done():
		case <-ctx.Done():
			cancel(ctx.Err())
			return nil, &Error{Code: CodeCancelled, Platform: platform, Message: "gave up waiting for the previous attempt", Err: ctx.Err()}
		}
	}

	metrics.AttemptsLive.WithLabelValues(platform).Inc()
	log := logger.From(ctx).With(logger.Component("machine"), logger.Platform(platform), logger.AttemptID(a.id))
	m.notify(log, a.Snapshot())

	go m.run(logger.ToContext(attemptCtx, log), a, log)
	return a, nil
}

// Connect runs an attempt to completion. If ctx ends first the attempt is
// cancelled and its Cancelled error is returned.
func (m *Machine) Connect(ctx context.Context, platform string, opts ...StartOption) (LinkResult, error) {
	a, err := m.Start(ctx, platform, opts...)
	if err != nil {
		return LinkResult{}, err
	}
	select {
	case <-a.Done():
	case <-ctx.Done():
		a.cancel(context.Cause(ctx))
		<-a.Done()
	}
	return a.Wait(context.Background())
}

// Cancel cancels the live attempt for platform. It reports whether one existed.
func (m *Machine) Cancel(platform string) bool {
	m.mu.Lock()
	a := m.live[NormalizePlatform(platform)]
	m.mu.Unlock()
	if a == nil {
		return false
	}
	a.Cancel()
	return true
}

// Live returns the non-terminal attempt for platform, if any.
func (m *Machine) Live(platform string) (*Attempt, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.live[NormalizePlatform(platform)]
	return a, ok
}

// Last returns the most recently started attempt for platform.
func (m *Machine) Last(platform string) (*Attempt, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.last[NormalizePlatform(platform)]
	return a, ok
}

// LiveCount returns how many attempts are in flight.
func (m *Machine) LiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.live)
}

// Shutdown cancels every live attempt and waits for them to settle or ctx to end.
func (m *Machine) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	live := make([]*Attempt, 0, len(m.live))
	for _, a := range m.live {
		live = append(live, a)
	}
	m.mu.Unlock()

	for _, a := range live {
		a.cancel(errShutdown)
	}
	for _, a := range live {
		select {
		case <-a.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (m *Machine) run(ctx context.Context, a *Attempt, log *zap.Logger) {
	if ctx.Err() != nil {
		m.finishCancelled(a, log, context.Cause(ctx))
		return
	}

	m.notify(log, a.setStatus(StatusInitiating))
	state, err := tokens.GenerateOpaqueToken(24)
	if err != nil {
		m.fail(a, log, &Error{Code: CodeEndpointResolutionFailed, Platform: a.platform, Message: "state generation", Err: err})
		return
	}
	desc, err := m.cfg.Resolver.ResolveAuthorizeURL(ctx, a.platform, state)
	if err != nil {
		if ctx.Err() != nil {
			m.finishCancelled(a, log, context.Cause(ctx))
			return
		}
		m.fail(a, log, AsError(err, CodeEndpointResolutionFailed, a.platform))
		return
	}
	a.setAuthorize(desc)
	if desc.Degraded {
		log.Warn("attempt continues with a synthesized authorize URL")
	}
	if m.cfg.Deferred != nil {
		if err := m.cfg.Deferred.RememberState(ctx, a.platform, desc.State); err != nil {
			log.Warn("could not persist state", logger.Err(err))
		}
	}

	m.notify(log, a.setStatus(StatusAwaitingOutcome))
	var popup *PopupHandle
	switch a.mode {
	case ModeRedirect:
		if m.cfg.Navigator != nil {
			if err := m.cfg.Navigator.Navigate(ctx, desc.URL); err != nil {
				m.fail(a, log, &Error{Code: CodePopupBlocked, Platform: a.platform, Message: "navigation failed", Err: err})
				return
			}
		}
	default:
		popup, err = m.cfg.Popups.Open(desc.URL, PopupLabel(a.platform, desc.State), m.cfg.PopupSize)
		if err != nil {
			be := AsError(err, CodePopupBlocked, a.platform)
			be.Platform = a.platform
			m.fail(a, log, be)
			return
		}
		defer m.cfg.Popups.Release(popup)
	}

	awaitCtx := ctx
	if m.cfg.AwaitTimeout > 0 {
		var stop context.CancelFunc
		awaitCtx, stop = context.WithTimeoutCause(ctx, m.cfg.AwaitTimeout, errAwaitTimeout)
		defer stop()
	}
	res, err := m.cfg.Bridge.AwaitOutcome(awaitCtx, AwaitRequest{Platform: a.platform, State: desc.State, Popup: popup})
	if err != nil {
		m.fail(a, log, AsError(err, CodeCancelled, a.platform))
		return
	}

	switch r := res.(type) {
	case *CancelledOutcome:
		m.finish(a, log, StatusCancelled, nil, newError(CodeCancelled, a.platform, "%s", r.Reason))
	case *ErrorOutcome:
		msg := r.ErrorCode
		if r.Description != "" {
			msg += ": " + r.Description
		}
		m.fail(a, log, newError(CodeProviderError, a.platform, "%s", msg))
	case *SuccessOutcome:
		m.complete(ctx, a, log, r)
	default:
		m.fail(a, log, newError(CodeProviderError, a.platform, "unrecognized outcome %T", res))
	}
}

func (m *Machine) complete(ctx context.Context, a *Attempt, log *zap.Logger, r *SuccessOutcome) {
	m.notify(log, a.setStatus(StatusCompleting))

	if r.Finalized() {
		m.finish(a, log, StatusConnected, &LinkResult{
			Platform:    a.platform,
			AccountID:   r.AccountID,
			AccountName: r.AccountName,
			Profile:     r.Profile,
		}, nil)
		return
	}
	if m.cfg.Deferred == nil {
		m.fail(a, log, newError(CodeCodeExchangeFailed, a.platform, "no deferred completion client configured"))
		return
	}

	var (
		res LinkResult
		err error
	)
	if r.CodeID != "" {
		log.Debug("completing via code_id")
		res, err = m.cfg.Deferred.CompleteViaCodeID(ctx, a.platform, r.CodeID)
	} else {
		log.Debug("completing via state")
		var extra map[string]string
		if r.Code != "" {
			extra = map[string]string{"code": r.Code}
		}
		res, err = m.cfg.Deferred.CompleteViaState(ctx, a.platform, r.State, extra)
	}
	if err != nil {
		if ctx.Err() != nil {
			m.finishCancelled(a, log, context.Cause(ctx))
			return
		}
		m.fail(a, log, AsError(err, CodeCodeExchangeFailed, a.platform))
		return
	}
	if res.Platform == "" {
		res.Platform = a.platform
	}
	m.finish(a, log, StatusConnected, &res, nil)
}

func (m *Machine) fail(a *Attempt, log *zap.Logger, err *Error) {
	m.finish(a, log, StatusFailed, nil, err)
}

func (m *Machine) finishCancelled(a *Attempt, log *zap.Logger, cause error) {
	msg := "cancelled"
	if cause != nil {
		msg = cause.Error()
	}
	m.finish(a, log, StatusCancelled, nil, &Error{Code: CodeCancelled, Platform: a.platform, Message: msg})
}

// finish moves a to a terminal status, reports it, releases its registry
// slot and settles its result, in that order.
func (m *Machine) finish(a *Attempt, log *zap.Logger, s Status, res *LinkResult, err *Error) {
	if !a.terminate(s, res, err) {
		return
	}
	a.cancel(nil)
	a.markReady()

	elapsed := time.Since(a.startedAt)
	metrics.AttemptsLive.WithLabelValues(a.platform).Dec()
	metrics.ObserveAttempt(a.platform, string(s), elapsed)

	fields := []zap.Field{logger.Outcome(string(s)), logger.Elapsed(elapsed)}
	if err != nil {
		fields = append(fields, logger.ErrorCode(string(err.Code)), logger.String("reason", err.Message))
	}
	if s == StatusConnected {
		log.Info("attempt connected", fields...)
	} else {
		log.Info("attempt ended", fields...)
	}
	m.notify(log, a.Snapshot())

	m.mu.Lock()
	if m.live[a.platform] == a {
		delete(m.live, a.platform)
	}
	m.mu.Unlock()

	var out attemptResult
	if res != nil {
		out.res = *res
	}
	if err != nil {
		out.err = err
	}
	a.cell.put(out)
}

func (m *Machine) notify(log *zap.Logger, s AttemptSnapshot) {
	log.Debug("attempt transition", logger.AttemptStatus(string(s.Status)))
	if m.cfg.OnTransition != nil {
		m.cfg.OnTransition(s)
	}
}
