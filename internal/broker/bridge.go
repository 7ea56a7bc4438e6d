package broker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/dropDatabas3/linkbroker/internal/observability/logger"
)

const defaultPollInterval = 500 * time.Millisecond

// BridgeConfig tunes the MessageBridge.
type BridgeConfig struct {
	// PollInterval is the popup liveness check period. Zero means 500ms.
	PollInterval time.Duration
	// AllowedOrigins lists the scheme://host values a message may come from.
	// Empty accepts any origin.
	AllowedOrigins []string
}

// AwaitRequest identifies the attempt whose outcome is awaited. Popup is nil
// for redirect-style flows, in which case no liveness poll runs.
type AwaitRequest struct {
	Platform string
	// State, when set, must equal the message's state; messages without one are ignored.
	State string
	Popup *PopupHandle
}

// MessageBridge correlates bus messages with a single attempt and races them
// against the popup liveness poll.
type MessageBridge struct {
	bus     *Bus
	popups  *PopupManager
	poll    time.Duration
	origins map[string]struct{}
}

func NewMessageBridge(bus *Bus, popups *PopupManager, cfg BridgeConfig) *MessageBridge {
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	b := &MessageBridge{bus: bus, popups: popups, poll: poll}
	if len(cfg.AllowedOrigins) > 0 {
		b.origins = make(map[string]struct{}, len(cfg.AllowedOrigins))
		for _, o := range cfg.AllowedOrigins {
			b.origins[normalizeOrigin(o)] = struct{}{}
		}
	} else {
		logger.L().Warn("message bridge accepts any origin; configure broker.allowed_origins",
			logger.Component("bridge"))
	}
	return b
}

// AwaitOutcome blocks until the attempt settles. Exactly one of three paths
// settles it: a matching message, the popup observed closed, or ctx ending.
// Whichever wins removes the listener and stops the poll before returning.
func (b *MessageBridge) AwaitOutcome(ctx context.Context, req AwaitRequest) (Resolution, error) {
	platform := NormalizePlatform(req.Platform)
	if platform == "" {
		return nil, errors.New("bridge: platform is required")
	}
	log := logger.From(ctx).With(logger.Component("bridge"), logger.Platform(platform))

	cell := newSettleCell[Resolution]()
	stop := make(chan struct{})

	var (
		mu   sync.Mutex
		sub  *Subscription
		torn bool
	)
	teardown := func() {
		mu.Lock()
		defer mu.Unlock()
		if torn {
			return
		}
		torn = true
		if sub != nil {
			sub.Close()
		}
		close(stop)
	}
	settle := func(r Resolution) {
		if cell.put(r) {
			teardown()
		}
	}

	// mu is held across Subscribe so a message delivered before sub is
	// assigned waits in teardown instead of leaking the subscription.
	mu.Lock()
	sub = b.bus.Subscribe(func(m Message) {
		res, ok := b.accept(m, platform, req.State)
		if !ok {
			return
		}
		log.Debug("outcome message accepted", logger.String("origin", m.Origin))
		settle(res)
	})
	mu.Unlock()

	go func() {
		var tick <-chan time.Time
		if req.Popup != nil {
			t := time.NewTicker(b.poll)
			defer t.Stop()
			tick = t.C
		}
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				reason := "cancelled"
				if cause := context.Cause(ctx); cause != nil {
					reason = cause.Error()
				}
				settle(&CancelledOutcome{Platform: platform, Reason: reason})
				return
			case <-tick:
				if b.popups.IsClosed(req.Popup) {
					settle(&CancelledOutcome{Platform: platform, Reason: "popup closed before any outcome"})
					return
				}
			}
		}
	}()

	<-cell.done
	return cell.get(), nil
}

func (b *MessageBridge) accept(m Message, platform, state string) (Resolution, bool) {
	if b.origins != nil {
		if _, ok := b.origins[normalizeOrigin(m.Origin)]; !ok {
			logger.L().Debug("message ignored: origin not allowed",
				logger.Component("bridge"), logger.String("origin", m.Origin))
			return nil, false
		}
	}
	res, ok := ParseMessage(m.Data)
	if !ok || res.OutcomePlatform() != platform {
		return nil, false
	}
	// Con un state esperado, un mensaje sin state no correlaciona con nada.
	if st := outcomeState(res); state != "" && st != state {
		logger.L().Debug("message ignored: state missing or mismatched",
			logger.Component("bridge"), logger.Platform(platform), logger.State(st))
		return nil, false
	}
	return res, true
}

func normalizeOrigin(o string) string {
	return strings.TrimRight(strings.ToLower(strings.TrimSpace(o)), "/")
}
