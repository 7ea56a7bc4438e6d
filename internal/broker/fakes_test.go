package broker

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testOrigin = "https://app.example.com"

type fakeWindow struct {
	closed  atomic.Bool
	onCheck func()
}

func (w *fakeWindow) Closed() bool {
	if w.onCheck != nil {
		w.onCheck()
	}
	return w.closed.Load()
}

type fakeOpener struct {
	mu     sync.Mutex
	refuse bool
	opened []string
	win    *fakeWindow
}

func (o *fakeOpener) Open(url, name string, _ Geometry) (Window, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opened = append(o.opened, url)
	if o.refuse {
		return nil, nil
	}
	if o.win == nil {
		o.win = &fakeWindow{}
	}
	return o.win, nil
}

func (o *fakeOpener) window() *fakeWindow {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.win
}

type stubResolver struct {
	err   error
	calls atomic.Int32
}

func (r *stubResolver) ResolveAuthorizeURL(_ context.Context, platform, state string) (AuthorizeDescriptor, error) {
	r.calls.Add(1)
	if r.err != nil {
		return AuthorizeDescriptor{}, r.err
	}
	return AuthorizeDescriptor{
		Platform:  platform,
		URL:       "https://provider.example.com/authorize?state=" + state,
		State:     state,
		Candidate: "unified",
	}, nil
}

type fakeCompleter struct {
	mu         sync.Mutex
	remembered map[string]string
	codeIDs    []string
	states     []string
	res        LinkResult
	err        error
}

func (f *fakeCompleter) RememberState(_ context.Context, platform, state string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.remembered == nil {
		f.remembered = map[string]string{}
	}
	f.remembered[platform] = state
	return nil
}

func (f *fakeCompleter) CompleteViaCodeID(_ context.Context, _, codeID string) (LinkResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.codeIDs = append(f.codeIDs, codeID)
	return f.res, f.err
}

func (f *fakeCompleter) CompleteViaState(_ context.Context, _, state string, _ map[string]string) (LinkResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, state)
	return f.res, f.err
}

func publish(t *testing.T, bus *Bus, p MessagePayload) {
	t.Helper()
	require.NoError(t, bus.PublishPayload(testOrigin, p))
}

func publishRaw(bus *Bus, origin string, v any) {
	data, _ := json.Marshal(v)
	bus.Publish(Message{Origin: origin, Data: data})
}

func waitListeners(t *testing.T, bus *Bus, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return bus.Listeners() == n }, 2*time.Second, time.Millisecond)
}

type harness struct {
	bus      *Bus
	opener   *fakeOpener
	resolver *stubResolver
	deferred *fakeCompleter
	machine  *Machine
}

func newHarness(t *testing.T, mutate func(*MachineConfig)) *harness {
	t.Helper()
	h := &harness{
		bus:      NewBus(),
		opener:   &fakeOpener{},
		resolver: &stubResolver{},
		deferred: &fakeCompleter{},
	}
	popups := NewPopupManager(h.opener, Viewport{Width: 1440, Height: 900})
	cfg := MachineConfig{
		Resolver: h.resolver,
		Popups:   popups,
		Bridge:   NewMessageBridge(h.bus, popups, BridgeConfig{PollInterval: 5 * time.Millisecond, AllowedOrigins: []string{testOrigin}}),
		Deferred: h.deferred,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	h.machine = NewMachine(cfg)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = h.machine.Shutdown(ctx)
	})
	return h
}
