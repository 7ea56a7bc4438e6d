package broker

import (
	"sync"
	"sync/atomic"

	tokens "github.com/dropDatabas3/linkbroker/internal/security/token"
)

// Size is a requested popup size in pixels.
type Size struct {
	Width  int
	Height int
}

// Viewport is the area a popup is centered in.
type Viewport struct {
	Left   int
	Top    int
	Width  int
	Height int
}

// Geometry is the final popup placement.
type Geometry struct {
	Left   int
	Top    int
	Width  int
	Height int
}

// Window is an opened browsing context.
type Window interface {
	Closed() bool
}

// Opener creates windows. A nil Window with a nil error means the request was
// refused (popup blocked).
type Opener interface {
	Open(url, name string, g Geometry) (Window, error)
}

// PopupHandle is an opened popup.
type PopupHandle struct {
	Label    string
	URL      string
	Geometry Geometry
	window   Window
}

var defaultPopupSize = Size{Width: 600, Height: 700}

// PopupManager opens popups and answers liveness checks. It never polls on
// its own; the bridge decides when to ask.
type PopupManager struct {
	opener   Opener
	viewport Viewport
}

func NewPopupManager(opener Opener, viewport Viewport) *PopupManager {
	if viewport.Width <= 0 || viewport.Height <= 0 {
		viewport = Viewport{Width: 1280, Height: 800}
	}
	return &PopupManager{opener: opener, viewport: viewport}
}

// CenteredGeometry clamps size to the viewport and centers it.
func (m *PopupManager) CenteredGeometry(size Size) Geometry {
	if size.Width <= 0 {
		size.Width = defaultPopupSize.Width
	}
	if size.Height <= 0 {
		size.Height = defaultPopupSize.Height
	}
	w := min(size.Width, m.viewport.Width)
	h := min(size.Height, m.viewport.Height)
	return Geometry{
		Left:   m.viewport.Left + (m.viewport.Width-w)/2,
		Top:    m.viewport.Top + (m.viewport.Height-h)/2,
		Width:  w,
		Height: h,
	}
}

// Open opens url in a popup named label. A refused window fails immediately
// with PopupBlocked.
func (m *PopupManager) Open(url, label string, size Size) (*PopupHandle, error) {
	g := m.CenteredGeometry(size)
	win, err := m.opener.Open(url, label, g)
	if err != nil {
		return nil, &Error{Code: CodePopupBlocked, Message: "window creation failed", Err: err}
	}
	if win == nil {
		return nil, &Error{Code: CodePopupBlocked, Message: "window creation refused"}
	}
	return &PopupHandle{Label: label, URL: url, Geometry: g, window: win}, nil
}

// PopupLabel names the popup of one attempt. The bridge page rebuilds it from
// the platform and state in its query string for the pagehide beacon.
func PopupLabel(platform, state string) string {
	label := "oauth_" + NormalizePlatform(platform)
	if state == "" {
		return label
	}
	return label + "_" + tokens.SHA256Base64URL(state)[:16]
}

// windowReleaser is implemented by openers that keep per-window bookkeeping.
type windowReleaser interface {
	Release(label string, w Window)
}

// Release drops the opener's bookkeeping for h once its attempt is over.
func (m *PopupManager) Release(h *PopupHandle) {
	if h == nil {
		return
	}
	if r, ok := m.opener.(windowReleaser); ok {
		r.Release(h.Label, h.window)
	}
}

// IsClosed reports whether the popup is gone. A nil handle counts as closed.
func (m *PopupManager) IsClosed(h *PopupHandle) bool {
	if h == nil || h.window == nil {
		return true
	}
	return h.window.Closed()
}

// TrackedOpener wraps an Opener and remembers windows by label so an external
// signal (the bridge page's pagehide beacon) can mark them closed.
type TrackedOpener struct {
	inner   Opener
	mu      sync.Mutex
	windows map[string]*trackedWindow
}

type trackedWindow struct {
	inner  Window
	closed atomic.Bool
}

func (w *trackedWindow) Closed() bool {
	if w.closed.Load() {
		return true
	}
	return w.inner != nil && w.inner.Closed()
}

func NewTrackedOpener(inner Opener) *TrackedOpener {
	return &TrackedOpener{inner: inner, windows: make(map[string]*trackedWindow)}
}

func (t *TrackedOpener) Open(url, name string, g Geometry) (Window, error) {
	win, err := t.inner.Open(url, name, g)
	if err != nil || win == nil {
		return nil, err
	}
	tw := &trackedWindow{inner: win}
	t.mu.Lock()
	t.windows[name] = tw
	t.mu.Unlock()
	return tw, nil
}

// Release forgets the window tracked under label if it is still w. A newer
// window opened under the same label is left alone.
func (t *TrackedOpener) Release(label string, w Window) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if tw, ok := t.windows[label]; ok && Window(tw) == w {
		delete(t.windows, label)
	}
}

// Tracked reports how many windows are waiting for a beacon.
func (t *TrackedOpener) Tracked() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.windows)
}

// MarkClosed flags the window opened under label as closed. It reports
// whether such a window was known.
func (t *TrackedOpener) MarkClosed(label string) bool {
	t.mu.Lock()
	tw, ok := t.windows[label]
	delete(t.windows, label)
	t.mu.Unlock()
	if ok {
		tw.closed.Store(true)
	}
	return ok
}
