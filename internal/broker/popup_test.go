package broker

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type errOpener struct{}

func (errOpener) Open(string, string, Geometry) (Window, error) { return nil, errors.New("no display") }

func TestCenteredGeometry(t *testing.T) {
	m := NewPopupManager(&fakeOpener{}, Viewport{Left: 100, Top: 50, Width: 1000, Height: 800})

	g := m.CenteredGeometry(Size{})
	assert.Equal(t, Geometry{Left: 300, Top: 100, Width: 600, Height: 700}, g)

	g = m.CenteredGeometry(Size{Width: 2000, Height: 400})
	assert.Equal(t, Geometry{Left: 100, Top: 250, Width: 1000, Height: 400}, g)
}

func TestOpen_BlockedIsSynchronous(t *testing.T) {
	m := NewPopupManager(&fakeOpener{refuse: true}, Viewport{})
	h, err := m.Open("https://p.example", "oauth_twitter", Size{})
	require.Nil(t, h)
	require.ErrorIs(t, err, ErrPopupBlocked)

	_, err = NewPopupManager(errOpener{}, Viewport{}).Open("https://p.example", "x", Size{})
	require.ErrorIs(t, err, ErrPopupBlocked)
}

func TestIsClosed(t *testing.T) {
	o := &fakeOpener{}
	m := NewPopupManager(o, Viewport{})
	h, err := m.Open("https://p.example", "oauth_google", Size{})
	require.NoError(t, err)

	assert.False(t, m.IsClosed(h))
	o.window().closed.Store(true)
	assert.True(t, m.IsClosed(h))
	assert.True(t, m.IsClosed(nil))
}

func TestTrackedOpener_MarkClosed(t *testing.T) {
	tracked := NewTrackedOpener(&fakeOpener{})
	m := NewPopupManager(tracked, Viewport{})
	h, err := m.Open("https://p.example", "oauth_linkedin", Size{})
	require.NoError(t, err)

	assert.False(t, m.IsClosed(h))
	assert.True(t, tracked.MarkClosed("oauth_linkedin"))
	assert.True(t, m.IsClosed(h))
	assert.False(t, tracked.MarkClosed("oauth_linkedin"))
}

func TestPopupLabel(t *testing.T) {
	assert.Equal(t, "oauth_linkedin", PopupLabel("LinkedIn", ""))

	a := PopupLabel("linkedin", "state-a")
	b := PopupLabel("linkedin", "state-b")
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, PopupLabel("linkedin", "state-a"))
	assert.Len(t, a, len("oauth_linkedin_")+16)
	assert.NotContains(t, a, "state-a")
}

func TestTrackedOpener_ReleaseKeepsNewerWindow(t *testing.T) {
	tracked := NewTrackedOpener(&fakeOpener{})
	m := NewPopupManager(tracked, Viewport{})

	old, err := m.Open("https://p.example", "oauth_google", Size{})
	require.NoError(t, err)
	newer, err := m.Open("https://p.example", "oauth_google", Size{})
	require.NoError(t, err)

	// El handle viejo no borra la ventana que lo reemplazó.
	m.Release(old)
	assert.Equal(t, 1, tracked.Tracked())

	m.Release(newer)
	assert.Equal(t, 0, tracked.Tracked())
	m.Release(nil)
}
