package browsertest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/roombot/internal/browser"
)

func TestFake_FindAndInteract(t *testing.T) {
	ctx := context.Background()
	f := New()
	input := NewElement("")
	f.Put(browser.CSS("textarea"), input)

	el, ok, err := f.Find(ctx, browser.CSS("textarea"), time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, el.Type(ctx, "stale"))
	require.NoError(t, el.Clear(ctx))
	require.NoError(t, el.Type(ctx, "hello"))
	require.NoError(t, el.PressEnter(ctx))
	assert.Equal(t, []string{"hello"}, input.Messages())

	_, ok, err = f.Find(ctx, browser.CSS("input"), time.Second)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, f.FindCount(browser.CSS("input")))
}

func TestFake_NavigateHooksAndClose(t *testing.T) {
	ctx := context.Background()
	f := New()
	f.OnNavigate = func(f *Fake, url string) { f.SetURL(url + "#done") }

	require.NoError(t, f.Navigate(ctx, "https://example.test/login"))
	u, err := f.CurrentURL(ctx)
	require.NoError(t, err)
	assert.Equal(t, "https://example.test/login#done", u)
	assert.Equal(t, []string{"https://example.test/login"}, f.Navigations)

	require.NoError(t, f.Close())
	assert.True(t, f.Closed())
	assert.ErrorIs(t, f.Refresh(ctx), ErrClosed)
}

func TestFake_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := New()
	_, _, err := f.Find(ctx, browser.Name("x"), time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}
