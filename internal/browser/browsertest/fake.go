// Package browsertest provides a scripted in-memory browser.Driver.
package browsertest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/p-blackswan/roombot/internal/browser"
)

// ErrClosed is returned by every call after Close.
var ErrClosed = errors.New("browsertest: driver closed")

// FindCall records a single lookup.
type FindCall struct {
	Locator browser.Locator
	Timeout time.Duration
}

// Fake is a scripted page. Tests register elements per locator; lookups for
// unregistered locators report not found.
type Fake struct {
	mu sync.Mutex

	url      string
	html     string
	elements map[browser.Locator][]*Element
	closed   bool

	Navigations []string
	Refreshes   int
	Finds       []FindCall

	// OnNavigate, when set, runs after the URL changes.
	OnNavigate func(f *Fake, url string)
	// OnRefresh, when set, runs after each refresh.
	OnRefresh func(f *Fake)
}

var _ browser.Driver = (*Fake)(nil)

// New returns an empty page at about:blank.
func New() *Fake {
	return &Fake{url: "about:blank", elements: make(map[browser.Locator][]*Element)}
}

// Put registers els under loc, replacing any previous registration.
func (f *Fake) Put(loc browser.Locator, els ...*Element) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range els {
		e.fake = f
	}
	f.elements[loc] = els
}

// Remove drops the registration for loc.
func (f *Fake) Remove(loc browser.Locator) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.elements, loc)
}

// SetURL changes the current URL without recording a navigation.
func (f *Fake) SetURL(u string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.url = u
}

// SetHTML sets the document returned by HTML.
func (f *Fake) SetHTML(html string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.html = html
}

// Closed reports whether Close was called.
func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// FindCount returns how many lookups targeted loc.
func (f *Fake) FindCount(loc browser.Locator) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.Finds {
		if c.Locator == loc {
			n++
		}
	}
	return n
}

func (f *Fake) Navigate(ctx context.Context, url string) error {
	if err := f.check(ctx); err != nil {
		return err
	}
	f.mu.Lock()
	f.url = url
	f.Navigations = append(f.Navigations, url)
	hook := f.OnNavigate
	f.mu.Unlock()
	if hook != nil {
		hook(f, url)
	}
	return nil
}

func (f *Fake) Refresh(ctx context.Context) error {
	if err := f.check(ctx); err != nil {
		return err
	}
	f.mu.Lock()
	f.Refreshes++
	hook := f.OnRefresh
	f.mu.Unlock()
	if hook != nil {
		hook(f)
	}
	return nil
}

func (f *Fake) CurrentURL(ctx context.Context) (string, error) {
	if err := f.check(ctx); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.url, nil
}

func (f *Fake) HTML(ctx context.Context) (string, error) {
	if err := f.check(ctx); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.html, nil
}

func (f *Fake) Find(ctx context.Context, loc browser.Locator, timeout time.Duration) (browser.Element, bool, error) {
	els, err := f.lookup(ctx, loc, timeout)
	if err != nil || len(els) == 0 {
		return nil, false, err
	}
	return els[0], true, nil
}

func (f *Fake) FindAll(ctx context.Context, loc browser.Locator, timeout time.Duration) ([]browser.Element, error) {
	els, err := f.lookup(ctx, loc, timeout)
	if err != nil {
		return nil, err
	}
	out := make([]browser.Element, 0, len(els))
	for _, e := range els {
		out = append(out, e)
	}
	return out, nil
}

func (f *Fake) lookup(ctx context.Context, loc browser.Locator, timeout time.Duration) ([]*Element, error) {
	if err := f.check(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Finds = append(f.Finds, FindCall{Locator: loc, Timeout: timeout})
	return append([]*Element(nil), f.elements[loc]...), nil
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *Fake) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	return nil
}

// Element is a scripted element. Typed text accumulates in Value until
// Clear; PressEnter moves Value into Sent.
type Element struct {
	Label  string
	Inner  string
	Hidden bool

	// OnClick and OnSubmit run after the interaction is recorded.
	OnClick  func(f *Fake)
	OnSubmit func(f *Fake)
	ClickErr error

	mu      sync.Mutex
	fake    *Fake
	Value   string
	Clicks  int
	Clears  int
	Submits int
	Sent    []string
}

var _ browser.Element = (*Element)(nil)

// NewElement returns an element with the given text content.
func NewElement(text string) *Element { return &Element{Inner: text} }

func (e *Element) Click(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	if e.ClickErr != nil {
		e.mu.Unlock()
		return e.ClickErr
	}
	e.Clicks++
	hook, f := e.OnClick, e.fake
	e.mu.Unlock()
	if hook != nil {
		hook(f)
	}
	return nil
}

func (e *Element) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Clears++
	e.Value = ""
	return nil
}

func (e *Element) Type(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Value += text
	return nil
}

func (e *Element) Submit(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	e.Submits++
	hook, f := e.OnSubmit, e.fake
	e.mu.Unlock()
	if hook != nil {
		hook(f)
	}
	return nil
}

func (e *Element) PressEnter(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Sent = append(e.Sent, e.Value)
	e.Value = ""
	return nil
}

func (e *Element) Text(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Inner, nil
}

func (e *Element) Visible(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.Hidden, nil
}

// Messages returns a copy of everything sent with Enter.
func (e *Element) Messages() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.Sent...)
}

// ClickCount returns the number of recorded clicks.
func (e *Element) ClickCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Clicks
}
