// Package browser is the UI automation adapter. The session controller only
// talks to the Driver interface; ChromeDriver implements it on chromedp.
package browser

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Strategy selects how a Locator's value is interpreted.
type Strategy string

const (
	ByName  Strategy = "name"
	ByID    Strategy = "id"
	ByClass Strategy = "class"
	ByCSS   Strategy = "css"
	ByXPath Strategy = "xpath"
	// ByText matches elements whose text contains any of the "|"-separated
	// alternatives, ignoring case. Tag restricts the element name ("*" if empty).
	ByText Strategy = "text"
)

// Locator identifies one or more elements on the page.
type Locator struct {
	Strategy Strategy `yaml:"strategy"`
	Value    string   `yaml:"value"`
	Tag      string   `yaml:"tag,omitempty"`
}

func Name(v string) Locator  { return Locator{Strategy: ByName, Value: v} }
func ID(v string) Locator    { return Locator{Strategy: ByID, Value: v} }
func Class(v string) Locator { return Locator{Strategy: ByClass, Value: v} }
func CSS(v string) Locator   { return Locator{Strategy: ByCSS, Value: v} }
func XPath(v string) Locator { return Locator{Strategy: ByXPath, Value: v} }

// Text builds a case-insensitive text-contains locator over tag.
func Text(tag string, alternatives ...string) Locator {
	return Locator{Strategy: ByText, Value: strings.Join(alternatives, "|"), Tag: tag}
}

// IsZero reports whether the locator is unset.
func (l Locator) IsZero() bool { return l.Value == "" }

func (l Locator) String() string {
	if l.Tag != "" {
		return fmt.Sprintf("%s=%s<%s>", l.Strategy, l.Value, l.Tag)
	}
	return fmt.Sprintf("%s=%s", l.Strategy, l.Value)
}

// Validate checks that the strategy is known and the value non-empty.
func (l Locator) Validate() error {
	switch l.Strategy {
	case ByName, ByID, ByClass, ByCSS, ByXPath, ByText:
	default:
		return fmt.Errorf("unknown locator strategy %q", l.Strategy)
	}
	if strings.TrimSpace(l.Value) == "" {
		return fmt.Errorf("locator %s: empty value", l.Strategy)
	}
	return nil
}

// Element is a handle to a located page element.
type Element interface {
	Click(ctx context.Context) error
	Clear(ctx context.Context) error
	Type(ctx context.Context, text string) error
	Submit(ctx context.Context) error
	PressEnter(ctx context.Context) error
	Text(ctx context.Context) (string, error)
	Visible(ctx context.Context) (bool, error)
}

// Driver is a live browser tab.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	Refresh(ctx context.Context) error
	CurrentURL(ctx context.Context) (string, error)
	// HTML returns the outer HTML of the current document.
	HTML(ctx context.Context) (string, error)

	// Find waits up to timeout for the first match. A missing element is
	// (nil, false, nil); errors are reserved for a dead browser or a
	// cancelled ctx.
	Find(ctx context.Context, loc Locator, timeout time.Duration) (Element, bool, error)
	// FindAll waits up to timeout for at least one match and returns every
	// match in document order. Absence yields an empty slice.
	FindAll(ctx context.Context, loc Locator, timeout time.Duration) ([]Element, error)

	Close() error
}
