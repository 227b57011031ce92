package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"github.com/rs/zerolog"
)

const defaultActionTimeout = 30 * time.Second

// KeyEnd is the End key, for Element.Type. Typed into the root element it
// scrolls to the bottom of the page.
const KeyEnd = kb.End

// ChromeOptions configures the Chrome process behind a ChromeDriver.
type ChromeOptions struct {
	Headless bool
	ExecPath string
	// CDPURL attaches to an already running browser instead of launching one.
	CDPURL        string
	ActionTimeout time.Duration
	Logger        zerolog.Logger
}

// ChromeDriver drives a single incognito Chrome tab through the DevTools protocol.
type ChromeDriver struct {
	tabCtx        context.Context
	tabCancel     context.CancelFunc
	allocCancel   context.CancelFunc
	actionTimeout time.Duration
	logger        zerolog.Logger

	closeOnce sync.Once
}

// NewChromeDriver launches (or attaches to) Chrome and opens a blank tab.
func NewChromeDriver(opts ChromeOptions) (*ChromeDriver, error) {
	baseCtx := context.Background()

	var (
		allocCtx    context.Context
		allocCancel context.CancelFunc
	)
	if cdpURL := strings.TrimSpace(opts.CDPURL); cdpURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(baseCtx, cdpURL)
	} else {
		execOpts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", opts.Headless),
			chromedp.Flag("disable-gpu", opts.Headless),
			chromedp.Flag("incognito", true),
			chromedp.Flag("start-maximized", true),
		)
		if path := strings.TrimSpace(opts.ExecPath); path != "" {
			execOpts = append(execOpts, chromedp.ExecPath(path))
		}
		allocCtx, allocCancel = chromedp.NewExecAllocator(baseCtx, execOpts...)
	}

	logger := opts.Logger.With().Str("component", "chrome").Logger()
	tabCtx, tabCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...interface{}) {
			logger.Debug().Msgf(format, args...)
		}),
	)
	if err := chromedp.Run(tabCtx, chromedp.Navigate("about:blank")); err != nil {
		tabCancel()
		allocCancel()
		return nil, fmt.Errorf("start chrome: %w", err)
	}

	timeout := opts.ActionTimeout
	if timeout <= 0 {
		timeout = defaultActionTimeout
	}
	return &ChromeDriver{
		tabCtx:        tabCtx,
		tabCancel:     tabCancel,
		allocCancel:   allocCancel,
		actionTimeout: timeout,
		logger:        logger,
	}, nil
}

// run executes actions on the tab bounded by timeout and by the caller's ctx.
func (d *ChromeDriver) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := d.tabCtx.Err(); err != nil {
		return fmt.Errorf("browser closed: %w", err)
	}
	runCtx, cancel := context.WithTimeout(d.tabCtx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (d *ChromeDriver) Navigate(ctx context.Context, url string) error {
	return d.run(ctx, d.actionTimeout, chromedp.Navigate(url))
}

func (d *ChromeDriver) Refresh(ctx context.Context) error {
	return d.run(ctx, d.actionTimeout, chromedp.Reload())
}

func (d *ChromeDriver) CurrentURL(ctx context.Context) (string, error) {
	var u string
	err := d.run(ctx, d.actionTimeout, chromedp.Location(&u))
	return u, err
}

func (d *ChromeDriver) HTML(ctx context.Context) (string, error) {
	var html string
	err := d.run(ctx, d.actionTimeout, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	return html, err
}

func (d *ChromeDriver) nodes(ctx context.Context, loc Locator, timeout time.Duration, all bool) ([]*cdp.Node, error) {
	if err := loc.Validate(); err != nil {
		return nil, err
	}
	sel, isXPath := query(loc)
	opt := chromedp.ByQuery
	switch {
	case isXPath:
		opt = chromedp.BySearch
	case all:
		opt = chromedp.ByQueryAll
	}

	var nodes []*cdp.Node
	err := d.run(ctx, timeout, chromedp.Nodes(sel, &nodes, opt))
	if err != nil {
		if ctx.Err() == nil && d.tabCtx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return nil, nil
		}
		return nil, err
	}
	return nodes, nil
}

func (d *ChromeDriver) Find(ctx context.Context, loc Locator, timeout time.Duration) (Element, bool, error) {
	nodes, err := d.nodes(ctx, loc, timeout, false)
	if err != nil || len(nodes) == 0 {
		return nil, false, err
	}
	return &chromeElement{d: d, node: nodes[0]}, true, nil
}

func (d *ChromeDriver) FindAll(ctx context.Context, loc Locator, timeout time.Duration) ([]Element, error) {
	nodes, err := d.nodes(ctx, loc, timeout, true)
	if err != nil {
		return nil, err
	}
	out := make([]Element, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, &chromeElement{d: d, node: n})
	}
	return out, nil
}

// Close ends the tab and the browser process. Safe to call more than once.
func (d *ChromeDriver) Close() error {
	d.closeOnce.Do(func() {
		d.tabCancel()
		d.allocCancel()
		d.logger.Info().Msg("browser closed")
	})
	return nil
}

type chromeElement struct {
	d    *ChromeDriver
	node *cdp.Node
}

func (e *chromeElement) ids() []cdp.NodeID { return []cdp.NodeID{e.node.NodeID} }

func (e *chromeElement) Click(ctx context.Context) error {
	return e.d.run(ctx, e.d.actionTimeout, chromedp.Click(e.ids(), chromedp.ByNodeID))
}

func (e *chromeElement) Clear(ctx context.Context) error {
	return e.d.run(ctx, e.d.actionTimeout, chromedp.Clear(e.ids(), chromedp.ByNodeID))
}

func (e *chromeElement) Type(ctx context.Context, text string) error {
	return e.d.run(ctx, e.d.actionTimeout, chromedp.SendKeys(e.ids(), text, chromedp.ByNodeID))
}

func (e *chromeElement) Submit(ctx context.Context) error {
	return e.d.run(ctx, e.d.actionTimeout, chromedp.Submit(e.ids(), chromedp.ByNodeID))
}

func (e *chromeElement) PressEnter(ctx context.Context) error {
	return e.d.run(ctx, e.d.actionTimeout, chromedp.SendKeys(e.ids(), kb.Enter, chromedp.ByNodeID))
}

func (e *chromeElement) Text(ctx context.Context) (string, error) {
	var s string
	err := e.d.run(ctx, e.d.actionTimeout, chromedp.Text(e.ids(), &s, chromedp.ByNodeID))
	return s, err
}

// Visible reports whether the node has a layout box.
func (e *chromeElement) Visible(ctx context.Context) (bool, error) {
	visible := true
	err := e.d.run(ctx, e.d.actionTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		if _, err := dom.GetBoxModel().WithNodeID(e.node.NodeID).Do(ctx); err != nil {
			visible = false
		}
		return nil
	}))
	return visible, err
}
