// Package session drives one logged-in browser session: login, room join,
// chat scraping and replying.
package session

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/roombot/internal/botstore"
	"github.com/p-blackswan/roombot/internal/browser"
	"github.com/p-blackswan/roombot/internal/metrics"
)

// DefaultLoginURL is the platform's login page.
const DefaultLoginURL = "https://secure.imvu.com/welcome/login/"

// DefaultGateProbability is the chance that a chat line is sent to the AI.
const DefaultGateProbability = 0.2

// State is the controller lifecycle.
type State int

const (
	LoggedOut State = iota
	LoggingIn
	LoggedIn
	InRoom
	Monitoring
	Stopped
	Crashed
)

func (s State) String() string {
	switch s {
	case LoggedOut:
		return "logged_out"
	case LoggingIn:
		return "logging_in"
	case LoggedIn:
		return "logged_in"
	case InRoom:
		return "in_room"
	case Monitoring:
		return "monitoring"
	case Stopped:
		return "stopped"
	case Crashed:
		return "crashed"
	}
	return "unknown"
}

// Replier produces an AI reply for a chat line.
type Replier interface {
	Reply(ctx context.Context, cfg *botstore.BotConfiguration, msg string) (string, error)
}

// Snapshot is a point-in-time copy of the controller's state.
type Snapshot struct {
	State    string `json:"state"`
	LoggedIn bool   `json:"logged_in"`
	RoomURL  string `json:"room_url,omitempty"`
	LastLine string `json:"last_line,omitempty"`
}

// Controller owns the browser session. It is driven from a single goroutine;
// Snapshot is safe to call concurrently.
type Controller struct {
	driver   browser.Driver
	replier  Replier
	loginURL string
	loc      Locators
	timings  Timings
	gate     float64
	rng      func() float64
	sleep    func(ctx context.Context, d time.Duration) error
	metrics  *metrics.Metrics
	logger   zerolog.Logger

	mu       sync.RWMutex
	state    State
	loggedIn bool
	roomURL  string
	lastLine string
}

// Option configures a Controller.
type Option func(*Controller)

func WithLoginURL(u string) Option {
	return func(c *Controller) {
		if u != "" {
			c.loginURL = u
		}
	}
}

func WithLocators(l Locators) Option { return func(c *Controller) { c.loc = l } }

func WithTimings(t Timings) Option { return func(c *Controller) { c.timings = t } }

// WithGate sets the probability in [0,1] that a chat line reaches the AI.
func WithGate(p float64) Option { return func(c *Controller) { c.gate = p } }

// WithRand replaces the gate's random source. fn must return values in [0,1).
func WithRand(fn func() float64) Option { return func(c *Controller) { c.rng = fn } }

// WithSleep replaces every wait the controller performs.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Controller) { c.sleep = fn }
}

func WithMetrics(m *metrics.Metrics) Option { return func(c *Controller) { c.metrics = m } }

// New creates a controller over driver. replier may be nil when AI replies
// are never wanted.
func New(driver browser.Driver, replier Replier, logger zerolog.Logger, opts ...Option) *Controller {
	c := &Controller{
		driver:   driver,
		replier:  replier,
		loginURL: DefaultLoginURL,
		loc:      DefaultLocators(),
		timings:  DefaultTimings(),
		gate:     DefaultGateProbability,
		rng:      rand.Float64,
		sleep:    Sleep,
		logger:   logger.With().Str("component", "session").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Driver exposes the underlying browser for callers that need raw page access.
func (c *Controller) Driver() browser.Driver { return c.driver }

func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Snapshot{
		State:    c.state.String(),
		LoggedIn: c.loggedIn,
		RoomURL:  c.roomURL,
		LastLine: c.lastLine,
	}
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

// MarkStopped records a user-requested stop.
func (c *Controller) MarkStopped() { c.setState(Stopped) }

// MarkCrashed records an unrecoverable failure.
func (c *Controller) MarkCrashed() { c.setState(Crashed) }

// Close releases the browser.
func (c *Controller) Close() error {
	return c.driver.Close()
}

// find wraps a driver lookup with metrics and debug logging.
func (c *Controller) find(ctx context.Context, target string, loc browser.Locator, timeout time.Duration) (browser.Element, bool, error) {
	el, ok, err := c.driver.Find(ctx, loc, timeout)
	if err != nil {
		return nil, false, err
	}
	c.metrics.RecordLookup(target, ok)
	c.logger.Debug().Str("target", target).Stringer("locator", loc).Bool("found", ok).Msg("lookup")
	return el, ok, nil
}
