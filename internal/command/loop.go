// Package command runs the bot's control loop. It polls the remote store for
// the desired command, drives the browser session accordingly and writes a
// heartbeat back on every tick.
package command

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/roombot/internal/botstore"
	perrors "github.com/p-blackswan/roombot/internal/errors"
	"github.com/p-blackswan/roombot/internal/llm"
	"github.com/p-blackswan/roombot/internal/metrics"
	"github.com/p-blackswan/roombot/internal/session"
)

// Activity texts written to the store.
const (
	ActivityLoggedIn   = "Logged in successfully"
	ActivityMonitoring = "Monitoring Chat"
	ActivityStopped    = "Stopped by user"
	ActivityTestingAI  = "Testing AI Response"
	ActivityLoginError = "Login failed"
	ActivityInterrupt  = "Interrupted"

	// TestPrompt is the message sent to the provider by TEST_AI.
	TestPrompt = "Hello! Are you a bot?"
)

const statusWriteTimeout = 10 * time.Second

// Store is the remote desired-state store.
type Store interface {
	Fetch(ctx context.Context, id string) (*botstore.BotConfiguration, error)
	UpdateStatus(ctx context.Context, id string, st botstore.BotStatus) error
	SetCommand(ctx context.Context, id string, cmd botstore.Command) error
}

// Session is the browser session the loop drives.
type Session interface {
	Login(ctx context.Context, username, password string) error
	JoinRoom(ctx context.Context, roomURL string) error
	SendMessage(ctx context.Context, msg string) bool
	Monitor(ctx context.Context, cfg *botstore.BotConfiguration) (session.MonitorOutcome, error)
	Snapshot() session.Snapshot
	MarkStopped()
	MarkCrashed()
	Close() error
}

// SessionFactory launches the browser session. It is called once the first
// configuration is available.
type SessionFactory func(ctx context.Context) (Session, error)

// Config configures the loop.
type Config struct {
	BotID string
	// TickInterval is the pause between ticks. Default: 5s.
	TickInterval time.Duration
	// PollInterval is the pause between configuration polls at startup. Default: 5s.
	PollInterval time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig(botID string) Config {
	return Config{
		BotID:        botID,
		TickInterval: 5 * time.Second,
		PollInterval: 5 * time.Second,
	}
}

// Snapshot is the loop state exposed to the ops server.
type Snapshot struct {
	BotID    string            `json:"bot_id"`
	Running  bool              `json:"running"`
	Status   botstore.Status   `json:"status,omitempty"`
	Activity string            `json:"activity,omitempty"`
	LastSeen time.Time         `json:"last_seen,omitempty"`
	Command  botstore.Command  `json:"command,omitempty"`
	Ticks    int               `json:"ticks"`
	Session  *session.Snapshot `json:"session,omitempty"`
}

// Loop is the command loop. Run drives everything from one goroutine.
type Loop struct {
	cfg        Config
	store      Store
	newSession SessionFactory
	replier    session.Replier
	metrics    *metrics.Metrics
	logger     zerolog.Logger
	sleep      func(ctx context.Context, d time.Duration) error
	now        func() time.Time

	mu      sync.RWMutex
	running bool
	sess    Session
	last    *botstore.BotConfiguration
	status  botstore.BotStatus
	ticks   int
}

// Option configures a Loop.
type Option func(*Loop)

func WithMetrics(m *metrics.Metrics) Option { return func(l *Loop) { l.metrics = m } }

func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(l *Loop) { l.sleep = fn }
}

func WithClock(now func() time.Time) Option { return func(l *Loop) { l.now = now } }

// New creates a command loop.
func New(cfg Config, store Store, newSession SessionFactory, replier session.Replier, logger zerolog.Logger, opts ...Option) *Loop {
	def := DefaultConfig(cfg.BotID)
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = def.TickInterval
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	l := &Loop{
		cfg:        cfg,
		store:      store,
		newSession: newSession,
		replier:    replier,
		logger:     logger.With().Str("component", "command").Str("bot_id", cfg.BotID).Logger(),
		sleep:      session.Sleep,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Snapshot returns the current loop state.
func (l *Loop) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s := Snapshot{
		BotID:    l.cfg.BotID,
		Running:  l.running,
		Status:   l.status.Status,
		Activity: l.status.CurrentActivity,
		LastSeen: l.status.LastSeen,
		Ticks:    l.ticks,
	}
	if l.last != nil {
		s.Command = l.last.Command
	}
	if l.sess != nil {
		snap := l.sess.Snapshot()
		s.Session = &snap
	}
	return s
}

// Running reports whether Run is active.
func (l *Loop) Running() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.running
}

// Run blocks until STOP, ctx cancellation or an unrecoverable error. STOP and
// cancellation return nil. The session is always closed before Run returns.
func (l *Loop) Run(ctx context.Context) (err error) {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return fmt.Errorf("command: loop already running")
	}
	l.running = true
	l.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			l.logger.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("command loop panicked")
			err = fmt.Errorf("panic: %v", r)
		}
		err = l.finish(ctx, err)
	}()

	cfg, err := l.waitForConfig(ctx)
	if err != nil {
		return err
	}
	l.logger.Info().Str("username", cfg.Username).Msg("configuration received")

	sess, err := l.newSession(ctx)
	if err != nil {
		return fmt.Errorf("launch browser: %w", err)
	}
	l.mu.Lock()
	l.sess = sess
	l.mu.Unlock()

	if err := sess.Login(ctx, cfg.Username, cfg.Password); err != nil {
		return err
	}
	l.report(ctx, botstore.StatusOnline, ActivityLoggedIn)

	if err := l.autoJoin(ctx, sess); err != nil {
		return err
	}

	for {
		stop, err := l.tick(ctx, sess)
		if err != nil || stop {
			return err
		}
	}
}

// finish writes the terminal status and closes the session.
func (l *Loop) finish(ctx context.Context, err error) error {
	l.mu.Lock()
	sess := l.sess
	l.running = false
	l.mu.Unlock()

	switch {
	case err == nil:
	case ctx.Err() != nil:
		l.logger.Info().Msg("interrupted")
		l.report(ctx, botstore.StatusStopped, ActivityInterrupt)
		if sess != nil {
			sess.MarkStopped()
		}
		err = nil
	case errors.Is(err, perrors.ErrLoginFailed):
		l.logger.Error().Err(err).Msg("login failed")
		l.report(ctx, botstore.StatusError, ActivityLoginError)
	default:
		l.logger.Error().Err(err).Msg("critical error")
		l.report(ctx, botstore.StatusCrashed, err.Error())
		if sess != nil {
			sess.MarkCrashed()
		}
	}

	if sess != nil {
		l.logger.Info().Msg("closing browser")
		if cerr := sess.Close(); cerr != nil {
			l.logger.Warn().Err(cerr).Msg("close browser")
		}
	}
	return err
}

// waitForConfig polls until the store returns a configuration.
func (l *Loop) waitForConfig(ctx context.Context) (*botstore.BotConfiguration, error) {
	for {
		cfg, err := l.store.Fetch(ctx, l.cfg.BotID)
		if err == nil && cfg != nil {
			l.remember(cfg)
			return cfg, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err != nil && !errors.Is(err, perrors.ErrNoConfiguration) {
			l.metrics.RecordStoreError("fetch")
			l.logger.Warn().Err(err).Msg("fetch configuration failed")
		}
		l.logger.Info().Msg("waiting for configuration from dashboard")
		if err := l.sleep(ctx, l.cfg.PollInterval); err != nil {
			return nil, err
		}
	}
}

// current fetches the latest configuration, falling back to the cached one
// when the store cannot be read.
func (l *Loop) current(ctx context.Context) (*botstore.BotConfiguration, error) {
	cfg, err := l.store.Fetch(ctx, l.cfg.BotID)
	if err == nil && cfg != nil {
		l.remember(cfg)
		return cfg, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	l.metrics.RecordStoreError("fetch")

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.last == nil {
		return nil, fmt.Errorf("no cached configuration: %w", err)
	}
	l.logger.Warn().Err(err).Msg("fetch configuration failed, using cached copy")
	return l.last, nil
}

func (l *Loop) remember(cfg *botstore.BotConfiguration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.last == nil || l.last.Model() != cfg.Model() {
		l.resolveModel(cfg)
	}
	l.last = cfg
}

// resolveModel checks the configured model once per change so a bad model
// is reported when it is fetched rather than on the first AI reply.
func (l *Loop) resolveModel(cfg *botstore.BotConfiguration) {
	family, err := llm.ResolveFamily(cfg.Model())
	if err != nil {
		l.logger.Warn().Err(err).Str("model", cfg.Model()).Msg("configured model matches no provider family")
		return
	}
	l.logger.Info().Str("model", cfg.Model()).Str("family", family.String()).Msg("resolved model family")
}

// autoJoin enters the configured room right after login.
func (l *Loop) autoJoin(ctx context.Context, sess Session) error {
	cfg, err := l.current(ctx)
	if err != nil {
		return err
	}
	if cfg.TargetRoom == "" {
		l.logger.Info().Msg("no target room defined, waiting for commands")
		return nil
	}

	l.report(ctx, botstore.StatusWorking, "Auto-joining "+cfg.TargetRoom)
	if err := sess.JoinRoom(ctx, cfg.TargetRoom); err != nil {
		return err
	}
	if cfg.GreetingEnabled {
		greeting := cfg.Greeting()
		l.logger.Info().Str("greeting", greeting).Msg("sending greeting")
		sess.SendMessage(ctx, greeting)
	}
	l.acknowledge(ctx)
	return nil
}

// tick runs one heartbeat-fetch-dispatch cycle and the pause after it.
func (l *Loop) tick(ctx context.Context, sess Session) (stop bool, err error) {
	start := l.now()
	l.report(ctx, botstore.StatusRunning, ActivityMonitoring)

	cfg, err := l.current(ctx)
	if err != nil {
		return false, err
	}

	l.mu.Lock()
	l.ticks++
	l.mu.Unlock()

	skipPause := false
	switch cfg.Command {
	case botstore.CommandStop:
		l.logger.Info().Msg("received STOP command")
		l.report(ctx, botstore.StatusStopped, ActivityStopped)
		sess.MarkStopped()
		l.metrics.RecordTick(string(cfg.Command), l.now().Sub(start))
		return true, nil

	case botstore.CommandJoinRoom:
		if cfg.TargetRoom != "" {
			l.report(ctx, botstore.StatusWorking, "Joining "+cfg.TargetRoom)
			if err := sess.JoinRoom(ctx, cfg.TargetRoom); err != nil {
				return false, err
			}
		} else {
			l.logger.Warn().Msg("JOIN_ROOM without a target room, skipping join")
		}
		l.acknowledge(ctx)

	case botstore.CommandMonitorChat:
		out, err := sess.Monitor(ctx, cfg)
		if err != nil {
			return false, err
		}
		if out.Line != "" {
			l.logger.Debug().Str("line", out.Line).Str("source", string(out.Source)).Bool("sent", out.Sent).Msg("saw message")
		}
		// A canned reply already waited out its cooldown.
		skipPause = out.Source == session.SourceCanned

	case botstore.CommandTestAI:
		l.testAI(ctx, cfg)
		l.acknowledge(ctx)

	default:
		l.logger.Debug().Str("command", string(cfg.Command)).Msg("ignoring unknown command")
	}

	l.metrics.RecordTick(string(cfg.Command), l.now().Sub(start))
	if skipPause {
		return false, ctx.Err()
	}
	return false, l.sleep(ctx, l.cfg.TickInterval)
}

// testAI makes exactly one provider call and reports its outcome.
func (l *Loop) testAI(ctx context.Context, cfg *botstore.BotConfiguration) {
	l.logger.Info().Msg("testing ai capability")
	l.report(ctx, botstore.StatusWorking, ActivityTestingAI)

	if l.replier == nil {
		l.report(ctx, botstore.StatusError, "AI Test Failed: "+perrors.ErrUnavailable.Error())
		return
	}
	reply, err := l.replier.Reply(ctx, cfg, TestPrompt)
	l.metrics.RecordProvider(llm.FamilyLabel(cfg.Model()), llm.ResultLabel(err))
	switch {
	case err != nil:
		l.logger.Warn().Err(err).Msg("ai test failed")
		l.report(ctx, botstore.StatusError, "AI Test Failed: "+err.Error())
	case reply == "":
		l.report(ctx, botstore.StatusError, "AI Test Failed: empty reply")
	default:
		l.report(ctx, botstore.StatusOnline, "AI Test Success: "+truncate(reply, 30)+"...")
	}
}

// acknowledge resets a one-shot command back to MONITOR_CHAT.
func (l *Loop) acknowledge(ctx context.Context) {
	if err := l.store.SetCommand(ctx, l.cfg.BotID, botstore.CommandMonitorChat); err != nil {
		l.metrics.RecordStoreError("set_command")
		l.logger.Warn().Err(err).Msg("reset command failed")
		return
	}
	l.mu.Lock()
	if l.last != nil {
		cp := *l.last
		cp.Command = botstore.CommandMonitorChat
		l.last = &cp
	}
	l.mu.Unlock()
}

// report writes a status heartbeat. Failures are logged, never fatal. Writes
// outlive ctx so that terminal statuses reach the store after cancellation.
func (l *Loop) report(ctx context.Context, status botstore.Status, activity string) {
	st := botstore.BotStatus{Status: status, LastSeen: l.now().UTC(), CurrentActivity: activity}

	l.mu.Lock()
	l.status = st
	l.mu.Unlock()

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusWriteTimeout)
	defer cancel()
	if err := l.store.UpdateStatus(wctx, l.cfg.BotID, st); err != nil {
		l.metrics.RecordStoreError("update_status")
		l.logger.Warn().Err(err).Str("status", string(status)).Msg("update status failed")
		return
	}
	l.metrics.SetHeartbeat(st.LastSeen)
	l.logger.Debug().Str("status", string(status)).Str("activity", activity).Msg("status updated")
}

// truncate returns at most n runes of s.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
