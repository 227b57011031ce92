package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/roombot/internal/botstore"
	"github.com/p-blackswan/roombot/internal/browser"
	"github.com/p-blackswan/roombot/internal/command"
	"github.com/p-blackswan/roombot/internal/config"
	"github.com/p-blackswan/roombot/internal/health"
	"github.com/p-blackswan/roombot/internal/llm"
	"github.com/p-blackswan/roombot/internal/logging"
	"github.com/p-blackswan/roombot/internal/metrics"
	"github.com/p-blackswan/roombot/internal/ops"
	"github.com/p-blackswan/roombot/internal/requestid"
	"github.com/p-blackswan/roombot/internal/session"
)

func main() {
	// Bootstrap logger until config selects the real sinks
	bootLogger := newBootLogger(os.Stderr)

	// Load config
	cfg, err := config.Load()
	if err != nil {
		bootLogger.Fatal().Err(err).Msg("failed to load config")
	}

	logger, logCloser := logging.New(logging.Options{
		Environment: cfg.Environment,
		Level:       cfg.LogLevel,
		File:        cfg.LogFile,
		Service:     "roombot",
	})
	defer logCloser.Close()

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	// Context with graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctx, runID := requestid.New(ctx)
	logger = requestid.Logger(ctx, logger, "run_id")

	logger.Info().
		Str("environment", cfg.Environment).
		Str("bot_id", cfg.BotID).
		Str("ops_addr", cfg.OpsListenAddr).
		Str("run_id", runID).
		Msg("starting room bot")

	if info, err := cfg.InspectStoreKey(); err != nil {
		logger.Debug().Err(err).Msg("store key is not a JWT")
	} else {
		ev := logger.Info().Str("role", info.Role)
		if !info.ExpiresAt.IsZero() {
			ev = ev.Time("expires_at", info.ExpiresAt)
		}
		ev.Msg("store key inspected")
		if info.Expired(time.Now()) {
			logger.Warn().Time("expired_at", info.ExpiresAt).Msg("store key has expired")
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	m := metrics.New()

	store := botstore.NewClient(cfg.StoreURL, cfg.StoreKey, cfg.StoreTable, logger)

	generator := llm.NewGenerator(logger, cfg.AIMaxTokens,
		llm.NewOpenAIProvider(llm.WithBaseURL(cfg.OpenAIBaseURL), llm.WithMaxTokens(cfg.AIMaxTokens), llm.WithLogger(logger)),
		llm.NewGeminiProvider(llm.WithBaseURL(cfg.GeminiBaseURL), llm.WithMaxTokens(cfg.AIMaxTokens), llm.WithLogger(logger)),
	)

	locators, err := session.LoadLocators(cfg.LocatorsFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load locators")
	}

	// The controller is created lazily once configuration arrives; the ops
	// server reads it through the loop snapshot.
	var (
		ctrlMu sync.Mutex
		ctrl   *session.Controller
	)
	factory := func(ctx context.Context) (command.Session, error) {
		logger.Info().Bool("headless", cfg.ChromeHeadless).Msg("launching browser")
		driver, err := browser.NewChromeDriver(browser.ChromeOptions{
			Headless:      cfg.ChromeHeadless,
			ExecPath:      cfg.ChromePath,
			CDPURL:        cfg.ChromeCDPURL,
			ActionTimeout: cfg.BrowserTimeout,
			Logger:        logger,
		})
		if err != nil {
			return nil, err
		}
		c := session.New(driver, generator, logger,
			session.WithLoginURL(cfg.LoginURL),
			session.WithLocators(locators),
			session.WithGate(cfg.AIGateProbability),
			session.WithMetrics(m),
		)
		ctrlMu.Lock()
		ctrl = c
		ctrlMu.Unlock()
		return c, nil
	}

	loop := command.New(command.Config{
		BotID:        cfg.BotID,
		TickInterval: cfg.TickInterval,
		PollInterval: cfg.ConfigPollInterval,
	}, store, factory, generator, logger, command.WithMetrics(m))

	// Health checker
	checker := health.NewChecker(logger)
	checker.Register("store", health.PingCheck(store))
	checker.Register("session", health.StateCheck(func() string {
		ctrlMu.Lock()
		defer ctrlMu.Unlock()
		if ctrl == nil {
			return "starting"
		}
		return ctrl.State().String()
	}, []string{session.Crashed.String()}, []string{"starting", session.LoggedOut.String(), session.LoggingIn.String()}))

	var wg sync.WaitGroup

	var opsServer *ops.Server
	if cfg.OpsEnabled() {
		opsServer = ops.NewServer(ops.Config{ListenAddr: cfg.OpsListenAddr}, checker, m,
			func() any { return loop.Snapshot() }, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := opsServer.Start(); err != nil {
				logger.Error().Err(err).Msg("ops server error")
			}
		}()
	}

	go func() {
		sig := <-sigCh
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
		cancel()
	}()

	runErr := loop.Run(ctx)

	if opsServer != nil {
		if err := opsServer.Shutdown(); err != nil {
			logger.Error().Err(err).Msg("ops server shutdown error")
		}
	}
	wg.Wait()

	if runErr != nil {
		logger.Error().Err(runErr).Msg("room bot exited with error")
		logCloser.Close()
		os.Exit(1)
	}
	logger.Info().Msg("room bot stopped")
}

// newBootLogger returns the logger used before configuration is loaded.
func newBootLogger(w io.Writer) zerolog.Logger {
	return zerolog.New(w).With().Timestamp().Logger()
}
