package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/roombot/internal/browser"
	"github.com/p-blackswan/roombot/internal/bulk"
	"github.com/p-blackswan/roombot/internal/config"
	"github.com/p-blackswan/roombot/internal/logging"
	"github.com/p-blackswan/roombot/internal/metrics"
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
		Service:     "roombot-bulk",
	})
	defer logCloser.Close()

	settings, err := bulk.LoadSettings(cfg.BulkSettingsFile)
	if err != nil {
		logger.Fatal().Err(err).Str("file", cfg.BulkSettingsFile).Msg("failed to load bulk settings")
	}
	whitelist, err := bulk.LoadWhitelist(settings.Unfollow.WhitelistFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load whitelist")
	}
	locators, err := session.LoadLocators(cfg.LocatorsFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load locators")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctx, runID := requestid.New(ctx)
	logger = requestid.Logger(ctx, logger, "run_id")

	logger.Info().
		Str("user", settings.Account.Username).
		Bool("feed", settings.Feed.Enable).
		Bool("unfollow", settings.Unfollow.Enable).
		Dur("cycle_interval", settings.CycleInterval).
		Int("whitelisted", len(whitelist)).
		Str("run_id", runID).
		Msg("starting bulk runner")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
		cancel()
	}()

	driver, err := browser.NewChromeDriver(browser.ChromeOptions{
		Headless:      cfg.ChromeHeadless,
		ExecPath:      cfg.ChromePath,
		CDPURL:        cfg.ChromeCDPURL,
		ActionTimeout: cfg.BrowserTimeout,
		Logger:        logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to launch browser")
	}
	defer driver.Close()

	m := metrics.New()
	ctrl := session.New(driver, nil, logger,
		session.WithLoginURL(cfg.LoginURL),
		session.WithLocators(locators),
		session.WithMetrics(m),
	)

	runner := bulk.New(driver, ctrl, bulk.NewUserAPI(cfg.UserAPIURL, logger), settings, whitelist, logger,
		bulk.WithMetrics(m),
		bulk.WithLogoutURL(cfg.LogoutURL),
	)

	if err := runner.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("bulk runner exited with error")
		driver.Close()
		logCloser.Close()
		os.Exit(1)
	}
	logger.Info().Msg("bulk runner stopped")
}

// newBootLogger returns the logger used before configuration is loaded.
func newBootLogger(w io.Writer) zerolog.Logger {
	return zerolog.New(w).With().Timestamp().Logger()
}
