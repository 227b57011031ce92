package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/p-blackswan/roombot/internal/browser"
	perrors "github.com/p-blackswan/roombot/internal/errors"
	"github.com/p-blackswan/roombot/internal/retry"
)

var errStillOnLogin = errors.New("still on login page")

// Login opens the login page and makes up to Timings.LoginAttempts attempts,
// refreshing between them. Exhaustion returns ErrLoginFailed.
func (c *Controller) Login(ctx context.Context, username, password string) error {
	c.setState(LoggingIn)
	c.logger.Info().Str("url", c.loginURL).Msg("opening login page")

	if err := c.driver.Navigate(ctx, c.loginURL); err != nil {
		c.setState(LoggedOut)
		return fmt.Errorf("open login page: %w", err)
	}

	attempts := c.timings.LoginAttempts
	if attempts < 1 {
		attempts = 1
	}
	attempt := 0
	cfg := retry.Fixed(attempts, 0)
	cfg.Retryable = func(err error) bool {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}
	cfg.OnRetry = func(ctx context.Context, n int, err error) {
		c.logger.Warn().Err(err).Int("attempt", n).Int("max", attempts).Msg("login attempt failed, refreshing")
		if rerr := c.driver.Refresh(ctx); rerr != nil {
			c.logger.Warn().Err(rerr).Msg("refresh failed")
		}
		_ = c.sleep(ctx, c.timings.LoginRetryWait)
	}

	err := retry.Do(ctx, cfg, func(ctx context.Context) error {
		attempt++
		c.logger.Info().Int("attempt", attempt).Int("max", attempts).Msg("login attempt")
		err := c.loginAttempt(ctx, username, password)
		if err != nil {
			c.metrics.RecordLogin("failed")
			return err
		}
		c.metrics.RecordLogin("ok")
		return nil
	})
	if err != nil {
		c.setState(LoggedOut)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		c.logger.Error().Err(err).Int("attempts", attempt).Msg("all login attempts failed")
		return fmt.Errorf("%w after %d attempts: %v", perrors.ErrLoginFailed, attempt, err)
	}

	c.mu.Lock()
	c.loggedIn = true
	c.state = LoggedIn
	c.mu.Unlock()
	c.logger.Info().Msg("login successful")
	return nil
}

func (c *Controller) loginAttempt(ctx context.Context, username, password string) error {
	t := c.timings

	if el, ok, err := c.find(ctx, "cookie_accept", c.loc.CookieAccept, t.Probe); err != nil {
		return err
	} else if ok {
		if err := el.Click(ctx); err == nil {
			c.logger.Debug().Msg("accepted cookies")
			if err := c.sleep(ctx, t.CookieSettle); err != nil {
				return err
			}
		}
	}

	if el, ok, err := c.find(ctx, "landing_login", c.loc.LandingLogin, t.Probe); err != nil {
		return err
	} else if ok {
		if visible, _ := el.Visible(ctx); visible {
			if err := el.Click(ctx); err == nil {
				c.logger.Debug().Msg("clicked landing page login")
				if err := c.sleep(ctx, t.LandingSettle); err != nil {
					return err
				}
			}
		}
	}

	user, ok, err := c.find(ctx, "username", c.loc.Username, t.UsernameWait)
	if err != nil {
		return err
	}
	if !ok {
		c.logger.Debug().Msg("primary username field missing, trying fallback")
		user, ok, err = c.find(ctx, "username_fallback", c.loc.UsernameFallback, t.UsernameFallbackWait)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("username field: %w", perrors.ErrNotFound)
		}
	}
	if err := fill(ctx, user, username); err != nil {
		return fmt.Errorf("enter username: %w", err)
	}

	pass, ok, err := c.find(ctx, "password", c.loc.Password, t.PasswordWait)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("password field: %w", perrors.ErrNotFound)
	}
	if err := fill(ctx, pass, password); err != nil {
		return fmt.Errorf("enter password: %w", err)
	}

	submit, ok, err := c.find(ctx, "submit", c.loc.Submit, t.Probe)
	if err != nil {
		return err
	}
	clicked := false
	if ok {
		clicked = submit.Click(ctx) == nil
	}
	if !clicked {
		c.logger.Debug().Msg("submit control missing, submitting form")
		if err := pass.Submit(ctx); err != nil {
			return fmt.Errorf("submit form: %w", err)
		}
	}

	if err := c.sleep(ctx, t.LoginSettle); err != nil {
		return err
	}

	url, err := c.driver.CurrentURL(ctx)
	if err != nil {
		return err
	}
	if strings.Contains(url, "login") {
		return errStillOnLogin
	}
	return nil
}

func fill(ctx context.Context, el browser.Element, text string) error {
	if err := el.Clear(ctx); err != nil {
		return err
	}
	return el.Type(ctx, text)
}
