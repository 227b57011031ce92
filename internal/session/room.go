package session

import (
	"context"
	"fmt"
)

// JoinRoom navigates to roomURL and clicks a join control when one shows up.
// A missing control means the room was entered directly; only a dead browser
// or a cancelled ctx return an error.
func (c *Controller) JoinRoom(ctx context.Context, roomURL string) error {
	log := c.logger.With().Str("room", roomURL).Logger()
	log.Info().Msg("entering room")

	if err := c.driver.Navigate(ctx, roomURL); err != nil {
		return fmt.Errorf("open room: %w", err)
	}
	if err := c.sleep(ctx, c.timings.JoinSettle); err != nil {
		return err
	}

	join, ok, err := c.find(ctx, "join_button", c.loc.JoinButton, c.timings.Probe)
	if err != nil {
		return err
	}
	if !ok {
		join, ok, err = c.find(ctx, "join_text", c.loc.JoinText, c.timings.Probe)
		if err != nil {
			return err
		}
	}
	switch {
	case !ok:
		log.Info().Msg("join control not found, assuming already in room")
	default:
		if err := join.Click(ctx); err != nil {
			log.Warn().Err(err).Msg("join click failed")
			break
		}
		log.Info().Msg("clicked join")
		if err := c.sleep(ctx, c.timings.JoinClickWait); err != nil {
			return err
		}
	}

	if closeBtn, ok, err := c.find(ctx, "close_overlay", c.loc.CloseOverlay, c.timings.Probe); err != nil {
		return err
	} else if ok {
		_ = closeBtn.Click(ctx)
	}

	c.mu.Lock()
	c.roomURL = roomURL
	c.state = InRoom
	c.mu.Unlock()
	return nil
}
