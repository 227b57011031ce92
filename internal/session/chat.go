package session

import (
	"context"
	"strings"

	"github.com/p-blackswan/roombot/internal/botstore"
	"github.com/p-blackswan/roombot/internal/browser"
	"github.com/p-blackswan/roombot/internal/llm"
)

// Source says where a reply came from.
type Source string

const (
	SourceNone   Source = "none"
	SourceCanned Source = "canned"
	SourceAI     Source = "ai"
)

// MonitorOutcome describes one monitoring step.
type MonitorOutcome struct {
	Line        string
	Source      Source
	Reply       string
	Sent        bool
	AIAttempted bool
}

// MatchCanned returns the response of the first trigger contained in line,
// compared case-insensitively. Empty triggers never match.
func MatchCanned(line string, cfg *botstore.BotConfiguration) (string, bool) {
	if cfg == nil || !cfg.CannedEnabled || len(cfg.CannedResponses) == 0 {
		return "", false
	}
	lower := strings.ToLower(line)
	for _, r := range cfg.CannedResponses {
		trigger := strings.ToLower(r.Trigger)
		if trigger != "" && strings.Contains(lower, trigger) {
			return r.Response, true
		}
	}
	return "", false
}

// LastChatMessage returns the trimmed text of the newest chat line.
func (c *Controller) LastChatMessage(ctx context.Context) (string, bool, error) {
	els, err := c.driver.FindAll(ctx, c.loc.ChatMessages, c.timings.ChatWait)
	if err != nil {
		return "", false, err
	}
	if len(els) == 0 {
		els, err = c.driver.FindAll(ctx, c.loc.ChatMessagesFallback, c.timings.Probe)
		if err != nil {
			return "", false, err
		}
	}
	c.metrics.RecordLookup("chat_messages", len(els) > 0)
	if len(els) == 0 {
		return "", false, nil
	}

	text, err := els[len(els)-1].Text(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return "", false, ctx.Err()
		}
		c.logger.Debug().Err(err).Msg("read chat line")
		return "", false, nil
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", false, nil
	}

	c.mu.Lock()
	c.lastLine = text
	c.mu.Unlock()
	return text, true, nil
}

// SendMessage types msg into the chat input and presses Enter. Failures are
// logged and reported as false.
func (c *Controller) SendMessage(ctx context.Context, msg string) bool {
	input, ok, err := c.find(ctx, "chat_input", c.loc.ChatInput, c.timings.InputWait)
	if err == nil && ok {
		if visible, verr := input.Visible(ctx); verr != nil || !visible {
			ok = false
		}
	}
	if err == nil && !ok {
		c.logger.Debug().Msg("chat input not found, trying fallback")
		input, ok, err = c.find(ctx, "chat_input_fallback", c.loc.ChatInputFallback, c.timings.Probe)
	}
	if err != nil || !ok {
		c.logger.Warn().Err(err).Msg("failed to send message: no chat input")
		return false
	}

	if err := c.typeAndSend(ctx, input, msg); err != nil {
		c.logger.Warn().Err(err).Msg("failed to send message")
		return false
	}
	c.logger.Info().Str("message", msg).Msg("sent message")
	return true
}

func (c *Controller) typeAndSend(ctx context.Context, input browser.Element, msg string) error {
	if err := input.Click(ctx); err != nil {
		return err
	}
	if err := fill(ctx, input, msg); err != nil {
		return err
	}
	if err := c.sleep(ctx, c.timings.TypePause); err != nil {
		return err
	}
	return input.PressEnter(ctx)
}

// Monitor performs one monitoring step: read the newest line, answer it from
// the canned table if a trigger matches, otherwise pass the random gate and
// ask the AI. Errors are returned only for a dead browser or a cancelled ctx.
func (c *Controller) Monitor(ctx context.Context, cfg *botstore.BotConfiguration) (MonitorOutcome, error) {
	out := MonitorOutcome{Source: SourceNone}
	c.setState(Monitoring)

	line, ok, err := c.LastChatMessage(ctx)
	if err != nil || !ok {
		return out, err
	}
	out.Line = line

	if reply, ok := MatchCanned(line, cfg); ok {
		c.logger.Info().Str("line", line).Msg("canned trigger matched")
		out.Source = SourceCanned
		out.Reply = reply
		out.Sent = c.SendMessage(ctx, reply)
		c.metrics.RecordReply(string(SourceCanned), out.Sent)
		return out, c.sleep(ctx, c.timings.Cooldown)
	}

	if cfg == nil || !cfg.AIEnabled || c.replier == nil {
		return out, nil
	}
	if c.rng() >= c.gate {
		return out, nil
	}

	out.AIAttempted = true
	family := llm.FamilyLabel(cfg.Model())
	reply, err := c.replier.Reply(ctx, cfg, line)
	c.metrics.RecordProvider(family, llm.ResultLabel(err))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return out, ctxErr
		}
		c.logger.Warn().Err(err).Str("result", llm.ResultLabel(err)).Str("family", family).Msg("no ai reply")
		return out, nil
	}
	if reply == "" {
		return out, nil
	}

	out.Source = SourceAI
	out.Reply = reply
	out.Sent = c.SendMessage(ctx, reply)
	c.metrics.RecordReply(string(SourceAI), out.Sent)
	if out.Sent {
		return out, c.sleep(ctx, c.timings.Cooldown)
	}
	return out, nil
}
